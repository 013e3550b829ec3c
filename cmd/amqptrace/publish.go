package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/amqptrace"
)

var sampleProducts = []string{"widget", "gadget", "gizmo", "doohickey"}

type publishFlags struct {
	count    int
	product  string
	error2   bool
	interval time.Duration
}

func newPublishCmd(flags *globalFlags) *cobra.Command {
	pf := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish sample orders",
		Long:  "Publish sample orders to the orders exchange with the order.created routing key.",
		Example: `  amqptrace publish --count 10
  amqptrace publish --product "worker error" --error2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pf.count < 1 {
				return errors.New("--count must be at least 1")
			}
			return withBridge(cmd, flags, "order-publisher", func(ctx context.Context, b *bridge) error {
				// Publishing needs neither the HTTP surface nor router metrics.
				b.cfg.HTTPPort = 0
				b.cfg.MetricsEnabled = false

				svc, err := b.newService(ctx)
				if err != nil {
					return err
				}
				defer svc.Close()
				return publishOrders(ctx, svc, b, pf)
			})
		},
	}
	cmd.Flags().IntVarP(&pf.count, "count", "n", 1, "number of orders to publish")
	cmd.Flags().StringVarP(&pf.product, "product", "p", "", "product name, cycles through the catalog when empty")
	cmd.Flags().BoolVar(&pf.error2, "error2", false, "set the error2 flag on every order")
	cmd.Flags().DurationVar(&pf.interval, "interval", 0, "pause between two orders")
	return cmd
}

func publishOrders(ctx context.Context, producer amqptrace.Producer, b *bridge, pf *publishFlags) error {
	for i := 0; i < pf.count; i++ {
		product := pf.product
		if product == "" {
			product = sampleProducts[i%len(sampleProducts)]
		}
		order := amqptrace.Order{ID: amqptrace.CreateULID(), Product: product, Error2: pf.error2}

		spanCtx, span := b.provider.Sink.StartSpan(ctx, "publish_order", map[string]any{
			"order.id":      order.ID,
			"order.product": product,
		})
		err := producer.PublishOrder(spanCtx, order, amqptrace.NewMetadata(amqptrace.MetadataKeyCorrelationID, amqptrace.CreateULID()))
		span.Fail(err)
		span.End()
		if err != nil {
			return fmt.Errorf("publish order %v: %w", order.ID, err)
		}
		b.logger.Info("Published order", amqptrace.LogFields{"order_id": order.ID, "product": product})

		if pf.interval > 0 && i < pf.count-1 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pf.interval):
			}
		}
	}
	return nil
}

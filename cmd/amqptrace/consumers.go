package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/drblury/amqptrace"
)

func newEventsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Trace RabbitMQ topology events",
		Long:  "Consume amq.rabbitmq.event and emit one span per broker event.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBridge(cmd, flags, "rabbitmq-event-tracer", func(ctx context.Context, b *bridge) error {
				svc, err := b.newService(ctx)
				if err != nil {
					return err
				}
				if err := svc.RegisterEventsConsumer(); err != nil {
					_ = svc.Close()
					return err
				}
				return b.serve(ctx, svc)
			})
		},
	}
}

func newOrdersCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Run the order worker",
		Long: `Consume order.processing, emit a process_order span and an
order.processing.duration sample per order and serve POST /enrich.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBridge(cmd, flags, amqptrace.OrdersHandlerName, func(ctx context.Context, b *bridge) error {
				svc, err := b.newService(ctx)
				if err != nil {
					return err
				}
				if err := svc.RegisterOrdersConsumer(amqptrace.OrderOptionsFrom(b.cfg)); err != nil {
					_ = svc.Close()
					return err
				}
				svc.RegisterEnrichEndpoint(amqptrace.NewEnricher(b.provider.Sink, b.logger.With(amqptrace.LogFields{"component": "enrich"})))
				return b.serve(ctx, svc)
			})
		},
	}
}

// Package orders processes order.created messages with simulated latency and
// fault injection, recording a span and a duration sample per message.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	rterrors "github.com/drblury/amqptrace/internal/runtime/errors"
	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

const (
	SpanName       = "process_order"
	HistogramName  = "order.processing.duration"
	UnknownProduct = "unknown"

	StatusSuccess = "success"
	StatusError   = "error"

	DefaultErrorProduct = "worker error"
	DefaultWait         = 500 * time.Millisecond
)

// Outcome summarizes one processed order. Exactly one is produced per
// message, whatever the exit path.
type Outcome struct {
	Status          string
	Product         string
	OrderID         string
	DurationSeconds float64
	Err             error
}

// Options tunes the simulated work.
type Options struct {
	// ErrorProduct is compared case-insensitively after trimming.
	ErrorProduct string
	MinWait      time.Duration
	MaxWait      time.Duration
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.ErrorProduct) == "" {
		o.ErrorProduct = DefaultErrorProduct
	}
	if o.MinWait < 0 {
		o.MinWait = 0
	}
	if o.MaxWait < o.MinWait {
		o.MaxWait = o.MinWait
	}
	return o
}

type Processor struct {
	sink   *telemetry.Sink
	logger logging.ServiceLogger
	opts   Options

	now   func() time.Time
	rand  func() float64
	sleep func(context.Context, time.Duration) error
}

func NewProcessor(sink *telemetry.Sink, logger logging.ServiceLogger, opts Options) *Processor {
	if sink == nil {
		sink = telemetry.NopSink()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	sink.DescribeHistogram(HistogramName, "s", "Time spent processing an order message")
	return &Processor{
		sink:   sink,
		logger: logger,
		opts:   opts.withDefaults(),
		now:    time.Now,
		rand:   rand.Float64,
		sleep:  sleepContext,
	}
}

// Handle is the Watermill handler. A nil return acks the delivery; any error
// rejects it without requeue.
func (p *Processor) Handle(msg *message.Message) error {
	_, err := p.Process(msg.Context(), broker.FromWatermill(msg))
	return err
}

// Process runs one order through the simulated worker.
func (p *Processor) Process(ctx context.Context, msg broker.Message) (out Outcome, err error) {
	ctx = telemetry.Propagator.Extract(ctx, headerCarrier(msg))
	ctx, span := p.sink.StartSpan(ctx, SpanName, nil)

	out = Outcome{Status: StatusError, Product: UnknownProduct}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing order: %v", r)
		}
		if err == nil {
			out.Status = StatusSuccess
		} else if !errors.Is(err, rterrors.ErrSimulatedFailure) {
			p.logger.Error("Error processing order", err, logging.LogFields{
				"delivery_id":  msg.DeliveryID,
				"order_id":     out.OrderID,
				"body_excerpt": broker.Excerpt(msg.Body, broker.ExcerptLength),
			})
		}
		out.Err = err
		span.Fail(err)
		out.DurationSeconds = span.End().Duration
		if herr := p.sink.EmitHistogram(ctx, HistogramName, out.DurationSeconds, map[string]any{
			"product": out.Product,
			"status":  out.Status,
		}); herr != nil {
			p.logger.Error("Could not record order duration", herr, nil)
		}
	}()

	order, err := decodeOrder(msg)
	if err != nil {
		return out, err
	}
	out.OrderID = order.ID
	out.Product = order.Product
	span.SetAttributes(map[string]any{"order.id": order.ID, "order.product": order.Product})
	p.logger.Info("Processing order", logging.LogFields{"order_id": order.ID, "product": order.Product})

	if p.isErrorProduct(order.Product) {
		if order.Error2 {
			p.logger.Warn(fmt.Sprintf("Detected '%s' trigger in message for order %s", p.opts.ErrorProduct, order.ID), logging.LogFields{"order_id": order.ID})
		}
		err = fmt.Errorf("%w: order %s", rterrors.ErrSimulatedFailure, order.ID)
		p.logger.Error("Order processing failed", err, logging.LogFields{"order_id": order.ID})
		return out, err
	}

	if err = p.sleep(ctx, p.delay()); err != nil {
		return out, fmt.Errorf("order %s interrupted: %w", order.ID, err)
	}
	p.logger.Info("Order processed", logging.LogFields{"order_id": order.ID})
	return out, nil
}

func (p *Processor) isErrorProduct(product string) bool {
	return strings.EqualFold(strings.TrimSpace(product), strings.TrimSpace(p.opts.ErrorProduct))
}

// delay is uniform in [MinWait, MaxWait].
func (p *Processor) delay() time.Duration {
	span := p.opts.MaxWait - p.opts.MinWait
	if span <= 0 {
		return p.opts.MinWait
	}
	return p.opts.MinWait + time.Duration(p.rand()*float64(span))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type order struct {
	ID      string
	Product string
	Error2  bool
}

func decodeOrder(msg broker.Message) (order, error) {
	obj, ok := jsoncodec.DecodeObject(msg.Body)
	if !ok {
		return order{}, rterrors.NewUnprocessableEventError(msg.RoutingKey, "order body is not a JSON object", nil)
	}
	o := order{ID: stringify(obj["Id"])}
	if product, ok := obj["Product"]; ok && product != nil {
		o.Product = stringify(product)
	}
	o.Error2 = truthy(obj["error2"])
	return o, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		b, err := jsoncodec.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	}
	return false
}

func headerCarrier(msg broker.Message) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	for k := range msg.Headers {
		if s := msg.HeaderString(k); s != "" {
			carrier[strings.ToLower(k)] = s
		}
	}
	return carrier
}

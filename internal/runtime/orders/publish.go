package orders

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/propagation"

	"github.com/drblury/amqptrace/internal/runtime/ids"
	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	"github.com/drblury/amqptrace/internal/runtime/metadata"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

// Order is the order.created payload.
type Order struct {
	ID      any    `json:"Id"`
	Product string `json:"Product"`
	Error2  bool   `json:"error2,omitempty"`
}

// NewOrderMessage encodes order as a Watermill message. The trace context of
// ctx travels in the message metadata so Process continues the same trace.
func NewOrderMessage(ctx context.Context, order Order, md metadata.Metadata) (*message.Message, error) {
	payload, err := jsoncodec.Marshal(order)
	if err != nil {
		return nil, err
	}

	carrier := propagation.MapCarrier{}
	telemetry.Propagator.Inject(ctx, carrier)

	msg := message.NewMessage(ids.CreateULID(), payload)
	msg.Metadata = metadata.ToWatermill(md)
	for k, v := range carrier {
		msg.Metadata.Set(k, v)
	}
	msg.Metadata.Set(metadata.KeyContentType, "application/json")
	msg.SetContext(ctx)
	return msg, nil
}

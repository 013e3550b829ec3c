package broker

import (
	"fmt"
	"math"
	"time"

	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/amqptrace/internal/runtime/ids"
	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	"github.com/drblury/amqptrace/internal/runtime/metadata"
)

const (
	defaultContentType = "application/json"
	// watermillUUIDHeader is where the stock Watermill marshaler keeps the
	// message UUID.
	watermillUUIDHeader = "_watermill_message_uuid"
)

// Marshaler converts between AMQP deliveries and Watermill messages. Unlike
// the stock marshaler it accepts non-string headers, which the broker event
// exchange always sends, and it keeps the routing key and timestamp.
type Marshaler struct {
	// Now stamps outgoing messages. Defaults to time.Now.
	Now func() time.Time
}

var _ amqp.Marshaler = Marshaler{}

func (m Marshaler) Marshal(msg *message.Message) (amqp091.Publishing, error) {
	headers := make(amqp091.Table, len(msg.Metadata))
	for k, v := range msg.Metadata {
		if metadata.Reserved(k) {
			continue
		}
		headers[k] = v
	}

	contentType := msg.Metadata.Get(metadata.KeyContentType)
	if contentType == "" {
		contentType = defaultContentType
	}

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}

	return amqp091.Publishing{
		Headers:      headers,
		ContentType:  contentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.UUID,
		Timestamp:    now().UTC(),
		Body:         msg.Payload,
	}, nil
}

func (m Marshaler) Unmarshal(d amqp091.Delivery) (*message.Message, error) {
	msg := message.NewMessage(messageUUID(d), d.Body)

	for k, v := range d.Headers {
		if s, ok := v.(string); ok && k != watermillUUIDHeader {
			msg.Metadata.Set(k, s)
		}
	}

	snapshot, err := jsoncodec.Marshal(tableToMap(d.Headers))
	if err != nil {
		return nil, fmt.Errorf("encode delivery headers: %w", err)
	}
	msg.Metadata.Set(metadata.KeyHeaders, string(snapshot))
	metadata.SetRoutingKey(msg, d.RoutingKey)
	metadata.SetTimestamp(msg, d.Timestamp)
	if d.ContentType != "" {
		msg.Metadata.Set(metadata.KeyContentType, d.ContentType)
	}
	if d.MessageId != "" {
		msg.Metadata.Set(metadata.KeyMessageID, d.MessageId)
	}
	return msg, nil
}

func messageUUID(d amqp091.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	if s, ok := d.Headers[watermillUUIDHeader].(string); ok && s != "" {
		return s
	}
	return ids.CreateULID()
}

func tableToMap(t amqp091.Table) map[string]any {
	out := make(map[string]any, len(t))
	for k, v := range t {
		if k == watermillUUIDHeader {
			continue
		}
		out[k] = headerValue(v)
	}
	return out
}

// headerValue turns AMQP field values into JSON friendly ones.
func headerValue(v any) any {
	switch val := v.(type) {
	case amqp091.Table:
		return tableToMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = headerValue(item)
		}
		return out
	case []byte:
		return string(val)
	case time.Time:
		return float64(val.UnixNano()) / float64(time.Second)
	case amqp091.Decimal:
		return float64(val.Value) / math.Pow10(int(val.Scale))
	default:
		return val
	}
}

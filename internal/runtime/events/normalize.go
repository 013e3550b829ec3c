// Package events turns RabbitMQ internal topology events into spans.
package events

import (
	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
)

// UnknownType is used when a delivery has no routing key.
const UnknownType = "unknown"

// NormalizedEvent is a broker event reduced to its type and a flat attribute
// map.
type NormalizedEvent struct {
	Type       string
	Attributes map[string]any
}

// Normalize never fails. The body is decoded as UTF-8 with invalid bytes
// replaced; a JSON object body becomes the attributes, anything else falls
// back to the delivery headers. A missing "timestamp" attribute is filled
// from the delivery timestamp as epoch seconds.
func Normalize(msg broker.Message) NormalizedEvent {
	ev := NormalizedEvent{Type: msg.RoutingKey}
	if ev.Type == "" {
		ev.Type = UnknownType
	}

	text := broker.DecodeBody(msg.Body)
	if obj, ok := jsoncodec.DecodeObject([]byte(text)); ok {
		ev.Attributes = obj
	} else {
		ev.Attributes = make(map[string]any, len(msg.Headers)+1)
		for k, v := range msg.Headers {
			ev.Attributes[k] = v
		}
	}

	if _, ok := ev.Attributes["timestamp"]; !ok && !msg.Timestamp.IsZero() {
		ev.Attributes["timestamp"] = float64(msg.Timestamp.UnixNano()) / 1e9
	}
	return ev
}

package events

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

type fieldKind int

const (
	stringField fieldKind = iota
	intField
	boolField
)

type field struct {
	source    string
	attribute string
	kind      fieldKind
}

type category struct {
	name   string
	fields []field
}

// categories is ordered; the first match wins.
var categories = []category{
	{"connection", []field{
		{"name", "rabbitmq.connection.name", stringField},
		{"peer_host", "rabbitmq.connection.peer_host", stringField},
		{"peer_port", "rabbitmq.connection.peer_port", intField},
		{"user", "rabbitmq.connection.user", stringField},
		{"vhost", "rabbitmq.connection.vhost", stringField},
	}},
	{"channel", []field{
		{"number", "rabbitmq.channel.number", intField},
		{"user", "rabbitmq.channel.user", stringField},
		{"vhost", "rabbitmq.channel.vhost", stringField},
		{"connection_name", "rabbitmq.channel.connection", stringField},
	}},
	{"queue", []field{
		{"name", "rabbitmq.queue.name", stringField},
		{"vhost", "rabbitmq.queue.vhost", stringField},
		{"durable", "rabbitmq.queue.durable", boolField},
		{"auto_delete", "rabbitmq.queue.auto_delete", boolField},
	}},
	{"consumer", []field{
		{"consumer_tag", "rabbitmq.consumer.tag", stringField},
		{"queue_name", "rabbitmq.consumer.queue", stringField},
		{"channel", "rabbitmq.consumer.channel", stringField},
	}},
	{"exchange", []field{
		{"name", "rabbitmq.exchange.name", stringField},
		{"type", "rabbitmq.exchange.type", stringField},
		{"vhost", "rabbitmq.exchange.vhost", stringField},
		{"durable", "rabbitmq.exchange.durable", boolField},
	}},
	{"binding", []field{
		{"source_name", "rabbitmq.binding.source", stringField},
		{"destination_name", "rabbitmq.binding.destination", stringField},
		{"routing_key", "rabbitmq.binding.routing_key", stringField},
		{"vhost", "rabbitmq.binding.vhost", stringField},
	}},
}

// Category returns the category of an event type, or "" when none applies.
// The leading segment is matched exactly first so "queue.binding.x" is a
// queue event; otherwise the first category contained in the type wins.
func Category(eventType string) string {
	lead, _, _ := strings.Cut(eventType, ".")
	for _, c := range categories {
		if c.name == lead {
			return c.name
		}
	}
	for _, c := range categories {
		if strings.Contains(eventType, c.name) {
			return c.name
		}
	}
	return ""
}

// Classify maps a normalized event to a span record. Missing fields take the
// zero value of their declared kind.
func Classify(ev NormalizedEvent) telemetry.SpanRecord {
	rec := telemetry.SpanRecord{
		Name:       "rabbitmq." + ev.Type,
		Kind:       trace.SpanKindInternal,
		Status:     telemetry.StatusOK,
		Attributes: map[string]any{"rabbitmq.event.type": ev.Type},
	}

	if node, ok := ev.Attributes["node"]; ok {
		rec.Attributes["rabbitmq.node"] = asString(node)
	}

	if len(ev.Attributes) == 0 {
		rec.Attributes["rabbitmq.event.minimal"] = true
		return rec
	}

	name := Category(ev.Type)
	for _, c := range categories {
		if c.name != name {
			continue
		}
		for _, f := range c.fields {
			v := ev.Attributes[f.source]
			switch f.kind {
			case intField:
				rec.Attributes[f.attribute] = asInt(v)
			case boolField:
				rec.Attributes[f.attribute] = asBool(v)
			default:
				rec.Attributes[f.attribute] = asString(v)
			}
		}
	}

	if ts, ok := ev.Attributes["timestamp"]; ok {
		rec.Attributes["rabbitmq.event.timestamp"] = ts
	}
	return rec
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func asInt(v any) int64 {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case float32:
		return int64(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func asBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(val))
		return b
	case json.Number:
		f, err := val.Float64()
		return err == nil && f != 0
	case int, int8, int16, int32, int64:
		return asInt(val) != 0
	}
	return false
}

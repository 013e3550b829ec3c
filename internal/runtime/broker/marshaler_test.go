package broker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/amqptrace/internal/runtime/metadata"
)

func TestUnmarshalKeepsTypedHeaders(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	delivery := amqp091.Delivery{
		RoutingKey: "queue.declared",
		Timestamp:  ts,
		MessageId:  "msg-1",
		Headers: amqp091.Table{
			"name":            "q1",
			"vhost":           "/",
			"durable":         true,
			"peer_port":       int32(5672),
			"timestamp_in_ms": int64(1709287200000),
			"arguments":       amqp091.Table{"x-max-length": int32(10)},
			"raw":             []byte("bytes"),
		},
	}

	msg, err := Marshaler{}.Unmarshal(delivery)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.UUID != "msg-1" {
		t.Fatalf("expected message id as UUID, got %q", msg.UUID)
	}
	if msg.Metadata.Get("name") != "q1" {
		t.Fatal("string headers should be plain metadata")
	}
	if _, ok := msg.Metadata["durable"]; ok {
		t.Fatal("non-string headers should only live in the snapshot")
	}

	bm := FromWatermill(msg)
	if bm.RoutingKey != "queue.declared" {
		t.Fatalf("RoutingKey = %q", bm.RoutingKey)
	}
	if !bm.Timestamp.Equal(ts) {
		t.Fatalf("Timestamp = %s, want %s", bm.Timestamp, ts)
	}
	if bm.Headers["durable"] != true {
		t.Fatalf("expected bool header, got %#v", bm.Headers["durable"])
	}
	if n, ok := bm.Headers["peer_port"].(json.Number); !ok || n.String() != "5672" {
		t.Fatalf("expected numeric header, got %#v", bm.Headers["peer_port"])
	}
	if args, ok := bm.Headers["arguments"].(map[string]any); !ok || args["x-max-length"] == nil {
		t.Fatalf("expected nested table, got %#v", bm.Headers["arguments"])
	}
	if bm.Headers["raw"] != "bytes" {
		t.Fatalf("expected byte header as string, got %#v", bm.Headers["raw"])
	}
}

func TestUnmarshalGeneratesUUID(t *testing.T) {
	msg, err := Marshaler{}.Unmarshal(amqp091.Delivery{Body: []byte("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.UUID) != 26 {
		t.Fatalf("expected generated ULID, got %q", msg.UUID)
	}

	msg, _ = Marshaler{}.Unmarshal(amqp091.Delivery{Headers: amqp091.Table{watermillUUIDHeader: "wm-uuid"}})
	if msg.UUID != "wm-uuid" {
		t.Fatalf("expected watermill uuid header, got %q", msg.UUID)
	}
	if _, ok := FromWatermill(msg).Headers[watermillUUIDHeader]; ok {
		t.Fatal("watermill uuid header should not surface as a header")
	}
}

func TestMarshalDropsReservedMetadata(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msg := message.NewMessage("01HX", []byte(`{"Id":1}`))
	msg.Metadata.Set("traceparent", "00-abc-def-01")
	metadata.SetRoutingKey(msg, "order.created")
	msg.Metadata.Set(metadata.KeyHeaders, "{}")

	pub, err := Marshaler{Now: func() time.Time { return now }}.Marshal(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.MessageId != "01HX" || pub.ContentType != "application/json" || pub.DeliveryMode != amqp091.Persistent {
		t.Fatalf("unexpected publishing %+v", pub)
	}
	if !pub.Timestamp.Equal(now) {
		t.Fatalf("Timestamp = %s", pub.Timestamp)
	}
	if pub.Headers["traceparent"] != "00-abc-def-01" {
		t.Fatal("expected user metadata as header")
	}
	if _, ok := pub.Headers[metadata.KeyRoutingKey]; ok {
		t.Fatal("reserved keys must not become headers")
	}
	if _, ok := pub.Headers[metadata.KeyHeaders]; ok {
		t.Fatal("reserved keys must not become headers")
	}
}

func TestHeaderValueDecimalAndTime(t *testing.T) {
	if got := headerValue(amqp091.Decimal{Scale: 2, Value: 1250}); got != 12.5 {
		t.Fatalf("decimal = %v", got)
	}
	if got := headerValue(time.Unix(10, 0)); got != float64(10) {
		t.Fatalf("time = %v", got)
	}
	list := headerValue([]any{[]byte("a"), int32(1)}).([]any)
	if list[0] != "a" || list[1] != int32(1) {
		t.Fatalf("list = %#v", list)
	}
}

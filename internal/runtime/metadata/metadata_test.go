package metadata

import (
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	if original["a"] != "1" {
		t.Fatalf("expected original map to stay untouched, got %q", original["a"])
	}
	if len(clone) != len(original) {
		t.Fatalf("expected clone to have same size")
	}
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	if cloned == nil || len(cloned) != 0 {
		t.Fatalf("expected empty non-nil map, got %#v", cloned)
	}
}

func TestWith(t *testing.T) {
	base := Metadata{"foo": "bar"}
	enriched := base.With("baz", "qux")
	if _, ok := base["baz"]; ok {
		t.Fatalf("expected base map to remain unchanged")
	}
	if enriched["baz"] != "qux" || enriched["foo"] != "bar" {
		t.Fatalf("unexpected enriched map %#v", enriched)
	}
}

func TestPublicDropsReservedKeys(t *testing.T) {
	md := New(
		KeyRoutingKey, "order.created",
		KeyHeaders, `{"x":1}`,
		KeyTimestamp, "1",
		KeyCorrelationID, "abc",
		"traceparent", "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	)
	public := md.Public()
	if len(public) != 2 {
		t.Fatalf("expected 2 public keys, got %#v", public)
	}
	if public[KeyCorrelationID] != "abc" {
		t.Fatal("correlation id should stay public")
	}
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{"source": "api"}
	wm := ToWatermill(md)
	wm["source"] = "mutation"
	if md["source"] != "api" {
		t.Fatalf("expected original metadata to be immutable to watermill changes")
	}
	if len(ToWatermill(nil)) != 0 {
		t.Fatal("expected nil input to return empty metadata")
	}
	if FromWatermill(message.Metadata{"event": "order"})["event"] != "order" {
		t.Fatalf("expected watermill metadata to convert back")
	}
	if md := FromWatermill(nil); md == nil || len(md) != 0 {
		t.Fatal("expected empty non-nil map")
	}
}

func TestRoutingKeyAndTimestamp(t *testing.T) {
	msg := message.NewMessage("1", nil)
	SetRoutingKey(msg, "queue.declared")
	if got := RoutingKey(msg); got != "queue.declared" {
		t.Fatalf("RoutingKey() = %q", got)
	}

	if !Timestamp(msg).IsZero() {
		t.Fatal("expected zero timestamp when unset")
	}

	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	SetTimestamp(msg, at)
	if got := Timestamp(msg); !got.Equal(at) {
		t.Fatalf("Timestamp() = %s, want %s", got, at)
	}

	SetTimestamp(msg, time.Time{})
	if _, ok := msg.Metadata[KeyTimestamp]; ok {
		t.Fatal("expected zero time to clear the key")
	}

	msg.Metadata.Set(KeyTimestamp, "yesterday")
	if !Timestamp(msg).IsZero() {
		t.Fatal("expected malformed timestamp to read as zero")
	}
}

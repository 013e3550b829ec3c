package metadata

import (
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a Watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// RoutingKey returns the routing key the message was delivered with.
func RoutingKey(msg *message.Message) string {
	return msg.Metadata.Get(KeyRoutingKey)
}

// SetRoutingKey records the routing key used when publishing msg.
func SetRoutingKey(msg *message.Message, key string) {
	msg.Metadata.Set(KeyRoutingKey, key)
}

// SetTimestamp stores t as Unix nanoseconds. A zero time clears the key.
func SetTimestamp(msg *message.Message, t time.Time) {
	if t.IsZero() {
		delete(msg.Metadata, KeyTimestamp)
		return
	}
	msg.Metadata.Set(KeyTimestamp, strconv.FormatInt(t.UnixNano(), 10))
}

// Timestamp returns the broker timestamp, or the zero time when absent or
// malformed.
func Timestamp(msg *message.Message) time.Time {
	raw := msg.Metadata.Get(KeyTimestamp)
	if raw == "" {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

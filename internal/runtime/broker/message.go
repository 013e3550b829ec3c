package broker

import (
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	"github.com/drblury/amqptrace/internal/runtime/metadata"
)

// ExcerptLength bounds body excerpts attached to error logs.
const ExcerptLength = 200

// Message is the transport-neutral view of one delivery. It is built once per
// delivery and not modified afterwards; acknowledgement stays on the Watermill
// message it was built from.
type Message struct {
	Body       []byte
	RoutingKey string
	Headers    map[string]any
	// Timestamp is zero when the broker did not supply one.
	Timestamp  time.Time
	DeliveryID string
}

// FromWatermill builds a Message from a delivered Watermill message. Typed
// headers are restored from the JSON snapshot written by the marshaler; when
// it is missing the string metadata is used instead.
func FromWatermill(msg *message.Message) Message {
	out := Message{
		Body:       msg.Payload,
		RoutingKey: metadata.RoutingKey(msg),
		Timestamp:  metadata.Timestamp(msg),
		DeliveryID: msg.UUID,
	}

	if raw := msg.Metadata.Get(metadata.KeyHeaders); raw != "" {
		if headers, ok := jsoncodec.DecodeObject([]byte(raw)); ok {
			out.Headers = headers
			return out
		}
	}

	public := metadata.FromWatermill(msg.Metadata).Public()
	delete(public, metadata.KeyCorrelationID)
	if len(public) > 0 {
		out.Headers = make(map[string]any, len(public))
		for k, v := range public {
			out.Headers[k] = v
		}
	}
	return out
}

// HeaderString returns a header rendered as a string, or "" when absent.
func (m Message) HeaderString(key string) string {
	v, ok := m.Headers[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if b, err := jsoncodec.Marshal(v); err == nil {
		return string(b)
	}
	return ""
}

// DecodeBody decodes body as UTF-8, replacing invalid sequences with U+FFFD.
func DecodeBody(body []byte) string {
	return strings.ToValidUTF8(string(body), "\uFFFD")
}

// Excerpt returns at most n characters of the decoded body for logging.
func Excerpt(body []byte, n int) string {
	runes := []rune(DecodeBody(body))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n])
}

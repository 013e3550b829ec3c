package metadata

// Reserved metadata keys. The AMQP marshaler fills the amqp_* keys on every
// delivered message; they never leave the process as broker headers.
const (
	KeyCorrelationID = "correlation_id"
	KeyRoutingKey    = "amqp_routing_key"
	KeyTimestamp     = "amqp_timestamp"
	// KeyHeaders holds every delivery header JSON encoded, so non-string
	// values survive the string-only Watermill metadata.
	KeyHeaders     = "amqp_headers"
	KeyContentType = "amqp_content_type"
	KeyMessageID   = "amqp_message_id"
)

// Reserved reports whether key is produced by the marshaler and must not be
// copied back into outgoing AMQP headers.
func Reserved(key string) bool {
	switch key {
	case KeyRoutingKey, KeyTimestamp, KeyHeaders, KeyContentType, KeyMessageID:
		return true
	}
	return false
}

// Metadata represents the string headers carried alongside a message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Public returns a copy without the reserved keys.
func (m Metadata) Public() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		if !Reserved(k) {
			out[k] = v
		}
	}
	return out
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Package transport defines the broker contract used by the bridge. Each
// implementation (rabbitmq, channel) lives in its own sub-package and
// registers itself with the transport registry.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/logging"
)

// Transport hands out topology-bound subscribers and publishers. Every
// subscriber owns its consumer channel; Close releases all of them.
type Transport interface {
	Subscriber(topology broker.Topology, opts broker.ConsumeOptions) (message.Subscriber, error)
	Publisher(topology broker.Topology) (message.Publisher, error)
	Close() error
}

// Builder is the function signature for creating a transport from config.
// Each transport package provides one and registers it.
type Builder func(ctx context.Context, cfg Config, logger logging.ServiceLogger) (Transport, error)

// Config provides the configuration values needed by transports.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// RabbitMQ
	GetRabbitMQURL() string
	GetConnectAttempts() int
	GetConnectDelay() time.Duration
	GetPrefetch() int
}

var _ Transport = (*broker.Connection)(nil)

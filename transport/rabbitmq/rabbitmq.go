// Package rabbitmq provides the RabbitMQ/AMQP transport. Connecting retries
// with a constant delay before giving up; see broker.Connect.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// Connect allows overriding the broker connection for testing.
var Connect = broker.Connect

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.Register(TransportName, Build)
}

// Build connects to the broker named by cfg. The returned transport is the
// broker connection itself.
func Build(ctx context.Context, cfg transport.Config, logger logging.ServiceLogger) (transport.Transport, error) {
	conn, err := Connect(ctx, broker.ConnectConfig{
		URL:         cfg.GetRabbitMQURL(),
		MaxAttempts: cfg.GetConnectAttempts(),
		Delay:       cfg.GetConnectDelay(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return &Transport{Connection: conn, prefetch: cfg.GetPrefetch()}, nil
}

// Transport applies the configured prefetch to subscribers that do not set
// their own.
type Transport struct {
	*broker.Connection
	prefetch int
}

func (t *Transport) Subscriber(topology broker.Topology, opts broker.ConsumeOptions) (message.Subscriber, error) {
	if opts.Prefetch == 0 {
		opts.Prefetch = t.prefetch
	}
	return t.Connection.Subscriber(topology, opts)
}

// Package broker owns the RabbitMQ side of the bridge: bounded connection
// retry, topology declaration and the AMQP/Watermill message mapping.
package broker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
)

var (
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
)

// ConsumeOptions tunes a subscriber.
type ConsumeOptions struct {
	// Prefetch is the per-channel QoS prefetch count. Zero means unlimited.
	Prefetch int
}

// Connection is a connected broker. Subscribers and publishers created from
// it share the TCP connection but each subscription uses its own channel.
type Connection struct {
	conn     *amqp.ConnectionWrapper
	url      string
	logger   watermill.LoggerAdapter
	attempts int

	mu      sync.Mutex
	closers []interface{ Close() error }
	closed  bool
}

// Attempts is the number of connection attempts Connect needed.
func (c *Connection) Attempts() int { return c.attempts }

// AMQPConfig builds the Watermill AMQP config for topology. Rejected
// deliveries are not requeued.
func AMQPConfig(url string, topology Topology, opts ConsumeOptions) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, func(string) string { return topology.Queue.Name })

	cfg.Exchange.GenerateName = func(string) string { return topology.Exchange.Name }
	cfg.Exchange.Type = topology.Exchange.Kind
	cfg.Exchange.Durable = topology.Exchange.Durable
	cfg.Exchange.AutoDeleted = topology.Exchange.AutoDelete
	cfg.Exchange.Internal = topology.Exchange.Internal

	cfg.Queue.Durable = topology.Queue.Durable
	cfg.Queue.AutoDelete = topology.Queue.AutoDelete
	cfg.Queue.Exclusive = topology.Queue.Exclusive

	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	cfg.Consume.Qos.PrefetchCount = opts.Prefetch
	cfg.Consume.NoRequeueOnNack = true

	cfg.Marshaler = Marshaler{}
	cfg.TopologyBuilder = &topologyBuilder{topology: topology}
	return cfg
}

// Subscriber returns a subscriber whose every Subscribe call opens a fresh
// channel and declares topology on it.
func (c *Connection) Subscriber(topology Topology, opts ConsumeOptions) (message.Subscriber, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	sub, err := SubscriberFactory(AMQPConfig(c.url, topology, opts), c.logger, c.conn)
	if err != nil {
		return nil, fmt.Errorf("create subscriber for %q: %w", topology.Queue.Name, err)
	}
	c.track(sub)
	return sub, nil
}

// Publisher returns a publisher that sends to the topology's exchange using
// the publish topic as routing key.
func (c *Connection) Publisher(topology Topology) (message.Publisher, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	pub, err := PublisherFactory(AMQPConfig(c.url, topology, ConsumeOptions{}), c.logger, c.conn)
	if err != nil {
		return nil, fmt.Errorf("create publisher for %q: %w", topology.Exchange.Name, err)
	}
	c.track(pub)
	return pub, nil
}

func (c *Connection) track(closer interface{ Close() error }) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closers = append(c.closers, closer)
}

// Close closes every subscriber and publisher, then the connection. Deliveries
// that were not acknowledged go back to their queue.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	var errs []error
	for _, closer := range closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	metadatapkg "github.com/drblury/amqptrace/internal/runtime/metadata"
	"github.com/drblury/amqptrace/internal/runtime/orders"
)

// Producer emits orders onto the configured transport.
type Producer interface {
	PublishOrder(ctx context.Context, order orders.Order, metadata metadatapkg.Metadata) error
}

// PublishOrder encodes order and publishes it with the order.created routing key.
func PublishOrder(ctx context.Context, publisher message.Publisher, order orders.Order, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if ctx == nil {
		ctx = context.Background()
	}

	msg, err := orders.NewOrderMessage(ctx, order, metadata)
	if err != nil {
		return err
	}
	return publisher.Publish(broker.OrderCreatedKey, msg)
}

// PublishOrder sends order to the orders exchange through the Service
// transport.
func (s *Service) PublishOrder(ctx context.Context, order orders.Order, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	pub, err := s.Publisher(broker.OrdersTopology())
	if err != nil {
		return err
	}
	return PublishOrder(ctx, pub, order, metadata)
}

// Publish sends messages to topology's exchange with routingKey.
func (s *Service) Publish(topology broker.Topology, routingKey string, messages ...*message.Message) error {
	if routingKey == "" {
		return errspkg.ErrTopicRequired
	}
	pub, err := s.Publisher(topology)
	if err != nil {
		return err
	}
	return pub.Publish(routingKey, messages...)
}

// Publisher returns the publisher for topology, creating it on first use.
func (s *Service) Publisher(topology broker.Topology) (message.Publisher, error) {
	if s.transport == nil {
		return nil, errspkg.ErrPublisherRequired
	}

	s.publishersMu.Lock()
	defer s.publishersMu.Unlock()

	key := topology.Exchange.Name + "/" + topology.Queue.Name
	if pub, ok := s.publishers[key]; ok {
		return pub, nil
	}
	pub, err := s.transport.Publisher(topology)
	if err != nil {
		return nil, err
	}
	if s.publishers == nil {
		s.publishers = make(map[string]message.Publisher)
	}
	s.publishers[key] = pub
	return pub, nil
}

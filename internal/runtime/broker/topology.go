package broker

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// Well-known names of the two consumers.
const (
	OrdersExchange  = "orders"
	OrdersQueue     = "order.processing"
	OrderCreatedKey = "order.created"

	EventsExchange = "amq.rabbitmq.event"
	EventsQueue    = "rabbitmq.events.trace"
)

// EventRoutingKeys are the broker event types the tracer binds to.
var EventRoutingKeys = []string{
	"connection.created",
	"connection.closed",
	"channel.created",
	"channel.closed",
	"queue.created",
	"queue.deleted",
	"queue.declared",
	"consumer.created",
	"consumer.deleted",
	"exchange.created",
	"exchange.deleted",
	"binding.created",
	"binding.deleted",
}

// ExchangeSpec describes the exchange a queue binds to. Declare is false for
// exchanges owned by the broker, such as amq.rabbitmq.event.
type ExchangeSpec struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Internal   bool
	Declare    bool
}

type QueueSpec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
}

// Topology is the exchange, queue and bindings a consumer needs before it can
// receive messages.
type Topology struct {
	Exchange    ExchangeSpec
	Queue       QueueSpec
	BindingKeys []string
}

// OrdersTopology is the durable topic exchange and queue for order messages.
func OrdersTopology() Topology {
	return Topology{
		Exchange:    ExchangeSpec{Name: OrdersExchange, Kind: amqp091.ExchangeTopic, Durable: true, Declare: true},
		Queue:       QueueSpec{Name: OrdersQueue, Durable: true},
		BindingKeys: []string{OrderCreatedKey},
	}
}

// EventsTopology binds a transient queue to the broker's internal event
// exchange. The exchange is only present when the event exchange plugin is
// enabled and is never declared here.
func EventsTopology() Topology {
	keys := make([]string, len(EventRoutingKeys))
	copy(keys, EventRoutingKeys)
	return Topology{
		Exchange:    ExchangeSpec{Name: EventsExchange, Kind: amqp091.ExchangeTopic, Durable: true, Internal: true},
		Queue:       QueueSpec{Name: EventsQueue, AutoDelete: true},
		BindingKeys: keys,
	}
}

func (t Topology) Validate() error {
	var errs []error
	if t.Queue.Name == "" {
		errs = append(errs, errors.New("topology: queue name is required"))
	}
	if t.Exchange.Name == "" && len(t.BindingKeys) > 0 {
		errs = append(errs, errors.New("topology: binding keys need an exchange"))
	}
	if t.Exchange.Declare && t.Exchange.Kind == "" {
		errs = append(errs, fmt.Errorf("topology: exchange %q has no kind", t.Exchange.Name))
	}
	return errors.Join(errs...)
}

// Declarer is the subset of *amqp091.Channel used to declare a topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// Declare creates the exchange (when owned), the queue and every binding.
// All three operations are idempotent on the broker, so Declare runs again
// on every reconnect.
func Declare(ch Declarer, t Topology) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := declareExchange(ch, t.Exchange); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(t.Queue.Name, t.Queue.Durable, t.Queue.AutoDelete, t.Queue.Exclusive, false, nil); err != nil {
		return fmt.Errorf("declare queue %q: %w", t.Queue.Name, err)
	}
	for _, key := range t.BindingKeys {
		if err := ch.QueueBind(t.Queue.Name, key, t.Exchange.Name, false, nil); err != nil {
			return fmt.Errorf("bind queue %q to %q with %q: %w", t.Queue.Name, t.Exchange.Name, key, err)
		}
	}
	return nil
}

func declareExchange(ch Declarer, ex ExchangeSpec) error {
	if !ex.Declare || ex.Name == "" {
		return nil
	}
	if err := ch.ExchangeDeclare(ex.Name, ex.Kind, ex.Durable, ex.AutoDelete, ex.Internal, false, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", ex.Name, err)
	}
	return nil
}

// topologyBuilder plugs Declare into the Watermill AMQP subscriber and
// publisher, which call it every time they open a channel.
type topologyBuilder struct {
	topology Topology
}

var _ amqp.TopologyBuilder = (*topologyBuilder)(nil)

func (b *topologyBuilder) ExchangeDeclare(channel *amqp091.Channel, _ string, _ amqp.Config) error {
	return declareExchange(channel, b.topology.Exchange)
}

func (b *topologyBuilder) BuildTopology(channel *amqp091.Channel, params amqp.BuildTopologyParams, _ amqp.Config, logger watermill.LoggerAdapter) error {
	logger.Debug("Declaring topology", watermill.LogFields{
		"queue":    b.topology.Queue.Name,
		"exchange": b.topology.Exchange.Name,
		"bindings": len(b.topology.BindingKeys),
		"topic":    params.Topic,
	})
	return Declare(channel, b.topology)
}

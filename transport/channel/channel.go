// Package channel provides an in-memory Go channel transport. Topics are
// routing keys and queues are named by the topology: every message published
// with one of a queue's binding keys goes to exactly one of that queue's
// subscribers. Useful for tests and local runs without a broker.
package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/metadata"
	"github.com/drblury/amqptrace/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	Register()
}

// Register registers the channel transport, and its "gochannel" alias, with
// the default registry.
func Register() {
	transport.Register(TransportName, Build)
	transport.Register("gochannel", Build)
}

// Build creates a new Go channel transport.
func Build(_ context.Context, _ transport.Config, logger logging.ServiceLogger) (transport.Transport, error) {
	return New(logger), nil
}

// Transport routes messages between publishers and subscribers of one
// process.
type Transport struct {
	pubSub *gochannel.GoChannel
	now    func() time.Time

	mu     sync.Mutex
	queues map[string]*queue
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Transport backed by a fresh gochannel pub/sub.
func New(logger logging.ServiceLogger) *Transport {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		pubSub: Factory(gochannel.Config{}, logging.NewWatermillAdapter(logger)),
		now:    time.Now,
		queues: make(map[string]*queue),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Transport) Subscriber(topology broker.Topology, _ broker.ConsumeOptions) (message.Subscriber, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	if len(topology.BindingKeys) == 0 {
		return nil, errors.New("channel: topology has no binding keys")
	}
	return &subscriber{transport: t, topology: topology}, nil
}

func (t *Transport) Publisher(topology broker.Topology) (message.Publisher, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}
	return &publisher{pubSub: t.pubSub, now: t.now}, nil
}

func (t *Transport) Close() error {
	t.cancel()
	return t.pubSub.Close()
}

// queue returns the queue named by topology, binding it on first use. Later
// topologies with the same queue name share the existing bindings, as a
// redeclared AMQP queue does.
func (t *Transport) queue(topology broker.Topology) (*queue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if q, ok := t.queues[topology.Queue.Name]; ok {
		return q, nil
	}
	if err := t.ctx.Err(); err != nil {
		return nil, errors.New("channel: transport closed")
	}

	q := &queue{ready: make(chan *message.Message), done: t.ctx.Done()}
	for _, key := range topology.BindingKeys {
		in, err := t.pubSub.Subscribe(t.ctx, key)
		if err != nil {
			return nil, err
		}
		go q.bind(in)
	}
	t.queues[topology.Queue.Name] = q
	return q, nil
}

// queue hands each bound message to whichever consumer receives it first.
type queue struct {
	ready chan *message.Message
	done  <-chan struct{}
}

// bind moves messages of one binding key into the queue. The gochannel
// original is acked once a consumer has taken it.
func (q *queue) bind(in <-chan *message.Message) {
	for msg := range in {
		select {
		case q.ready <- msg:
			msg.Ack()
		case <-q.done:
			msg.Ack()
			return
		}
	}
}

// requeue returns a message that was taken but never delivered.
func (q *queue) requeue(msg *message.Message) {
	go func() {
		select {
		case q.ready <- msg:
		case <-q.done:
		}
	}()
}

// publisher stamps the routing key and timestamp the AMQP marshaler would
// otherwise supply.
type publisher struct {
	pubSub *gochannel.GoChannel
	now    func() time.Time
}

func (p *publisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		metadata.SetRoutingKey(msg, topic)
		if metadata.Timestamp(msg).IsZero() {
			metadata.SetTimestamp(msg, p.now())
		}
	}
	return p.pubSub.Publish(topic, messages...)
}

func (p *publisher) Close() error { return nil }

// subscriber is one consumer of a queue. The topic passed to Subscribe is
// ignored; the queue comes from the topology.
type subscriber struct {
	transport *Transport
	topology  broker.Topology
}

func (s *subscriber) Subscribe(ctx context.Context, _ string) (<-chan *message.Message, error) {
	q, err := s.transport.queue(s.topology)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-q.ready:
				if !deliver(ctx, q, out, msg) {
					return
				}
			case <-ctx.Done():
				return
			case <-q.done:
				return
			}
		}
	}()
	return out, nil
}

func (s *subscriber) Close() error { return nil }

// deliver hands a copy of msg to the consumer and waits until it is settled.
// A nacked delivery is dropped, like a broker reject without requeue. A
// message the consumer never received goes back to the queue.
func deliver(ctx context.Context, q *queue, out chan<- *message.Message, msg *message.Message) bool {
	delivery := msg.Copy()
	delivery.SetContext(msg.Context())

	select {
	case out <- delivery:
	case <-ctx.Done():
		q.requeue(msg)
		return false
	case <-q.done:
		return false
	}

	select {
	case <-delivery.Acked():
	case <-delivery.Nacked():
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	}
	return true
}

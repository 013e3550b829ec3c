package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	configpkg "github.com/drblury/amqptrace/internal/runtime/config"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

type testPublisher struct {
	mu        sync.Mutex
	published []string
	messages  []*message.Message
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, topic)
	p.messages = append(p.messages, messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]string, len(p.published))
	copy(clone, p.published)
	return clone
}

type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

// testTransport records the topologies it hands subscribers and publishers
// out for.
type testTransport struct {
	mu          sync.Mutex
	subscribed  []broker.Topology
	published   []broker.Topology
	publisher   *testPublisher
	subErr      error
	pubErr      error
	closeCalled int
}

func (tr *testTransport) Subscriber(topology broker.Topology, _ broker.ConsumeOptions) (message.Subscriber, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.subErr != nil {
		return nil, tr.subErr
	}
	tr.subscribed = append(tr.subscribed, topology)
	return &testSubscriber{}, nil
}

func (tr *testTransport) Publisher(topology broker.Topology) (message.Publisher, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.pubErr != nil {
		return nil, tr.pubErr
	}
	tr.published = append(tr.published, topology)
	if tr.publisher == nil {
		tr.publisher = &testPublisher{}
	}
	return tr.publisher, nil
}

func (tr *testTransport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.closeCalled++
	return nil
}

func newTestService(t *testing.T) (*Service, *testTransport) {
	t.Helper()
	log := newTestLogger()
	router, err := message.NewRouter(message.RouterConfig{}, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}
	tr := &testTransport{}
	reg := prometheus.NewRegistry()
	return &Service{
		Conf:       &configpkg.Config{PubSubSystem: "channel"},
		Logger:     log,
		router:     router,
		transport:  tr,
		registerer: reg,
		gatherer:   reg,
	}, tr
}

type capturingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (c *capturingLogger) add(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *capturingLogger) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func (c *capturingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return c }
func (c *capturingLogger) Debug(msg string, _ loggingpkg.LogFields)           { c.add(msg) }
func (c *capturingLogger) Info(msg string, _ loggingpkg.LogFields)            { c.add(msg) }
func (c *capturingLogger) Warn(msg string, _ loggingpkg.LogFields)            { c.add(msg) }
func (c *capturingLogger) Trace(msg string, _ loggingpkg.LogFields)           { c.add(msg) }
func (c *capturingLogger) Error(msg string, _ error, _ loggingpkg.LogFields)  { c.add(msg) }

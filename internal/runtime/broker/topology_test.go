package broker

import (
	"errors"
	"fmt"
	"testing"

	amqp091 "github.com/rabbitmq/amqp091-go"
)

type fakeDeclarer struct {
	exchanges map[string]string
	queues    map[string]QueueSpec
	bindings  map[string]struct{}
	calls     int
	failBind  error
}

func newFakeDeclarer() *fakeDeclarer {
	return &fakeDeclarer{
		exchanges: map[string]string{},
		queues:    map[string]QueueSpec{},
		bindings:  map[string]struct{}{},
	}
}

func (f *fakeDeclarer) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.calls++
	if existing, ok := f.exchanges[name]; ok && existing != kind {
		return fmt.Errorf("PRECONDITION_FAILED: exchange %s redeclared as %s", name, kind)
	}
	f.exchanges[name] = kind
	return nil
}

func (f *fakeDeclarer) QueueDeclare(name string, durable, autoDelete, exclusive, _ bool, _ amqp091.Table) (amqp091.Queue, error) {
	f.calls++
	spec := QueueSpec{Name: name, Durable: durable, AutoDelete: autoDelete, Exclusive: exclusive}
	if existing, ok := f.queues[name]; ok && existing != spec {
		return amqp091.Queue{}, fmt.Errorf("PRECONDITION_FAILED: queue %s redeclared with other flags", name)
	}
	f.queues[name] = spec
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeDeclarer) QueueBind(name, key, exchange string, _ bool, _ amqp091.Table) error {
	f.calls++
	if f.failBind != nil {
		return f.failBind
	}
	f.bindings[exchange+"|"+key+"|"+name] = struct{}{}
	return nil
}

func TestDeclareOrdersTopology(t *testing.T) {
	ch := newFakeDeclarer()
	if err := Declare(ch, OrdersTopology()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.exchanges["orders"] != "topic" {
		t.Fatalf("expected topic exchange orders, got %#v", ch.exchanges)
	}
	if q := ch.queues["order.processing"]; !q.Durable || q.AutoDelete {
		t.Fatalf("expected durable queue, got %+v", q)
	}
	if _, ok := ch.bindings["orders|order.created|order.processing"]; !ok {
		t.Fatalf("missing order.created binding: %#v", ch.bindings)
	}
}

func TestDeclareEventsTopologySkipsBrokerExchange(t *testing.T) {
	ch := newFakeDeclarer()
	if err := Declare(ch, EventsTopology()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ch.exchanges) != 0 {
		t.Fatalf("amq.rabbitmq.event must not be declared, got %#v", ch.exchanges)
	}
	if q := ch.queues[EventsQueue]; q.Durable || !q.AutoDelete {
		t.Fatalf("expected transient auto-delete queue, got %+v", q)
	}
	if len(ch.bindings) != 13 {
		t.Fatalf("expected 13 bindings, got %d", len(ch.bindings))
	}
	if _, ok := ch.bindings["amq.rabbitmq.event|queue.declared|rabbitmq.events.trace"]; !ok {
		t.Fatal("missing queue.declared binding")
	}
}

func TestDeclareIsIdempotent(t *testing.T) {
	for _, topo := range []Topology{OrdersTopology(), EventsTopology()} {
		ch := newFakeDeclarer()
		for i := range 3 {
			if err := Declare(ch, topo); err != nil {
				t.Fatalf("declaration %d of %s failed: %v", i+1, topo.Queue.Name, err)
			}
		}
		if len(ch.queues) != 1 {
			t.Fatalf("expected a single queue, got %#v", ch.queues)
		}
		if _, ok := ch.queues[topo.Queue.Name]; !ok {
			t.Fatalf("expected queue %q to exist", topo.Queue.Name)
		}
		if len(ch.bindings) != len(topo.BindingKeys) {
			t.Fatalf("expected %d bindings, got %d", len(topo.BindingKeys), len(ch.bindings))
		}
	}
}

func TestDeclareReportsBindFailure(t *testing.T) {
	ch := newFakeDeclarer()
	ch.failBind = errors.New("NOT_FOUND - no exchange 'amq.rabbitmq.event'")
	err := Declare(ch, EventsTopology())
	if !errors.Is(err, ch.failBind) {
		t.Fatalf("expected bind error, got %v", err)
	}
}

func TestTopologyValidate(t *testing.T) {
	tests := []struct {
		name    string
		topo    Topology
		wantErr bool
	}{
		{"orders", OrdersTopology(), false},
		{"events", EventsTopology(), false},
		{"no queue", Topology{Exchange: ExchangeSpec{Name: "x", Kind: "topic"}}, true},
		{"keys without exchange", Topology{Queue: QueueSpec{Name: "q"}, BindingKeys: []string{"k"}}, true},
		{"declared without kind", Topology{Exchange: ExchangeSpec{Name: "x", Declare: true}, Queue: QueueSpec{Name: "q"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.topo.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventsTopologyReturnsCopy(t *testing.T) {
	topo := EventsTopology()
	topo.BindingKeys[0] = "mutated"
	if EventRoutingKeys[0] != "connection.created" {
		t.Fatal("EventsTopology must not alias the package key list")
	}
}

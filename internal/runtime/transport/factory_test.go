package transport

import (
	"context"
	"testing"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/config"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/transport/channel"
)

func TestDefaultFactoryBuildsChannel(t *testing.T) {
	tr, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "channel"}, logging.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer tr.Close()

	if _, ok := tr.(*channel.Transport); !ok {
		t.Fatalf("expected channel transport, got %T", tr)
	}
	if _, err := tr.Subscriber(broker.OrdersTopology(), broker.ConsumeOptions{}); err != nil {
		t.Fatalf("subscriber: %v", err)
	}
}

func TestDefaultFactoryRequiresConfig(t *testing.T) {
	if _, err := DefaultFactory().Build(context.Background(), nil, logging.Nop()); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestDefaultFactoryUnknownTransport(t *testing.T) {
	if _, err := DefaultFactory().Build(context.Background(), &config.Config{PubSubSystem: "kafka"}, logging.Nop()); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestFactoryFunc(t *testing.T) {
	want := channel.New(nil)
	defer want.Close()

	f := FactoryFunc(func(context.Context, *config.Config, logging.ServiceLogger) (Transport, error) {
		return want, nil
	})
	got, err := f.Build(context.Background(), nil, nil)
	if err != nil || got != want {
		t.Fatalf("unexpected result %v %v", got, err)
	}
}

package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	configpkg "github.com/drblury/amqptrace/internal/runtime/config"
	"github.com/drblury/amqptrace/internal/runtime/orders"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

type bridgeHarness struct {
	svc    *Service
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

func startBridge(t *testing.T, register func(*Service) error) *bridgeHarness {
	t.Helper()
	h := &bridgeHarness{spans: tracetest.NewSpanRecorder(), reader: sdkmetric.NewManualReader()}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(h.reader))

	reg := prometheus.NewRegistry()
	svc, err := NewService(context.Background(), &configpkg.Config{PubSubSystem: "channel", MetricsEnabled: true}, newTestLogger(), ServiceDependencies{
		Sink:       telemetry.NewSink(tp, mp),
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := register(svc); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = svc.Close()
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	select {
	case <-svc.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	h.svc = svc
	return h
}

func (h *bridgeHarness) waitForSpans(t *testing.T, name string, n int) []sdktrace.ReadOnlySpan {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var matched []sdktrace.ReadOnlySpan
		for _, s := range h.spans.Ended() {
			if s.Name() == name {
				matched = append(matched, s)
			}
		}
		if len(matched) >= n {
			return matched
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s spans", n, name)
	return nil
}

func TestBridgeProcessesOrders(t *testing.T) {
	h := startBridge(t, func(s *Service) error {
		return s.RegisterOrdersConsumer(orders.Options{})
	})
	ctx := context.Background()

	if err := h.svc.PublishOrder(ctx, orders.Order{ID: 1, Product: "widget"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.svc.PublishOrder(ctx, orders.Order{ID: 2, Product: "Worker Error", Error2: true}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	spans := h.waitForSpans(t, orders.SpanName, 2)
	failed := 0
	for _, s := range spans {
		if s.Status().Code == codes.Error {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected exactly one failed order span, got %d", failed)
	}

	handlers := h.svc.Handlers()
	if len(handlers) != 1 {
		t.Fatalf("expected one worker, got %d", len(handlers))
	}
	stats := handlers[0].Stats
	deadline := time.Now().Add(time.Second)
	for {
		stats.mu.Lock()
		processed, failedCount := stats.MessagesProcessed, stats.MessagesFailed
		stats.mu.Unlock()
		if processed == 2 {
			if failedCount != 1 {
				t.Fatalf("expected one failed delivery, got %d", failedCount)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 processed deliveries, got %d", processed)
		}
		time.Sleep(10 * time.Millisecond)
	}

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var count uint64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != orders.HistogramName {
				continue
			}
			for _, dp := range m.Data.(metricdata.Histogram[float64]).DataPoints {
				count += dp.Count
			}
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 histogram samples, got %d", count)
	}
}

func TestBridgeTracesBrokerEvents(t *testing.T) {
	h := startBridge(t, func(s *Service) error {
		return s.RegisterEventsConsumer()
	})

	bodies := map[string]string{
		"queue.created":      `{"name":"orders","vhost":"/","durable":true}`,
		"connection.created": `not json`,
	}
	for key, body := range bodies {
		msg := message.NewMessage(watermill.NewUUID(), []byte(body))
		if err := h.svc.Publish(broker.EventsTopology(), key, msg); err != nil {
			t.Fatalf("publish %s: %v", key, err)
		}
	}

	queue := h.waitForSpans(t, "rabbitmq.queue.created", 1)
	attrs := map[string]any{}
	for _, kv := range queue[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["rabbitmq.event.type"] != "queue.created" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	h.waitForSpans(t, "rabbitmq.connection.created", 1)
}

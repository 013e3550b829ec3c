package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/amqptrace/internal/runtime/config"
	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
	transportpkg "github.com/drblury/amqptrace/internal/runtime/transport"
	channeltransport "github.com/drblury/amqptrace/transport/channel"
)

func fixedFactory(tr transportpkg.Transport, err error) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, loggingpkg.ServiceLogger) (transportpkg.Transport, error) {
		return tr, err
	})
}

func testDeps(tr transportpkg.Transport) ServiceDependencies {
	reg := prometheus.NewRegistry()
	return ServiceDependencies{
		TransportFactory: fixedFactory(tr, nil),
		Registerer:       reg,
		Gatherer:         reg,
	}
}

func TestNewServiceUsesTransportFactory(t *testing.T) {
	tr := &testTransport{}
	cfg := &configpkg.Config{PubSubSystem: "channel", MetricsEnabled: true}

	svc, err := NewService(context.Background(), cfg, newTestLogger(), testDeps(tr))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.transport != tr {
		t.Fatal("expected factory transport to be assigned")
	}
	if svc.Conf != cfg {
		t.Fatal("service config not set")
	}
	if svc.router == nil {
		t.Fatal("router should not be nil")
	}
	if svc.Sink == nil {
		t.Fatal("expected a default sink")
	}
}

func TestNewServiceWithChannelTransport(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, err := NewService(context.Background(), &configpkg.Config{PubSubSystem: "channel"}, newTestLogger(), ServiceDependencies{
		Registerer: reg,
		Gatherer:   reg,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer svc.Close()

	if _, ok := svc.transport.(*channeltransport.Transport); !ok {
		t.Fatalf("expected channel transport, got %T", svc.transport)
	}
}

func TestNewServiceRequiresConfigAndLogger(t *testing.T) {
	if _, err := NewService(context.Background(), nil, newTestLogger(), ServiceDependencies{}); !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Fatalf("expected ErrConfigRequired, got %v", err)
	}
	if _, err := NewService(context.Background(), &configpkg.Config{}, nil, ServiceDependencies{}); !errors.Is(err, errspkg.ErrLoggerRequired) {
		t.Fatalf("expected ErrLoggerRequired, got %v", err)
	}
}

func TestNewServiceReturnsTransportError(t *testing.T) {
	boom := errors.New("connect: exhausted")
	deps := testDeps(nil)
	deps.TransportFactory = fixedFactory(nil, boom)

	_, err := NewService(context.Background(), &configpkg.Config{}, newTestLogger(), deps)
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestNewServiceUnsupportedTransport(t *testing.T) {
	_, err := NewService(context.Background(), &configpkg.Config{PubSubSystem: "kafka"}, newTestLogger(), ServiceDependencies{})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestNewServiceMiddlewareBuilderError(t *testing.T) {
	tr := &testTransport{}
	deps := testDeps(tr)
	deps.Middlewares = []MiddlewareRegistration{{
		Name: "bad",
		Builder: func(*Service) (message.HandlerMiddleware, error) {
			return nil, errors.New("boom")
		},
	}}

	_, err := NewService(context.Background(), &configpkg.Config{}, newTestLogger(), deps)
	if err == nil || err.Error() != "register middleware bad: boom" {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.closeCalled != 1 {
		t.Fatal("expected transport to be closed after a failed construction")
	}
}

func TestNewServiceAnonymousMiddlewareError(t *testing.T) {
	deps := testDeps(&testTransport{})
	deps.Middlewares = []MiddlewareRegistration{{}}

	_, err := NewService(context.Background(), &configpkg.Config{}, newTestLogger(), deps)
	if err == nil || err.Error() != "register middleware anonymous_middleware: middleware registration requires Middleware or Builder" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServiceRegistersMiddlewares(t *testing.T) {
	called := false
	deps := testDeps(&testTransport{})
	deps.DisableDefaultMiddlewares = true
	deps.Middlewares = []MiddlewareRegistration{{
		Name: "custom",
		Builder: func(*Service) (message.HandlerMiddleware, error) {
			called = true
			return func(h message.HandlerFunc) message.HandlerFunc { return h }, nil
		},
	}}

	if _, err := NewService(context.Background(), &configpkg.Config{}, newTestLogger(), deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected custom middleware builder to run")
	}
}

func TestNewServiceKeepsSink(t *testing.T) {
	sink := telemetry.NopSink()
	deps := testDeps(&testTransport{})
	deps.Sink = sink

	svc, err := NewService(context.Background(), &configpkg.Config{}, newTestLogger(), deps)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Sink != sink {
		t.Fatal("expected provided sink to be used")
	}
}

func TestServiceStartReturnsWhenContextCancelled(t *testing.T) {
	origRun := routerRun
	defer func() { routerRun = origRun }()
	called := make(chan struct{}, 1)
	routerRun = func(_ *message.Router, runCtx context.Context) error {
		called <- struct{}{}
		<-runCtx.Done()
		return runCtx.Err()
	}

	svc := &Service{Conf: &configpkg.Config{}, Logger: newTestLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("routerRun override not invoked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation must not be reported as an error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("service start did not return after context cancellation")
	}
}

func TestServiceStartReturnsRouterError(t *testing.T) {
	origRun := routerRun
	defer func() { routerRun = origRun }()
	boom := errors.New("declare queue: PRECONDITION_FAILED")
	routerRun = func(*message.Router, context.Context) error { return boom }

	svc, _ := newTestService(t)
	if err := svc.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected router error, got %v", err)
	}
}

func TestServiceClose(t *testing.T) {
	svc, tr := newTestService(t)
	if err := svc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.closeCalled != 1 {
		t.Fatalf("expected transport close, got %d", tr.closeCalled)
	}
}

func TestGetErrorClassifierDefaults(t *testing.T) {
	svc := &Service{}
	if got := svc.getErrorClassifier()(errspkg.ErrSimulatedFailure); got != ErrorCategorySimulated {
		t.Fatalf("unexpected category %s", got)
	}
	svc.errorClassifier = func(error) ErrorCategory { return ErrorCategoryOther }
	if got := svc.getErrorClassifier()(errspkg.ErrSimulatedFailure); got != ErrorCategoryOther {
		t.Fatalf("expected custom classifier, got %s", got)
	}
	if svc.getResourceTracker() == nil {
		t.Fatal("expected lazily created resource tracker")
	}
}

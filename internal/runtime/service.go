package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/amqptrace/internal/runtime/config"
	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
	transportpkg "github.com/drblury/amqptrace/internal/runtime/transport"
)

const (
	routerCloseTimeout  = 10 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to get the defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier
	// Sink receives spans and histogram samples. Defaults to a no-op sink.
	Sink *telemetry.Sink
	// Registerer and Gatherer back the router metrics and GET /metrics.
	// They default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Service wires the broker transport, a Watermill router with its middleware
// chain, and the HTTP surface.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger
	Sink   *telemetry.Sink

	transport transportpkg.Transport
	router    *message.Router

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	publishers   map[string]message.Publisher
	publishersMu sync.Mutex

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpRouters   map[int]chi.Router
	httpServers   []*http.Server
	httpServersMu sync.Mutex

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
}

// NewService connects the configured transport and builds the router.
// Register consumers on the returned Service before calling Start. Connection
// failures, including exhausted retries, are returned as errors.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	log.Info("Creating bridge service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		Sink:            deps.Sink,
		registerer:      deps.Registerer,
		gatherer:        deps.Gatherer,
		errorClassifier: deps.ErrorClassifier,
		resourceTracker: newResourceTracker(),
	}
	if s.Sink == nil {
		s.Sink = telemetry.NopSink()
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, log)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	s.transport = transport

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		_ = transport.Close()
		return nil, fmt.Errorf("create router: %w", err)
	}
	s.router = router

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		_ = transport.Close()
		return nil, err
	}

	if conf.HTTPPort > 0 {
		s.registerDefaultRoutes(conf.HTTPPort)
	}

	return s, nil
}

// Start runs the router until ctx is cancelled or a handler cannot subscribe,
// serving the HTTP surface meanwhile. Cancellation is a clean stop.
func (s *Service) Start(ctx context.Context) error {
	s.startHTTPServers()
	defer s.shutdownHTTPServers()

	err := routerRun(s.router, ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Running is closed once every router handler is subscribed.
func (s *Service) Running() chan struct{} {
	return s.router.Running()
}

// Close stops the router and releases the transport. Safe to call after
// Start returned.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		if err := s.router.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.transport != nil {
		if err := s.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

// RegisterHTTPHandler mounts handler for every method on pattern. Servers
// start with Start; one server runs per port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpRouter(port).Handle(pattern, handler)
}

func (s *Service) httpRouter(port int) chi.Router {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpRouters == nil {
		s.httpRouters = make(map[int]chi.Router)
	}

	r, ok := s.httpRouters[port]
	if !ok {
		r = newHTTPRouter()
		s.httpRouters[port] = r
	}
	return r
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, handler := range s.httpRouters {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: httpShutdownTimeout,
		}
		s.httpServers = append(s.httpServers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
	}
}

func (s *Service) shutdownHTTPServers() {
	s.httpServersMu.Lock()
	servers := s.httpServers
	s.httpServers = nil
	s.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}

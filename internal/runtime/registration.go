package runtime

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	"github.com/drblury/amqptrace/internal/runtime/events"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/orders"
)

const (
	EventsHandlerName = "rabbitmq-events"
	OrdersHandlerName = "order-worker"
)

// ConsumerRegistration binds a handler to a queue topology. Every
// registration gets its own subscriber, and so its own consumer channel.
type ConsumerRegistration struct {
	Name     string
	Topology broker.Topology
	Handler  message.NoPublishHandlerFunc
	// Prefetch overrides the transport default when non-zero.
	Prefetch int
}

// RegisterConsumer attaches the provided handler to the service router.
func RegisterConsumer(svc *Service, cfg ConsumerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerConsumer(cfg)
}

// RegisterEventsConsumer traces every broker topology event published on
// amq.rabbitmq.event. Deliveries are always acknowledged.
func (s *Service) RegisterEventsConsumer() error {
	processor := events.NewProcessor(s.Sink, s.Logger.With(loggingpkg.LogFields{"component": EventsHandlerName}))
	return s.registerConsumer(ConsumerRegistration{
		Name:     EventsHandlerName,
		Topology: broker.EventsTopology(),
		Handler:  processor.Handle,
	})
}

// RegisterOrdersConsumer starts Conf.Concurrency order workers (at least one)
// on the order.processing queue.
func (s *Service) RegisterOrdersConsumer(opts orders.Options) error {
	processor := orders.NewProcessor(s.Sink, s.Logger.With(loggingpkg.LogFields{"component": OrdersHandlerName}), opts)

	workers := 1
	if s.Conf != nil && s.Conf.Concurrency > 1 {
		workers = s.Conf.Concurrency
	}
	for i := 1; i <= workers; i++ {
		err := s.registerConsumer(ConsumerRegistration{
			Name:     fmt.Sprintf("%s-%d", OrdersHandlerName, i),
			Topology: broker.OrdersTopology(),
			Handler:  processor.Handle,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) registerConsumer(cfg ConsumerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	queue := cfg.Topology.Queue.Name
	if queue == "" {
		return errspkg.ErrQueueRequired
	}
	if s.transport == nil {
		return fmt.Errorf("register %s: transport is not initialised", cfg.Name)
	}

	subscriber, err := s.transport.Subscriber(cfg.Topology, broker.ConsumeOptions{Prefetch: cfg.Prefetch})
	if err != nil {
		return fmt.Errorf("register %s: %w", cfg.Name, err)
	}

	stats := newHandlerStats(cfg.Name, queue, s.getResourceTracker())
	info := &HandlerInfo{
		Name:  cfg.Name,
		Queue: queue,
		Stats: stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	s.router.AddNoPublisherHandler(
		cfg.Name,
		queue,
		subscriber,
		wrapHandlerWithStats(cfg.Handler, stats, s.getErrorClassifier()),
	)

	s.Logger.Info("Registered consumer", loggingpkg.LogFields{
		"handler":  cfg.Name,
		"queue":    queue,
		"exchange": cfg.Topology.Exchange.Name,
		"bindings": cfg.Topology.BindingKeys,
	})
	return nil
}

// Handlers returns a snapshot of the registered handlers.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]*HandlerInfo, len(s.handlers))
	copy(out, s.handlers)
	return out
}

// wrapHandlerWithStats records every invocation. Panics are counted and
// re-raised for the Recoverer middleware.
func wrapHandlerWithStats(handler message.NoPublishHandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		invocation := stats.onMessageStart(msg)
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				stats.onMessageFinish(invocation, time.Since(start), fmt.Errorf("panic: %v", r), classifier)
				panic(r)
			}
		}()

		err := handler(msg)
		stats.onMessageFinish(invocation, time.Since(start), err, classifier)
		return err
	}
}

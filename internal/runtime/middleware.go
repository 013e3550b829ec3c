package runtime

import (
	"errors"
	"strings"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	idspkg "github.com/drblury/amqptrace/internal/runtime/ids"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	metadatapkg "github.com/drblury/amqptrace/internal/runtime/metadata"
)

const metricsNamespace = "amqptrace"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a Service router.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard middleware chain used by the
// Service constructor. Recoverer is last so panics become handler errors
// before the metrics and stats layers see them.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware adds Prometheus router metrics and serves them on
// GET /metrics of the HTTP port.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(
				s.registerer,
				metricsNamespace,
				strings.ToLower(s.Conf.PubSubSystem),
			)

			metricsBuilder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.HTTPPort > 0 {
				s.RegisterHTTPHandler(s.Conf.HTTPPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
			}

			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationID,
	}
}

// LogMessagesMiddleware logs a payload excerpt and the routing key of handled
// messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return s.logMessagesMiddleware(l), nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so the delivery is
// rejected instead of crashing the consumer.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

var (
	errRouterNotInitialised = errors.New("router is not initialised")
	errMiddlewareUndefined  = errors.New("middleware registration requires Middleware or Builder")
)

// resolve returns the middleware to install. nil without an error means the
// registration opted out, as MetricsMiddleware does when metrics are off.
func (r MiddlewareRegistration) resolve(s *Service) (message.HandlerMiddleware, error) {
	if r.Middleware != nil {
		return r.Middleware, nil
	}
	if r.Builder != nil {
		return r.Builder(s)
	}
	return nil, errMiddlewareUndefined
}

// RegisterMiddleware installs cfg on the router. Middlewares run in
// registration order, the first registered being the outermost.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errRouterNotInitialised
	}
	mw, err := cfg.resolve(s)
	if err != nil || mw == nil {
		return err
	}
	s.router.AddMiddleware(mw)
	return nil
}

// correlationID stamps a ULID correlation id on deliveries that arrive
// without one.
func correlationID(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
		}
		return next(msg)
	}
}

func (s *Service) logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"routing_key":    metadatapkg.RoutingKey(msg),
				"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
				"payload":        broker.Excerpt(msg.Payload, broker.ExcerptLength),
			})
			return h(msg)
		}
	}
}

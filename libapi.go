package amqptrace

import (
	runtimepkg "github.com/drblury/amqptrace/internal/runtime"
	"github.com/drblury/amqptrace/internal/runtime/broker"
	configpkg "github.com/drblury/amqptrace/internal/runtime/config"
	errspkg "github.com/drblury/amqptrace/internal/runtime/errors"
	"github.com/drblury/amqptrace/internal/runtime/events"
	idspkg "github.com/drblury/amqptrace/internal/runtime/ids"
	jsoncodec "github.com/drblury/amqptrace/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/amqptrace/internal/runtime/logging"
	metadatapkg "github.com/drblury/amqptrace/internal/runtime/metadata"
	"github.com/drblury/amqptrace/internal/runtime/orders"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
	transportpkg "github.com/drblury/amqptrace/internal/runtime/transport"
	newtransport "github.com/drblury/amqptrace/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	ConsumerRegistration   = runtimepkg.ConsumerRegistration
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	Producer = runtimepkg.Producer

	// Broker model
	Topology       = broker.Topology
	ExchangeSpec   = broker.ExchangeSpec
	QueueSpec      = broker.QueueSpec
	ConsumeOptions = broker.ConsumeOptions
	BrokerMessage  = broker.Message

	// Events and orders
	NormalizedEvent = events.NormalizedEvent
	Order           = orders.Order
	OrderOptions    = orders.Options
	OrderOutcome    = orders.Outcome
	Enricher        = orders.Enricher
	EnrichRequest   = orders.EnrichRequest
	EnrichResult    = orders.EnrichResult

	// Telemetry
	Sink              = telemetry.Sink
	SpanRecord        = telemetry.SpanRecord
	TelemetryConfig   = telemetry.Config
	TelemetryProvider = telemetry.Provider

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	LoggingOptions            = loggingpkg.Options
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	UnprocessableEventError = errspkg.UnprocessableEventError
	ConfigValidationError   = errspkg.ConfigValidationError

	HandlerInfo  = runtimepkg.HandlerInfo
	HandlerStats = runtimepkg.HandlerStats

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Modular transport types
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry
)

var (
	NewService            = runtimepkg.NewService
	LoadConfig            = configpkg.Load
	ConfigFromEnvironment = configpkg.FromEnvironment
	ValidateConfig        = configpkg.ValidateConfig

	RegisterConsumer = runtimepkg.RegisterConsumer
	PublishOrder     = runtimepkg.PublishOrder
	NewOrderMessage  = orders.NewOrderMessage
	NewEnricher      = orders.NewEnricher

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	OrdersTopology = broker.OrdersTopology
	EventsTopology = broker.EventsTopology

	// Telemetry
	SetupTelemetry = telemetry.Setup
	NewSink        = telemetry.NewSink
	NopSink        = telemetry.NopSink

	// Modular transport registry. Transports register themselves on import;
	// transport/transports pulls in every bundled one.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired     = errspkg.ErrServiceRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrQueueRequired       = errspkg.ErrQueueRequired
	ErrHandlerNameRequired = errspkg.ErrHandlerNameRequired
	ErrPublisherRequired   = errspkg.ErrPublisherRequired
	ErrTopicRequired       = errspkg.ErrTopicRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired
	ErrConnectExhausted    = errspkg.ErrConnectExhausted
	ErrSimulatedFailure    = errspkg.ErrSimulatedFailure
	IsUnprocessable        = errspkg.IsUnprocessable

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Well-known broker names.
const (
	OrdersExchange  = broker.OrdersExchange
	OrdersQueue     = broker.OrdersQueue
	OrderCreatedKey = broker.OrderCreatedKey
	EventsExchange  = broker.EventsExchange
	EventsQueue     = broker.EventsQueue

	EventsHandlerName = runtimepkg.EventsHandlerName
	OrdersHandlerName = runtimepkg.OrdersHandlerName

	OrderSpanName      = orders.SpanName
	OrderHistogramName = orders.HistogramName
)

// MetadataKeyCorrelationID is the metadata key carrying the correlation id.
const MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategorySimulated  = runtimepkg.ErrorCategorySimulated
	ErrorCategoryCancelled  = runtimepkg.ErrorCategoryCancelled
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// TelemetryConfigFrom maps the OTLP settings of cfg to a TelemetryConfig.
// serviceName is used when OTEL_SERVICE_NAME is unset.
func TelemetryConfigFrom(cfg *Config, serviceName string) TelemetryConfig {
	name := cfg.ServiceName
	if name == "" {
		name = serviceName
	}
	return TelemetryConfig{
		ServiceName: name,
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     cfg.ParsedOTLPHeaders(),
		Protocol:    cfg.OTLPProtocol,
	}
}

// OrderOptionsFrom maps the worker settings of cfg to OrderOptions.
func OrderOptionsFrom(cfg *Config) OrderOptions {
	return OrderOptions{
		ErrorProduct: cfg.ErrorProduct,
		MinWait:      cfg.MinWaitDuration(),
		MaxWait:      cfg.MaxWaitDuration(),
	}
}

// LoggingOptionsFrom maps the logging settings of cfg to LoggingOptions.
func LoggingOptionsFrom(cfg *Config) LoggingOptions {
	return LoggingOptions{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Backend: cfg.LogBackend,
	}
}

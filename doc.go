// Package amqptrace bridges RabbitMQ to OpenTelemetry. It consumes the
// broker's internal event exchange (amq.rabbitmq.event) and turns every
// topology event into a span, and it runs an order worker that emits a
// process_order span and an order.processing.duration histogram sample per
// message, with a configurable "worker error" product for fault injection.
//
// Service hosts a Watermill router over the transport named by
// Config.PubSubSystem. The rabbitmq transport connects with a bounded,
// constant-delay retry (20 attempts, 2s apart by default) and declares the
// exchange, queue and bindings of every consumer before it subscribes. The
// channel transport runs the same handlers in memory.
//
// A minimal setup fills Config from the environment with LoadConfig, sets up
// telemetry with SetupTelemetry, creates a Service with the provider Sink,
// registers RegisterEventsConsumer or RegisterOrdersConsumer and calls Start.
// The cmd/amqptrace binary does exactly that.
//
// # Delivery semantics
//
// A handler returning nil acks the delivery. Any error rejects it without
// requeue; there is no retry or dead-letter routing. Broker events are always
// acked, even when their body cannot be decoded.
//
// # Middleware
//
// The default middleware chain adds correlation IDs, debug logging of payload
// excerpts, Prometheus router metrics and panic recovery. Custom middleware
// can be added via ServiceDependencies.Middlewares.
//
// # HTTP
//
// When Config.HTTPPort is set the Service serves GET /health, GET /handlers
// with per-handler stats and GET /metrics. The order worker also serves
// POST /enrich for catalog pricing.
package amqptrace

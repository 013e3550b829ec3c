/*
Package runtime hosts the bridge between RabbitMQ and OpenTelemetry.

# Architecture Overview

A Service owns one transport, one Watermill router and the HTTP surface.
Consumers are registered as no-publish handlers; a nil handler result acks
the delivery and any error rejects it without requeue.

## Core Service (service.go)

The Service struct wires together:
  - the transport built from Config.PubSubSystem (rabbitmq or channel)
  - the Watermill router and its middleware chain
  - the telemetry sink that receives spans and histogram samples
  - one chi router per HTTP port

## Consumers (registration.go)

  - RegisterEventsConsumer: binds rabbitmq.events.trace to amq.rabbitmq.event
    and turns every broker event into a span
  - RegisterOrdersConsumer: starts Conf.Concurrency order workers on
    order.processing, each emitting a process_order span and an
    order.processing.duration sample

## Middleware (middleware.go)

  - CorrelationID: ensures message traceability
  - LogMessages: debug logging of payload excerpts
  - Metrics: Prometheus router metrics and GET /metrics
  - Recoverer: panic recovery

## Stats & Monitoring (models.go, resources.go)

Per-handler counters served on GET /handlers: latency percentiles,
throughput, error categories, resource usage, queue lag and the health of the
consumed queue.

## Publishing (publisher.go)

PublishOrder encodes an order, injects the current trace context and sends it
with the order.created routing key.

# Sub-packages

  - broker/: AMQP connection with retry, topology and marshaler
  - config/: environment configuration
  - errors/: sentinel errors
  - events/: broker event normalization and span classification
  - ids/: ULID generation
  - jsoncodec/: JSON encoding
  - logging/: logger interface and adapters
  - metadata/: message metadata helpers
  - orders/: order worker, publisher payload and price enrichment
  - telemetry/: OTLP providers and the span/histogram sink
  - transport/: transport factory

# Usage Example

	cfg, _ := config.Load()
	svc, err := runtime.NewService(ctx, cfg, logger, runtime.ServiceDependencies{Sink: provider.Sink()})
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.RegisterEventsConsumer(); err != nil {
		return err
	}
	return svc.Start(ctx)
*/
package runtime

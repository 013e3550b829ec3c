package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/amqptrace/internal/runtime/broker"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	"github.com/drblury/amqptrace/internal/runtime/telemetry"
)

// Processor converts every delivered broker event into one span. It never
// rejects a message: malformed or unexpected input is logged and acked.
type Processor struct {
	sink   *telemetry.Sink
	logger logging.ServiceLogger
	now    func() time.Time
}

func NewProcessor(sink *telemetry.Sink, logger logging.ServiceLogger) *Processor {
	if sink == nil {
		sink = telemetry.NopSink()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Processor{sink: sink, logger: logger, now: time.Now}
}

// Handle is a Watermill no-publish handler. It always returns nil so the
// delivery is acknowledged.
func (p *Processor) Handle(msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Error processing event", fmt.Errorf("panic: %v", r), logging.LogFields{
				"message_uuid": msg.UUID,
				"body_excerpt": broker.Excerpt(msg.Payload, broker.ExcerptLength),
			})
			err = nil
		}
	}()

	rec := p.Process(msg)
	p.sink.EmitSpan(msg.Context(), rec)
	return nil
}

// Process normalizes and classifies one delivery. The returned record is
// timed from the start of processing.
func (p *Processor) Process(msg *message.Message) telemetry.SpanRecord {
	start := p.now()
	bm := broker.FromWatermill(msg)
	ev := Normalize(bm)

	p.logger.Info("Received event", logging.LogFields{"event_type": ev.Type})
	p.logger.Debug("Event attributes", logging.LogFields{"event_type": ev.Type, "attributes": len(ev.Attributes)})

	rec := Classify(ev)
	rec.Start = start
	rec.Duration = p.now().Sub(start).Seconds()
	if _, minimal := rec.Attributes["rabbitmq.event.minimal"]; minimal {
		p.logger.Debug("Empty event body, creating minimal span", logging.LogFields{"event_type": ev.Type})
	}
	return rec
}

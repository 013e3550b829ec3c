package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/cenkalti/backoff/v5"

	rterrors "github.com/drblury/amqptrace/internal/runtime/errors"
	"github.com/drblury/amqptrace/internal/runtime/logging"
)

const (
	DefaultConnectAttempts = 20
	DefaultConnectDelay    = 2 * time.Second
)

// ConnectionFactory opens the underlying AMQP connection. Tests replace it.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// ConnectConfig bounds the startup connection loop.
type ConnectConfig struct {
	URL         string
	MaxAttempts int
	// Delay is the constant pause between two attempts.
	Delay time.Duration
}

func (c ConnectConfig) withDefaults() ConnectConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = DefaultConnectAttempts
	}
	if c.Delay < 0 {
		c.Delay = DefaultConnectDelay
	}
	return c
}

// RetryState tracks the connect loop.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	// Backoff is the next delay in seconds.
	Backoff float64
}

func (s RetryState) exhausted() bool { return s.Attempt >= s.MaxAttempts }

func (s RetryState) fields(err error) logging.LogFields {
	return logging.LogFields{
		"attempt":      s.Attempt,
		"max_attempts": s.MaxAttempts,
		"retry_in_s":   s.Backoff,
		"error":        err.Error(),
	}
}

// Connect opens a broker connection, retrying with a constant delay up to
// MaxAttempts times. The delay is interrupted when ctx is cancelled. Once the
// connection exists, Watermill's own reconnect loop takes over.
func Connect(ctx context.Context, cfg ConnectConfig, logger logging.ServiceLogger) (*Connection, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logging.Nop()
	}
	wmLogger := logging.NewWatermillAdapter(logger)
	state := RetryState{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Delay.Seconds()}

	// Every failed attempt, the last one included, logs one warning.
	attempt := func() (*amqp.ConnectionWrapper, error) {
		state.Attempt++
		conn, err := ConnectionFactory(amqp.ConnectionConfig{
			AmqpURI:   cfg.URL,
			Reconnect: amqp.DefaultReconnectConfig(),
		}, wmLogger)
		if err != nil {
			if state.exhausted() {
				state.Backoff = 0
			}
			logger.Warn("RabbitMQ not ready, retrying", state.fields(err))
		}
		return conn, err
	}

	conn, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Delay)),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !state.exhausted() {
			return nil, fmt.Errorf("connect to broker: %w", ctxErr)
		}
		logger.Error("Could not connect to RabbitMQ", err, logging.LogFields{"attempts": state.Attempt})
		return nil, fmt.Errorf("%w after %d attempts: %w", rterrors.ErrConnectExhausted, state.Attempt, err)
	}

	logger.Info("Connected to RabbitMQ", logging.LogFields{"attempt": state.Attempt})
	return &Connection{conn: conn, url: cfg.URL, logger: wmLogger, attempts: state.Attempt}, nil
}

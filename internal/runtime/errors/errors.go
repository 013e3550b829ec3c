package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired     = sterrors.New("amqptrace: service is required")
	ErrHandlerRequired     = sterrors.New("amqptrace: handler function is required")
	ErrQueueRequired       = sterrors.New("amqptrace: queue name is required")
	ErrHandlerNameRequired = sterrors.New("amqptrace: handler name is required")
	ErrPublisherRequired   = sterrors.New("amqptrace: publisher is required")
	ErrTopicRequired       = sterrors.New("amqptrace: topic is required")
	ErrConfigRequired      = sterrors.New("amqptrace: configuration is required")
	ErrLoggerRequired      = sterrors.New("amqptrace: logger is required")
	ErrSinkRequired        = sterrors.New("amqptrace: telemetry sink is required")

	// ErrConnectExhausted is returned once every broker connection attempt failed.
	ErrConnectExhausted = sterrors.New("amqptrace: broker connection attempts exhausted")
	// ErrSimulatedFailure marks an order rejected by the fault-injection product.
	ErrSimulatedFailure = sterrors.New("amqptrace: simulated worker failure")
)

// UnprocessableEventError reports a payload that cannot be decoded. The
// message is rejected without requeue.
type UnprocessableEventError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *UnprocessableEventError) Error() string {
	msg := "amqptrace: unprocessable event"
	if e.Topic != "" {
		msg += " on " + e.Topic
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnprocessableEventError) Unwrap() error { return e.Err }

// NewUnprocessableEventError wraps err with the topic and reason it failed on.
func NewUnprocessableEventError(topic, reason string, err error) error {
	return &UnprocessableEventError{Topic: topic, Reason: reason, Err: err}
}

// IsUnprocessable reports whether err carries an UnprocessableEventError.
func IsUnprocessable(err error) bool {
	var target *UnprocessableEventError
	return sterrors.As(err, &target)
}

// ConfigValidationError wraps configuration problems found at startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("amqptrace: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

package transport

import (
	"context"
	"fmt"

	"github.com/drblury/amqptrace/internal/runtime/config"
	"github.com/drblury/amqptrace/internal/runtime/logging"
	newtransport "github.com/drblury/amqptrace/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/amqptrace/transport/transports"
)

// Transport is the broker handle the Service subscribes and publishes through.
type Transport = newtransport.Transport

// Factory abstracts how the Service initialises its transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the built-in transport factory that uses the
// modular transport registry.
func DefaultFactory() Factory {
	return defaultFactory{}
}

type defaultFactory struct{}

func (defaultFactory) Build(ctx context.Context, conf *config.Config, logger logging.ServiceLogger) (Transport, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	return newtransport.Build(ctx, conf, logger)
}

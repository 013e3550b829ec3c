package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/amqptrace"
)

const telemetryShutdownTimeout = 5 * time.Second

// Swappable for tests.
var (
	loadConfig     = amqptrace.LoadConfig
	setupTelemetry = amqptrace.SetupTelemetry
)

type globalFlags struct {
	transport string
	httpPort  int
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "amqptrace",
		Short: "RabbitMQ to OpenTelemetry bridge",
		Long: `amqptrace turns RabbitMQ topology events into OpenTelemetry spans and runs
an instrumented order worker.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.transport, "transport", "", "transport override: rabbitmq or channel")
	root.PersistentFlags().IntVar(&flags.httpPort, "http-port", -1, "HTTP port override, 0 disables the HTTP surface")

	root.AddCommand(newEventsCmd(flags), newOrdersCmd(flags), newPublishCmd(flags))
	return root
}

func (f *globalFlags) config() (*amqptrace.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if f.transport != "" {
		cfg.PubSubSystem = f.transport
	}
	if f.httpPort >= 0 {
		cfg.HTTPPort = f.httpPort
	}
	return cfg, nil
}

// bridge is everything a subcommand needs once configuration, logging and
// telemetry are up.
type bridge struct {
	cfg      *amqptrace.Config
	logger   amqptrace.ServiceLogger
	provider *amqptrace.TelemetryProvider
}

// withBridge sets up the ambient stack, runs fn and flushes telemetry on the
// way out. SIGINT and SIGTERM cancel the context handed to fn.
func withBridge(cmd *cobra.Command, flags *globalFlags, serviceName string, fn func(context.Context, *bridge) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := flags.config()
	if err != nil {
		return err
	}

	logger := amqptrace.NewLogger(amqptrace.LoggingOptionsFrom(cfg)).With(amqptrace.LogFields{"service": serviceName})
	logger.Info("Configuration loaded", amqptrace.LogFields{"config": cfg.String()})

	provider, err := setupTelemetry(ctx, amqptrace.TelemetryConfigFrom(cfg, serviceName))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown failed", err, nil)
		}
	}()

	return fn(ctx, &bridge{cfg: cfg, logger: logger, provider: provider})
}

func (b *bridge) newService(ctx context.Context) (*amqptrace.Service, error) {
	return amqptrace.NewService(ctx, b.cfg, b.logger, amqptrace.ServiceDependencies{Sink: b.provider.Sink})
}

// serve runs svc until ctx is cancelled.
func (b *bridge) serve(ctx context.Context, svc *amqptrace.Service) error {
	defer func() {
		if err := svc.Close(); err != nil {
			b.logger.Error("Service close failed", err, nil)
		}
	}()
	b.logger.Info("Bridge running", amqptrace.LogFields{"handlers": len(svc.Handlers())})
	err := svc.Start(ctx)
	b.logger.Info("Bridge stopped", nil)
	return err
}

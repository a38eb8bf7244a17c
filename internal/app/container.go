// Package app assembles the order and notification services from
// configuration and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"os"

	"orderflow/internal/config"
	"orderflow/internal/events"
	"orderflow/internal/platform/breaker"
	"orderflow/internal/platform/dependency"
	"orderflow/internal/platform/kafka"
	"orderflow/internal/platform/observability"
	"orderflow/internal/platform/rabbitmq"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Container holds the singletons both services share: configuration,
// logging, telemetry and the circuit breaker registry.
type Container struct {
	config         *config.Config
	logger         *zap.Logger
	tracer         observability.Tracer
	tracerProvider trace.TracerProvider
	breakers       *breaker.Registry
	otelShutdown   func(context.Context) error
}

func NewContainer(ctx context.Context, service string) (*Container, error) {
	cfg, err := config.LoadConfig(service)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	c := &Container{config: cfg}

	if err := c.setupLogger(); err != nil {
		return nil, err
	}
	c.setupObservability(ctx)

	c.breakers, err = newBreakerRegistry(cfg.Breaker, c.logger, otel.Meter(cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) setupLogger() error {
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

// setupObservability installs the OpenTelemetry SDKs. Exporter failures are
// logged and the service keeps running without them.
func (c *Container) setupObservability(ctx context.Context) {
	logShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}

	tp, traceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}

	metricShutdown, err := observability.SetupMetricsSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry metrics", zap.Error(err))
	}

	c.otelShutdown = observability.JoinShutdown(metricShutdown, traceShutdown, logShutdown)
	c.reinitializeLoggerWithOTel()

	c.tracerProvider = otel.GetTracerProvider()
	if tp != nil {
		c.tracerProvider = tp
	}
	c.tracer = c.tracerProvider.Tracer(c.config.ServiceName)
}

// reinitializeLoggerWithOTel swaps the bootstrap logger for one that also
// forwards to the OpenTelemetry log pipeline installed above.
func (c *Container) reinitializeLoggerWithOTel() {
	_ = c.logger.Sync()
	c.logger = observability.NewBridgedLogger(c.config, os.Stdout)
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge",
		zap.Bool("otel_export", c.config.Otel.Endpoint != ""),
		zap.String("level", c.config.LogLevel),
	)
}

// newBreakerRegistry builds the registry every dependency client draws its
// breaker from. State transitions are logged and counted.
func newBreakerRegistry(cfg config.BreakerConfig, logger *zap.Logger, meter metric.Meter) (*breaker.Registry, error) {
	transitions, err := meter.Int64Counter("circuit_breaker.transitions")
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit_breaker.transitions counter: %w", err)
	}

	return breaker.NewRegistry(
		breaker.WithFailureThreshold(cfg.FailureThreshold),
		breaker.WithOpenDuration(cfg.OpenDuration),
		breaker.WithOnStateChange(func(name string, from, to breaker.State) {
			logger.Warn("Circuit breaker changed state",
				zap.String("dependency", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			transitions.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("dependency", name),
				attribute.String("to", to.String()),
			))
		}),
	), nil
}

// DependencyClient returns a client for the named dependency guarded by its
// breaker from the shared registry.
func (c *Container) DependencyClient(name, baseURL string, opts ...dependency.Option) *dependency.Client {
	opts = append([]dependency.Option{
		dependency.WithTimeout(c.config.Dependencies.Timeout),
		dependency.WithLogger(c.logger),
	}, opts...)
	return dependency.New(name, baseURL, c.breakers.Get(name), opts...)
}

// NewPublisher returns the event publisher for the configured broker.
func (c *Container) NewPublisher() (events.Publisher, error) {
	switch c.config.Broker.Kind {
	case config.BrokerRabbitMQ:
		return rabbitmq.NewPublisher(c.config.Broker.RabbitMQURL, c.config.Broker.Exchange, c.logger), nil
	case config.BrokerKafka:
		writer, err := kafka.NewWriter(c.config.Broker.KafkaBroker, c.config.ServiceName, c.tracerProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka writer: %w", err)
		}
		return kafka.NewPublisher(writer, c.config.Broker.Exchange, c.logger), nil
	default:
		c.logger.Warn("No event broker configured, events will be dropped")
		return events.NewNoopPublisher(c.logger), nil
	}
}

func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	if c.otelShutdown != nil {
		if err := c.otelShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
		}
	}

	if err := c.logger.Sync(); err != nil {
		// The logger itself may be unusable here.
		fmt.Fprintf(os.Stderr, "Failed to sync logger: %v\n", err)
	}
}

func (c *Container) Config() *config.Config               { return c.config }
func (c *Container) Logger() observability.Logger         { return c.logger }
func (c *Container) Tracer() observability.Tracer         { return c.tracer }
func (c *Container) Breakers() *breaker.Registry          { return c.breakers }
func (c *Container) TracerProvider() trace.TracerProvider { return c.tracerProvider }

package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"orderflow/internal/config"
	"orderflow/internal/events"
	"orderflow/internal/notification"
	"orderflow/internal/platform/httpserver"
	"orderflow/internal/platform/kafka"
	"orderflow/internal/platform/rabbitmq"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// eventConsumer is the part of a broker consumer the application drives.
type eventConsumer interface {
	Run(ctx context.Context) error
	Connected() bool
}

// NotificationApplication consumes order events and serves status endpoints.
// A failing consumer does not take the HTTP endpoints down.
type NotificationApplication struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
	cache     *redis.Client
	consumer  eventConsumer
	closers   []func() error
	handler   http.Handler
	wg        sync.WaitGroup
}

func NewNotificationApplication(ctx context.Context) (*NotificationApplication, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	app := &NotificationApplication{ctx: appCtx, cancel: cancel}

	container, err := NewContainer(appCtx, config.NotificationServiceName)
	if err != nil {
		cancel()
		return nil, err
	}
	app.container = container

	if err := app.wire(); err != nil {
		app.Shutdown()
		return nil, err
	}

	container.Logger().Info("Notification service initialized successfully")
	return app, nil
}

func (app *NotificationApplication) wire() error {
	c := app.container
	cfg := c.config

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		app.cache = redis.NewClient(opts)
		if err := app.cache.Ping(app.ctx).Err(); err != nil {
			c.logger.Warn("Redis is unreachable, user lookups will not be cached until it recovers", zap.Error(err))
		}
	}

	users := notification.NewUserDirectory(c.DependencyClient(config.UserDependency, cfg.Dependencies.UserURL), app.cache, cfg.UserCacheTTL, c.logger)
	mailer := notification.NewSMTPMailer(notification.SMTPConfig{
		Host:      cfg.SMTP.Host,
		Port:      cfg.SMTP.Port,
		User:      cfg.SMTP.User,
		Password:  cfg.SMTP.Password,
		FromEmail: cfg.SMTP.FromEmail,
		FromName:  cfg.SMTP.FromName,
	})
	handler, err := notification.NewHandler(users, mailer, c.logger)
	if err != nil {
		return err
	}

	policy, err := events.ParseFailurePolicy(cfg.Consumer.FailurePolicy)
	if err != nil {
		return err
	}

	switch cfg.Broker.Kind {
	case config.BrokerRabbitMQ:
		consumer := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:                cfg.Broker.RabbitMQURL,
			Exchange:           cfg.Broker.Exchange,
			Queue:              cfg.Consumer.Queue,
			RetryAttempts:      cfg.Consumer.RetryAttempts,
			RetryDelay:         cfg.Consumer.RetryDelay,
			FailurePolicy:      policy,
			DeadLetterExchange: cfg.Consumer.DeadLetterExchange,
		}, handler, c.logger)
		app.consumer = consumer
		app.closers = append(app.closers, consumer.Close)
	case config.BrokerKafka:
		if err := app.wireKafka(handler, policy); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported event broker %q", cfg.Broker.Kind)
	}

	app.handler = httpserver.Instrument(notification.Routes(c.breakers, app.consumer.Connected), cfg.ServiceName)
	return nil
}

func (app *NotificationApplication) wireKafka(handler events.Handler, policy events.FailurePolicy) error {
	c := app.container
	cfg := c.config

	reader, err := kafka.NewGroupReader(cfg.Broker.KafkaBroker, cfg.Broker.Exchange, cfg.Consumer.Queue, c.tracerProvider)
	if err != nil {
		return fmt.Errorf("failed to create Kafka reader: %w", err)
	}
	app.closers = append(app.closers, reader.Close)

	var writer kafka.EventWriter
	if policy != events.AckOnFailure {
		if writer, err = kafka.NewWriter(cfg.Broker.KafkaBroker, cfg.ServiceName, c.tracerProvider); err != nil {
			return fmt.Errorf("failed to create Kafka writer: %w", err)
		}
		app.closers = append(app.closers, writer.Close)
	}

	deadLetterTopic := cfg.Consumer.DeadLetterExchange
	if deadLetterTopic == "" {
		deadLetterTopic = cfg.Broker.Exchange + ".dlq"
	}
	app.consumer = kafka.NewConsumerService(reader, writer, handler, policy, deadLetterTopic, c.logger)
	return nil
}

// Handler returns the instrumented HTTP handler.
func (app *NotificationApplication) Handler() http.Handler { return app.handler }

// Run starts the consumer in the background and serves HTTP until the
// application context is cancelled.
func (app *NotificationApplication) Run() error {
	logger := app.container.logger

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.consumer.Run(app.ctx); err != nil {
			logger.Error("Event consumer stopped, notifications are paused", zap.Error(err))
		}
	}()

	return httpserver.Serve(app.ctx, app.container.config.HTTPAddr, app.handler, logger)
}

func (app *NotificationApplication) Shutdown() {
	logger := app.container.Logger()
	logger.Info("Starting application shutdown...")

	app.cancel()
	app.wg.Wait()

	for _, closeFn := range app.closers {
		if err := closeFn(); err != nil {
			logger.Error("Failed to close consumer resource", zap.Error(err))
		}
	}
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	app.container.Shutdown(context.Background())
}

package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orderflow/internal/events"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrConnectRetriesExhausted is returned by Run when the broker could not be
// reached within the configured attempt budget.
var ErrConnectRetriesExhausted = errors.New("could not connect to RabbitMQ")

const defaultPrefetch = 10

type ConsumerConfig struct {
	URL                string
	Exchange           string
	Queue              string
	RetryAttempts      int
	RetryDelay         time.Duration
	FailurePolicy      events.FailurePolicy
	DeadLetterExchange string
	Prefetch           int
}

type ConsumerOption func(*Consumer)

func WithConsumerDialer(d Dialer) ConsumerOption {
	return func(c *Consumer) {
		c.dial = d
	}
}

// Consumer binds a durable queue to every supported event type and feeds
// deliveries to a handler with manual acknowledgement.
type Consumer struct {
	cfg     ConsumerConfig
	handler events.Handler
	dial    Dialer
	logger  *zap.Logger
	tracer  trace.Tracer

	connected atomic.Bool

	mu   sync.Mutex
	conn Connection
}

func NewConsumer(cfg ConsumerConfig, handler events.Handler, logger *zap.Logger, opts ...ConsumerOption) *Consumer {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = events.AckOnFailure
	}
	if cfg.FailurePolicy == events.DeadLetterOnFailure && cfg.DeadLetterExchange == "" {
		cfg.DeadLetterExchange = cfg.Exchange + ".dlx"
	}

	c := &Consumer{
		cfg:     cfg,
		handler: handler,
		dial:    Dial,
		logger:  logger,
		tracer:  otel.Tracer("orderflow/rabbitmq"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether the consumer currently holds a live subscription.
func (c *Consumer) Connected() bool {
	return c.connected.Load()
}

// Run connects and processes deliveries until ctx is done. If the broker
// drops the subscription, Run reconnects with the same retry budget. It
// returns nil on cancellation and ErrConnectRetriesExhausted when a connect
// budget runs out.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.connected.Store(true)
		c.logger.Info("Started consuming messages from RabbitMQ", zap.String("queue", c.cfg.Queue))
		c.consume(ctx, deliveries)
		c.connected.Store(false)
		c.closeConn()

		if ctx.Err() != nil {
			c.logger.Info("Context done, exiting RabbitMQ consume loop.")
			return nil
		}
		c.logger.Warn("RabbitMQ delivery channel closed, reconnecting")
	}
}

func (c *Consumer) connect(ctx context.Context) (<-chan amqp.Delivery, error) {
	var deliveries <-chan amqp.Delivery
	attempt := 0

	op := func() error {
		attempt++
		d, err := c.subscribe()
		if err != nil {
			return err
		}
		deliveries = d
		return nil
	}
	notify := func(err error, next time.Duration) {
		c.logger.Error("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.RetryAttempts),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.RetryDelay), uint64(c.cfg.RetryAttempts-1)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("Max retries reached. Could not connect to RabbitMQ.", zap.Error(err))
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectRetriesExhausted, attempt, err)
	}
	return deliveries, nil
}

// subscribe performs one connect, declare and bind cycle.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	conn, err := c.dial(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	deliveries, err := c.declare(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return deliveries, nil
}

func (c *Consumer) declare(conn Connection) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", c.cfg.Exchange, err)
	}

	var args amqp.Table
	if c.cfg.FailurePolicy == events.DeadLetterOnFailure {
		if err := ch.ExchangeDeclare(c.cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("failed to declare dead-letter exchange %s: %w", c.cfg.DeadLetterExchange, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
	}

	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, args)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", c.cfg.Queue, err)
	}

	for _, t := range events.SupportedTypes {
		if err := ch.QueueBind(q.Name, string(t), c.cfg.Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, t, err)
		}
		c.logger.Info("Bound queue to exchange", zap.String("routing_key", string(t)))
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return deliveries, nil
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	msgCtx, span := c.tracer.Start(msgCtx, "consume "+d.RoutingKey, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	outcome := events.Process(msgCtx, d.Body, c.handler, c.logger)
	span.SetAttributes(
		attribute.String("messaging.rabbitmq.routing_key", d.RoutingKey),
		attribute.String("event.outcome", outcome.String()),
	)

	var err error
	switch {
	case outcome != events.HandlerFailed, c.cfg.FailurePolicy == events.AckOnFailure:
		err = d.Ack(false)
	case c.cfg.FailurePolicy == events.RequeueOnFailure:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("Failed to acknowledge message",
			zap.Uint64("delivery_tag", d.DeliveryTag),
			zap.Error(err),
		)
	}
}

func (c *Consumer) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}
	c.conn = nil
}

// Close drops the broker connection. A running Run call will observe the
// closed delivery channel and reconnect unless its context is done.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}

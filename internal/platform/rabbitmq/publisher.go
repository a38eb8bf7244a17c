// Package rabbitmq implements the event publisher and consumer on top of a
// durable AMQP topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"orderflow/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

const (
	exchangeKind = "topic"

	DefaultRedialInterval = 2 * time.Second
)

// ErrRedialPending is reported while a failed dial is younger than the
// redial interval; no new dial is attempted until it has passed.
var ErrRedialPending = errors.New("broker unreachable, waiting before the next dial")

type PublisherOption func(*Publisher)

func WithPublisherDialer(d Dialer) PublisherOption {
	return func(p *Publisher) {
		p.dial = d
	}
}

// WithRedialInterval sets how long publishes fail fast after a failed dial.
func WithRedialInterval(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d >= 0 {
			p.redialInterval = d
		}
	}
}

// Publisher lazily opens one connection, channel and exchange and reuses them
// until either is found closed, in which case they are re-established before
// the next publish. Dials are bounded by DefaultDialTimeout and, after a
// failure, not retried for the redial interval, so an outage costs publishers
// at most one dial timeout per interval.
type Publisher struct {
	url            string
	exchange       string
	dial           Dialer
	redialInterval time.Duration
	now            func() time.Time
	logger         *zap.Logger

	mu           sync.Mutex
	conn         Connection
	ch           Channel
	dialFailedAt time.Time
}

func NewPublisher(url, exchange string, logger *zap.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		url:            url,
		exchange:       exchange,
		dial:           Dial,
		redialInterval: DefaultRedialInterval,
		now:            time.Now,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends event with its type as the routing key and persistent
// delivery. It reports false on any failure.
func (p *Publisher) Publish(ctx context.Context, event events.Event) bool {
	body, err := event.Encode()
	if err != nil {
		p.logger.Error("Failed to serialize event", zap.Error(err))
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		p.logger.Error("Failed to connect to RabbitMQ",
			zap.String("event_type", string(event.EventType)),
			zap.Error(err),
		)
		return false
	}

	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Type:         string(event.EventType),
		Headers:      headers,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, p.exchange, string(event.EventType), false, false, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", event.OrderData.OrderID.String()),
			zap.Error(err),
		)
		return false
	}

	p.logger.Info("Published event",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", event.OrderData.OrderID.String()),
	)
	return true
}

// channel returns the cached channel, reconnecting when the connection or
// channel has been closed. Callers hold p.mu.
func (p *Publisher) channel() (Channel, error) {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	if !p.dialFailedAt.IsZero() && p.now().Sub(p.dialFailedAt) < p.redialInterval {
		return nil, ErrRedialPending
	}

	conn, err := p.dial(p.url)
	if err != nil {
		p.dialFailedAt = p.now()
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	p.dialFailedAt = time.Time{}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}

	p.conn, p.ch = conn, ch
	p.logger.Info("Connected to RabbitMQ", zap.String("exchange", p.exchange))
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil && !p.ch.IsClosed() {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Close closes the connection if one is open. It is safe to call at any time.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}
	var err error
	if !p.conn.IsClosed() {
		err = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	return err
}

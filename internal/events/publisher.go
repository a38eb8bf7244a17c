package events

import (
	"context"

	"go.uber.org/zap"
)

// Publisher delivers events to the broker. Publish reports success instead of
// returning an error; a failed publish never undoes the operation that
// triggered it.
type Publisher interface {
	Publish(ctx context.Context, event Event) bool
	Close() error
}

// Handler reacts to a single decoded, supported event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

// NoopPublisher drops every event and reports it as not delivered. It is used
// when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, event Event) bool {
	p.logger.Debug("Event broker disabled, dropping event",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", event.OrderData.OrderID.String()),
	)
	return false
}

func (p *NoopPublisher) Close() error { return nil }

// Package notification turns order events into customer emails.
package notification

import (
	"context"
	"fmt"

	"orderflow/internal/events"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EmailLookup resolves a user id to an email address.
type EmailLookup interface {
	Email(ctx context.Context, userID uuid.UUID) (string, error)
}

// Handler emails the owner of the order carried by each event.
type Handler struct {
	users  EmailLookup
	mailer Mailer
	logger *otelzap.Logger
	tracer trace.Tracer

	sent   metric.Int64Counter
	failed metric.Int64Counter
}

func NewHandler(users EmailLookup, mailer Mailer, logger *zap.Logger) (*Handler, error) {
	meter := otel.Meter("orderflow/notification")
	sent, err := meter.Int64Counter("notifications.sent")
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications.sent counter: %w", err)
	}
	failed, err := meter.Int64Counter("notifications.failed")
	if err != nil {
		return nil, fmt.Errorf("failed to create notifications.failed counter: %w", err)
	}

	return &Handler{
		users:  users,
		mailer: mailer,
		logger: otelzap.New(logger),
		tracer: otel.Tracer("orderflow/notification"),
		sent:   sent,
		failed: failed,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.Event) error {
	ctx, span := h.tracer.Start(ctx, "send_notification")
	defer span.End()

	data := event.OrderData
	span.SetAttributes(
		attribute.String("event.type", string(event.EventType)),
		attribute.String("order.id", data.OrderID.String()),
		attribute.String("user.id", data.UserID.String()),
	)
	attrs := metric.WithAttributes(attribute.String("event.type", string(event.EventType)))

	if err := h.notify(ctx, event); err != nil {
		h.failed.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		h.logger.Ctx(ctx).Error("Failed to send order notification",
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", data.OrderID.String()),
			zap.Error(err),
		)
		return err
	}

	h.sent.Add(ctx, 1, attrs)
	h.logger.Ctx(ctx).Info("Order notification sent",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", data.OrderID.String()),
	)
	return nil
}

func (h *Handler) notify(ctx context.Context, event events.Event) error {
	data := event.OrderData
	if data.UserID == uuid.Nil {
		return fmt.Errorf("event for order %s has no user id", data.OrderID)
	}

	email, err := h.users.Email(ctx, data.UserID)
	if err != nil {
		return fmt.Errorf("could not fetch email for user %s: %w", data.UserID, err)
	}

	subject, body, err := Render(event.EventType, data)
	if err != nil {
		return err
	}
	if err := h.mailer.Send(ctx, email, subject, body); err != nil {
		return fmt.Errorf("failed to email %s: %w", email, err)
	}
	return nil
}

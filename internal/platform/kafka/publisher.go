package kafka

import (
	"context"

	"orderflow/internal/events"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher writes events to the topic of their type, keyed by order id so
// events of one order stay ordered within a partition.
type Publisher struct {
	writer EventWriter
	prefix string
	logger *zap.Logger
}

func NewPublisher(writer EventWriter, prefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		prefix: prefix,
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, event events.Event) bool {
	payload, err := event.Encode()
	if err != nil {
		p.logger.Error("Failed to serialize event", zap.Error(err))
		return false
	}

	orderID := event.OrderData.OrderID.String()
	msg := kafkago.Message{
		Topic: Topic(p.prefix, event.EventType),
		Key:   []byte(orderID),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessage(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return false
	}

	p.logger.Info("Published event",
		zap.String("topic", msg.Topic),
		zap.String("order_id", orderID),
	)
	return true
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

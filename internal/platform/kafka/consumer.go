package kafka

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"orderflow/internal/events"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ConsumerService reads events from the group reader and hands them to the
// handler. Offsets are committed by the reader as messages are read, so a
// message counts as acknowledged once it has been read. A failed handler is
// resolved by the failure policy: ack drops it, requeue writes it back to its
// topic, dead-letter writes it to the dead-letter topic.
type ConsumerService struct {
	reader          EventReader
	writer          EventWriter
	handler         events.Handler
	policy          events.FailurePolicy
	deadLetterTopic string
	logger          *zap.Logger
	running         atomic.Bool
}

// NewConsumerService wires a reader to handler. writer may be nil when the
// policy is ack.
func NewConsumerService(reader EventReader, writer EventWriter, handler events.Handler, policy events.FailurePolicy, deadLetterTopic string, logger *zap.Logger) *ConsumerService {
	return &ConsumerService{
		reader:          reader,
		writer:          writer,
		handler:         handler,
		policy:          policy,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
	}
}

func (c *ConsumerService) Connected() bool {
	return c.running.Load()
}

func (c *ConsumerService) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started. Waiting for messages...")
	c.running.Store(true)
	defer c.running.Store(false)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("Kafka reader closed, exiting read loop.")
				break
			}
			c.logger.Error("Error reading from Kafka", zap.Error(err))
			continue
		}

		msgCtx := extractTraceContext(ctx, msg.Headers)
		if events.Process(msgCtx, msg.Value, c.handler, c.logger) == events.HandlerFailed {
			c.onFailure(msgCtx, *msg)
		}
	}

	c.logger.Info("Consumer service finished. Shutting down...")
	return nil
}

func (c *ConsumerService) onFailure(ctx context.Context, msg kafkago.Message) {
	var topic string
	switch c.policy {
	case events.RequeueOnFailure:
		topic = msg.Topic
	case events.DeadLetterOnFailure:
		topic = c.deadLetterTopic
	default:
		return
	}
	if c.writer == nil || topic == "" {
		c.logger.Error("No writer for failure policy, dropping message", zap.String("policy", string(c.policy)))
		return
	}

	out := kafkago.Message{
		Topic:   topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: msg.Headers,
	}
	if err := c.writer.WriteMessage(ctx, out); err != nil {
		c.logger.Error("Failed to forward message",
			zap.String("topic", topic),
			zap.String("policy", string(c.policy)),
			zap.Error(err),
		)
	}
}

// extractTraceContext restores the producer's span context from the message
// headers.
func extractTraceContext(ctx context.Context, headers []kafkago.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

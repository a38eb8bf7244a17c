// Package kafka is the alternative event broker backend. Each event type is
// published to its own topic and the consumer group subscribes to the topics
// of every supported type.
package kafka

import (
	"time"

	"orderflow/internal/events"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	batchTimeout = 10 * time.Millisecond
	batchSize    = 1
)

// Topic returns the topic an event type is published to.
func Topic(prefix string, t events.Type) string {
	return prefix + "." + string(t)
}

func supportedTopics(prefix string) []string {
	topics := make([]string, 0, len(events.SupportedTypes))
	for _, t := range events.SupportedTypes {
		topics = append(topics, Topic(prefix, t))
	}
	return topics
}

// NewWriter builds a traced writer without a fixed topic; every message
// carries its own.
func NewWriter(broker, clientID string, tp trace.TracerProvider) (EventWriter, error) {
	base := &kafkago.Writer{
		Addr:                   kafkago.TCP(broker),
		Balancer:               &kafkago.LeastBytes{},
		BatchTimeout:           batchTimeout,
		BatchSize:              batchSize,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingSystemKey.String("kafka"),
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// NewGroupReader builds a traced consumer-group reader over the topics of
// every supported event type.
func NewGroupReader(broker, prefix, groupID string, tp trace.TracerProvider) (EventReader, error) {
	base := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     groupID,
		GroupTopics: supportedTopics(prefix),
	})

	reader, err := otelkafka.NewReader(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
	)
	if err != nil {
		return nil, err
	}
	return reader, nil
}

package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// EventWriter sends event messages. The writer has no fixed topic; every
// message names the topic of its event type.
type EventWriter interface {
	WriteMessage(ctx context.Context, msg kafkago.Message) error
	Close() error
}

// EventReader yields messages from the subscribed event topics. Group
// offsets are committed as messages are read.
type EventReader interface {
	ReadMessage(ctx context.Context) (*kafkago.Message, error)
	Close() error
}

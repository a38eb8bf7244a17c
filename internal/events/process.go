package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Outcome is the result of processing one delivered message.
type Outcome int

const (
	// Handled means the handler ran and returned nil.
	Handled Outcome = iota
	// Malformed means the body could not be decoded.
	Malformed
	// Unsupported means the event type is outside SupportedTypes.
	Unsupported
	// HandlerFailed means the handler returned an error.
	HandlerFailed
)

func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Malformed:
		return "malformed"
	case Unsupported:
		return "unsupported"
	case HandlerFailed:
		return "handler_failed"
	default:
		return "unknown"
	}
}

// Process decodes body and runs handler on it. Decode failures and
// unsupported types are logged and never reach the handler. Process never
// panics on bad input and never returns an error; the broker adapter decides
// how to acknowledge based on the outcome.
func Process(ctx context.Context, body []byte, handler Handler, logger *zap.Logger) Outcome {
	event, err := Decode(body)
	if err != nil {
		logger.Error("Failed to parse message", zap.Error(err), zap.ByteString("raw_value", body))
		return Malformed
	}

	logger.Info("Received event",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", event.OrderData.OrderID.String()),
	)

	if !IsSupported(event.EventType) {
		logger.Warn("Unsupported event type", zap.String("event_type", string(event.EventType)))
		return Unsupported
	}

	if err := handler.Handle(ctx, event); err != nil {
		logger.Error("Failed to handle event",
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", event.OrderData.OrderID.String()),
			zap.Error(err),
		)
		return HandlerFailed
	}

	logger.Info("Successfully handled event", zap.String("event_type", string(event.EventType)))
	return Handled
}

// FailurePolicy decides what a consumer does with a message whose handler
// failed. Malformed and unsupported messages are always acknowledged.
type FailurePolicy string

const (
	AckOnFailure        FailurePolicy = "ack"
	RequeueOnFailure    FailurePolicy = "requeue"
	DeadLetterOnFailure FailurePolicy = "dead-letter"
)

func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(s); p {
	case AckOnFailure, RequeueOnFailure, DeadLetterOnFailure:
		return p, nil
	case "":
		return AckOnFailure, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

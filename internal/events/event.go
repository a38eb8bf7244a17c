// Package events defines the order-lifecycle event envelope shared by the
// publishing and consuming services.
package events

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Type string

const (
	OrderPlaced    Type = "order_placed"
	OrderFailed    Type = "order_failed"
	OrderCompleted Type = "order_completed"
)

// SupportedTypes is the set of event types a consumer binds to. Anything
// else is never delivered to the notification queue.
var SupportedTypes = []Type{OrderPlaced, OrderFailed, OrderCompleted}

func IsSupported(t Type) bool {
	return slices.Contains(SupportedTypes, t)
}

// Event is the wire envelope published on the order exchange.
type Event struct {
	EventType Type      `json:"event_type"`
	OrderData OrderData `json:"order_data"`
}

// OrderData is a snapshot of the order at emission time. TotalAmount is
// encoded as a decimal string.
type OrderData struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

func NewEvent(t Type, orderID, userID uuid.UUID, status string, total decimal.Decimal) Event {
	return Event{
		EventType: t,
		OrderData: OrderData{
			OrderID:     orderID,
			UserID:      userID,
			Status:      status,
			TotalAmount: total.Round(2),
		},
	}
}

func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.EventType, err)
	}
	return body, nil
}

// Decode parses an envelope. It does not check the event type; callers use
// IsSupported for that.
func Decode(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if e.EventType == "" {
		return Event{}, fmt.Errorf("failed to decode event: missing event_type")
	}
	return e, nil
}

package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a status an order may be moved to.
func (s Status) Valid() bool {
	return s == StatusCompleted || s == StatusFailed
}

const RoleAdmin = "admin"

// Order is a persisted order. TotalAmount and item prices are fixed at
// creation time.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []Item          `json:"items"`
}

type Item struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	PricePerItem decimal.Decimal `json:"price_per_item"`
}

type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CreateInput is a create-order request. PaymentSucceeds is the caller's
// payment-outcome hint and selects the payment endpoint.
type CreateInput struct {
	UserID          uuid.UUID
	Items           []ItemRequest
	PaymentSucceeds bool
}

// Caller is the authenticated principal behind a request.
type Caller struct {
	UserID uuid.UUID
	Role   string
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Product is the part of a catalog entry the saga needs.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// PaymentRecord is what the payment service returns for an authorization.
type PaymentRecord struct {
	ID      uuid.UUID       `json:"id"`
	OrderID uuid.UUID       `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
	Status  string          `json:"status"`
}

// ListFilter selects a page of orders. A nil UserID means every owner.
type ListFilter struct {
	UserID *uuid.UUID
	Skip   int
	Limit  int
}

package order

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"orderflow/internal/platform/dependency"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductCatalog looks products up in the inventory service.
type ProductCatalog interface {
	Product(ctx context.Context, id string) (*Product, error)
}

// PaymentGateway records payment attempts with the payment service.
type PaymentGateway interface {
	Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (*PaymentRecord, error)
	RecordFailure(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (*PaymentRecord, error)
}

type CatalogClient struct {
	client *dependency.Client
}

func NewCatalogClient(client *dependency.Client) *CatalogClient {
	return &CatalogClient{client: client}
}

// Product returns the catalog entry for id. Errors are *dependency.Error
// values, except for an undecodable body.
func (c *CatalogClient) Product(ctx context.Context, id string) (*Product, error) {
	resp, err := c.client.Do(ctx, dependency.Request{
		Method: http.MethodGet,
		Path:   "/products/" + url.PathEscape(id),
	})
	if err != nil {
		return nil, err
	}

	var p Product
	if err := resp.DecodeJSON(&p); err != nil {
		return nil, fmt.Errorf("invalid product %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return &p, nil
}

type PaymentClient struct {
	client *dependency.Client
	logger *zap.Logger
}

// NewPaymentClient expects client to carry the service API key header.
func NewPaymentClient(client *dependency.Client, logger *zap.Logger) *PaymentClient {
	return &PaymentClient{client: client, logger: logger}
}

type paymentRequest struct {
	OrderID uuid.UUID       `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

func (p *PaymentClient) Authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (*PaymentRecord, error) {
	return p.post(ctx, "/success", orderID, amount)
}

func (p *PaymentClient) RecordFailure(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal) (*PaymentRecord, error) {
	return p.post(ctx, "/failed", orderID, amount)
}

// post sends one payment call. A 2xx answer is accepted even if its body
// cannot be decoded, since the payment has already been recorded.
func (p *PaymentClient) post(ctx context.Context, path string, orderID uuid.UUID, amount decimal.Decimal) (*PaymentRecord, error) {
	resp, err := p.client.Do(ctx, dependency.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   paymentRequest{OrderID: orderID, Amount: amount},
	})
	if err != nil {
		return nil, err
	}

	var record PaymentRecord
	if err := resp.DecodeJSON(&record); err != nil {
		p.logger.Warn("Payment service returned an unreadable record",
			zap.String("order_id", orderID.String()),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, nil
	}
	return &record, nil
}

// Package order implements the order saga: stock verification, payment
// authorization, local persistence and event emission, plus the status
// update and read flows.
package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"orderflow/internal/events"
	"orderflow/internal/platform/dependency"
	"orderflow/internal/platform/observability"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	// MaxProductIDLength and MaxOrderTotal mirror the order_items.product_id
	// and orders.total_amount column widths.
	MaxProductIDLength = 64

	defaultVerifyConcurrency = 8
)

var MaxOrderTotal = decimal.RequireFromString("99999999.99")

// ServiceOption customizes a Service at construction.
type ServiceOption func(*Service)

// WithClock replaces the clock used for created_at and updated_at.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator replaces uuid.New for order and item ids.
func WithIDGenerator(newID func() uuid.UUID) ServiceOption {
	return func(s *Service) {
		s.newID = newID
	}
}

// WithVerifyConcurrency bounds how many product lookups run at once.
func WithVerifyConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.verifyConcurrency = n
		}
	}
}

func WithTracer(tracer observability.Tracer) ServiceOption {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func WithMeter(meter metric.Meter) ServiceOption {
	return func(s *Service) {
		s.meter = meter
	}
}

// Service orchestrates order creation and status changes.
type Service struct {
	repo      Repository
	catalog   ProductCatalog
	payments  PaymentGateway
	publisher events.Publisher
	logger    *zap.Logger
	tracer    observability.Tracer
	meter     metric.Meter

	now               func() time.Time
	newID             func() uuid.UUID
	verifyConcurrency int

	ordersCreated   metric.Int64Counter
	paymentsFailed  metric.Int64Counter
	eventsPublished metric.Int64Counter
	publishFailures metric.Int64Counter
}

// NewService creates an order service with explicit dependencies and registers
// its counters on the configured meter.
func NewService(repo Repository, catalog ProductCatalog, payments PaymentGateway, publisher events.Publisher, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		repo:              repo,
		catalog:           catalog,
		payments:          payments,
		publisher:         publisher,
		logger:            logger,
		tracer:            otel.Tracer("orderflow/order"),
		meter:             otel.Meter("orderflow/order"),
		now:               func() time.Time { return time.Now().UTC() },
		newID:             uuid.New,
		verifyConcurrency: defaultVerifyConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.ordersCreated, err = s.meter.Int64Counter("orders.created"); err != nil {
		return nil, fmt.Errorf("failed to create orders.created counter: %w", err)
	}
	if s.paymentsFailed, err = s.meter.Int64Counter("orders.payment_failed"); err != nil {
		return nil, fmt.Errorf("failed to create orders.payment_failed counter: %w", err)
	}
	if s.eventsPublished, err = s.meter.Int64Counter("events.published"); err != nil {
		return nil, fmt.Errorf("failed to create events.published counter: %w", err)
	}
	if s.publishFailures, err = s.meter.Int64Counter("events.publish_failed"); err != nil {
		return nil, fmt.Errorf("failed to create events.publish_failed counter: %w", err)
	}
	return s, nil
}

// CreateOrder runs the saga. Nothing is persisted unless payment succeeded,
// and payment is attempted at most once. From the payment step on the flow
// ignores cancellation of ctx.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "create_order")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", in.UserID.String()),
		attribute.Int("order.item_count", len(in.Items)),
	)

	if err := checkItems(in.Items); err != nil {
		span.SetStatus(codes.Error, "invalid items")
		return nil, err
	}

	products, err := s.verify(ctx, in.Items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "product validation failed")
		return nil, err
	}

	total := priceItems(in.Items, products)
	if total.GreaterThan(MaxOrderTotal) {
		span.SetStatus(codes.Error, "order total too large")
		return nil, &ValidationError{Items: []ItemError{{
			Message: fmt.Sprintf("Order total %s exceeds the maximum of %s", total.StringFixed(2), MaxOrderTotal.StringFixed(2)),
		}}}
	}
	orderID := s.newID()
	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.total_amount", total.StringFixed(2)),
	)

	ctx = context.WithoutCancel(ctx)

	if err := s.authorize(ctx, orderID, total, in.PaymentSucceeds); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment not authorized")
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:          orderID,
		UserID:      in.UserID,
		Status:      StatusPending,
		TotalAmount: total,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       make([]Item, len(in.Items)),
	}
	for i, item := range in.Items {
		o.Items[i] = Item{
			ID:           s.newID(),
			OrderID:      orderID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			PricePerItem: products[i].Price.Round(2),
		}
	}

	if err := s.repo.Create(ctx, o); err != nil {
		s.logger.Error("Failed to persist order after successful payment",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, fmt.Errorf("failed to persist order %s: %w", orderID, err)
	}

	s.ordersCreated.Add(ctx, 1)
	s.logger.Info("Order created",
		zap.String("order_id", orderID.String()),
		zap.String("user_id", in.UserID.String()),
		zap.String("total_amount", total.StringFixed(2)),
	)

	s.publish(ctx, events.OrderPlaced, o)
	span.SetStatus(codes.Ok, "order created")
	return o, nil
}

// checkItems rejects requests the order store could not hold, before any
// dependency is contacted.
func checkItems(items []ItemRequest) error {
	if len(items) == 0 {
		return &ValidationError{Items: []ItemError{{Message: "At least one item is required"}}}
	}

	var verr ValidationError
	for _, item := range items {
		switch {
		case item.ProductID == "":
			verr.Items = append(verr.Items, ItemError{Message: "Product ID is required"})
		case len(item.ProductID) > MaxProductIDLength:
			verr.Items = append(verr.Items, ItemError{
				ProductID: item.ProductID,
				Message:   fmt.Sprintf("Product ID must be at most %d characters", MaxProductIDLength),
			})
		}
		if item.Quantity <= 0 {
			verr.Items = append(verr.Items, ItemError{
				ProductID: item.ProductID,
				Message:   fmt.Sprintf("Quantity for product %s must be greater than 0", item.ProductID),
			})
		}
	}
	if len(verr.Items) > 0 {
		return &verr
	}
	return nil
}

// verify looks every item up and checks its stock. All items are evaluated
// before deciding; the returned error lists every offending item in request
// order.
//
// The first lookup runs on its own. A half-open product breaker admits a
// single trial call, and fanning out before that trial has settled would
// reject the remaining lookups with ErrOpen.
func (s *Service) verify(ctx context.Context, items []ItemRequest) ([]*Product, error) {
	ctx, span := s.tracer.Start(ctx, "verify_products")
	defer span.End()

	products := make([]*Product, len(items))
	failures := make([]*ItemError, len(items))

	products[0], failures[0] = s.verifyItem(ctx, items[0])

	var g errgroup.Group
	g.SetLimit(s.verifyConcurrency)
	for i := 1; i < len(items); i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			products[i], failures[i] = s.verifyItem(ctx, items[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("product verification aborted: %w", err)
	}

	var verr ValidationError
	for _, f := range failures {
		if f != nil {
			verr.Items = append(verr.Items, *f)
		}
	}
	if len(verr.Items) > 0 {
		span.SetAttributes(attribute.Int("verify.failed_items", len(verr.Items)))
		s.logger.Warn("Product validation failed", zap.Strings("errors", verr.Messages()))
		return nil, &verr
	}
	return products, nil
}

// verifyItem fetches one product and checks it has enough stock.
func (s *Service) verifyItem(ctx context.Context, item ItemRequest) (*Product, *ItemError) {
	id := item.ProductID
	p, err := s.catalog.Product(ctx, id)
	if err != nil {
		return nil, productLookupError(id, err)
	}
	if p.Stock < item.Quantity {
		return nil, &ItemError{
			ProductID: id,
			Message:   fmt.Sprintf("Product %s has insufficient stock. Available: %d, Requested: %d", p.Name, p.Stock, item.Quantity),
		}
	}
	return p, nil
}

// productLookupError turns a catalog failure into the item error reported to
// the caller.
func productLookupError(id string, err error) *ItemError {
	switch status := dependency.StatusCode(err); {
	case status == http.StatusNotFound:
		return &ItemError{ProductID: id, Message: fmt.Sprintf("Product with ID %s not found", id)}
	case status != 0:
		return &ItemError{ProductID: id, Message: fmt.Sprintf("Error fetching product %s: HTTP %d", id, status)}
	case dependency.IsTimeout(err):
		return &ItemError{ProductID: id, Message: fmt.Sprintf("Timeout while fetching product %s", id), Unavailable: true}
	case dependency.IsUnavailable(err):
		return &ItemError{ProductID: id, Message: "Cannot connect to product service", Unavailable: true}
	default:
		return &ItemError{ProductID: id, Message: fmt.Sprintf("Error fetching product %s: %v", id, err)}
	}
}

// priceItems sums price × quantity in decimal arithmetic and rounds to cents.
func priceItems(items []ItemRequest, products []*Product) decimal.Decimal {
	total := decimal.Zero
	for i, item := range items {
		total = total.Add(products[i].Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2)
}

// authorize makes exactly one payment call. With a negative hint the attempt
// is recorded and the order is rejected whatever the payment service answers.
func (s *Service) authorize(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, succeed bool) error {
	ctx, span := s.tracer.Start(ctx, "authorize_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.Bool("payment.expected_success", succeed),
	)

	if !succeed {
		if _, err := s.payments.RecordFailure(ctx, orderID, amount); err != nil {
			s.logger.Error("Failed to record failed payment",
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)
		} else {
			s.logger.Info("Recorded failed payment", zap.String("order_id", orderID.String()))
		}
		s.paymentsFailed.Add(ctx, 1)
		return ErrPaymentFailed
	}

	if _, err := s.payments.Authorize(ctx, orderID, amount); err != nil {
		s.logger.Error("Payment authorization failed",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		if dependency.IsUnavailable(err) {
			return fmt.Errorf("%w: payment service: %w", ErrDependencyUnavailable, err)
		}
		return fmt.Errorf("%w: %w", ErrPaymentGateway, err)
	}
	return nil
}

// UpdateStatus moves an order to completed or failed and publishes the
// matching event. Only administrators may call it.
func (s *Service) UpdateStatus(ctx context.Context, caller Caller, id uuid.UUID, status Status) (*Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}

	ctx, span := s.tracer.Start(ctx, "update_order_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", id.String()),
		attribute.String("order.status", string(status)),
	)

	o, err := s.repo.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
		}
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.String("order_id", id.String()),
		zap.String("status", string(status)),
	)

	eventType := events.OrderFailed
	if status == StatusCompleted {
		eventType = events.OrderCompleted
	}
	s.publish(ctx, eventType, o)
	return o, nil
}

// ListOrders returns a page of orders visible to caller, newest first.
// Limits outside 1..MaxPageSize are clamped.
func (s *Service) ListOrders(ctx context.Context, caller Caller, skip, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if skip < 0 {
		skip = 0
	}

	filter := ListFilter{Skip: skip, Limit: limit}
	if !caller.IsAdmin() {
		userID := caller.UserID
		filter.UserID = &userID
	}
	return s.repo.List(ctx, filter)
}

// GetOrder returns one order. Non-admin callers only see their own.
func (s *Service) GetOrder(ctx context.Context, caller Caller, id uuid.UUID) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsAdmin() && o.UserID != caller.UserID {
		return nil, ErrForbidden
	}
	return o, nil
}

// publish is best effort; a failure is logged and counted only.
func (s *Service) publish(ctx context.Context, t events.Type, o *Order) {
	event := events.NewEvent(t, o.ID, o.UserID, string(o.Status), o.TotalAmount)
	attrs := metric.WithAttributes(attribute.String("event.type", string(t)))

	if !s.publisher.Publish(ctx, event) {
		s.publishFailures.Add(ctx, 1, attrs)
		s.logger.Warn("Failed to publish event, order is kept",
			zap.String("event_type", string(t)),
			zap.String("order_id", o.ID.String()),
		)
		return
	}
	s.eventsPublished.Add(ctx, 1, attrs)
}

package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"orderflow/internal/events"
	"orderflow/internal/platform/breaker"
	"orderflow/internal/platform/database"
	"orderflow/internal/platform/dependency"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	fail   bool
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return false
	}
	p.events = append(p.events, event)
	return true
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

func (p *recordingPublisher) OfType(t events.Type) []events.Event {
	var out []events.Event
	for _, e := range p.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type paymentCall struct {
	Path    string
	APIKey  string
	OrderID string          `json:"order_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// fakePayments is an httptest payment service that records every call.
type fakePayments struct {
	mu     sync.Mutex
	calls  []paymentCall
	status int
	// during runs inside the handler before it answers.
	during func()
}

func (f *fakePayments) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call paymentCall
	_ = json.NewDecoder(r.Body).Decode(&call)
	call.Path = r.URL.Path
	call.APIKey = r.Header.Get("X-Service-API-Key")

	f.mu.Lock()
	f.calls = append(f.calls, call)
	status, during := f.status, f.during
	f.mu.Unlock()

	if during != nil {
		during()
	}
	if status == 0 {
		status = http.StatusCreated
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":       "7d0f6a43-5d2f-4a4e-9d7f-1f3c2a9b8e11",
		"order_id": call.OrderID,
		"amount":   call.Amount,
		"status":   "success",
	})
}

func (f *fakePayments) Respond(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakePayments) During(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.during = fn
}

func (f *fakePayments) Calls() []paymentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]paymentCall(nil), f.calls...)
}

type fixture struct {
	repo      *SQLRepository
	publisher *recordingPublisher
	payments  *fakePayments
	registry  *breaker.Registry
	service   *Service

	catalogURL string
	paymentURL string
}

// catalogHandler serves products by id and answers 404 for anything else.
func catalogHandler(products map[string]Product) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/products/")
		p, ok := products[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Product not found"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p)
	}
}

func defaultProducts() map[string]Product {
	return map[string]Product{
		"p1": {ID: "p1", Name: "Laptop", Price: decimal.RequireFromString("99.99"), Stock: 10},
		"p2": {ID: "p2", Name: "Mouse", Price: decimal.RequireFromString("49.99"), Stock: 5},
	}
}

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DriverSQLite))
	return NewSQLRepository(db)
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	catalog     http.Handler
	catalogDown bool
	paymentDown bool
	breakers    []breaker.Option
}

func withCatalog(h http.Handler) fixtureOption {
	return func(c *fixtureConfig) { c.catalog = h }
}

func withCatalogDown() fixtureOption {
	return func(c *fixtureConfig) { c.catalogDown = true }
}

func withPaymentDown() fixtureOption {
	return func(c *fixtureConfig) { c.paymentDown = true }
}

func withBreakers(opts ...breaker.Option) fixtureOption {
	return func(c *fixtureConfig) { c.breakers = opts }
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{catalog: catalogHandler(defaultProducts())}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zaptest.NewLogger(t)
	f := &fixture{
		repo:      newTestRepository(t),
		publisher: &recordingPublisher{},
		payments:  &fakePayments{},
		registry:  breaker.NewRegistry(cfg.breakers...),
	}

	catalogSrv := httptest.NewServer(cfg.catalog)
	paymentSrv := httptest.NewServer(f.payments)
	f.catalogURL, f.paymentURL = catalogSrv.URL, paymentSrv.URL
	if cfg.catalogDown {
		catalogSrv.Close()
	} else {
		t.Cleanup(catalogSrv.Close)
	}
	if cfg.paymentDown {
		paymentSrv.Close()
	} else {
		t.Cleanup(paymentSrv.Close)
	}

	catalog := NewCatalogClient(dependency.New("product_service", f.catalogURL, f.registry.Get("product_service"),
		dependency.WithHTTPClient(catalogSrv.Client()),
	))
	payments := NewPaymentClient(dependency.New("payment_service", f.paymentURL, f.registry.Get("payment_service"),
		dependency.WithHTTPClient(paymentSrv.Client()),
		dependency.WithStaticHeader("X-Service-API-Key", "test-key"),
		dependency.WithFailureStatus(dependency.NonSuccess),
	), logger)

	svc, err := NewService(f.repo, catalog, payments, f.publisher, logger)
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *fixture) countOrders(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.repo.db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n))
	return n
}

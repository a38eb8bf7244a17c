package order

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"orderflow/internal/platform/httpserver"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// staticIdentity resolves tokens from a fixed table.
type staticIdentity map[string]Caller

func (s staticIdentity) Resolve(_ context.Context, token string) (Caller, error) {
	c, ok := s[token]
	if !ok {
		return Caller{}, ErrUnauthenticated
	}
	return c, nil
}

type handlerFixture struct {
	*fixture
	server *httptest.Server
	userID uuid.UUID
	token  string
}

func newHandlerFixture(t *testing.T, fixtureOpts []fixtureOption, opts ...HandlerOption) *handlerFixture {
	t.Helper()
	f := newFixture(t, fixtureOpts...)
	userID := uuid.New()

	identity := staticIdentity{
		"user-token":  {UserID: userID, Role: "user"},
		"admin-token": {UserID: uuid.New(), Role: RoleAdmin},
	}
	h := NewHandler(f.service, NewTokenVerifier(testSecret), identity, f.registry, zaptest.NewLogger(t), opts...)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &handlerFixture{
		fixture: f,
		server:  srv,
		userID:  userID,
		token: signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
			"sub": userID.String(),
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
	}
}

func (h *handlerFixture) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHandlerServiceInfo(t *testing.T) {
	h := newHandlerFixture(t, nil)

	resp, body := h.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "order-service", body["service"])

	resp, body = h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestHandlerCreateOrder(t *testing.T) {
	h := newHandlerFixture(t, nil)

	resp, body := h.do(t, http.MethodPost, "/orders", h.token,
		`{"items":[{"product_id":"p1","quantity":1},{"product_id":"p2","quantity":2}],"success":true}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "199.97", body["total_amount"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, h.userID.String(), body["user_id"])
	assert.Len(t, body["items"], 2)
	assert.Len(t, h.publisher.Events(), 1)
}

func TestHandlerCreateOrderDefaultsToSuccessfulPayment(t *testing.T) {
	h := newHandlerFixture(t, nil)

	resp, _ := h.do(t, http.MethodPost, "/orders", h.token, `{"items":[{"product_id":"p1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, h.payments.Calls(), 1)
	assert.Equal(t, "/success", h.payments.Calls()[0].Path)
}

func TestHandlerCreateOrderErrors(t *testing.T) {
	tests := []struct {
		name       string
		opts       []fixtureOption
		noToken    bool
		token      string
		body       string
		wantStatus int
	}{
		{name: "no token", noToken: true, body: `{"items":[{"product_id":"p1","quantity":1}]}`, wantStatus: http.StatusUnauthorized},
		{name: "bad token", token: "nope", body: `{"items":[{"product_id":"p1","quantity":1}]}`, wantStatus: http.StatusUnauthorized},
		{name: "empty items", body: `{"items":[]}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "zero quantity", body: `{"items":[{"product_id":"p1","quantity":0}]}`, wantStatus: http.StatusUnprocessableEntity},
		{name: "not json", body: `{"items":`, wantStatus: http.StatusUnprocessableEntity},
		{name: "unknown product", body: `{"items":[{"product_id":"zzz","quantity":1}]}`, wantStatus: http.StatusBadRequest},
		{name: "declined payment", body: `{"items":[{"product_id":"p1","quantity":1}],"success":false}`, wantStatus: http.StatusPaymentRequired},
		{
			name:       "catalog down",
			opts:       []fixtureOption{withCatalogDown()},
			body:       `{"items":[{"product_id":"p1","quantity":1}]}`,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "payment down",
			opts:       []fixtureOption{withPaymentDown()},
			body:       `{"items":[{"product_id":"p1","quantity":1}]}`,
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandlerFixture(t, tt.opts)
			token := h.token
			if tt.token != "" {
				token = tt.token
			}
			if tt.noToken {
				token = ""
			}

			resp, body := h.do(t, http.MethodPost, "/orders", token, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body, "detail")
			assert.Equal(t, 0, h.countOrders(t))
		})
	}
}

func TestHandlerValidationErrorBody(t *testing.T) {
	h := newHandlerFixture(t, nil)

	resp, body := h.do(t, http.MethodPost, "/orders", h.token,
		`{"items":[{"product_id":"zzz","quantity":1},{"product_id":"p2","quantity":50}]}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail, ok := body["detail"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Product validation failed", detail["message"])
	assert.Equal(t, []any{
		"Product with ID zzz not found",
		"Product Mouse has insufficient stock. Available: 5, Requested: 50",
	}, detail["errors"])
}

func TestHandlerPaymentGatewayError(t *testing.T) {
	h := newHandlerFixture(t, nil)
	h.payments.Respond(http.StatusInternalServerError)

	resp, _ := h.do(t, http.MethodPost, "/orders", h.token, `{"items":[{"product_id":"p1","quantity":1}]}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandlerReadOrders(t *testing.T) {
	h := newHandlerFixture(t, nil)
	mine := seedOrder(t, h.repo, h.userID, time.Now().UTC())
	theirs := seedOrder(t, h.repo, uuid.New(), time.Now().UTC())

	resp, _ := h.do(t, http.MethodGet, "/orders", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	resp, body := h.do(t, http.MethodGet, "/orders/"+mine.ID.String(), "user-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, mine.ID.String(), body["id"])

	resp, _ = h.do(t, http.MethodGet, "/orders/"+theirs.ID.String(), "user-token", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/orders/"+uuid.NewString(), "admin-token", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/orders/not-a-uuid", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid order ID format", body["detail"])

	resp, body = h.do(t, http.MethodGet, "/orders?limit=abc", "user-token", "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "detail")
}

func TestHandlerListOrders(t *testing.T) {
	h := newHandlerFixture(t, nil)
	seedOrder(t, h.repo, h.userID, time.Now().UTC())
	seedOrder(t, h.repo, uuid.New(), time.Now().UTC())

	list := func(token string) []map[string]any {
		req, err := http.NewRequest(http.MethodGet, h.server.URL+"/orders?skip=0&limit=50", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := h.server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out []map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Len(t, list("user-token"), 1)
	assert.Len(t, list("admin-token"), 2)
}

func TestHandlerUpdateOrder(t *testing.T) {
	h := newHandlerFixture(t, nil)
	o := seedOrder(t, h.repo, h.userID, time.Now().UTC())
	path := "/orders/" + o.ID.String()

	resp, _ := h.do(t, http.MethodPut, path, "user-token", `{"status":"completed"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, path, "admin-token", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPut, path, "admin-token", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Empty(t, h.publisher.Events())

	resp, body := h.do(t, http.MethodPut, path, "admin-token", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Len(t, h.publisher.Events(), 1)

	resp, _ = h.do(t, http.MethodPut, "/orders/"+uuid.NewString(), "admin-token", `{"status":"failed"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerCircuitBreakers(t *testing.T) {
	h := newHandlerFixture(t, nil)
	resp, _ := h.do(t, http.MethodPost, "/orders", h.token, `{"items":[{"product_id":"p1","quantity":1}]}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := h.do(t, http.MethodGet, "/health/circuit-breakers", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "product_service")
	require.Contains(t, body, "payment_service")

	product, ok := body["product_service"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "closed", product["state"])
}

func TestHandlerRateLimit(t *testing.T) {
	h := newHandlerFixture(t, nil, WithRateLimiter(httpserver.NewRateLimiter(0.001, 1)))

	resp, _ := h.do(t, http.MethodGet, "/orders", "user-token", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/orders", "user-token", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp, _ = h.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health checks are not limited")
}

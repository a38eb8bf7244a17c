package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"orderflow/internal/config"
	"orderflow/internal/platform/breaker"
	"orderflow/internal/platform/httpserver"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

var (
	createOrderSchema = httpserver.MustSchema(`{
		"type": "object",
		"required": ["items"],
		"properties": {
			"items": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["product_id", "quantity"],
					"properties": {
						"product_id": {"type": "string", "minLength": 1},
						"quantity": {"type": "integer", "minimum": 1}
					}
				}
			},
			"success": {"type": "boolean"}
		}
	}`)

	updateOrderSchema = httpserver.MustSchema(`{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string", "enum": ["completed", "failed"]}
		}
	}`)
)

// CallerResolver turns a bearer token into the caller's identity.
type CallerResolver interface {
	Resolve(ctx context.Context, token string) (Caller, error)
}

type HandlerOption func(*Handler)

func WithRateLimiter(l *httpserver.RateLimiter) HandlerOption {
	return func(h *Handler) {
		h.limiter = l
	}
}

// Handler exposes the order service over HTTP.
type Handler struct {
	service  *Service
	tokens   *TokenVerifier
	identity CallerResolver
	breakers *breaker.Registry
	limiter  *httpserver.RateLimiter
	logger   *zap.Logger
}

func NewHandler(service *Service, tokens *TokenVerifier, identity CallerResolver, breakers *breaker.Registry, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:  service,
		tokens:   tokens,
		identity: identity,
		breakers: breakers,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, map[string]string{"service": config.OrderServiceName})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Get("/health/circuit-breakers", httpserver.CircuitBreakers(h.breakers))

	r.Route("/orders", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}
		r.Post("/", h.route("/orders", h.createOrder))
		r.Get("/", h.route("/orders", h.listOrders))
		r.Get("/{orderID}", h.route("/orders/{orderID}", h.getOrder))
		r.Put("/{orderID}", h.route("/orders/{orderID}", h.updateOrder))
	})
	return r
}

func (h *Handler) route(pattern string, fn http.HandlerFunc) http.HandlerFunc {
	return otelhttp.WithRouteTag(pattern, fn).ServeHTTP
}

type createOrderRequest struct {
	Items   []ItemRequest `json:"items"`
	Success *bool         `json:"success"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, r, ErrUnauthenticated)
		return
	}
	userID, err := h.tokens.Verify(token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body, ok := h.readBody(w, r, createOrderSchema)
	if !ok {
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, []string{err.Error()})
		return
	}

	paymentSucceeds := true
	if req.Success != nil {
		paymentSucceeds = *req.Success
	}

	o, err := h.service.CreateOrder(r.Context(), CreateInput{
		UserID:          userID,
		Items:           req.Items,
		PaymentSucceeds: paymentSucceeds,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, o)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	skip, err := queryInt(r, "skip", 0)
	if err != nil {
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", DefaultPageSize)
	if err != nil {
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	orders, err := h.service.ListOrders(r.Context(), caller, skip, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpserver.WriteJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, o)
}

type updateOrderRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	body, ok := h.readBody(w, r, updateOrderSchema)
	if !ok {
		return
	}
	var req updateOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, []string{err.Error()})
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), caller, id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, o)
}

// caller resolves the bearer token through the identity service and writes
// the error response itself when that fails.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	token, ok := bearerToken(r)
	if !ok {
		h.writeError(w, r, ErrUnauthenticated)
		return Caller{}, false
	}
	caller, err := h.identity.Resolve(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return Caller{}, false
	}
	return caller, true
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, schema *httpserver.Schema) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		httpserver.WriteDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return nil, false
	}
	if violations := schema.Validate(body); violations != nil {
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, violations)
		return nil, false
	}
	return body, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Unavailable() {
			status = http.StatusServiceUnavailable
		}
		httpserver.WriteDetail(w, status, map[string]any{
			"message": "Product validation failed",
			"errors":  verr.Messages(),
		})
	case errors.Is(err, ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpserver.WriteDetail(w, http.StatusUnauthorized, "Invalid authentication credentials")
	case errors.Is(err, ErrForbidden):
		httpserver.WriteDetail(w, http.StatusForbidden, "You do not have permission to access this order")
	case errors.Is(err, ErrNotFound):
		httpserver.WriteDetail(w, http.StatusNotFound, fmt.Sprintf("Order with ID %s not found", chi.URLParam(r, "orderID")))
	case errors.Is(err, ErrInvalidStatus):
		httpserver.WriteDetail(w, http.StatusUnprocessableEntity, "Status must be one of: completed, failed")
	case errors.Is(err, ErrPaymentFailed):
		httpserver.WriteDetail(w, http.StatusPaymentRequired, "Payment failed: the payment was not authorized")
	case errors.Is(err, ErrPaymentGateway):
		httpserver.WriteDetail(w, http.StatusBadGateway, "Payment service returned an error")
	case errors.Is(err, ErrDependencyUnavailable):
		httpserver.WriteDetail(w, http.StatusServiceUnavailable, "Service unavailable, please try again later")
	default:
		h.logger.Error("Unhandled request error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpserver.WriteDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		httpserver.WriteDetail(w, http.StatusBadRequest, "Invalid order ID format")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

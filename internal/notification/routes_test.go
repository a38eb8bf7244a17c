package notification

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"orderflow/internal/platform/breaker"

	"github.com/stretchr/testify/assert"
)

func TestRoutes(t *testing.T) {
	registry := breaker.NewRegistry()
	registry.Get("user_service")
	var connected atomic.Bool
	routes := Routes(registry, connected.Load)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"service": "notification-service",
		"status": "running",
		"supported_events": ["order_placed", "order_failed", "order_completed"]
	}`, rec.Body.String())

	assert.JSONEq(t, `{"status":"healthy","broker_connected":false}`, get("/health").Body.String())
	connected.Store(true)
	assert.JSONEq(t, `{"status":"healthy","broker_connected":true}`, get("/health").Body.String())

	rec = get("/health/circuit-breakers")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_service"`)
}

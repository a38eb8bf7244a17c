package httpserver

import (
	"net/http"

	"orderflow/internal/platform/breaker"
)

// CircuitBreakers serves a read-only snapshot of every breaker in registry
// keyed by dependency name.
func CircuitBreakers(registry *breaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, registry.Snapshots())
	}
}

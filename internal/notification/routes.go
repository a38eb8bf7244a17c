package notification

import (
	"net/http"

	"orderflow/internal/config"
	"orderflow/internal/events"
	"orderflow/internal/platform/breaker"
	"orderflow/internal/platform/httpserver"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes serves the notification service's status endpoints. connected
// reports whether the event consumer holds a live broker subscription.
func Routes(breakers *breaker.Registry, connected func() bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"service":          config.NotificationServiceName,
			"status":           "running",
			"supported_events": events.SupportedTypes,
		})
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, map[string]any{
			"status":           "healthy",
			"broker_connected": connected(),
		})
	})
	r.Get("/health/circuit-breakers", httpserver.CircuitBreakers(breakers))
	return r
}

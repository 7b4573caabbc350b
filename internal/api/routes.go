package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. A nil
// metricsHandler leaves /metrics unmounted.
func NewRouter(h *Handler, metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Public so connectivity probes need no credentials
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))
			r.Get("/snapshot", h.Snapshot)

			r.Route("/tables/{table}/records", func(r chi.Router) {
				r.Use(RequireUser)
				r.Get("/", h.ListRecords)
				r.Put("/{id}", h.PutRecord)
				r.Delete("/{id}", h.DeleteRecord)
			})
		})
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring endpoints
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/brokers", func(r chi.Router) {
				r.Get("/", s.handleListBrokers)

				r.Route("/{role}", func(r chi.Router) {
					r.Get("/", s.handleGetBroker)
					r.Get("/events", s.handleBrokerEvents)
					r.Get("/attempts", s.handleBrokerAttempts)
				})
			})

			r.Route("/cache", func(r chi.Router) {
				r.Get("/topics", s.handleCacheTopics)
				r.Get("/values/*", s.handleCacheValue)
			})

			r.Get("/relay", s.handleRelayStats)

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

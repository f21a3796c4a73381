package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Command batches. /execute is the path existing clients post to.
	r.Post("/execute", s.handleExecute)

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)

		r.Get("/health", s.handleHealth)
		r.Get("/modules", s.handleListModules)
		r.Get("/status", s.handleStatus)

		// Routes below require the api_key in X-API-Key.
		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)
			r.Get("/history", s.handleListHistory)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

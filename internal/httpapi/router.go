package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires the negotiation API. limiter may be nil.
func NewRouter(s *Server, limiter *RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, Recovery)

	r.Get("/health", healthHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimit(limiter))

		r.Route("/negotiations", func(r chi.Router) {
			r.Post("/", s.handleInitiate)
			r.Get("/", s.handleListNegotiations)
			r.Get("/{id}", s.handleGetNegotiation)
			r.Post("/{id}/counter", s.handleCounter)
			r.Post("/{id}/accept", s.handleAccept)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/license", s.handleGenerateLicense)
		})

		r.Get("/publishers/{publisherID}/strategies", s.handleListStrategies)
		r.Post("/publishers/{publisherID}/strategies", s.handleCreateStrategy)

		r.Route("/strategies/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetStrategy)
			r.Put("/", s.handleUpdateStrategy)
			r.Delete("/", s.handleDeleteStrategy)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

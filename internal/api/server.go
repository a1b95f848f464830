// Package api assembles the HTTP router for the reconciliation service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rukunkita/ipl-recon/internal/api/handlers"
	"github.com/rukunkita/ipl-recon/internal/api/middleware"
)

// NewRouter builds the full route tree with shared middleware.
func NewRouter(h *handlers.Handler, allowedOrigins []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/mutations", func(r chi.Router) {
			r.Get("/", h.ListMutations)
			r.Post("/upload", h.Upload)
			r.Get("/stats", h.Stats)
			r.Post("/auto-verify", h.AutoVerify)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetMutation)
				r.Post("/verify", h.Verify)
				r.Post("/omit", h.Omit)
				r.Post("/restore", h.Restore)
				r.Post("/match", h.Match)
			})
		})
	})

	return r
}

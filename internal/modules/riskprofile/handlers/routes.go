package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers risk-profile routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk-profile", func(r chi.Router) {
		r.Post("/score", h.HandleScore)
	})
}

// RegisterLegacyRoutes registers the root-level endpoint existing callers use.
func (h *Handler) RegisterLegacyRoutes(r chi.Router) {
	r.Post("/generate_riskscore", h.HandleScore)
}

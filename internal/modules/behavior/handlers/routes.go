package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all behavior routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/behavior", func(r chi.Router) {
		r.Post("/classify", h.HandleClassify)
		r.Get("/model", h.HandleGetModel)
	})
}

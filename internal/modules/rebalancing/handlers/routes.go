package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all rebalancing routes under /api
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/rebalancing", func(r chi.Router) {
		r.Post("/calculate", h.HandleCalculate)
		r.Post("/simulate", h.HandleSimulate)
		r.Get("/runs", h.HandleListRuns)
		r.Get("/runs/latest", h.HandleGetLatestRun)
		r.Get("/runs/{id}", h.HandleGetRun)
	})
}

// RegisterLegacyRoutes registers the root-level endpoint existing callers use.
func (h *Handler) RegisterLegacyRoutes(r chi.Router) {
	r.Post("/reallocate", h.HandleReallocate)
}

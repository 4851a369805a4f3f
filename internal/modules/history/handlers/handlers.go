// Package handlers provides HTTP handlers for rebalance history.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/modules/history"
)

const (
	defaultSeriesLimit = 144 // one day at a 10 minute cadence
	maxSeriesLimit     = 5000
)

// Handler handles history HTTP requests
type Handler struct {
	repo   *history.Repository
	trends *history.TrendService
	log    zerolog.Logger
}

// NewHandler creates a new history handler
func NewHandler(repo *history.Repository, trends *history.TrendService, log zerolog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		trends: trends,
		log:    log.With().Str("handler", "history").Logger(),
	}
}

// HandleGetStrategySeries handles GET /api/history/strategies/{address}
func (h *Handler) HandleGetStrategySeries(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	limit, ok := parseIntParam(r, "limit", defaultSeriesLimit, 1, maxSeriesLimit)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_parameter", "limit must be an integer between 1 and 5000")
		return
	}

	points, err := h.repo.StrategySeries(r.Context(), address, limit)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to load strategy series")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to load strategy series")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"address": address,
			"points":  points,
			"count":   len(points),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"limit":     limit,
		},
	})
}

// HandleGetStrategyTrend handles GET /api/history/strategies/{address}/trend
func (h *Handler) HandleGetStrategyTrend(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	period, ok := parseIntParam(r, "period", history.DefaultTrendPeriod, 1, 500)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_parameter", "period must be an integer between 1 and 500")
		return
	}
	limit, ok := parseIntParam(r, "limit", defaultSeriesLimit, 1, maxSeriesLimit)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_parameter", "limit must be an integer between 1 and 5000")
		return
	}

	trend, err := h.trends.StrategyTrend(r.Context(), address, period, limit)
	if err != nil {
		h.log.Error().Err(err).Str("address", address).Msg("Failed to compute strategy trend")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "failed to compute strategy trend")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": trend,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func parseIntParam(r *http.Request, name string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    code,
		},
	})
}

// Package handlers provides HTTP handlers for rebalancing operations.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/domain"
	"github.com/vaultpilot/allocator/internal/modules/history"
	"github.com/vaultpilot/allocator/internal/modules/rebalancing"
)

const (
	maxBodyBytes     = 4 << 20
	defaultRunsLimit = 20
	maxRunsLimit     = 500
	defaultSimCycles = 10
)

// Handler handles rebalancing HTTP requests
type Handler struct {
	service *rebalancing.Service
	log     zerolog.Logger
}

// NewHandler creates a new rebalancing handler
func NewHandler(service *rebalancing.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "rebalancing").Logger(),
	}
}

// HandleReallocate handles POST /reallocate. Body and response keep the
// historical wire shape: {"base_apy": <request>} in, bare result out.
func (h *Handler) HandleReallocate(w http.ResponseWriter, r *http.Request) {
	var envelope domain.LegacyRebalanceEnvelope
	if err := h.decode(w, r, &envelope); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}
	if envelope.BaseAPY == nil {
		h.writeError(w, http.StatusUnprocessableEntity, "missing_field", "base_apy is required", nil)
		return
	}

	run, err := h.service.Rebalance(r.Context(), *envelope.BaseAPY)
	if err != nil {
		h.log.Error().Err(err).Msg("Rebalance failed")
		h.writeError(w, http.StatusServiceUnavailable, "rebalance_failed", "Rebalance could not be completed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, run.Result)
}

// HandleCalculate handles POST /api/rebalancing/calculate
func (h *Handler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var req domain.RebalanceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	run, err := h.service.Rebalance(r.Context(), req)
	if err != nil {
		h.log.Error().Err(err).Msg("Rebalance failed")
		h.writeError(w, http.StatusServiceUnavailable, "rebalance_failed", "Rebalance could not be completed", err.Error())
		return
	}

	metadata := map[string]interface{}{
		"timestamp":         time.Now().Format(time.RFC3339),
		"run_id":            run.ID,
		"duration_us":       run.Duration.Microseconds(),
		"drift_corrections": run.DriftCorrections,
	}
	if warnings := req.Warnings(); len(warnings) > 0 {
		metadata["warnings"] = warnings
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":     run.Result,
		"metadata": metadata,
	})
}

// HandleSimulate handles POST /api/rebalancing/simulate?cycles=N
func (h *Handler) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	cycles := defaultSimCycles
	if raw := r.URL.Query().Get("cycles"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_parameter", "cycles must be an integer", nil)
			return
		}
		cycles = v
	}

	var req domain.RebalanceRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	sim, err := h.service.Simulate(r.Context(), req, cycles)
	if errors.Is(err, rebalancing.ErrInvalidCycles) {
		h.writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error(), nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "simulation_failed", "Simulation could not be completed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": sim,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"cycles":    cycles,
			"note":      "Projection with yields held constant - nothing persisted",
		},
	})
}

// HandleListRuns handles GET /api/rebalancing/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxRunsLimit {
			h.writeError(w, http.StatusBadRequest, "invalid_parameter", "limit must be an integer between 1 and 500", nil)
			return
		}
		limit = v
	}

	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list runs", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"runs":  runs,
			"count": len(runs),
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"limit":     limit,
		},
	})
}

// HandleGetLatestRun handles GET /api/rebalancing/runs/latest
func (h *Handler) HandleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.LatestRun(r.Context())
	h.writeRun(w, run, err)
}

// HandleGetRun handles GET /api/rebalancing/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	h.writeRun(w, run, err)
}

func (h *Handler) writeRun(w http.ResponseWriter, run *history.Run, err error) {
	if errors.Is(err, history.ErrRunNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Rebalance run not found", nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load run")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load run", nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": run,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	body := map[string]interface{}{
		"message": message,
		"code":    code,
	}
	if details != nil {
		body["details"] = details
	}
	h.writeJSON(w, status, map[string]interface{}{"error": body})
}

// Package handlers provides HTTP handlers for trade behavior classification.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/modules/behavior"
)

const maxBodyBytes = 64 << 10

// Handler handles behavior HTTP requests
type Handler struct {
	service *behavior.Service
	log     zerolog.Logger
}

// NewHandler creates a new behavior handler
func NewHandler(service *behavior.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "behavior").Logger(),
	}
}

// HandleClassify handles POST /api/behavior/classify
func (h *Handler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var features behavior.Features
	if err := json.NewDecoder(r.Body).Decode(&features); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_body", "Invalid request body", err.Error())
		return
	}

	assessment, err := h.service.Classify(features)
	switch {
	case errors.Is(err, behavior.ErrModelNotLoaded):
		h.writeError(w, http.StatusServiceUnavailable, "model_not_loaded", err.Error(), nil)
		return
	case errors.Is(err, behavior.ErrMissingTradeSize), errors.Is(err, behavior.ErrInvalidFeature):
		h.writeError(w, http.StatusUnprocessableEntity, "invalid_features", err.Error(), nil)
		return
	case err != nil:
		h.log.Error().Err(err).Msg("Classification failed")
		h.writeError(w, http.StatusInternalServerError, "classification_failed", "Classification could not be completed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": assessment,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetModel handles GET /api/behavior/model
func (h *Handler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.ModelInfo()
	if err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "model_not_loaded", err.Error(), nil)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": info,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
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

// Package handlers provides HTTP handlers for risk-profile scoring.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/modules/riskprofile"
)

const maxBodyBytes = 1 << 20

// ScoreRequest is the questionnaire body. Answers that are not strings are
// passed to the model as their JSON text.
type ScoreRequest struct {
	QA map[string]json.RawMessage `json:"QA"`
}

// Handler handles risk-profile HTTP requests
type Handler struct {
	scorer *riskprofile.Scorer
	log    zerolog.Logger
}

// NewHandler creates a new risk-profile handler
func NewHandler(scorer *riskprofile.Scorer, log zerolog.Logger) *Handler {
	return &Handler{
		scorer: scorer,
		log:    log.With().Str("handler", "riskprofile").Logger(),
	}
}

// HandleScore handles POST /generate_riskscore and POST /api/risk-profile/score.
func (h *Handler) HandleScore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, riskprofile.Outcome{
			Error: "invalid request body: " + err.Error(),
			Code:  "invalid_body",
		})
		return
	}

	outcome := h.scorer.Score(r.Context(), answers(req.QA))
	if !outcome.OK() {
		h.log.Warn().
			Str("outcome", string(outcome.Kind)).
			Str("error", outcome.Error).
			Msg("Risk scoring did not produce a score")
	}
	h.writeJSON(w, statusFor(outcome.Kind), outcome)
}

func answers(qa map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(qa))
	for q, raw := range qa {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out[q] = s
			continue
		}
		out[q] = strings.TrimSpace(string(raw))
	}
	return out
}

func statusFor(kind riskprofile.OutcomeKind) int {
	switch kind {
	case riskprofile.OutcomeOK:
		return http.StatusOK
	case riskprofile.OutcomeNoJSON, riskprofile.OutcomeInvalidScore:
		return http.StatusUnprocessableEntity
	case riskprofile.OutcomeEmpty:
		return http.StatusBadRequest
	case riskprofile.OutcomeDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

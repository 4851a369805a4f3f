package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vaultpilot/allocator/internal/database"
	"github.com/vaultpilot/allocator/internal/di"
	"github.com/vaultpilot/allocator/internal/reliability"
	"github.com/vaultpilot/allocator/internal/scheduler"
)

// SystemStatusResponse is returned by GET /api/system/status
type SystemStatusResponse struct {
	Status           string              `json:"status"`
	StartedAt        time.Time           `json:"started_at"`
	UptimeSeconds    int64               `json:"uptime_seconds"`
	GoVersion        string              `json:"go_version"`
	Goroutines       int                 `json:"goroutines"`
	CPUPercent       float64             `json:"cpu_percent"`
	MemoryPercent    float64             `json:"memory_percent"`
	MemoryUsedBytes  uint64              `json:"memory_used_bytes"`
	Database         *database.Stats     `json:"database,omitempty"`
	Jobs             []scheduler.JobInfo `json:"jobs"`
	EventSubscribers int                 `json:"event_subscribers"`
	Features         FeatureFlags        `json:"features"`
}

// FeatureFlags reports which optional collaborators are configured
type FeatureFlags struct {
	RiskScorer    bool `json:"risk_scorer"`
	BehaviorModel bool `json:"behavior_model"`
	Backups       bool `json:"backups"`
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	container *di.Container
	jobs      *di.JobInstances
	log       zerolog.Logger
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(container *di.Container, jobs *di.JobInstances, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container: container,
		jobs:      jobs,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth handles GET /health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.container.HistoryDB.HealthCheck(ctx); err != nil {
		h.log.Error().Err(err).Msg("Health check failed")
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	c := h.container
	status := SystemStatusResponse{
		Status:           "ok",
		StartedAt:        c.StartedAt,
		UptimeSeconds:    int64(time.Since(c.StartedAt).Seconds()),
		GoVersion:        runtime.Version(),
		Goroutines:       runtime.NumGoroutine(),
		Jobs:             c.Scheduler.Jobs(),
		EventSubscribers: c.EventBus.SubscriberCount(),
		Features: FeatureFlags{
			RiskScorer:    c.RiskScorer.Enabled(),
			BehaviorModel: c.BehaviorService.Loaded(),
			Backups:       c.BackupService.Enabled(),
		},
	}

	// 100ms sample keeps the endpoint responsive
	if percents, err := cpu.PercentWithContext(r.Context(), 100*time.Millisecond, false); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(percents) > 0 {
		status.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		status.MemoryPercent = vm.UsedPercent
		status.MemoryUsedBytes = vm.Used
	}

	if stats, err := c.HistoryDB.GetStats(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get database statistics")
		status.Status = "degraded"
	} else {
		status.Database = stats
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": status,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleRunMaintenance handles POST /api/system/maintenance
func (h *SystemHandlers) HandleRunMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil || h.jobs.Maintenance == nil {
		h.writeError(w, http.StatusServiceUnavailable, "job_unavailable", "Maintenance job is not registered", nil)
		return
	}

	report, err := h.jobs.Maintenance.Execute(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual maintenance failed")
		h.writeError(w, http.StatusInternalServerError, "maintenance_failed", "Maintenance failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": report,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"trigger":   "manual",
		},
	})
}

// HandleRunBackup handles POST /api/system/backup
func (h *SystemHandlers) HandleRunBackup(w http.ResponseWriter, r *http.Request) {
	result, err := h.container.BackupService.CreateAndUpload(r.Context())
	if errors.Is(err, reliability.ErrBackupDisabled) {
		h.writeError(w, http.StatusServiceUnavailable, "backup_disabled", err.Error(), nil)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		h.writeError(w, http.StatusBadGateway, "backup_failed", "Backup failed", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"trigger":   "manual",
		},
	})
}

// HandleListBackups handles GET /api/system/backups
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := h.container.BackupService.ListBackups(r.Context())
	if errors.Is(err, reliability.ErrBackupDisabled) {
		h.writeError(w, http.StatusServiceUnavailable, "backup_disabled", err.Error(), nil)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "backup_list_failed", "Failed to list backups", err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": backups,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
			"count":     len(backups),
		},
	})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	body := map[string]interface{}{
		"message": message,
		"code":    code,
	}
	if details != nil {
		body["details"] = details
	}
	h.writeJSON(w, status, map[string]interface{}{"error": body})
}

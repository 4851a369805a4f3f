// Package reliability keeps the history store healthy: scheduled pruning and
// compaction, plus off-site snapshots to S3-compatible storage.
package reliability

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/vaultpilot/allocator/internal/events"
)

// lowDiskBytes triggers a warning during maintenance.
const lowDiskBytes = 1 << 30

// RunPruner deletes history older than a cutoff.
type RunPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MaintainableDB is the subset of database.DB maintenance needs.
type MaintainableDB interface {
	WALCheckpoint(ctx context.Context, mode string) error
	Optimize(ctx context.Context) error
	Path() string
}

// EventEmitter publishes typed events.
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	RunsDeleted   int64         `json:"runs_deleted"`
	Cutoff        time.Time     `json:"cutoff"`
	DiskFreeBytes uint64        `json:"disk_free_bytes,omitempty"`
	Duration      time.Duration `json:"-"`
	DurationMs    float64       `json:"duration_ms"`
}

// MaintenanceJob prunes old runs and compacts the database (daily).
type MaintenanceJob struct {
	db            MaintainableDB
	runs          RunPruner
	retentionDays int
	events        EventEmitter
	timeout       time.Duration
	log           zerolog.Logger

	now func() time.Time
}

// NewMaintenanceJob creates a maintenance job keeping retentionDays of history.
func NewMaintenanceJob(db MaintainableDB, runs RunPruner, retentionDays int, emitter EventEmitter, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:            db,
		runs:          runs,
		retentionDays: retentionDays,
		events:        emitter,
		timeout:       5 * time.Minute,
		log:           log.With().Str("job", "maintenance").Logger(),
		now:           time.Now,
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance job
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.Execute(ctx)
	return err
}

// Execute runs one maintenance pass. Checkpoint and optimize failures are
// logged; only a failed prune fails the pass.
func (j *MaintenanceJob) Execute(ctx context.Context) (*MaintenanceReport, error) {
	j.log.Info().Int("retention_days", j.retentionDays).Msg("Starting maintenance")
	start := time.Now()

	report := &MaintenanceReport{
		Cutoff: j.now().UTC().AddDate(0, 0, -j.retentionDays),
	}

	deleted, err := j.runs.DeleteOlderThan(ctx, report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to prune history: %w", err)
	}
	report.RunsDeleted = deleted

	if err := j.db.WALCheckpoint(ctx, "TRUNCATE"); err != nil {
		j.log.Warn().Err(err).Msg("WAL checkpoint failed")
	}
	if err := j.db.Optimize(ctx); err != nil {
		j.log.Warn().Err(err).Msg("Optimize failed")
	}

	usage, err := disk.UsageWithContext(ctx, filepath.Dir(j.db.Path()))
	if err != nil {
		j.log.Warn().Err(err).Msg("Failed to read disk usage")
	} else {
		report.DiskFreeBytes = usage.Free
		if usage.Free < lowDiskBytes {
			j.log.Warn().
				Uint64("free_bytes", usage.Free).
				Float64("used_percent", usage.UsedPercent).
				Msg("Disk space running low")
		}
	}

	report.Duration = time.Since(start)
	report.DurationMs = float64(report.Duration.Microseconds()) / 1000

	if j.events != nil {
		j.events.EmitTyped("reliability", &events.MaintenanceCompletedData{
			RunsDeleted:   report.RunsDeleted,
			DiskFreeBytes: report.DiskFreeBytes,
			DurationMs:    report.DurationMs,
		})
	}

	j.log.Info().
		Int64("runs_deleted", report.RunsDeleted).
		Dur("duration_ms", report.Duration).
		Msg("Maintenance completed")

	return report, nil
}

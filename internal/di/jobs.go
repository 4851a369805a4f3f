package di

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/config"
	"github.com/vaultpilot/allocator/internal/reliability"
)

// RegisterJobs registers scheduled jobs and returns them for manual triggering
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil || container.Scheduler == nil {
		return nil, fmt.Errorf("container with a scheduler is required")
	}

	instances := &JobInstances{}

	instances.Maintenance = reliability.NewMaintenanceJob(
		container.HistoryDB,
		container.HistoryRepo,
		cfg.HistoryRetentionDays,
		container.EventManager,
		log,
	)
	if err := container.Scheduler.AddJob(cfg.MaintenanceCron, instances.Maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.BackupService.Enabled() {
		instances.Backup = reliability.NewBackupJob(container.BackupService)
		if err := container.Scheduler.AddJob(cfg.Backup.Cron, instances.Backup); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	} else {
		log.Info().Msg("BACKUP_S3_BUCKET not set, scheduled backups disabled")
	}

	log.Info().Int("jobs", len(container.Scheduler.Jobs())).Msg("Jobs registered")
	return instances, nil
}

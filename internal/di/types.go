package di

import (
	"time"

	"github.com/vaultpilot/allocator/internal/config"
	"github.com/vaultpilot/allocator/internal/database"
	"github.com/vaultpilot/allocator/internal/events"
	"github.com/vaultpilot/allocator/internal/metrics"
	"github.com/vaultpilot/allocator/internal/modules/behavior"
	"github.com/vaultpilot/allocator/internal/modules/history"
	"github.com/vaultpilot/allocator/internal/modules/rebalancing"
	"github.com/vaultpilot/allocator/internal/modules/riskprofile"
	"github.com/vaultpilot/allocator/internal/reliability"
	"github.com/vaultpilot/allocator/internal/scheduler"
)

// Container holds all application dependencies
// This is the single source of truth for all services, repositories, and databases
type Container struct {
	Config    *config.Config
	StartedAt time.Time

	// Database
	HistoryDB *database.DB

	// Repositories
	HistoryRepo *history.Repository

	// Infrastructure
	EventBus     *events.Bus
	EventManager *events.Manager
	Metrics      *metrics.Collector
	Scheduler    *scheduler.Scheduler

	// Services
	TrendService       *history.TrendService
	RebalancingService *rebalancing.Service
	RiskScorer         *riskprofile.Scorer
	BehaviorService    *behavior.Service
	BackupService      *reliability.BackupService
}

// JobInstances holds registered jobs for manual triggering via API
type JobInstances struct {
	Maintenance *reliability.MaintenanceJob
	Backup      *reliability.BackupJob // nil when backups are disabled
}

// Close releases the container's resources
func (c *Container) Close() error {
	if c.HistoryDB != nil {
		return c.HistoryDB.Close()
	}
	return nil
}

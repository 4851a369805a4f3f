package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/config"
	"github.com/vaultpilot/allocator/internal/events"
	"github.com/vaultpilot/allocator/internal/metrics"
	"github.com/vaultpilot/allocator/internal/modules/allocation"
	"github.com/vaultpilot/allocator/internal/modules/behavior"
	"github.com/vaultpilot/allocator/internal/modules/history"
	"github.com/vaultpilot/allocator/internal/modules/rebalancing"
	"github.com/vaultpilot/allocator/internal/modules/riskprofile"
	"github.com/vaultpilot/allocator/internal/reliability"
	"github.com/vaultpilot/allocator/internal/scheduler"
)

const riskScorerBackoff = 500 * time.Millisecond

// InitializeServices creates infrastructure and domain services
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil || container.HistoryDB == nil {
		return fmt.Errorf("container with an open history database is required")
	}

	// Infrastructure
	collector, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	container.Metrics = collector
	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)
	container.Scheduler = scheduler.New(collector, log)
	container.Scheduler.SetErrorReporter(container.EventManager)

	// History
	container.HistoryRepo = history.NewRepository(container.HistoryDB.Conn(), log)
	container.TrendService = history.NewTrendService(container.HistoryRepo, log)

	// Rebalancing
	container.RebalancingService = rebalancing.NewService(
		allocation.DefaultPolicy(),
		container.HistoryRepo,
		collector,
		container.EventManager,
		log,
	)

	// Risk-profile scorer (disabled without an API key)
	var completer riskprofile.Completer
	if cfg.RiskScorer.Enabled() {
		openaiCfg := riskprofile.DefaultOpenAIConfig()
		openaiCfg.APIKey = cfg.RiskScorer.APIKey
		openaiCfg.BaseURL = cfg.RiskScorer.BaseURL
		openaiCfg.Model = cfg.RiskScorer.Model
		completer = riskprofile.NewOpenAICompleter(openaiCfg)
	} else {
		log.Warn().Msg("GROQ_API_KEY not set, risk-profile scoring disabled")
	}
	container.RiskScorer = riskprofile.NewScorer(completer, riskprofile.ScorerConfig{
		Model:          cfg.RiskScorer.Model,
		AttemptTimeout: cfg.RiskScorer.Timeout,
		MaxAttempts:    cfg.RiskScorer.MaxRetries + 1,
		Backoff:        riskScorerBackoff,
	}, collector, container.EventManager, log)

	// Behavior classifier (disabled without a model file)
	var model *behavior.Model
	if cfg.BehaviorModelPath != "" {
		model, err = behavior.LoadModel(cfg.BehaviorModelPath)
		if err != nil {
			return fmt.Errorf("failed to load behavior model: %w", err)
		}
		log.Info().Str("path", cfg.BehaviorModelPath).Str("version", model.Version).Msg("Behavior model loaded")
	} else {
		log.Warn().Msg("BEHAVIOR_MODEL_PATH not set, behavior classification disabled")
	}
	container.BehaviorService = behavior.NewService(model, collector, container.EventManager, log)

	// Backups (disabled without a bucket)
	var store reliability.ObjectStore
	if cfg.Backup.Enabled() {
		s3Store, err := reliability.NewS3Store(context.Background(), reliability.S3Config{
			Bucket:          cfg.Backup.Bucket,
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		store = s3Store
	}
	container.BackupService = reliability.NewBackupService(
		container.HistoryDB,
		store,
		cfg.Backup.Prefix,
		cfg.Backup.RetentionCount,
		cfg.StagingDir(),
		container.EventManager,
		log,
	)

	return nil
}

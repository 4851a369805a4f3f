// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir   string // Base directory for the database and backup staging (always absolute)
	Port      int
	LogLevel  string
	LogPretty bool
	DevMode   bool

	RiskScorer        RiskScorerConfig
	BehaviorModelPath string // Optional; the classifier is disabled without it

	HistoryRetentionDays int
	MaintenanceCron      string
	Backup               BackupConfig
}

// RiskScorerConfig configures the questionnaire scorer's chat endpoint
type RiskScorerConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Enabled reports whether an API key is configured
func (c RiskScorerConfig) Enabled() bool {
	return c.APIKey != ""
}

// BackupConfig configures off-site backups to S3-compatible storage
type BackupConfig struct {
	Cron            string
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionCount  int
}

// Enabled reports whether a bucket is configured
func (c BackupConfig) Enabled() bool {
	return c.Bucket != ""
}

// DatabasePath returns the history database location
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// StagingDir returns the scratch directory for backup archives
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "backup-staging")
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ALLOCATOR_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		Port:      getEnvAsInt("PORT", 8000),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		DevMode:   getEnvAsBool("DEV_MODE", false),
		RiskScorer: RiskScorerConfig{
			APIKey:     getEnv("GROQ_API_KEY", ""),
			Model:      getEnv("RISK_SCORER_MODEL", "llama-3.3-70b-versatile"),
			BaseURL:    getEnv("RISK_SCORER_BASE_URL", "https://api.groq.com/openai/v1"),
			Timeout:    getEnvAsDuration("RISK_SCORER_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvAsInt("RISK_SCORER_MAX_RETRIES", 2),
		},
		BehaviorModelPath:    getEnv("BEHAVIOR_MODEL_PATH", ""),
		HistoryRetentionDays: getEnvAsInt("HISTORY_RETENTION_DAYS", 30),
		MaintenanceCron:      getEnv("MAINTENANCE_CRON", "0 0 3 * * *"),
		Backup: BackupConfig{
			Cron:            getEnv("BACKUP_CRON", "0 30 3 * * *"),
			Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
			Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
			Region:          getEnv("BACKUP_S3_REGION", "auto"),
			AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("BACKUP_S3_PREFIX", "allocator-backups/"),
			RetentionCount:  getEnvAsInt("BACKUP_RETENTION_COUNT", 14),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects out-of-range values
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.HistoryRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_RETENTION_DAYS must be at least 1, got %d", c.HistoryRetentionDays))
	}
	if c.RiskScorer.MaxRetries < 0 || c.RiskScorer.MaxRetries > 10 {
		errs = append(errs, fmt.Errorf("RISK_SCORER_MAX_RETRIES must be between 0 and 10, got %d", c.RiskScorer.MaxRetries))
	}
	if c.RiskScorer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("RISK_SCORER_TIMEOUT must be positive, got %s", c.RiskScorer.Timeout))
	}
	if c.Backup.RetentionCount < 1 {
		errs = append(errs, fmt.Errorf("BACKUP_RETENTION_COUNT must be at least 1, got %d", c.Backup.RetentionCount))
	}
	if c.Backup.Enabled() && (c.Backup.AccessKeyID == "") != (c.Backup.SecretAccessKey == "") {
		errs = append(errs, errors.New("BACKUP_S3_ACCESS_KEY_ID and BACKUP_S3_SECRET_ACCESS_KEY must be set together"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

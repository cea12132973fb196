package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// The file is decoded on top of Default(), so omitted fields keep their
// defaults and explicit false values survive. The result is validated.
// The configuration is not modified by environment variables; use
// LoadConfigWithEnvOverrides for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration on top of the defaults without validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention LETHE_SECTION_FIELD (e.g., LETHE_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file on top of defaults
// 2. Apply environment variable overrides
// 3. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Values that fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	// Server overrides
	envString("LETHE_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("LETHE_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("LETHE_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("LETHE_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Storage overrides
	envString("LETHE_STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("LETHE_STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("LETHE_STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	envBool("LETHE_STORAGE_SQLITE_WAL_MODE", &cfg.Storage.SQLite.WALMode)

	// Catalog overrides
	envString("LETHE_CATALOG_FILE_PATH", &cfg.Catalog.FilePath)
	envBool("LETHE_CATALOG_WATCH", &cfg.Catalog.Watch)

	// Scheduler overrides
	envBool("LETHE_SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)
	envString("LETHE_SCHEDULER_DAILY_SCHEDULE", &cfg.Scheduler.DailySchedule)
	envString("LETHE_SCHEDULER_WEEKLY_SCHEDULE", &cfg.Scheduler.WeeklySchedule)
	envString("LETHE_SCHEDULER_MONTHLY_SCHEDULE", &cfg.Scheduler.MonthlySchedule)
	envInt("LETHE_SCHEDULER_WORKERS", &cfg.Scheduler.Workers)
	envInt("LETHE_SCHEDULER_SHARDS_PER_CATEGORY", &cfg.Scheduler.ShardsPerCategory)
	envDuration("LETHE_SCHEDULER_LEASE_TTL", &cfg.Scheduler.LeaseTTL)
	envString("LETHE_SCHEDULER_WORKER_ID", &cfg.Scheduler.WorkerID)

	// Executor overrides
	envInt("LETHE_EXECUTOR_MAX_RETRIES", &cfg.Executor.MaxRetries)
	envDuration("LETHE_EXECUTOR_STORE_TIMEOUT", &cfg.Executor.StoreTimeout)

	// Anonymize overrides
	envInt("LETHE_ANONYMIZE_K_THRESHOLD", &cfg.Anonymize.KThreshold)

	// Telemetry overrides
	envString("LETHE_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("LETHE_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("LETHE_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("LETHE_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("LETHE_TELEMETRY_HEALTH_ENABLED", &cfg.Telemetry.Health.Enabled)
	envBool("LETHE_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("LETHE_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	// Security overrides
	envBool("LETHE_SECURITY_TLS_ENABLED", &cfg.Security.TLS.Enabled)
	envString("LETHE_SECURITY_TLS_CERT_FILE", &cfg.Security.TLS.CertFile)
	envString("LETHE_SECURITY_TLS_KEY_FILE", &cfg.Security.TLS.KeyFile)
	envBool("LETHE_SECURITY_AUTHENTICATION_ENABLED", &cfg.Security.Authentication.Enabled)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

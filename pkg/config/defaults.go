package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8090"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Storage defaults
	DefaultStorageBackend    = "sqlite"
	DefaultSQLitePath        = "data/lethe.db"
	DefaultSQLiteDriver      = "sqlite"
	DefaultSQLiteBusyTimeout = 5 * time.Second

	// Catalog defaults
	DefaultCatalogDebounce = 100 * time.Millisecond
	DefaultGitBranch       = "main"
	DefaultGitCatalogPath  = "catalog.yaml"
	DefaultGitPollInterval = time.Minute
	DefaultGitTimeout      = 30 * time.Second
	DefaultGitAuthType     = "none"

	// Scheduler defaults
	DefaultDailySchedule      = "0 3 * * *"
	DefaultWeeklySchedule     = "0 4 * * 0"
	DefaultMonthlySchedule    = "0 5 1 * *"
	DefaultSchedulerWorkers   = 4
	DefaultShardsPerCategory  = 1
	DefaultLeaseTTL           = 2 * time.Minute
	DefaultPageSize           = 500
	DefaultStuckDeletionGrace = 72 * time.Hour

	// Executor defaults
	DefaultExecutorMaxRetries     = 3
	DefaultExecutorInitialBackoff = 200 * time.Millisecond
	DefaultExecutorMaxBackoff     = 5 * time.Second
	DefaultExecutorStoreTimeout   = 10 * time.Second

	// Erasure defaults
	DefaultSQLEraserKeyColumn = "id"

	// Anonymize defaults
	DefaultKThreshold = 5

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "lethe"
	DefaultMetricsSubsystem   = "lifecycle"
	DefaultLivenessPath       = "/health"
	DefaultReadinessPath      = "/ready"
	DefaultHealthCheckTimeout = 5 * time.Second
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingServiceName = "lethe"
	DefaultTracingTimeout     = 10 * time.Second

	// Security defaults
	DefaultTLSMinVersion       = "1.3"
	DefaultCertReloadInterval  = 5 * time.Minute
	DefaultClientAuthType      = "require"
	DefaultIdentitySource      = "subject.CN"
	DefaultSecretEnvPrefix     = "LETHE_SECRET_"
	DefaultSecretsCacheTTL     = 5 * time.Minute
	DefaultSecretsCacheMaxSize = 100
	DefaultAuthHeader          = "Authorization"
)

// DefaultDurationBuckets are the histogram buckets for job and erasure
// durations, in seconds.
var DefaultDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600}

// Default returns a configuration with every default applied, including
// the boolean settings that default to true. LoadConfig decodes YAML on top
// of it so that an explicit "false" in a file survives.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.SQLite.WALMode = true
	cfg.Scheduler.Enabled = true
	cfg.Audit.RedactJustifications = true
	cfg.Telemetry.Logging.RedactPII = true
	cfg.Telemetry.Metrics.Enabled = true
	cfg.Telemetry.Health.Enabled = true
	cfg.Security.Secrets.Cache.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	// Catalog defaults
	if cfg.Catalog.DebounceInterval == 0 {
		cfg.Catalog.DebounceInterval = DefaultCatalogDebounce
	}
	applyGitCatalogDefaults(&cfg.Catalog.Git)

	applySchedulerDefaults(&cfg.Scheduler)

	// Executor defaults
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = DefaultExecutorMaxRetries
	}
	if cfg.Executor.InitialBackoff == 0 {
		cfg.Executor.InitialBackoff = DefaultExecutorInitialBackoff
	}
	if cfg.Executor.MaxBackoff == 0 {
		cfg.Executor.MaxBackoff = DefaultExecutorMaxBackoff
	}
	if cfg.Executor.StoreTimeout == 0 {
		cfg.Executor.StoreTimeout = DefaultExecutorStoreTimeout
	}

	// Erasure defaults - applied to each SQL store
	for i := range cfg.Erasure.SQL {
		if cfg.Erasure.SQL[i].KeyColumn == "" {
			cfg.Erasure.SQL[i].KeyColumn = DefaultSQLEraserKeyColumn
		}
		if cfg.Erasure.SQL[i].Driver == "" {
			cfg.Erasure.SQL[i].Driver = DefaultSQLiteDriver
		}
	}

	// Anonymize defaults
	if cfg.Anonymize.KThreshold == 0 {
		cfg.Anonymize.KThreshold = DefaultKThreshold
	}

	applyTelemetryDefaults(&cfg.Telemetry)
	applySecurityDefaults(&cfg.Security)
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.DailySchedule == "" {
		cfg.DailySchedule = DefaultDailySchedule
	}
	if cfg.WeeklySchedule == "" {
		cfg.WeeklySchedule = DefaultWeeklySchedule
	}
	if cfg.MonthlySchedule == "" {
		cfg.MonthlySchedule = DefaultMonthlySchedule
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultSchedulerWorkers
	}
	if cfg.ShardsPerCategory == 0 {
		cfg.ShardsPerCategory = DefaultShardsPerCategory
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.WorkerID == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.WorkerID = host
		} else {
			cfg.WorkerID = "lethe"
		}
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.StuckDeletionGrace == 0 {
		cfg.StuckDeletionGrace = DefaultStuckDeletionGrace
	}
}

func applyGitCatalogDefaults(cfg *GitCatalogConfig) {
	if cfg.Branch == "" {
		cfg.Branch = DefaultGitBranch
	}
	if cfg.Path == "" {
		cfg.Path = DefaultGitCatalogPath
	}
	if cfg.LocalPath == "" {
		cfg.LocalPath = filepath.Join(os.TempDir(), "lethe-catalog")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultGitPollInterval
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultGitTimeout
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = DefaultGitAuthType
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Metrics.DurationBuckets) == 0 {
		cfg.Metrics.DurationBuckets = DefaultDurationBuckets
	}
	if cfg.Tracing.Sampler == "" {
		cfg.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultTracingServiceName
	}
	if cfg.Tracing.Timeout == 0 {
		cfg.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Health.LivenessPath == "" {
		cfg.Health.LivenessPath = DefaultLivenessPath
	}
	if cfg.Health.ReadinessPath == "" {
		cfg.Health.ReadinessPath = DefaultReadinessPath
	}
	if cfg.Health.CheckTimeout == 0 {
		cfg.Health.CheckTimeout = DefaultHealthCheckTimeout
	}
}

func applySecurityDefaults(cfg *SecurityConfig) {
	if cfg.TLS.MinVersion == "" {
		cfg.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.TLS.ReloadInterval == 0 {
		cfg.TLS.ReloadInterval = DefaultCertReloadInterval
	}
	if cfg.TLS.MTLS.ClientAuthType == "" {
		cfg.TLS.MTLS.ClientAuthType = DefaultClientAuthType
	}
	if cfg.TLS.MTLS.IdentitySource == "" {
		cfg.TLS.MTLS.IdentitySource = DefaultIdentitySource
	}

	if len(cfg.Secrets.Providers) == 0 {
		cfg.Secrets.Providers = []SecretProviderConfig{{Type: "env", Prefix: DefaultSecretEnvPrefix}}
	}
	if cfg.Secrets.Cache.TTL == 0 {
		cfg.Secrets.Cache.TTL = DefaultSecretsCacheTTL
	}
	if cfg.Secrets.Cache.MaxSize == 0 {
		cfg.Secrets.Cache.MaxSize = DefaultSecretsCacheMaxSize
	}

	if cfg.Authentication.Header == "" {
		cfg.Authentication.Header = DefaultAuthHeader
	}
}

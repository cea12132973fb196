package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder backed by an in-memory store.
// The resulting configuration is valid and can be used immediately.
func NewTestConfig() *ConfigBuilder {
	cfg := Default()
	cfg.Storage.Backend = "memory"
	cfg.Scheduler.WorkerID = "test-worker"
	return &ConfigBuilder{cfg: *cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithListenAddress sets the server listen address.
func (b *ConfigBuilder) WithListenAddress(addr string) *ConfigBuilder {
	b.cfg.Server.ListenAddress = addr
	return b
}

// WithSQLitePath selects the sqlite backend at path.
func (b *ConfigBuilder) WithSQLitePath(path string) *ConfigBuilder {
	b.cfg.Storage.Backend = "sqlite"
	b.cfg.Storage.SQLite.Path = path
	return b
}

// WithDailySchedule sets the sweep cron expression.
func (b *ConfigBuilder) WithDailySchedule(expr string) *ConfigBuilder {
	b.cfg.Scheduler.DailySchedule = expr
	return b
}

// WithLeaseTTL sets the shard lease lifetime.
func (b *ConfigBuilder) WithLeaseTTL(d time.Duration) *ConfigBuilder {
	b.cfg.Scheduler.LeaseTTL = d
	return b
}

// WithSQLEraser adds a SQL erasure target.
func (b *ConfigBuilder) WithSQLEraser(s SQLEraserConfig) *ConfigBuilder {
	b.cfg.Erasure.SQL = append(b.cfg.Erasure.SQL, s)
	return b
}

// WithRedisEraser adds a Redis erasure target.
func (b *ConfigBuilder) WithRedisEraser(r RedisEraserConfig) *ConfigBuilder {
	b.cfg.Erasure.Redis = append(b.cfg.Erasure.Redis, r)
	return b
}

// WithKThreshold sets the anonymization group size.
func (b *ConfigBuilder) WithKThreshold(k int) *ConfigBuilder {
	b.cfg.Anonymize.KThreshold = k
	return b
}

// WithLoggingLevel sets the logging level.
func (b *ConfigBuilder) WithLoggingLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

// MinimalConfig returns a minimal valid configuration for testing.
func MinimalConfig() *Config {
	return NewTestConfig().Build()
}

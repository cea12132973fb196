package config

import "time"

// Config is the root configuration structure for Lethe.
// It contains all configuration sections for the HTTP surface, state store,
// policy catalog, scheduled jobs, erasure targets and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address
	// and timeouts.
	Server ServerConfig `yaml:"server"`

	// Storage selects and configures the lifecycle state store.
	Storage StorageConfig `yaml:"storage"`

	// Catalog contains policy catalog file settings.
	Catalog CatalogConfig `yaml:"catalog"`

	// Scheduler contains cron schedules, sharding and lease settings for the
	// daily sweep, weekly aggregation and monthly audit scan.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Executor contains retry settings for physical erasure.
	Executor ExecutorConfig `yaml:"executor"`

	// Erasure lists the stores that hold copies of governed records.
	Erasure ErasureConfig `yaml:"erasure"`

	// Anonymize contains anonymization pipeline settings.
	Anonymize AnonymizeConfig `yaml:"anonymize"`

	// Audit contains audit log settings.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains configuration for observability including logging,
	// metrics and health checks.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Security contains TLS, API key authentication and secret resolution
	// settings.
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8090").
	// Default: "127.0.0.1:8090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Ad-hoc job runs are synchronous, so keep this generous.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	// when keep-alives are enabled.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`
}

// StorageConfig selects the state store backend.
type StorageConfig struct {
	// Backend is the store implementation.
	// Options: "sqlite", "memory"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// SQLite contains SQLite-specific settings.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite state store configuration.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/lethe.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// WALMode enables Write-Ahead Logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CatalogConfig contains policy catalog configuration.
type CatalogConfig struct {
	// FilePath is an optional catalog YAML file published at startup when it
	// is newer than the latest stored version.
	FilePath string `yaml:"file_path"`

	// Watch publishes FilePath again whenever it changes.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period before a changed file is loaded.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// Git publishes the catalog from a file in a Git repository.
	Git GitCatalogConfig `yaml:"git"`
}

// GitCatalogConfig configures a Git repository as the catalog source.
type GitCatalogConfig struct {
	// Enabled clones Repository at startup and publishes its catalog file.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Repository is the clone URL or a local path.
	Repository string `yaml:"repository"`

	// Branch is the branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path is the catalog file within the repository.
	// Default: "catalog.yaml"
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned.
	// Default: "<tmp>/lethe-catalog"
	LocalPath string `yaml:"local_path"`

	// Depth limits clone history. 0 clones everything.
	Depth int `yaml:"depth"`

	// PollInterval is how often "lethe run" pulls the repository.
	// Default: 1m
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Auth contains repository credentials.
	Auth GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig contains Git credentials.
type GitAuthConfig struct {
	// Type is the authentication method.
	// Options: "none", "token", "ssh"
	// Default: "none"
	Type string `yaml:"type"`

	// Token is an HTTPS access token. Use a ${secret:name} reference.
	Token string `yaml:"token"`

	// SSHKeyPath is the private key file for ssh auth.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase unlocks an encrypted key. Use a ${secret:name}
	// reference.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// SchedulerConfig contains scheduled job configuration.
type SchedulerConfig struct {
	// Enabled starts the cron scheduler in "lethe run".
	// Default: true
	Enabled bool `yaml:"enabled"`

	// DailySchedule is the cron expression for the deletion sweep.
	// Default: "0 3 * * *"
	DailySchedule string `yaml:"daily_schedule"`

	// WeeklySchedule is the cron expression for the aggregation job.
	// Default: "0 4 * * 0"
	WeeklySchedule string `yaml:"weekly_schedule"`

	// MonthlySchedule is the cron expression for the audit scan.
	// Default: "0 5 1 * *"
	MonthlySchedule string `yaml:"monthly_schedule"`

	// Workers bounds the number of shards processed concurrently.
	// Default: 4
	Workers int `yaml:"workers"`

	// ShardsPerCategory splits each category by owner hash.
	// Default: 1
	ShardsPerCategory int `yaml:"shards_per_category"`

	// LeaseTTL is the lifetime of a shard lease. Leases renew at a third of it.
	// Default: 2m
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// WorkerID identifies this process in shard leases.
	// Default: hostname
	WorkerID string `yaml:"worker_id"`

	// PageSize bounds each candidate page read from the ledger.
	// Default: 500
	PageSize int `yaml:"page_size"`

	// StuckDeletionGrace is how long a record may stay PendingDeletion
	// before the audit scan flags it.
	// Default: 72h
	StuckDeletionGrace time.Duration `yaml:"stuck_deletion_grace"`
}

// ExecutorConfig contains deletion executor configuration.
type ExecutorConfig struct {
	// MaxRetries bounds erase attempts per store after the first.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// InitialBackoff is the first retry delay.
	// Default: 200ms
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	// Default: 5s
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// StoreTimeout bounds a single erase or verification call.
	// Default: 10s
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// ErasureConfig lists every store holding copies of governed records.
type ErasureConfig struct {
	// SQL lists relational primary stores.
	SQL []SQLEraserConfig `yaml:"sql"`

	// Redis lists cache stores.
	Redis []RedisEraserConfig `yaml:"redis"`

	// Files lists file-based backup generations.
	Files []FileEraserConfig `yaml:"files"`
}

// SQLEraserConfig configures erasure from a SQL table.
type SQLEraserConfig struct {
	// Name identifies the store in certificates.
	Name string `yaml:"name"`

	// Driver is the database/sql driver name ("sqlite" or "sqlite3").
	Driver string `yaml:"driver"`

	// DSN is the data source name.
	DSN string `yaml:"dsn"`

	// Table is the table holding record rows.
	Table string `yaml:"table"`

	// KeyColumn is the column matched against the record ID.
	// Default: "id"
	KeyColumn string `yaml:"key_column"`

	// Throttle limits erasure traffic to the store.
	Throttle ThrottleConfig `yaml:"throttle"`
}

// RedisEraserConfig configures erasure from a Redis cache.
type RedisEraserConfig struct {
	// Name identifies the store in certificates.
	Name string `yaml:"name"`

	// Address is the Redis server address.
	Address string `yaml:"address"`

	// Password is the optional Redis password.
	Password string `yaml:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db"`

	// KeyTemplates are the cache keys derived from a record. Placeholders:
	// {record_id}, {owner_id}, {category}.
	KeyTemplates []string `yaml:"key_templates"`

	// Throttle limits erasure traffic to the store.
	Throttle ThrottleConfig `yaml:"throttle"`
}

// FileEraserConfig configures erasure from file backups.
type FileEraserConfig struct {
	// Name identifies the store in certificates.
	Name string `yaml:"name"`

	// Patterns are glob templates matching every backup generation of a
	// record. Same placeholders as RedisEraserConfig.KeyTemplates.
	Patterns []string `yaml:"patterns"`

	// Throttle limits erasure traffic to the store.
	Throttle ThrottleConfig `yaml:"throttle"`
}

// ThrottleConfig limits the erasure calls sent to one store. Zero values
// leave the store unthrottled.
type ThrottleConfig struct {
	// Rate is the average number of erase and verify calls per second.
	Rate float64 `yaml:"rate"`

	// Burst is the number of calls allowed back to back.
	// Default: Rate rounded up
	Burst int `yaml:"burst"`

	// MaxConcurrent caps calls in flight to the store.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// AnonymizeConfig contains anonymization pipeline configuration.
type AnonymizeConfig struct {
	// KThreshold is the minimum group size of a published aggregate.
	// Default: 5
	KThreshold int `yaml:"k_threshold"`
}

// AuditConfig contains audit log configuration.
type AuditConfig struct {
	// RedactJustifications passes operator justification text through the
	// PII redactor before it is sealed into the chain.
	// Default: true
	RedactJustifications bool `yaml:"redact_justifications"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Health contains health check configuration.
	Health HealthConfig `yaml:"health"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables automatic PII redaction in logs.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "lethe"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "lifecycle"
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets defines histogram buckets for job and erasure
	// durations in seconds.
	// Default: [0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600]
	DurationBuckets []float64 `yaml:"duration_buckets"`
}

// HealthConfig contains health check endpoint configuration.
type HealthConfig struct {
	// Enabled controls whether health check endpoints are enabled.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// LivenessPath is the path for the liveness probe endpoint.
	// Default: "/health"
	LivenessPath string `yaml:"liveness_path"`

	// ReadinessPath is the path for the readiness probe endpoint.
	// Default: "/ready"
	ReadinessPath string `yaml:"readiness_path"`

	// CheckTimeout is the timeout for individual component health checks.
	// Default: 5s
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// TracingConfig contains OpenTelemetry tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Example: "otel-collector:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name in traces.
	// Default: "lethe"
	ServiceName string `yaml:"service_name"`

	// Insecure disables TLS to the collector.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS contains TLS configuration for the HTTP server.
	TLS TLSConfig `yaml:"tls"`

	// Secrets contains secret resolution configuration. Erasure target
	// credentials and API keys may reference secrets as ${secret:name}.
	Secrets SecretsConfig `yaml:"secrets"`

	// Authentication contains API key authentication configuration.
	Authentication AuthenticationConfig `yaml:"authentication"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether the server terminates TLS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate file.
	// Required when Enabled is true.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key file.
	// Required when Enabled is true.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites is a list of enabled TLS 1.2 cipher suites.
	// If empty, Go's default secure cipher suites are used.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"cert_reload_interval"`

	// MTLS contains mutual TLS configuration.
	MTLS MTLSConfig `yaml:"mtls"`
}

// MTLSConfig contains mutual TLS configuration.
type MTLSConfig struct {
	// Enabled controls whether client certificates are requested.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ClientCAFile is the CA bundle used to verify client certificates.
	// Required when Enabled is true.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuthType specifies how to handle client certificates.
	// Options: "require", "request", "verify_if_given"
	// Default: "require"
	ClientAuthType string `yaml:"client_auth_type"`

	// IdentitySource selects the certificate field recorded as the actor of
	// operator calls.
	// Options: "subject.CN", "subject.OU", "subject.O", "SAN"
	// Default: "subject.CN"
	IdentitySource string `yaml:"identity_source"`
}

// SecretsConfig contains secret resolution configuration.
type SecretsConfig struct {
	// Providers are tried in order until one returns a value.
	// Default: a single env provider with prefix "LETHE_SECRET_"
	Providers []SecretProviderConfig `yaml:"providers"`

	// Cache contains secret caching configuration.
	Cache SecretsCacheConfig `yaml:"cache"`
}

// SecretProviderConfig contains configuration for a secret provider.
type SecretProviderConfig struct {
	// Type is the provider type.
	// Options: "env", "file"
	Type string `yaml:"type"`

	// Prefix is the environment variable prefix (env provider).
	Prefix string `yaml:"prefix,omitempty"`

	// Path is the directory holding one file per secret (file provider).
	Path string `yaml:"path,omitempty"`

	// Watch refreshes file secrets when the directory changes (file
	// provider).
	Watch bool `yaml:"watch,omitempty"`
}

// SecretsCacheConfig contains secret cache configuration.
type SecretsCacheConfig struct {
	// Enabled controls whether resolved secrets are cached.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// TTL is how long a resolved secret is cached.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// MaxSize is the maximum number of cached secrets.
	// Default: 100
	MaxSize int `yaml:"max_size"`
}

// AuthenticationConfig contains API key authentication configuration.
type AuthenticationConfig struct {
	// Enabled requires an API key on every /v1 route. The key's name
	// becomes the actor recorded in the audit log.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Header is the request header carrying the key. A "Bearer " prefix
	// is accepted on the Authorization header.
	// Default: "Authorization"
	Header string `yaml:"header"`

	// Keys lists the accepted keys.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig describes one API key.
type APIKeyConfig struct {
	// Name identifies the caller. It is recorded as the actor.
	Name string `yaml:"name"`

	// Key is the secret value, usually a ${secret:name} reference.
	Key string `yaml:"key"`

	// Roles granted to the key.
	// Options: "ingest", "read", "operator"
	Roles []string `yaml:"roles"`
}

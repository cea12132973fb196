package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateErasure(&cfg.Erasure)...)

	if cfg.Catalog.Watch && cfg.Catalog.FilePath == "" {
		errs = append(errs, FieldError{
			Field:   "catalog.file_path",
			Message: "file path is required when watch is enabled",
		})
	}
	errs = append(errs, validateGitCatalog(&cfg.Catalog)...)
	if cfg.Anonymize.KThreshold < 2 {
		errs = append(errs, FieldError{
			Field:   "anonymize.k_threshold",
			Message: "k threshold must be at least 2",
		})
	}

	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateServer validates HTTP server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must not be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must not be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must not be negative"})
	}

	return errs
}

// validateStorage validates state store configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.path",
				Message: "path is required for the sqlite backend",
			})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q: must be 'sqlite' or 'sqlite3'", cfg.SQLite.Driver),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'sqlite' or 'memory'", cfg.Backend),
		})
	}

	return errs
}

// validateScheduler validates cron expressions and worker settings.
func validateScheduler(cfg *SchedulerConfig) []FieldError {
	var errs []FieldError

	schedules := []struct {
		field string
		expr  string
	}{
		{"scheduler.daily_schedule", cfg.DailySchedule},
		{"scheduler.weekly_schedule", cfg.WeeklySchedule},
		{"scheduler.monthly_schedule", cfg.MonthlySchedule},
	}
	for _, s := range schedules {
		if _, err := cron.ParseStandard(s.expr); err != nil {
			errs = append(errs, FieldError{
				Field:   s.field,
				Message: fmt.Sprintf("invalid cron expression %q: %v", s.expr, err),
			})
		}
	}

	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "scheduler.workers", Message: "workers must be at least 1"})
	}
	if cfg.ShardsPerCategory < 1 {
		errs = append(errs, FieldError{Field: "scheduler.shards_per_category", Message: "shards per category must be at least 1"})
	}
	if cfg.LeaseTTL < 3*time.Second {
		errs = append(errs, FieldError{Field: "scheduler.lease_ttl", Message: "lease ttl must be at least 3s"})
	}
	if cfg.PageSize < 1 {
		errs = append(errs, FieldError{Field: "scheduler.page_size", Message: "page size must be at least 1"})
	}
	if cfg.StuckDeletionGrace < 0 {
		errs = append(errs, FieldError{Field: "scheduler.stuck_deletion_grace", Message: "grace must not be negative"})
	}

	return errs
}

// validateExecutor validates erasure retry settings.
func validateExecutor(cfg *ExecutorConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxRetries < 0 {
		errs = append(errs, FieldError{Field: "executor.max_retries", Message: "max retries must not be negative"})
	}
	if cfg.InitialBackoff <= 0 {
		errs = append(errs, FieldError{Field: "executor.initial_backoff", Message: "initial backoff must be positive"})
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		errs = append(errs, FieldError{Field: "executor.max_backoff", Message: "max backoff must be at least initial backoff"})
	}
	if cfg.StoreTimeout <= 0 {
		errs = append(errs, FieldError{Field: "executor.store_timeout", Message: "store timeout must be positive"})
	}

	return errs
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateErasure validates erasure targets. Store names must be unique
// because certificates list them.
func validateErasure(cfg *ErasureConfig) []FieldError {
	var errs []FieldError
	names := make(map[string]bool)

	checkName := func(field, name string) {
		switch {
		case name == "":
			errs = append(errs, FieldError{Field: field, Message: "store name is required"})
		case names[name]:
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate store name %q", name)})
		}
		names[name] = true
	}
	checkThrottle := func(prefix string, t ThrottleConfig) {
		if t.Rate < 0 {
			errs = append(errs, FieldError{Field: prefix + ".throttle.rate", Message: "rate must not be negative"})
		}
		if t.Burst < 0 {
			errs = append(errs, FieldError{Field: prefix + ".throttle.burst", Message: "burst must not be negative"})
		}
		if t.MaxConcurrent < 0 {
			errs = append(errs, FieldError{Field: prefix + ".throttle.max_concurrent", Message: "max_concurrent must not be negative"})
		}
	}

	for i, s := range cfg.SQL {
		prefix := fmt.Sprintf("erasure.sql[%d]", i)
		checkName(prefix+".name", s.Name)
		checkThrottle(prefix, s.Throttle)
		if s.DSN == "" {
			errs = append(errs, FieldError{Field: prefix + ".dsn", Message: "dsn is required"})
		}
		if !identifierPattern.MatchString(s.Table) {
			errs = append(errs, FieldError{Field: prefix + ".table", Message: fmt.Sprintf("invalid table name %q", s.Table)})
		}
		if !identifierPattern.MatchString(s.KeyColumn) {
			errs = append(errs, FieldError{Field: prefix + ".key_column", Message: fmt.Sprintf("invalid column name %q", s.KeyColumn)})
		}
	}
	for i, r := range cfg.Redis {
		prefix := fmt.Sprintf("erasure.redis[%d]", i)
		checkName(prefix+".name", r.Name)
		checkThrottle(prefix, r.Throttle)
		if r.Address == "" {
			errs = append(errs, FieldError{Field: prefix + ".address", Message: "address is required"})
		}
		if len(r.KeyTemplates) == 0 {
			errs = append(errs, FieldError{Field: prefix + ".key_templates", Message: "at least one key template is required"})
		}
	}
	for i, f := range cfg.Files {
		prefix := fmt.Sprintf("erasure.files[%d]", i)
		checkName(prefix+".name", f.Name)
		checkThrottle(prefix, f.Throttle)
		if len(f.Patterns) == 0 {
			errs = append(errs, FieldError{Field: prefix + ".patterns", Message: "at least one pattern is required"})
		}
	}

	return errs
}

// validateGitCatalog validates the Git catalog source.
func validateGitCatalog(cfg *CatalogConfig) []FieldError {
	g := cfg.Git
	if !g.Enabled {
		return nil
	}
	var errs []FieldError
	if cfg.FilePath != "" {
		errs = append(errs, FieldError{
			Field:   "catalog.git.enabled",
			Message: "git source and file_path are mutually exclusive",
		})
	}
	if g.Repository == "" {
		errs = append(errs, FieldError{Field: "catalog.git.repository", Message: "repository is required"})
	}
	if g.Path == "" || !filepath.IsLocal(g.Path) {
		errs = append(errs, FieldError{
			Field:   "catalog.git.path",
			Message: fmt.Sprintf("path %q must be relative to the repository root", g.Path),
		})
	}
	if g.PollInterval < time.Second {
		errs = append(errs, FieldError{Field: "catalog.git.poll_interval", Message: "poll interval must be at least 1s"})
	}
	switch g.Auth.Type {
	case "none":
	case "token":
		if g.Auth.Token == "" {
			errs = append(errs, FieldError{Field: "catalog.git.auth.token", Message: "token is required for token auth"})
		}
	case "ssh":
		if g.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{Field: "catalog.git.auth.ssh_key_path", Message: "ssh_key_path is required for ssh auth"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "catalog.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'none', 'token', or 'ssh'", g.Auth.Type),
		})
	}
	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regular expression: %v", err),
			})
		}
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	if cfg.Health.Enabled {
		if !strings.HasPrefix(cfg.Health.LivenessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.liveness_path",
				Message: "liveness path must start with /",
			})
		}
		if !strings.HasPrefix(cfg.Health.ReadinessPath, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.readiness_path",
				Message: "readiness path must start with /",
			})
		}
		if cfg.Health.CheckTimeout < 0 || cfg.Health.CheckTimeout > 60*time.Second {
			errs = append(errs, FieldError{
				Field:   "telemetry.health.check_timeout",
				Message: "check timeout must be between 0 and 60s",
			})
		}
	}

	return errs
}

// validateSecurity validates TLS, secrets and authentication configuration.
func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.cert_file", Message: "certificate file is required when TLS is enabled"})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.key_file", Message: "key file is required when TLS is enabled"})
		}
	}
	if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
		errs = append(errs, FieldError{
			Field:   "security.tls.min_version",
			Message: fmt.Sprintf("invalid TLS version %q: must be '1.2' or '1.3'", cfg.TLS.MinVersion),
		})
	}
	if cfg.TLS.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "security.tls.cert_reload_interval", Message: "reload interval must not be negative"})
	}

	if cfg.TLS.MTLS.Enabled {
		if !cfg.TLS.Enabled {
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.enabled",
				Message: "mTLS requires TLS to be enabled (security.tls.enabled must be true)",
			})
		}
		if cfg.TLS.MTLS.ClientCAFile == "" {
			errs = append(errs, FieldError{Field: "security.tls.mtls.client_ca_file", Message: "client CA file is required when mTLS is enabled"})
		}
		switch cfg.TLS.MTLS.ClientAuthType {
		case "require", "request", "verify_if_given":
		default:
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.client_auth_type",
				Message: fmt.Sprintf("invalid client auth type %q: must be 'require', 'request', or 'verify_if_given'", cfg.TLS.MTLS.ClientAuthType),
			})
		}
		switch cfg.TLS.MTLS.IdentitySource {
		case "subject.CN", "subject.OU", "subject.O", "SAN":
		default:
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.identity_source",
				Message: fmt.Sprintf("invalid identity source %q", cfg.TLS.MTLS.IdentitySource),
			})
		}
	}

	for i, p := range cfg.Secrets.Providers {
		field := fmt.Sprintf("security.secrets.providers[%d]", i)
		switch p.Type {
		case "env":
		case "file":
			if p.Path == "" {
				errs = append(errs, FieldError{Field: field + ".path", Message: "path is required for the file provider"})
			}
		default:
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unsupported secret provider %q: must be 'env' or 'file'", p.Type),
			})
		}
	}
	if cfg.Secrets.Cache.Enabled && cfg.Secrets.Cache.MaxSize < 1 {
		errs = append(errs, FieldError{Field: "security.secrets.cache.max_size", Message: "max size must be at least 1"})
	}

	if cfg.Authentication.Enabled && len(cfg.Authentication.Keys) == 0 {
		errs = append(errs, FieldError{Field: "security.authentication.keys", Message: "at least one key is required when authentication is enabled"})
	}
	seen := make(map[string]bool)
	validRoles := map[string]bool{"ingest": true, "read": true, "operator": true}
	for i, k := range cfg.Authentication.Keys {
		field := fmt.Sprintf("security.authentication.keys[%d]", i)
		switch {
		case k.Name == "":
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		case seen[k.Name]:
			errs = append(errs, FieldError{Field: field + ".name", Message: fmt.Sprintf("duplicate key name %q", k.Name)})
		}
		seen[k.Name] = true
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "key is required"})
		}
		if len(k.Roles) == 0 {
			errs = append(errs, FieldError{Field: field + ".roles", Message: "at least one role is required"})
		}
		for _, role := range k.Roles {
			if !validRoles[role] {
				errs = append(errs, FieldError{
					Field:   field + ".roles",
					Message: fmt.Sprintf("invalid role %q: must be 'ingest', 'read', or 'operator'", role),
				})
			}
		}
	}

	return errs
}

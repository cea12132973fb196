// Package engine assembles the lifecycle components into one service and
// exposes the ingress, egress and operator operations used by the HTTP
// surface and the CLI.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/anomaly"
	"mercator-hq/lethe/pkg/lifecycle/anonymize"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
	"mercator-hq/lethe/pkg/lifecycle/catalog/gitsync"
	"mercator-hq/lethe/pkg/lifecycle/erasure"
	"mercator-hq/lethe/pkg/lifecycle/executor"
	"mercator-hq/lethe/pkg/lifecycle/hold"
	"mercator-hq/lethe/pkg/lifecycle/lease"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/lifecycle/scheduler"
	"mercator-hq/lethe/pkg/lifecycle/storage"
	"mercator-hq/lethe/pkg/security/secrets"
	"mercator-hq/lethe/pkg/telemetry/health"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

// sweepFreshness is how long the readiness check tolerates a deletion sweep
// that has not succeeded.
const sweepFreshness = 48 * time.Hour

// Engine is a fully wired retention lifecycle engine.
type Engine struct {
	cfg     *config.Config
	store   lifecycle.Store
	erasers erasure.Set
	logger  *slog.Logger
	now     func() time.Time

	catalog   *catalog.Catalog
	audit     *audit.Log
	ledger    *ledger.Ledger
	holds     *hold.Manager
	anomalies *anomaly.Reporter
	executor  *executor.Executor
	pipeline  *anonymize.Pipeline
	scheduler *scheduler.Scheduler
	metrics   *metrics.Collector
	health    *health.Checker
	watcher   *catalog.Watcher
	gitSync   *gitsync.Syncer
	secrets   *secrets.Manager
}

type options struct {
	store    lifecycle.Store
	erasers  erasure.Set
	logger   *slog.Logger
	redactor audit.Redactor
	registry *prometheus.Registry
	secrets  *secrets.Manager
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*options)

// WithStore uses store instead of opening the configured backend. The
// engine takes ownership and closes it.
func WithStore(store lifecycle.Store) Option {
	return func(o *options) { o.store = store }
}

// WithErasers uses set instead of opening the configured erasure targets.
func WithErasers(set erasure.Set) Option {
	return func(o *options) { o.erasers = set }
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRedactor sets the redactor applied to audit justifications.
func WithRedactor(r audit.Redactor) Option {
	return func(o *options) { o.redactor = r }
}

// WithRegistry registers metrics on registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithSecrets resolves ${secret:name} references through m instead of the
// providers named in the configuration. The engine takes ownership and
// closes it.
func WithSecrets(m *secrets.Manager) Option {
	return func(o *options) { o.secrets = m }
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New opens the state store and erasure targets named by cfg and wires the
// lifecycle components on top of them. The catalog is loaded from the store,
// and cfg.Catalog.FilePath or the catalog repository is published first when
// it is newer.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.redactor == nil && cfg.Audit.RedactJustifications {
		o.redactor = logging.NewRedactor(cfg.Telemetry.Logging.RedactPatterns)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = OpenStore(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}

	sm := o.secrets
	if sm == nil {
		var err error
		if sm, err = secrets.FromConfig(cfg.Security.Secrets, o.logger); err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open secret providers: %w", err)
		}
	}

	erasers := o.erasers
	if erasers == nil {
		erasureCfg, err := resolveErasureSecrets(ctx, sm, cfg.Erasure)
		if err == nil {
			erasers, err = erasure.FromConfig(erasureCfg)
		}
		if err != nil {
			sm.Close()
			store.Close()
			return nil, fmt.Errorf("failed to open erasure targets: %w", err)
		}
	}
	if len(erasers) == 0 {
		o.logger.Warn("No erasure targets configured, deletions only update the ledger")
	}

	e := &Engine{
		cfg:     cfg,
		store:   store,
		erasers: erasers,
		logger:  o.logger.With("component", "engine"),
		now:     o.now,
		metrics: metrics.NewCollector(&cfg.Telemetry.Metrics, o.registry),
		secrets: sm,
	}
	e.wire(o)

	if err := e.loadCatalog(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// OpenStore opens the state store backend selected by cfg.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (lifecycle.Store, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "sqlite", "":
		store, err := storage.NewSQLiteStore(ctx, &storage.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			Driver:      cfg.SQLite.Driver,
			WALMode:     cfg.SQLite.WALMode,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

func (e *Engine) wire(o *options) {
	cfg := e.cfg
	logger := o.logger

	e.catalog = catalog.New(e.store, catalog.WithLogger(logger), catalog.WithClock(o.now))

	auditOpts := []audit.Option{audit.WithLogger(logger), audit.WithClock(o.now)}
	if o.redactor != nil {
		auditOpts = append(auditOpts, audit.WithRedactor(o.redactor))
	}
	e.audit = audit.New(e.store, auditOpts...)

	e.ledger = ledger.New(e.store, e.catalog, e.audit,
		ledger.WithLogger(logger),
		ledger.WithClock(o.now),
		ledger.WithPageSize(cfg.Scheduler.PageSize),
		ledger.WithMetrics(e.metrics),
	)
	e.holds = hold.New(e.store, e.ledger, e.audit,
		hold.WithLogger(logger),
		hold.WithClock(o.now),
		hold.WithMetrics(e.metrics),
	)
	e.anomalies = anomaly.New(e.store, e.audit,
		anomaly.WithLogger(logger),
		anomaly.WithClock(o.now),
		anomaly.WithMetrics(e.metrics),
	)
	e.executor = executor.New(e.ledger, e.store, e.holds, e.erasers, cfg.Executor,
		executor.WithLogger(logger),
		executor.WithClock(o.now),
		executor.WithMetrics(e.metrics),
		executor.WithAnomalyReporter(e.anomalies),
	)
	e.pipeline = anonymize.New(e.store, e.ledger, e.catalog, e.holds, e.executor, e.audit,
		anonymize.WithLogger(logger),
		anonymize.WithClock(o.now),
		anonymize.WithMetrics(e.metrics),
		anonymize.WithKThreshold(cfg.Anonymize.KThreshold),
	)

	jobs := []scheduler.Job{
		scheduler.NewDeletionSweep(e.catalog, e.ledger, e.holds, e.executor, e.anomalies, cfg.Scheduler.ShardsPerCategory, logger),
		scheduler.NewAggregationJob(e.catalog, e.ledger, e.pipeline, logger),
		scheduler.NewAuditScan(e.catalog, e.ledger, e.audit, e.anomalies, cfg.Scheduler.StuckDeletionGrace, logger),
	}
	leases := lease.New(e.store, cfg.Scheduler.WorkerID, cfg.Scheduler.LeaseTTL,
		lease.WithLogger(logger),
		lease.WithClock(o.now),
	)
	e.scheduler = scheduler.New(cfg.Scheduler, leases, jobs,
		scheduler.WithLogger(logger),
		scheduler.WithClock(o.now),
		scheduler.WithMetrics(e.metrics),
		scheduler.WithRefresher(e.catalog),
	)

	e.health = health.New(cfg.Telemetry.Health.CheckTimeout)
	e.health.RegisterCriticalCheck("store", health.StoreCheck(e.store))
	e.health.RegisterCheck("catalog", health.CatalogCheck(e.catalog))
	e.health.RegisterCheck(scheduler.JobDeletionSweep, health.JobFreshnessCheck(e.scheduler, scheduler.JobDeletionSweep, sweepFreshness, o.now))
}

func (e *Engine) loadCatalog(ctx context.Context) error {
	if err := e.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load policy catalog: %w", err)
	}
	if e.cfg.Catalog.Git.Enabled {
		return e.syncCatalogRepository(ctx)
	}
	if e.cfg.Catalog.FilePath == "" {
		return nil
	}

	draft, err := catalog.LoadFile(e.cfg.Catalog.FilePath)
	if err != nil {
		return err
	}
	if latest := e.catalog.Latest(); latest != nil && !draft.EffectiveDate.After(latest.EffectiveDate) {
		return nil
	}
	v, err := e.catalog.Publish(ctx, draft)
	if err != nil {
		return fmt.Errorf("failed to publish catalog file %s: %w", e.cfg.Catalog.FilePath, err)
	}
	e.logger.Info("Catalog file published", "path", e.cfg.Catalog.FilePath, "version", v.Version)
	return nil
}

// syncCatalogRepository performs the first sync of the catalog repository.
// A failed sync is fatal only while no catalog version has been published.
func (e *Engine) syncCatalogRepository(ctx context.Context) error {
	gitCfg, err := resolveGitSecrets(ctx, e.secrets, e.cfg.Catalog.Git)
	if err != nil {
		return err
	}
	repo, err := gitsync.NewRepository(gitCfg)
	if err != nil {
		return fmt.Errorf("failed to configure catalog repository: %w", err)
	}
	e.gitSync = gitsync.NewSyncer(repo, e.catalog, gitCfg.PollInterval, e.logger)
	e.health.RegisterCheck("catalog_repository", health.SyncCheck(e.gitSync))

	result, err := e.gitSync.Sync(ctx)
	if err != nil {
		if e.catalog.Latest() == nil {
			return fmt.Errorf("failed to sync catalog repository: %w", err)
		}
		e.logger.Warn("Catalog repository sync failed, continuing with published catalog",
			"error", err,
			"version", e.catalog.Latest().Version,
		)
		return nil
	}
	e.logger.Info("Catalog repository synced",
		"repository", gitCfg.Repository,
		"commit", result.Commit.SHA,
		"published", result.Published != nil,
	)
	return nil
}

// Start starts the cron scheduler and, when configured, the catalog file
// watcher or repository poller. All stop when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if e.gitSync != nil {
		go e.gitSync.Run(ctx)
	}
	if e.cfg.Catalog.Watch && e.cfg.Catalog.FilePath != "" {
		w, err := catalog.NewWatcher(e.catalog, e.cfg.Catalog.FilePath, e.cfg.Catalog.DebounceInterval, e.logger)
		if err != nil {
			return fmt.Errorf("failed to create catalog watcher: %w", err)
		}
		e.watcher = w
		go func() {
			if err := w.Watch(ctx); err != nil {
				e.logger.Error("Catalog file watcher exited", "error", err)
			}
		}()
	}

	if !e.cfg.Scheduler.Enabled {
		e.logger.Info("Scheduler disabled, jobs run only on demand")
		return nil
	}
	return e.scheduler.Start(ctx)
}

// Close stops background work and releases the store and erasure targets.
func (e *Engine) Close() error {
	e.scheduler.Stop()

	var errs []error
	if e.watcher != nil {
		if err := e.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop catalog watcher: %w", err))
		}
	}
	if err := e.erasers.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state store: %w", err))
	}
	if err := e.secrets.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close secret providers: %w", err))
	}
	return errors.Join(errs...)
}

// Metrics returns the metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Health returns the health checker.
func (e *Engine) Health() *health.Checker { return e.health }

// Secrets returns the secret manager.
func (e *Engine) Secrets() *secrets.Manager { return e.secrets }

// Scheduler returns the job scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Catalog returns the policy catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// ErasureTargets returns the names of the configured erasure targets.
func (e *Engine) ErasureTargets() []string { return e.executor.Stores() }

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", lifecycle.ErrInvalidArgument, field)
	}
	return nil
}

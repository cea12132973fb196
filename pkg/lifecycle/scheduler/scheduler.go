// Package scheduler runs the periodic lifecycle jobs: the daily deletion
// sweep, the weekly aggregation job and the monthly audit scan.
//
// A run refreshes the catalog, lists the job's shards and processes them
// concurrently, each under its own lease. A shard whose lease is held
// elsewhere, or lost mid-run, is skipped and picked up by the next run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/metrics"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// LeaseRunner runs fn while holding the named shard lease.
type LeaseRunner interface {
	Run(ctx context.Context, shard string, fn func(ctx context.Context) error) error
}

// Refresher reloads shared state before a run.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// RunReport summarizes one job run.
type RunReport struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id"`
	Category   string         `json:"category,omitempty"`
	AsOf       time.Time      `json:"as_of"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Shards     int            `json:"shards"`
	Contended  []string       `json:"contended,omitempty"`
	Outcomes   map[string]int `json:"outcomes"`
}

// Scheduler triggers jobs on cron schedules and runs them on demand.
type Scheduler struct {
	jobs      map[string]Job
	schedules map[string]string
	leases    LeaseRunner
	refresher Refresher
	workers   int
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.Mutex
	cron        *cron.Cron
	entries     map[string]cron.EntryID
	running     bool
	lastSuccess map[string]time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides the time source used as a run's asOf.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics records job runs on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Scheduler) { s.metrics = collector }
}

// WithRefresher reloads r at the start of every run. A failed refresh
// aborts the run.
func WithRefresher(r Refresher) Option {
	return func(s *Scheduler) { s.refresher = r }
}

// New creates a scheduler for jobs. Schedules are read from cfg by job name.
func New(cfg config.SchedulerConfig, leases LeaseRunner, jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs: make(map[string]Job, len(jobs)),
		schedules: map[string]string{
			JobDeletionSweep: cfg.DailySchedule,
			JobAggregation:   cfg.WeeklySchedule,
			JobAuditScan:     cfg.MonthlySchedule,
		},
		leases:      leases,
		workers:     max(cfg.Workers, 1),
		logger:      slog.Default().With("component", "scheduler"),
		now:         time.Now,
		entries:     make(map[string]cron.EntryID),
		lastSuccess: make(map[string]time.Time),
	}
	for _, job := range jobs {
		s.jobs[job.Name()] = job
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	return slices.Sorted(maps.Keys(s.jobs))
}

// Start registers every job that has a schedule and starts the cron loop.
// The loop stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	cl := cronLogger{s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	for _, name := range s.Jobs() {
		spec := s.schedules[name]
		if spec == "" {
			s.logger.Info("Job has no schedule, skipping", "job", name)
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid cron schedule %q for job %s: %w", spec, name, err)
		}
		job := s.jobs[name]
		id, err := c.AddFunc(spec, func() {
			if _, err := s.run(ctx, job, ""); err != nil {
				s.logger.Error("Scheduled job failed", "job", job.Name(), "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		s.entries[name] = id
	}

	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("Scheduler started", "jobs", len(s.entries), "workers", s.workers)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil || !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the cron loop is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled run of job.
func (s *Scheduler) NextRun(job string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[job]
	if !ok || s.cron == nil {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// LastSuccess returns when job last completed without error.
func (s *Scheduler) LastSuccess(job string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.lastSuccess[job]
	return t, ok
}

// RunOnce runs job immediately. A non-empty category restricts the run to
// that category's shards.
func (s *Scheduler) RunOnce(ctx context.Context, job, category string) (*RunReport, error) {
	j, ok := s.jobs[job]
	if !ok {
		return nil, fmt.Errorf("%w: unknown job %q", lifecycle.ErrInvalidArgument, job)
	}
	return s.run(ctx, j, category)
}

func (s *Scheduler) run(ctx context.Context, job Job, category string) (*RunReport, error) {
	report := &RunReport{
		Job:       job.Name(),
		RunID:     uuid.New().String(),
		Category:  category,
		StartedAt: time.Now(),
		Outcomes:  make(map[string]int),
	}
	report.AsOf = s.now().UTC()
	ctx = logging.WithJob(ctx, report.Job, report.RunID)
	logger := s.logger.With("job", report.Job, "run_id", report.RunID)
	ctx, span := tracing.Start(ctx, "job."+report.Job,
		tracing.AttrJob.String(report.Job),
		tracing.AttrRunID.String(report.RunID),
		tracing.AttrCategory.String(category),
	)

	err := s.runShards(ctx, job, category, report, logger)
	tracing.End(span, err)
	report.FinishedAt = time.Now()
	duration := report.FinishedAt.Sub(report.StartedAt)

	for outcome, n := range report.Outcomes {
		s.metrics.RecordRecordsProcessed(report.Job, outcome, n)
	}
	status := "success"
	switch {
	case err != nil:
		status = "failed"
	case len(report.Contended) > 0:
		status = "contended"
	}
	s.metrics.RecordJobRun(report.Job, status, duration)

	if err != nil {
		logger.Error("Job run failed", "error", err, "duration", duration)
		return report, err
	}

	s.mu.Lock()
	s.lastSuccess[report.Job] = report.FinishedAt
	s.mu.Unlock()

	logger.Info("Job run completed",
		"category", category,
		"shards", report.Shards,
		"contended", len(report.Contended),
		"outcomes", report.Outcomes,
		"duration", duration,
	)
	return report, nil
}

func (s *Scheduler) runShards(ctx context.Context, job Job, category string, report *RunReport, logger *slog.Logger) error {
	if s.refresher != nil {
		if err := s.refresher.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh catalog: %w", err)
		}
	}

	shards, err := job.Shards(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shards: %w", err)
	}
	if category != "" {
		shards = slices.DeleteFunc(shards, func(sh Shard) bool { return sh.Category != category })
		if len(shards) == 0 {
			return fmt.Errorf("%w: no %s shard for category %q", lifecycle.ErrInvalidArgument, job.Name(), category)
		}
	}
	report.Shards = len(shards)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, shard := range shards {
		key := shard.Key(job.Name())
		g.Go(func() error {
			err := s.leases.Run(gctx, key, func(ctx context.Context) error {
				ctx, span := tracing.Start(ctx, "shard", tracing.AttrShard.String(key))
				result, err := job.RunShard(ctx, shard, report.AsOf)
				tracing.End(span, err)
				if result != nil {
					mu.Lock()
					for outcome, n := range result.Outcomes() {
						report.Outcomes[outcome] += n
					}
					mu.Unlock()
				}
				return err
			})

			var contention *lifecycle.LeaseContentionError
			switch {
			case errors.As(err, &contention):
				s.metrics.RecordLeaseContention(job.Name())
				logger.Info("Shard skipped, lease held elsewhere", "shard", key)
				mu.Lock()
				report.Contended = append(report.Contended, key)
				mu.Unlock()
				return nil
			case err != nil:
				return fmt.Errorf("shard %s: %w", key, err)
			}
			logger.Debug("Shard completed", "shard", key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	slices.Sort(report.Contended)
	return nil
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

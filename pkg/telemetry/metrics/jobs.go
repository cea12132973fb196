package metrics

import (
	"time"

	"mercator-hq/lethe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// JobMetrics tracks the scheduled sweep, aggregation and audit scan jobs.
//
// Metrics:
//   - lethe_lifecycle_job_runs_total: Job runs by job and status
//   - lethe_lifecycle_job_duration_seconds: Job run duration
//   - lethe_lifecycle_records_processed_total: Records handled by job and outcome
//   - lethe_lifecycle_lease_contention_total: Shards skipped because another worker holds the lease
//   - lethe_lifecycle_aggregates_published_total: Anonymized aggregates published by category
type JobMetrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	recordsProcessed *prometheus.CounterVec
	leaseContention  *prometheus.CounterVec
	aggregatesTotal  *prometheus.CounterVec
}

// NewJobMetrics creates and registers job metrics with the provided registry.
func NewJobMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JobMetrics {
	jm := &JobMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "job_runs_total",
				Help:      "Total number of scheduled job runs",
			},
			[]string{"job", "status"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "job_duration_seconds",
				Help:      "Duration of scheduled job runs in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"job"},
		),

		recordsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "records_processed_total",
				Help:      "Total number of records handled by scheduled jobs",
			},
			[]string{"job", "outcome"},
		),

		leaseContention: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "lease_contention_total",
				Help:      "Total number of shards skipped because another worker holds the lease",
			},
			[]string{"job"},
		),

		aggregatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "aggregates_published_total",
				Help:      "Total number of anonymized aggregates published",
			},
			[]string{"category"},
		),
	}

	registry.MustRegister(
		jm.runsTotal,
		jm.runDuration,
		jm.recordsProcessed,
		jm.leaseContention,
		jm.aggregatesTotal,
	)

	return jm
}

// RecordRun records a finished job run.
func (jm *JobMetrics) RecordRun(job, status string, duration time.Duration) {
	jm.runsTotal.WithLabelValues(job, status).Inc()
	jm.runDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordProcessed adds n records with the given outcome.
func (jm *JobMetrics) RecordProcessed(job, outcome string, n int) {
	jm.recordsProcessed.WithLabelValues(job, outcome).Add(float64(n))
}

// RecordLeaseContention counts one skipped shard.
func (jm *JobMetrics) RecordLeaseContention(job string) {
	jm.leaseContention.WithLabelValues(job).Inc()
}

// RecordAggregate counts one published aggregate.
func (jm *JobMetrics) RecordAggregate(category string) {
	jm.aggregatesTotal.WithLabelValues(category).Inc()
}

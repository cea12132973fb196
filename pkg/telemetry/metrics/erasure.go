package metrics

import (
	"time"

	"mercator-hq/lethe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ErasureMetrics tracks physical deletion across the configured stores.
//
// Metrics:
//   - lethe_lifecycle_deletions_total: Deletion attempts by outcome
//   - lethe_lifecycle_erasure_attempts_total: Per-store erase calls by result
//   - lethe_lifecycle_erasure_duration_seconds: Per-store erase latency
type ErasureMetrics struct {
	deletionsTotal  *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	erasureDuration *prometheus.HistogramVec
}

// NewErasureMetrics creates and registers erasure metrics with the provided registry.
func NewErasureMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ErasureMetrics {
	em := &ErasureMetrics{
		deletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "deletions_total",
				Help:      "Total number of deletion executions by outcome",
			},
			[]string{"outcome"},
		),

		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "erasure_attempts_total",
				Help:      "Total number of erase calls against a store",
			},
			[]string{"store", "result"},
		),

		erasureDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "erasure_duration_seconds",
				Help:      "Duration of erase calls in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"store"},
		),
	}

	registry.MustRegister(
		em.deletionsTotal,
		em.attemptsTotal,
		em.erasureDuration,
	)

	return em
}

// RecordDeletion counts one deletion execution.
func (em *ErasureMetrics) RecordDeletion(outcome string) {
	em.deletionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAttempt records one erase call against a store.
func (em *ErasureMetrics) RecordAttempt(store, result string, duration time.Duration) {
	em.attemptsTotal.WithLabelValues(store, result).Inc()
	em.erasureDuration.WithLabelValues(store).Observe(duration.Seconds())
}

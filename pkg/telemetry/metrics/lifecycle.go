package metrics

import (
	"mercator-hq/lethe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics tracks record state changes and the events that cause them.
//
// Metrics:
//   - lethe_lifecycle_transitions_total: Committed transitions by from, to and reason
//   - lethe_lifecycle_holds_total: Legal hold placements and releases
//   - lethe_lifecycle_anomalies_total: Anomalies reported by kind
type LifecycleMetrics struct {
	transitionsTotal *prometheus.CounterVec
	holdsTotal       *prometheus.CounterVec
	anomaliesTotal   *prometheus.CounterVec
}

// NewLifecycleMetrics creates and registers lifecycle metrics with the provided registry.
func NewLifecycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LifecycleMetrics {
	lm := &LifecycleMetrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transitions_total",
				Help:      "Total number of committed record state transitions",
			},
			[]string{"from", "to", "reason"},
		),

		holdsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "holds_total",
				Help:      "Total number of legal hold placements and releases",
			},
			[]string{"action"},
		),

		anomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "anomalies_total",
				Help:      "Total number of lifecycle anomalies reported",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		lm.transitionsTotal,
		lm.holdsTotal,
		lm.anomaliesTotal,
	)

	return lm
}

// RecordTransition counts one committed transition.
func (lm *LifecycleMetrics) RecordTransition(from, to, reason string) {
	lm.transitionsTotal.WithLabelValues(from, to, reason).Inc()
}

// RecordHold counts a hold action ("placed" or "released").
func (lm *LifecycleMetrics) RecordHold(action string) {
	lm.holdsTotal.WithLabelValues(action).Inc()
}

// RecordAnomaly counts one reported anomaly.
func (lm *LifecycleMetrics) RecordAnomaly(kind string) {
	lm.anomaliesTotal.WithLabelValues(kind).Inc()
}

package metrics

import (
	"sync"
	"time"

	"mercator-hq/lethe/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the main orchestrator for all Prometheus metrics in Lethe.
// It manages metric registration and provides a unified interface for
// recording metrics across the ledger, executor and scheduler.
//
// All Record methods are safe to call on a nil *Collector, so components
// accept an optional collector without guarding every call site.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	lifecycleMetrics *LifecycleMetrics
	erasureMetrics   *ErasureMetrics
	jobMetrics       *JobMetrics

	// Category names come from published catalogs, so they are capped.
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "lethe",
//		Subsystem: "lifecycle",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = config.DefaultDurationBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.lifecycleMetrics = NewLifecycleMetrics(cfg, registry)
	c.erasureMetrics = NewErasureMetrics(cfg, registry)
	c.jobMetrics = NewJobMetrics(cfg, registry)

	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordTransition records a committed state transition.
//
// Example:
//
//	collector.RecordTransition("Active", "PendingDeletion", "policy-expired")
func (c *Collector) RecordTransition(from, to, reason string) {
	if !c.enabled() {
		return
	}

	c.lifecycleMetrics.RecordTransition(from, to, reason)
}

// RecordHold records a legal hold being placed or released.
//
// Parameters:
//   - action: "placed" or "released"
func (c *Collector) RecordHold(action string) {
	if !c.enabled() {
		return
	}

	c.lifecycleMetrics.RecordHold(action)
}

// RecordAnomaly records a reported anomaly.
func (c *Collector) RecordAnomaly(kind string) {
	if !c.enabled() {
		return
	}

	c.lifecycleMetrics.RecordAnomaly(kind)
}

// RecordDeletion records the outcome of one deletion execution.
//
// Parameters:
//   - outcome: "completed", "partial", "held" or "verification_failed"
func (c *Collector) RecordDeletion(outcome string) {
	if !c.enabled() {
		return
	}

	c.erasureMetrics.RecordDeletion(outcome)
}

// RecordErasureAttempt records one erase call against a named store.
//
// Parameters:
//   - store: Store name from the erasure configuration
//   - result: "success" or "error"
//   - duration: Call duration
func (c *Collector) RecordErasureAttempt(store, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.erasureMetrics.RecordAttempt(store, result, duration)
}

// RecordJobRun records a finished scheduled job.
//
// Parameters:
//   - job: "daily", "weekly" or "monthly"
//   - status: "success" or "error"
//   - duration: Run duration
func (c *Collector) RecordJobRun(job, status string, duration time.Duration) {
	if !c.enabled() {
		return
	}

	c.jobMetrics.RecordRun(job, status, duration)
}

// RecordRecordsProcessed adds n records handled by a job with an outcome
// such as "deleted", "anonymized" or "skipped".
func (c *Collector) RecordRecordsProcessed(job, outcome string, n int) {
	if !c.enabled() || n == 0 {
		return
	}

	c.jobMetrics.RecordProcessed(job, outcome, n)
}

// RecordLeaseContention records a shard skipped because its lease is held.
func (c *Collector) RecordLeaseContention(job string) {
	if !c.enabled() {
		return
	}

	c.jobMetrics.RecordLeaseContention(job)
}

// RecordAggregatePublished records a published anonymized aggregate.
func (c *Collector) RecordAggregatePublished(category string) {
	if !c.enabled() {
		return
	}

	if !c.cardinalityLimiter.Allow(category) {
		category = "other"
	}
	c.jobMetrics.RecordAggregate(category)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label values per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label value may be used. Values already seen are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}

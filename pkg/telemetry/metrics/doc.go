// Package metrics provides Prometheus metrics collection for Lethe.
//
// # Metrics Categories
//
//   - Lifecycle Metrics: State transitions, legal holds and anomalies
//   - Erasure Metrics: Deletion outcomes and per-store erase calls
//   - Job Metrics: Scheduled job runs, processed records, lease contention
//     and published aggregates
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
//	collector.RecordTransition("Active", "PendingDeletion", "policy-expired")
//	collector.RecordJobRun("daily", "success", time.Since(start))
//
// A nil *Collector records nothing, which is what tests and the one-shot CLI
// commands use.
//
// # Prometheus Endpoint
//
// All metrics are exposed on the configured path in OpenMetrics format:
//
//	# HELP lethe_lifecycle_transitions_total Total number of committed record state transitions
//	# TYPE lethe_lifecycle_transitions_total counter
//	lethe_lifecycle_transitions_total{from="Active",reason="policy-expired",to="PendingDeletion"} 42
//
// # Cardinality Management
//
// Category labels are capped at 1,000 distinct values; further categories are
// reported as "other". Record and owner identifiers are never used as labels.
package metrics

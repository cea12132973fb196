// Package telemetry groups lethe's observability packages.
//
// # Components
//
//   - logging: slog handlers with PII redaction and context fields for
//     request ID, actor and job run
//   - metrics: Prometheus collectors for job runs, erasure attempts, state
//     transitions, holds and anomalies
//   - health: liveness and readiness checks over the state store, the
//     policy catalog and deletion sweep freshness
//   - tracing: OpenTelemetry spans for HTTP requests, job runs, shards and
//     per-store erasure
//
// # Configuration
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//	    redact_pii: true
//	  metrics:
//	    enabled: true
//	    path: /metrics
//	  health:
//	    enabled: true
//	    liveness_path: /health
//	    readiness_path: /ready
//	  tracing:
//	    enabled: false
//	    endpoint: otel-collector:4317
//
// Each subpackage is configured from its section and wired by the engine
// and the HTTP server; there is no shared telemetry object.
package telemetry

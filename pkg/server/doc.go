// Package server provides the HTTP surface of the retention engine.
//
// Upstream systems register records, report activity and consent
// withdrawals, and manage legal holds. Compliance consumers read deletion
// certificates, the audit log, the current policy catalog and anomaly
// reports. Operators trigger jobs and override record states.
//
// # Routes
//
// Ingress:
//
//   - POST /v1/records - Register a record
//   - POST /v1/records/{id}/touch - Report activity
//   - POST /v1/records/{id}/consent-withdrawal - Report consent withdrawal
//   - POST /v1/holds - Place a legal hold
//   - POST /v1/holds/{id}/release - Release a legal hold
//
// Egress:
//
//   - GET /v1/records/{id} - Record state
//   - GET /v1/records/{id}/certificate - Deletion certificate
//   - GET /v1/holds - Legal holds (?active=true)
//   - GET /v1/audit - Audit entries (?from=&to=, RFC 3339)
//   - GET /v1/catalog - Catalog version in effect
//   - GET /v1/anomalies - Anomaly reports (?kind=&since=&limit=)
//
// Operations:
//
//   - POST /v1/admin/jobs/{job} - Run a job now (?category=)
//   - POST /v1/admin/records/{id}/state - Manual state override
//   - POST /v1/admin/catalog - Publish a catalog version (YAML body)
//   - GET /v1/admin/audit/verify - Recompute the audit hash chain
//
// Health, readiness, metrics and version endpoints are mounted at the paths
// configured under telemetry.
//
// # Actors and Authentication
//
// The actor recorded in the audit log comes from, in increasing precedence,
// the X-Lethe-Actor header, the verified client certificate when mutual TLS
// is enabled, and the API key's name when authentication is enabled. With
// authentication on, every /v1 route requires a key: ingress routes need
// the ingest role, egress routes need read, and holds and admin routes
// need operator.
//
// # Middleware Chain
//
// Requests pass through the following middleware (outermost first):
//  1. Recovery: Recovers from panics and returns 500 error
//  2. RequestID: Assigns or propagates X-Request-ID
//  3. Tracing: Continues the W3C traceparent and opens a server span
//  4. Logging: Logs request/response details
//  5. Actor: Copies X-Lethe-Actor into the request context
//  6. Client identity (mTLS only): Replaces the actor with the certificate identity
//  7. Authentication (/v1 only): Validates the API key and sets the actor
package server

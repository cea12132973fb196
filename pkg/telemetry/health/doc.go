// Package health provides liveness and readiness probes for Lethe.
//
// # Liveness vs Readiness
//
// Liveness (/health) only reports that the process is running.
//
// Readiness (/ready) runs every registered component check concurrently,
// each bounded by the configured check timeout:
//   - "ready": all checks pass (200)
//   - "degraded": a non-critical check failed (503)
//   - "unhealthy": a critical check failed (503)
//
// # Component Health Checks
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCriticalCheck("store", health.StoreCheck(store))
//	checker.RegisterCheck("catalog", health.CatalogCheck(cat))
//	checker.RegisterCheck("daily_job", health.JobFreshnessCheck(sched, "daily", 48*time.Hour, nil))
//
// Common component checks:
//   - store: State store answers a ping (critical)
//   - catalog: A policy catalog version has been published
//   - daily_job: The deletion sweep has succeeded recently
package health

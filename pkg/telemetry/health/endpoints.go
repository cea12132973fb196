package health

import (
	"encoding/json"
	"net/http"
	"runtime"
)

// VersionInfo contains build and version information.
type VersionInfo struct {
	// Version is the semantic version (e.g., "1.0.0")
	Version string `json:"version"`

	// Commit is the git commit hash
	Commit string `json:"commit"`

	// BuildTime is when the binary was built
	BuildTime string `json:"build_time"`

	// GoVersion is the Go version used to build
	GoVersion string `json:"go_version"`
}

// LivenessHandler returns an HTTP handler for the liveness probe endpoint.
//
// Example response:
//
//	{
//	    "status": "ok",
//	    "timestamp": "2026-10-16T10:30:00Z"
//	}
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		writeStatus(w, r, http.StatusOK, c.CheckLiveness(r.Context()))
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe endpoint.
// It performs all registered component health checks.
//
// Returns:
//   - 200 OK: All checks pass
//   - 503 Service Unavailable: Any check failed (degraded or unhealthy)
//
// Example response (degraded):
//
//	{
//	    "status": "degraded",
//	    "checks": {
//	        "store": {"status": "ok", "critical": true},
//	        "catalog": {"status": "unhealthy", "message": "no policy catalog version published"}
//	    },
//	    "timestamp": "2026-10-16T10:30:00Z"
//	}
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.CheckReadiness(r.Context())

		code := http.StatusOK
		if status.Status != "ready" {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, r, code, status)
	}
}

func writeStatus(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// VersionHandler returns an HTTP handler for the version information endpoint.
func VersionHandler(version, commit, buildTime string) http.HandlerFunc {
	info := VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		writeStatus(w, r, http.StatusOK, info)
	}
}

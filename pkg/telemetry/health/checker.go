package health

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// CheckFunc is a function that performs a health check for a component.
// It returns nil if the component is healthy, or an error describing the problem.
type CheckFunc func(ctx context.Context) error

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Status is the health status: "ok" or "unhealthy"
	Status string `json:"status"`

	// Message provides additional context (usually for unhealthy status)
	Message string `json:"message,omitempty"`

	// Critical marks checks whose failure makes the service unhealthy
	// rather than degraded.
	Critical bool `json:"critical,omitempty"`

	// Duration is how long the check took
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// HealthStatus represents the overall health status of the system.
type HealthStatus struct {
	// Status is the overall status: "ok", "ready", "degraded", "unhealthy"
	Status string `json:"status"`

	// Checks contains the status of individual components (for readiness)
	Checks map[string]CheckResult `json:"checks,omitempty"`

	// Timestamp is when the health check was performed
	Timestamp time.Time `json:"timestamp"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker manages health checks for system components.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]registeredCheck

	// Timeout for individual checks
	checkTimeout time.Duration
}

// ErrCheckTimeout is returned when a health check times out
var ErrCheckTimeout = errors.New("health check timeout")

// New creates a new health checker with the specified check timeout.
// If timeout is 0, defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}

	return &Checker{
		checks:       make(map[string]registeredCheck),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck registers a non-critical health check for a named component.
// A failing non-critical check degrades readiness. If a check with the same
// name already exists, it will be replaced.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.register(name, check, false)
}

// RegisterCriticalCheck registers a check whose failure marks the service
// unhealthy, such as the state store.
func (c *Checker) RegisterCriticalCheck(name string, check CheckFunc) {
	c.register(name, check, true)
}

func (c *Checker) register(name string, check CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registeredCheck{fn: check, critical: critical}
}

// UnregisterCheck removes a health check for a named component.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.checks, name)
}

// CheckLiveness performs a simple liveness check.
// It returns a healthy status if the process is running.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
	}
}

// CheckReadiness runs all registered checks concurrently and aggregates them.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			result := c.runCheck(ctx, check.fn)
			result.Critical = check.critical

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "ready"
	for _, result := range results {
		if result.Status != "unhealthy" {
			continue
		}
		if result.Critical {
			status = "unhealthy"
			break
		}
		status = "degraded"
	}

	return HealthStatus{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now(),
	}
}

// runCheck executes a single health check with timeout.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()

	errChan := make(chan error, 1)
	go func() {
		errChan <- check(checkCtx)
	}()

	select {
	case err := <-errChan:
		duration := time.Since(start)
		if err != nil {
			return CheckResult{
				Status:   "unhealthy",
				Message:  err.Error(),
				Duration: duration,
			}
		}
		return CheckResult{
			Status:   "ok",
			Duration: duration,
		}

	case <-checkCtx.Done():
		return CheckResult{
			Status:   "unhealthy",
			Message:  ErrCheckTimeout.Error(),
			Duration: time.Since(start),
		}
	}
}

// ListChecks returns the sorted names of all registered health checks.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return slices.Sorted(maps.Keys(c.checks))
}

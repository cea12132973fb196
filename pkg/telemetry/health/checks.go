package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
)

// Pinger is implemented by state stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck reports whether the state store answers.
func StoreCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("state store unreachable: %w", err)
		}
		return nil
	}
}

// CatalogSource exposes the latest published catalog version.
type CatalogSource interface {
	Latest() *lifecycle.CatalogVersion
}

// CatalogCheck fails until at least one catalog version is published.
// Without one, every sweep would flag every record as an unknown category.
func CatalogCheck(src CatalogSource) CheckFunc {
	return func(ctx context.Context) error {
		if src.Latest() == nil {
			return errors.New("no policy catalog version published")
		}
		return nil
	}
}

// JobStatus reports when a scheduled job last succeeded.
type JobStatus interface {
	LastSuccess(job string) (time.Time, bool)
}

// JobFreshnessCheck fails when job has not succeeded within maxAge.
// A job that has never run since startup is reported healthy.
func JobFreshnessCheck(status JobStatus, job string, maxAge time.Duration, now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context) error {
		last, ok := status.LastSuccess(job)
		if !ok {
			return nil
		}
		if age := now().Sub(last); age > maxAge {
			return fmt.Errorf("%s job last succeeded %s ago", job, age.Round(time.Minute))
		}
		return nil
	}
}

// SyncStatus reports the outcome of the most recent background sync.
type SyncStatus interface {
	LastError() error
}

// SyncCheck fails while the last sync of src failed.
func SyncCheck(src SyncStatus) CheckFunc {
	return func(ctx context.Context) error {
		if err := src.LastError(); err != nil {
			return fmt.Errorf("last sync failed: %w", err)
		}
		return nil
	}
}

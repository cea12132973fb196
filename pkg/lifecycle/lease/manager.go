// Package lease grants workers exclusive, expiring ownership of job shards.
//
// A lease is the only failover mechanism between workers: a crashed worker
// simply stops renewing and another one takes the shard once the TTL runs
// out. Work done under a lease must therefore be idempotent.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
)

// DefaultTTL is used when the manager is created with a zero TTL.
const DefaultTTL = 2 * time.Minute

// Manager acquires and renews shard leases for one worker.
type Manager struct {
	store  lifecycle.LeaseStore
	owner  string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a lease manager for owner.
func New(store lifecycle.LeaseStore, owner string, ttl time.Duration, opts ...Option) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		store:  store,
		owner:  owner,
		ttl:    ttl,
		logger: slog.Default().With("component", "lease.manager"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Owner returns the worker identity written into leases.
func (m *Manager) Owner() string {
	return m.owner
}

// Lease is a held shard lease.
type Lease struct {
	lifecycle.ShardLease
	m *Manager
}

// Acquire takes the shard lease. A lease held by another worker yields a
// LeaseContentionError.
func (m *Manager) Acquire(ctx context.Context, shard string) (*Lease, error) {
	now := m.now()
	l := &Lease{
		ShardLease: lifecycle.ShardLease{
			Shard:     shard,
			Owner:     m.owner,
			Token:     uuid.New().String(),
			ExpiresAt: now.Add(m.ttl),
		},
		m: m,
	}
	if err := m.store.AcquireLease(ctx, &l.ShardLease, now); err != nil {
		if errors.Is(err, lifecycle.ErrConflict) {
			return nil, lifecycle.NewLeaseContentionError(shard, err)
		}
		return nil, fmt.Errorf("failed to acquire lease on shard %s: %w", shard, err)
	}
	return l, nil
}

// Renew extends the lease by the manager's TTL.
func (l *Lease) Renew(ctx context.Context) error {
	now := l.m.now()
	expires := now.Add(l.m.ttl)
	if err := l.m.store.RenewLease(ctx, l.Shard, l.Token, now, expires); err != nil {
		return lifecycle.NewLeaseContentionError(l.Shard, err)
	}
	l.ExpiresAt = expires
	return nil
}

// Release gives the shard up. Releasing a lease that was already taken over
// is a no-op.
func (l *Lease) Release(ctx context.Context) error {
	return l.m.store.ReleaseLease(ctx, l.Shard, l.Token)
}

// Run holds the shard lease while fn runs. The lease is renewed every third
// of the TTL; if a renewal fails, fn's context is cancelled and Run returns
// a LeaseContentionError.
func (m *Manager) Run(ctx context.Context, shard string, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, shard)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(m.ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := l.Renew(runCtx); err != nil {
					if runCtx.Err() != nil {
						return
					}
					m.logger.Warn("Lease renewal failed, abandoning shard", "shard", shard, "error", err)
					cancel(err)
					return
				}
			}
		}
	}()

	fnErr := fn(runCtx)
	lost := context.Cause(runCtx)
	cancel(nil)
	<-renewDone

	if err := l.Release(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("Failed to release lease", "shard", shard, "error", err)
	}

	var contention *lifecycle.LeaseContentionError
	if errors.As(lost, &contention) {
		return contention
	}
	return fnErr
}

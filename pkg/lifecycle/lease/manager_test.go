package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/storage"
)

func TestAcquire_Contention(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	a := New(store, "worker-a", time.Minute)
	b := New(store, "worker-b", time.Minute)

	held, err := a.Acquire(ctx, "daily/session-cookie/0")
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	_, err = b.Acquire(ctx, "daily/session-cookie/0")
	var contention *lifecycle.LeaseContentionError
	if !errors.As(err, &contention) {
		t.Fatalf("Acquire() error = %v, want LeaseContentionError", err)
	}
	if !lifecycle.IsRetryable(err) {
		t.Error("lease contention should be retryable")
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	if _, err := b.Acquire(ctx, "daily/session-cookie/0"); err != nil {
		t.Errorf("Acquire() after release failed: %v", err)
	}
}

func TestAcquire_ExpiredLeaseTakenOver(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)

	a := New(store, "worker-a", time.Minute, WithClock(func() time.Time { return now }))
	held, err := a.Acquire(ctx, "shard")
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	later := now.Add(2 * time.Minute)
	b := New(store, "worker-b", time.Minute, WithClock(func() time.Time { return later }))
	if _, err := b.Acquire(ctx, "shard"); err != nil {
		t.Fatalf("Acquire() of expired lease failed: %v", err)
	}

	if err := held.Renew(ctx); err == nil {
		t.Error("Renew() of a taken-over lease succeeded")
	}
}

func TestRun_ReleasesLease(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m := New(store, "worker-a", time.Minute)

	ran := false
	if err := m.Run(ctx, "shard", func(ctx context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !ran {
		t.Fatal("Run() did not call fn")
	}

	if _, err := New(store, "worker-b", time.Minute).Acquire(ctx, "shard"); err != nil {
		t.Errorf("lease not released after Run(): %v", err)
	}
}

func TestRun_PropagatesError(t *testing.T) {
	m := New(storage.NewMemoryStore(), "worker-a", time.Minute)
	want := errors.New("ledger unreachable")

	if err := m.Run(context.Background(), "shard", func(ctx context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("Run() error = %v, want %v", err, want)
	}
}

// stealingStore hands the lease to someone else on the first renewal.
type stealingStore struct {
	*storage.MemoryStore
	renewals atomic.Int32
}

func (s *stealingStore) RenewLease(ctx context.Context, shard, token string, now, expiresAt time.Time) error {
	s.renewals.Add(1)
	return lifecycle.ErrNotFound
}

func TestRun_RenewalFailureCancels(t *testing.T) {
	store := &stealingStore{MemoryStore: storage.NewMemoryStore()}
	m := New(store, "worker-a", 30*time.Millisecond)

	err := m.Run(context.Background(), "shard", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})

	var contention *lifecycle.LeaseContentionError
	if !errors.As(err, &contention) {
		t.Fatalf("Run() error = %v, want LeaseContentionError", err)
	}
	if contention.Shard != "shard" {
		t.Errorf("Shard = %q", contention.Shard)
	}
	if store.renewals.Load() == 0 {
		t.Error("lease was never renewed")
	}
}

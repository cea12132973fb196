package ratelimit

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ConcurrentLimiter caps the number of operations in flight.
type ConcurrentLimiter struct {
	sem     *semaphore.Weighted
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter allowing limit operations at once.
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: int64(limit),
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (cl *ConcurrentLimiter) Acquire(ctx context.Context) error {
	if err := cl.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cl.current.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking.
func (cl *ConcurrentLimiter) TryAcquire() bool {
	if !cl.sem.TryAcquire(1) {
		return false
	}
	cl.current.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (cl *ConcurrentLimiter) Release() {
	cl.current.Add(-1)
	cl.sem.Release(1)
}

// Current returns the number of slots in use.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the maximum number of slots.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

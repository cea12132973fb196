package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket allows bursts up to its capacity while holding the average
// rate to refillRate tokens per second. Partial tokens accumulate, so a
// rate below one per second still refills.
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket.
//
//	// 10 erasures/sec average, burst up to 50
//	bucket := NewTokenBucket(50, 10)
func NewTokenBucket(capacity int64, refillRate float64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

func newTokenBucket(capacity int64, refillRate float64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now(),
		now:        now,
	}
}

// Take consumes n tokens if they are available.
func (tb *TokenBucket) Take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Wait blocks until one token is available and consumes it, or returns
// ctx's error.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tb.Take(1) {
			return nil
		}

		timer := time.NewTimer(max(tb.TimeUntilAvailable(1), time.Millisecond))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining returns the number of whole tokens available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return int64(tb.tokens)
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() int64 {
	return int64(tb.capacity)
}

// TimeUntilAvailable returns how long until n tokens will be available.
func (tb *TokenBucket) TimeUntilAvailable(n int64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= float64(n) {
		return 0
	}
	if tb.refillRate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	seconds := (float64(n) - tb.tokens) / tb.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// refillLocked adds the tokens earned since the last refill.
// Caller must hold lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed.Seconds()*tb.refillRate)
	tb.lastRefill = now
}

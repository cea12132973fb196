package ratelimit

import (
	"context"
	"math"
)

// Config describes a limit on operations against one downstream store.
// A zero field disables that part of the limit.
type Config struct {
	// Rate is the average number of operations per second.
	Rate float64

	// Burst is the number of operations allowed back to back. Defaults to
	// the rate rounded up.
	Burst int

	// MaxConcurrent caps operations in flight.
	MaxConcurrent int
}

// Limiter combines a token bucket and a concurrency cap.
type Limiter struct {
	bucket     *TokenBucket
	concurrent *ConcurrentLimiter
}

// New creates a Limiter for cfg, or returns nil when cfg sets no limit.
// A nil Limiter admits everything.
func New(cfg Config) *Limiter {
	if cfg.Rate <= 0 && cfg.MaxConcurrent <= 0 {
		return nil
	}
	l := &Limiter{}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(math.Ceil(cfg.Rate))
		}
		l.bucket = NewTokenBucket(int64(burst), cfg.Rate)
	}
	if cfg.MaxConcurrent > 0 {
		l.concurrent = NewConcurrentLimiter(cfg.MaxConcurrent)
	}
	return l
}

// Acquire waits for a concurrency slot and then for a token. The returned
// release function must be called when the operation finishes.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if l == nil {
		return func() {}, nil
	}
	release = func() {}
	if l.concurrent != nil {
		if err := l.concurrent.Acquire(ctx); err != nil {
			return nil, err
		}
		release = l.concurrent.Release
	}
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}
	return release, nil
}

// InFlight returns the operations currently holding a slot.
func (l *Limiter) InFlight() int64 {
	if l == nil || l.concurrent == nil {
		return 0
	}
	return l.concurrent.Current()
}

// Package ratelimit throttles operations against downstream stores.
//
// A token bucket bounds the average rate and burst of erasures sent to a
// store, and a concurrency limiter bounds how many are in flight across
// every shard and record being deleted at once:
//
//	limiter := ratelimit.New(ratelimit.Config{Rate: 20, Burst: 5, MaxConcurrent: 4})
//	release, err := limiter.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer release()
//
// All limiters are safe for concurrent use.
package ratelimit

package erasure

import (
	"context"
	"io"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/limits/ratelimit"
)

// throttled admits Erase and Exists calls to the wrapped store through a
// limiter shared by every record being deleted.
type throttled struct {
	Eraser
	limiter *ratelimit.Limiter
}

// Throttle wraps e so its calls respect cfg. It returns e unchanged when
// cfg sets no limit.
func Throttle(e Eraser, cfg config.ThrottleConfig) Eraser {
	limiter := ratelimit.New(ratelimit.Config{
		Rate:          cfg.Rate,
		Burst:         cfg.Burst,
		MaxConcurrent: cfg.MaxConcurrent,
	})
	if limiter == nil {
		return e
	}
	return &throttled{Eraser: e, limiter: limiter}
}

func (t *throttled) Erase(ctx context.Context, rec *lifecycle.Record) error {
	release, err := t.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return t.Eraser.Erase(ctx, rec)
}

func (t *throttled) Exists(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	release, err := t.limiter.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()
	return t.Eraser.Exists(ctx, rec)
}

func (t *throttled) Close() error {
	if c, ok := t.Eraser.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

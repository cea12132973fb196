package erasure

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/lifecycle"
)

// KeyClient is the subset of redis.Cmdable used for erasure.
type KeyClient interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisEraser deletes cache keys derived from a record.
type RedisEraser struct {
	name      string
	client    KeyClient
	templates []string
}

// NewRedisEraser creates an eraser deleting the keys produced by templates.
func NewRedisEraser(name string, client KeyClient, templates []string) *RedisEraser {
	return &RedisEraser{name: name, client: client, templates: templates}
}

func (e *RedisEraser) keys(rec *lifecycle.Record) []string {
	keys := make([]string, len(e.templates))
	for i, tpl := range e.templates {
		keys[i] = expand(tpl, rec)
	}
	return keys
}

// Name implements Eraser.
func (e *RedisEraser) Name() string { return e.name }

// Erase implements Eraser. Deleting missing keys succeeds.
func (e *RedisEraser) Erase(ctx context.Context, rec *lifecycle.Record) error {
	if err := e.client.Del(ctx, e.keys(rec)...).Err(); err != nil {
		return fmt.Errorf("redis del on %s: %w", e.name, err)
	}
	return nil
}

// Exists implements Eraser.
func (e *RedisEraser) Exists(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	n, err := e.client.Exists(ctx, e.keys(rec)...).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists on %s: %w", e.name, err)
	}
	return n > 0, nil
}

// Close closes the client when it owns a connection pool.
func (e *RedisEraser) Close() error {
	if c, ok := e.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

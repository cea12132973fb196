// Package erasure removes governed records from the stores that hold copies
// of them: the primary SQL database, caches and file backups.
//
// Every Eraser must be idempotent. Erasing a record that is already gone
// succeeds, so the executor can retry a partially completed deletion.
package erasure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
)

// Eraser removes one record from one store and confirms it is gone.
type Eraser interface {
	// Name identifies the store in certificates and metrics.
	Name() string

	// Erase removes every copy of rec held by the store.
	Erase(ctx context.Context, rec *lifecycle.Record) error

	// Exists reports whether the store still returns any copy of rec.
	Exists(ctx context.Context, rec *lifecycle.Record) (bool, error)
}

// expand substitutes record placeholders in a key or path template.
func expand(template string, rec *lifecycle.Record) string {
	return strings.NewReplacer(
		"{record_id}", rec.ID,
		"{owner_id}", rec.OwnerID,
		"{category}", rec.Category,
	).Replace(template)
}

// Set is the configured list of erasers.
type Set []Eraser

// Names returns the eraser names in configuration order.
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, e := range s {
		names[i] = e.Name()
	}
	return names
}

// Close closes every eraser that holds a connection.
func (s Set) Close() error {
	var errs []error
	for _, e := range s {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close eraser %s: %w", e.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// FromConfig opens every eraser in cfg. Already opened erasers are closed
// when a later one fails.
func FromConfig(cfg config.ErasureConfig) (Set, error) {
	var set Set
	fail := func(err error) (Set, error) {
		_ = set.Close()
		return nil, err
	}

	for _, c := range cfg.SQL {
		e, err := OpenSQL(c)
		if err != nil {
			return fail(err)
		}
		set = append(set, Throttle(e, c.Throttle))
	}
	for _, c := range cfg.Redis {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Address,
			Password: c.Password,
			DB:       c.DB,
		})
		set = append(set, Throttle(NewRedisEraser(c.Name, client, c.KeyTemplates), c.Throttle))
	}
	for _, c := range cfg.Files {
		set = append(set, Throttle(NewFileEraser(c.Name, c.Patterns), c.Throttle))
	}
	return set, nil
}

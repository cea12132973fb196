// Package catalog holds the versioned policy catalog that maps record
// categories to retention rules.
//
// Versions are append-only and chained by hash. Readers never take a lock:
// the version list is an immutable slice swapped atomically on Refresh and
// Publish.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
)

// Draft is an unpublished catalog version.
type Draft struct {
	EffectiveDate time.Time
	Rules         []lifecycle.RetentionRule
}

// Catalog is the in-process view of the persisted catalog versions.
type Catalog struct {
	store    lifecycle.CatalogStore
	versions atomic.Pointer[[]*lifecycle.CatalogVersion]
	logger   *slog.Logger
	now      func() time.Time

	// publishMu serializes writers. Readers use versions only.
	publishMu sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) { c.logger = logger }
}

// WithClock overrides the time source used for published_at.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates an empty catalog. Call Refresh to load persisted versions.
func New(store lifecycle.CatalogStore, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		logger: slog.Default().With("component", "catalog"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	empty := []*lifecycle.CatalogVersion{}
	c.versions.Store(&empty)
	return c
}

// Refresh reloads every version from the store.
func (c *Catalog) Refresh(ctx context.Context) error {
	versions, err := c.store.ListCatalogVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load catalog versions: %w", err)
	}
	c.versions.Store(&versions)
	return nil
}

// Versions returns all versions, oldest first. The result must not be modified.
func (c *Catalog) Versions() []*lifecycle.CatalogVersion {
	return *c.versions.Load()
}

// Latest returns the most recently published version, or nil.
func (c *Catalog) Latest() *lifecycle.CatalogVersion {
	versions := c.Versions()
	if len(versions) == 0 {
		return nil
	}
	return versions[len(versions)-1]
}

// Current returns the latest version with an effective date at or before
// asOf, or nil if none is effective yet.
func (c *Catalog) Current(asOf time.Time) *lifecycle.CatalogVersion {
	versions := c.Versions()
	for i := len(versions) - 1; i >= 0; i-- {
		if !versions[i].EffectiveDate.After(asOf) {
			return versions[i]
		}
	}
	return nil
}

// CurrentRules returns a copy of the rules effective at asOf.
func (c *Catalog) CurrentRules(asOf time.Time) map[string]lifecycle.RetentionRule {
	v := c.Current(asOf)
	if v == nil {
		return map[string]lifecycle.RetentionRule{}
	}
	return maps.Clone(v.Rules)
}

// RuleFor returns the rule governing category at asOf. Categories missing
// from the effective version fall back to the latest version that defines
// them; a category absent from every version is an UnknownCategoryError.
func (c *Catalog) RuleFor(category string, asOf time.Time) (lifecycle.RetentionRule, error) {
	if v := c.Current(asOf); v != nil {
		if rule, ok := v.Rules[category]; ok {
			return rule, nil
		}
	}
	versions := c.Versions()
	for i := len(versions) - 1; i >= 0; i-- {
		if rule, ok := versions[i].Rules[category]; ok {
			return rule, nil
		}
	}
	return lifecycle.RetentionRule{}, lifecycle.NewUnknownCategoryError(category, "")
}

// Categories returns every category defined by any version, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	for _, v := range c.Versions() {
		for name := range v.Rules {
			seen[name] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Publish validates draft against the latest version and appends it.
func (c *Catalog) Publish(ctx context.Context, draft *Draft) (*lifecycle.CatalogVersion, error) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	// Another process may have published since our last refresh.
	if err := c.Refresh(ctx); err != nil {
		return nil, err
	}

	rules, err := c.validate(draft)
	if err != nil {
		return nil, err
	}

	v := &lifecycle.CatalogVersion{
		Version:       1,
		EffectiveDate: draft.EffectiveDate.UTC(),
		Rules:         rules,
		PublishedAt:   c.now().UTC(),
	}
	if latest := c.Latest(); latest != nil {
		v.Version = latest.Version + 1
		v.PrevHash = latest.Hash
	}
	hash, err := v.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash catalog version: %w", err)
	}
	v.Hash = hash

	if err := c.store.InsertCatalogVersion(ctx, v); err != nil {
		if errors.Is(err, lifecycle.ErrConflict) {
			return nil, fmt.Errorf("catalog version %d was published concurrently: %w", v.Version, err)
		}
		return nil, fmt.Errorf("failed to persist catalog version %d: %w", v.Version, err)
	}

	next := append(slices.Clone(c.Versions()), v)
	c.versions.Store(&next)

	c.logger.Info("Catalog version published",
		"version", v.Version,
		"effective_date", v.EffectiveDate,
		"categories", len(v.Rules),
		"hash", v.Hash,
	)
	return v, nil
}

// Validate checks draft against the current catalog without publishing it.
func (c *Catalog) Validate(draft *Draft) error {
	_, err := c.validate(draft)
	return err
}

func (c *Catalog) validate(draft *Draft) (map[string]lifecycle.RetentionRule, error) {
	if draft == nil || len(draft.Rules) == 0 {
		return nil, fmt.Errorf("%w: catalog version has no rules", lifecycle.ErrInvalidArgument)
	}
	if draft.EffectiveDate.IsZero() {
		return nil, fmt.Errorf("%w: effective date is required", lifecycle.ErrInvalidArgument)
	}

	rules := make(map[string]lifecycle.RetentionRule, len(draft.Rules))
	for _, rule := range draft.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", lifecycle.ErrInvalidArgument, err)
		}
		if _, dup := rules[rule.Category]; dup {
			return nil, fmt.Errorf("%w: category %q defined twice", lifecycle.ErrInvalidArgument, rule.Category)
		}
		rules[rule.Category] = rule
	}

	latest := c.Latest()
	if latest == nil {
		return rules, nil
	}
	if !draft.EffectiveDate.After(latest.EffectiveDate) {
		return nil, fmt.Errorf("%w: effective date %s must be after %s (version %d)",
			lifecycle.ErrInvalidArgument,
			draft.EffectiveDate.UTC().Format(time.RFC3339),
			latest.EffectiveDate.Format(time.RFC3339),
			latest.Version)
	}
	for name, prev := range latest.Rules {
		if _, ok := rules[name]; ok || prev.Sunset {
			continue
		}
		return nil, fmt.Errorf("%w: category %q is missing; mark it sunset to remove it",
			lifecycle.ErrInvalidArgument, name)
	}
	return rules, nil
}

// Verify recomputes the hash chain over every loaded version.
func (c *Catalog) Verify() error {
	prevHash := ""
	for i, v := range c.Versions() {
		if v.Version != i+1 {
			return fmt.Errorf("catalog version %d out of sequence (expected %d)", v.Version, i+1)
		}
		if v.PrevHash != prevHash {
			return fmt.Errorf("catalog version %d: previous hash mismatch", v.Version)
		}
		hash, err := v.ComputeHash()
		if err != nil {
			return err
		}
		if hash != v.Hash {
			return fmt.Errorf("catalog version %d: content hash mismatch", v.Version)
		}
		prevHash = v.Hash
	}
	return nil
}

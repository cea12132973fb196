// Package ledger owns the lifecycle state of governed records.
//
// Reads have no side effects. Every state change goes through Transition,
// which validates it against the state machine and commits the new state
// together with its audit entry.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

const (
	// DefaultPageSize bounds each page read from the record store.
	DefaultPageSize = 500

	// SystemActor is recorded on transitions made by scheduled jobs.
	SystemActor = "system"

	lockStripes = 256
)

// RuleSource resolves the retention rule of a category.
type RuleSource interface {
	RuleFor(category string, asOf time.Time) (lifecycle.RetentionRule, error)
}

// Ledger is the record ledger.
type Ledger struct {
	store    lifecycle.RecordStore
	rules    RuleSource
	audit    *audit.Log
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
	pageSize int

	locks [lockStripes]sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPageSize sets the page size used by iterators and scans.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithMetrics records transitions on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(l *Ledger) { l.metrics = collector }
}

// New creates a ledger.
func New(store lifecycle.RecordStore, rules RuleSource, log *audit.Log, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		rules:    rules,
		audit:    log,
		logger:   slog.Default().With("component", "ledger"),
		now:      time.Now,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterRequest describes a record created by an upstream system.
type RegisterRequest struct {
	Category  string    `json:"category"`
	OwnerID   string    `json:"owner_id"`
	Dimension string    `json:"dimension,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Register creates an Active record. Unknown categories fail with an
// UnknownCategoryError; sunset categories no longer accept new records.
func (l *Ledger) Register(ctx context.Context, req RegisterRequest) (*lifecycle.Record, error) {
	if strings.TrimSpace(req.Category) == "" {
		return nil, fmt.Errorf("%w: category is required", lifecycle.ErrInvalidArgument)
	}
	if err := lifecycle.ValidateIdentifier("owner_id", req.OwnerID); err != nil {
		return nil, err
	}

	now := l.now().UTC()
	rule, err := l.rules.RuleFor(req.Category, now)
	if err != nil {
		return nil, err
	}
	if rule.Sunset {
		return nil, fmt.Errorf("%w: category %q is sunset", lifecycle.ErrInvalidArgument, req.Category)
	}

	created := req.CreatedAt.UTC()
	if req.CreatedAt.IsZero() {
		created = now
	}
	rec := &lifecycle.Record{
		ID:             uuid.New().String(),
		Category:       req.Category,
		OwnerID:        req.OwnerID,
		Dimension:      req.Dimension,
		CreatedAt:      created,
		LastActiveAt:   created,
		State:          lifecycle.StateActive,
		StateChangedAt: now,
	}
	if err := l.store.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to register record: %w", err)
	}

	l.logger.Debug("Record registered", "record_id", rec.ID, "category", rec.Category)
	return rec, nil
}

// Get returns a record by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*lifecycle.Record, error) {
	rec, err := l.store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// Touch advances last_active_at. Older timestamps are ignored.
func (l *Ledger) Touch(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	return l.mutate(ctx, id, "touch", func() error {
		return l.store.UpdateLastActive(ctx, id, at.UTC())
	})
}

// MarkConsentWithdrawn records the instant consent was withdrawn. The
// earliest withdrawal wins.
func (l *Ledger) MarkConsentWithdrawn(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = l.now()
	}
	return l.mutate(ctx, id, "consent withdrawal", func() error {
		return l.store.SetConsentWithdrawn(ctx, id, at.UTC())
	})
}

func (l *Ledger) mutate(ctx context.Context, id, op string, fn func() error) error {
	unlock := l.Lock(id)
	defer unlock()

	rec, err := l.store.GetRecord(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get record %s: %w", id, err)
	}
	if rec.State.Terminal() {
		return fmt.Errorf("%w: record %s is %s", lifecycle.ErrInvalidArgument, id, rec.State)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("failed to apply %s to record %s: %w", op, id, err)
	}
	return nil
}

// Escalate marks rec as awaiting an operator. Callers hold the record lock.
func (l *Ledger) Escalate(ctx context.Context, rec *lifecycle.Record) error {
	if rec.Escalated() {
		return nil
	}
	at := l.now().UTC()
	if err := l.store.SetEscalation(ctx, rec.ID, &at); err != nil {
		return fmt.Errorf("failed to escalate record %s: %w", rec.ID, err)
	}
	rec.EscalatedAt = &at
	l.logger.Warn("Record escalated", "record_id", rec.ID, "category", rec.Category, "state", rec.State)
	return nil
}

// ClearEscalation removes the escalation marker of rec. Callers hold the
// record lock.
func (l *Ledger) ClearEscalation(ctx context.Context, rec *lifecycle.Record) error {
	if !rec.Escalated() {
		return nil
	}
	if err := l.store.SetEscalation(ctx, rec.ID, nil); err != nil {
		return fmt.Errorf("failed to clear escalation of record %s: %w", rec.ID, err)
	}
	rec.EscalatedAt = nil
	return nil
}

// Lock acquires the per-record mutex and returns its release function.
// Records hash onto a fixed set of stripes.
func (l *Ledger) Lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &l.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// TransitionMeta describes why a transition happens.
type TransitionMeta struct {
	Reason        lifecycle.Reason
	Actor         string
	Justification string

	// Certificate is persisted with the transition. Its AuditHash and Hash
	// are filled in once the audit entry is sealed.
	Certificate *lifecycle.DeletionCertificate
}

// Transition moves rec to state to. The record's persisted state must still
// equal rec.State; otherwise ErrStateConflict is returned. On success rec is
// updated in place. Callers hold the record lock.
func (l *Ledger) Transition(ctx context.Context, rec *lifecycle.Record, to lifecycle.State, meta TransitionMeta) error {
	from := rec.State
	if !from.CanTransition(to) {
		return lifecycle.NewTransitionError(rec.ID, from, to)
	}
	actor := meta.Actor
	if actor == "" {
		actor = SystemActor
	}

	at := l.now().UTC()
	entry := &lifecycle.AuditEntry{
		Kind:          lifecycle.EntryTransition,
		RecordID:      rec.ID,
		Category:      rec.Category,
		FromState:     from,
		ToState:       to,
		Reason:        meta.Reason,
		Actor:         actor,
		Justification: meta.Justification,
		Timestamp:     at,
	}

	_, err := l.audit.Commit(ctx, entry, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		t := &lifecycle.Transition{
			RecordID: rec.ID,
			From:     from,
			To:       to,
			At:       at,
			Entry:    sealed,
		}
		if cert := meta.Certificate; cert != nil {
			cert.AuditHash = sealed.Hash
			hash, err := cert.ComputeHash()
			if err != nil {
				return fmt.Errorf("failed to hash deletion certificate: %w", err)
			}
			cert.Hash = hash
			t.Certificate = cert
		}
		return l.store.ApplyTransition(ctx, t)
	})
	if err != nil {
		if errors.Is(err, lifecycle.ErrStateConflict) {
			l.logger.Warn("Record state changed concurrently",
				"record_id", rec.ID,
				"from", from,
				"to", to,
			)
		}
		return fmt.Errorf("failed to transition record %s from %s to %s: %w", rec.ID, from, to, err)
	}

	rec.State = to
	rec.StateChangedAt = at
	l.metrics.RecordTransition(string(from), string(to), string(meta.Reason))

	l.logger.Info("Record transitioned",
		"record_id", rec.ID,
		"category", rec.Category,
		"from", from,
		"to", to,
		"reason", meta.Reason,
		"actor", actor,
	)
	return nil
}

// Categories returns every category with at least one record.
func (l *Ledger) Categories(ctx context.Context) ([]string, error) {
	categories, err := l.store.RecordCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list record categories: %w", err)
	}
	return categories, nil
}

// Scan pages through every record matching q and calls fn for each one.
// q.AfterID and q.Limit are managed by Scan. Context cancellation is
// observed between records.
func (l *Ledger) Scan(ctx context.Context, q lifecycle.RecordQuery, fn func(*lifecycle.Record) error) error {
	q.Limit = l.pageSize
	for {
		page, err := l.store.ListRecords(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to list records: %w", err)
		}
		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterID = page[len(page)-1].ID
	}
}

// RecordsOf returns every record of owner in one of states.
func (l *Ledger) RecordsOf(ctx context.Context, ownerID string, states ...lifecycle.State) ([]*lifecycle.Record, error) {
	var out []*lifecycle.Record
	err := l.Scan(ctx, lifecycle.RecordQuery{OwnerID: ownerID, States: states}, func(rec *lifecycle.Record) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

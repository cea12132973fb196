// Package hold manages legal holds.
//
// A hold is persisted before any record moves, so IsHeld answers true from
// the instant Place returns even if moving a record to Held failed; the
// daily sweep reconciles such records.
package hold

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

// Manager places and releases legal holds.
type Manager struct {
	store   lifecycle.HoldStore
	ledger  *ledger.Ledger
	audit   *audit.Log
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records hold actions on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = collector }
}

// New creates a hold manager.
func New(store lifecycle.HoldStore, l *ledger.Ledger, log *audit.Log, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		ledger: l,
		audit:  log,
		logger: slog.Default().With("component", "hold.manager"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PlaceRequest describes a new hold. Exactly one of SubjectID and RecordID
// must be set.
type PlaceRequest struct {
	SubjectID     string `json:"subject_id,omitempty"`
	RecordID      string `json:"record_id,omitempty"`
	Reason        string `json:"reason"`
	PlacedBy      string `json:"placed_by"`
	Justification string `json:"justification,omitempty"`

	// Force marks an operator override. It requires a justification.
	Force bool `json:"force,omitempty"`
}

// ReleaseRequest describes a hold release.
type ReleaseRequest struct {
	ReleasedBy    string `json:"released_by"`
	Reason        string `json:"reason,omitempty"`
	Justification string `json:"justification,omitempty"`

	// Force lets an actor other than the one who placed the hold release
	// it. It requires a justification.
	Force bool `json:"force,omitempty"`
}

func (r PlaceRequest) validate() error {
	switch {
	case (r.SubjectID == "") == (r.RecordID == ""):
		return fmt.Errorf("%w: exactly one of subject_id and record_id is required", lifecycle.ErrInvalidArgument)
	case strings.TrimSpace(r.Reason) == "":
		return fmt.Errorf("%w: hold reason is required", lifecycle.ErrInvalidArgument)
	case strings.TrimSpace(r.PlacedBy) == "":
		return fmt.Errorf("%w: placed_by is required", lifecycle.ErrInvalidArgument)
	case r.Force && strings.TrimSpace(r.Justification) == "":
		return fmt.Errorf("%w: a forced hold requires a justification", lifecycle.ErrInvalidArgument)
	}
	return nil
}

// Place persists a hold and moves every covered non-terminal record to Held.
func (m *Manager) Place(ctx context.Context, req PlaceRequest) (*lifecycle.LegalHold, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	h := &lifecycle.LegalHold{
		ID:        uuid.New().String(),
		SubjectID: req.SubjectID,
		RecordID:  req.RecordID,
		Reason:    req.Reason,
		PlacedBy:  req.PlacedBy,
		CreatedAt: m.now().UTC(),
	}
	entry := m.entry(h, lifecycle.ReasonLegalHoldPlaced, req.PlacedBy, req.Justification, req.Force)
	entry.Timestamp = h.CreatedAt

	_, err := m.audit.Commit(ctx, entry, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		return m.store.InsertHold(ctx, h, sealed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to place legal hold: %w", err)
	}
	m.metrics.RecordHold("placed")

	records, err := m.covered(ctx, h, lifecycle.StateActive, lifecycle.StatePendingReview, lifecycle.StateAnonymizing, lifecycle.StatePendingDeletion)
	if err != nil {
		m.logger.Warn("Failed to list records covered by new hold", "hold_id", h.ID, "error", err)
	}
	moved := 0
	for _, rec := range records {
		ok, err := m.hold(ctx, rec.ID, req.PlacedBy, req.Justification)
		if err != nil {
			m.logger.Warn("Failed to move record to held", "hold_id", h.ID, "record_id", rec.ID, "error", err)
			continue
		}
		if ok {
			moved++
		}
	}

	m.logger.Info("Legal hold placed",
		"hold_id", h.ID,
		"record_scoped", h.RecordID != "",
		"records_held", moved,
		"forced", req.Force,
	)
	return h, nil
}

// hold moves one record to Held under its lock. It reports whether the
// record moved.
func (m *Manager) hold(ctx context.Context, recordID, actor, justification string) (bool, error) {
	unlock := m.ledger.Lock(recordID)
	defer unlock()

	rec, err := m.ledger.Get(ctx, recordID)
	if err != nil {
		return false, err
	}
	if !rec.State.CanTransition(lifecycle.StateHeld) {
		return false, nil
	}
	err = m.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{
		Reason:        lifecycle.ReasonLegalHoldPlaced,
		Actor:         actor,
		Justification: justification,
	})
	return err == nil, err
}

// Release stamps the hold released and returns covered Held records to
// Active unless another active hold still covers them.
func (m *Manager) Release(ctx context.Context, holdID string, req ReleaseRequest) (*lifecycle.LegalHold, error) {
	if strings.TrimSpace(req.ReleasedBy) == "" {
		return nil, fmt.Errorf("%w: released_by is required", lifecycle.ErrInvalidArgument)
	}
	if req.Force && strings.TrimSpace(req.Justification) == "" {
		return nil, fmt.Errorf("%w: a forced release requires a justification", lifecycle.ErrInvalidArgument)
	}

	h, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return nil, fmt.Errorf("failed to get legal hold %s: %w", holdID, err)
	}
	if !h.Active() {
		return nil, fmt.Errorf("legal hold %s was already released: %w", holdID, lifecycle.ErrConflict)
	}
	if !req.Force && req.ReleasedBy != h.PlacedBy {
		return nil, fmt.Errorf("%w: hold %s was placed by %s; releasing it as %s requires force",
			lifecycle.ErrInvalidArgument, holdID, h.PlacedBy, req.ReleasedBy)
	}

	at := m.now().UTC()
	h.ReleasedAt = &at
	h.ReleasedBy = req.ReleasedBy
	h.ReleaseReason = req.Reason

	entry := m.entry(h, lifecycle.ReasonLegalHoldReleased, req.ReleasedBy, req.Justification, req.Force)
	entry.Timestamp = at
	_, err = m.audit.Commit(ctx, entry, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		return m.store.ReleaseHold(ctx, h, sealed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to release legal hold %s: %w", holdID, err)
	}
	m.metrics.RecordHold("released")

	records, err := m.covered(ctx, h, lifecycle.StateHeld)
	if err != nil {
		m.logger.Warn("Failed to list records covered by released hold", "hold_id", h.ID, "error", err)
	}
	restored := 0
	for _, rec := range records {
		ok, err := m.restore(ctx, rec.ID, req.ReleasedBy, req.Justification)
		if err != nil {
			m.logger.Warn("Failed to return record to active", "hold_id", h.ID, "record_id", rec.ID, "error", err)
			continue
		}
		if ok {
			restored++
		}
	}

	m.logger.Info("Legal hold released",
		"hold_id", h.ID,
		"records_restored", restored,
		"forced", req.Force,
	)
	return h, nil
}

// Restore returns a Held record to Active when no active hold covers it.
// It reports whether the record moved.
func (m *Manager) Restore(ctx context.Context, recordID string) (bool, error) {
	return m.restore(ctx, recordID, ledger.SystemActor, "")
}

func (m *Manager) restore(ctx context.Context, recordID, actor, justification string) (bool, error) {
	unlock := m.ledger.Lock(recordID)
	defer unlock()

	rec, err := m.ledger.Get(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec.State != lifecycle.StateHeld {
		return false, nil
	}
	held, err := m.Covers(ctx, rec)
	if err != nil || held {
		return false, err
	}
	err = m.ledger.Transition(ctx, rec, lifecycle.StateActive, ledger.TransitionMeta{
		Reason:        lifecycle.ReasonLegalHoldReleased,
		Actor:         actor,
		Justification: justification,
	})
	return err == nil, err
}

// IsHeld reports whether any active hold covers the record.
func (m *Manager) IsHeld(ctx context.Context, recordID string) (bool, error) {
	rec, err := m.ledger.Get(ctx, recordID)
	if err != nil {
		return false, err
	}
	return m.Covers(ctx, rec)
}

// Covers reports whether any active hold covers rec. It reads the hold
// store on every call.
func (m *Manager) Covers(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	holds, err := m.store.ActiveHoldsFor(ctx, rec.ID, rec.OwnerID)
	if err != nil {
		return false, fmt.Errorf("failed to check legal holds for record %s: %w", rec.ID, err)
	}
	return len(holds) > 0, nil
}

// Get returns a hold by ID.
func (m *Manager) Get(ctx context.Context, holdID string) (*lifecycle.LegalHold, error) {
	return m.store.GetHold(ctx, holdID)
}

// List returns holds, optionally only unreleased ones.
func (m *Manager) List(ctx context.Context, activeOnly bool) ([]*lifecycle.LegalHold, error) {
	return m.store.ListHolds(ctx, activeOnly)
}

func (m *Manager) covered(ctx context.Context, h *lifecycle.LegalHold, states ...lifecycle.State) ([]*lifecycle.Record, error) {
	if h.SubjectID != "" {
		return m.ledger.RecordsOf(ctx, h.SubjectID, states...)
	}
	rec, err := m.ledger.Get(ctx, h.RecordID)
	if errors.Is(err, lifecycle.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []*lifecycle.Record{rec}, nil
}

// entry builds the hold audit entry. Subject identifiers never enter the
// chain; the hold ID links the entry to the hold row.
func (m *Manager) entry(h *lifecycle.LegalHold, reason lifecycle.Reason, actor, justification string, force bool) *lifecycle.AuditEntry {
	if force {
		reason = lifecycle.ReasonManualOverride
	}
	return &lifecycle.AuditEntry{
		Kind:          lifecycle.EntryHold,
		RecordID:      h.RecordID,
		Reason:        reason,
		Actor:         actor,
		Justification: justification,
		Ref:           h.ID,
	}
}

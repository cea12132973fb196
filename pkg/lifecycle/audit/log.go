// Package audit implements the append-only, hash-chained audit log.
//
// Every entry carries the hash of its predecessor. Sealing and persisting an
// entry happen under one mutex, so entries written by this process form a
// single chain; entries written concurrently by other processes sharing the
// same store are detected through lifecycle.ErrChainMoved and resealed.
//
// The log exposes no update or delete operation.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
)

const (
	// maxSealAttempts bounds reseals after the chain head moved underneath us.
	maxSealAttempts = 5

	exportPageSize = 500
)

// Redactor scrubs personal identifiers from free text.
type Redactor interface {
	RedactString(value string) string
}

// PersistFunc writes a sealed entry, usually together with the state change
// it documents.
type PersistFunc func(ctx context.Context, sealed *lifecycle.AuditEntry) error

// Log is the hash-chained audit log.
type Log struct {
	store    lifecycle.AuditStore
	redactor Redactor
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	head   *lifecycle.AuditEntry
	loaded bool
}

// Option configures a Log.
type Option func(*Log)

// WithRedactor sets the redactor applied to operator justifications.
func WithRedactor(r Redactor) Option {
	return func(l *Log) { l.redactor = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an audit log over store.
func New(store lifecycle.AuditStore, opts ...Option) *Log {
	l := &Log{
		store:  store,
		logger: slog.Default().With("component", "audit.log"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Commit seals entry onto the chain and hands it to persist. The chain head
// only advances when persist succeeds.
func (l *Log) Commit(ctx context.Context, entry *lifecycle.AuditEntry, persist PersistFunc) (*lifecycle.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt < maxSealAttempts; attempt++ {
		if !l.loaded {
			head, err := l.store.LastAuditEntry(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to load audit chain head: %w", err)
			}
			l.head = head
			l.loaded = true
		}

		sealed, err := l.seal(entry)
		if err != nil {
			return nil, err
		}

		err = persist(ctx, sealed)
		if errors.Is(err, lifecycle.ErrChainMoved) {
			l.logger.Debug("audit chain head moved, resealing", "attempt", attempt+1, "seq", sealed.Seq)
			l.loaded = false
			continue
		}
		if err != nil {
			return nil, err
		}

		l.head = sealed
		return sealed, nil
	}

	return nil, fmt.Errorf("failed to append audit entry after %d attempts: %w", maxSealAttempts, lifecycle.ErrChainMoved)
}

// Append seals and persists a standalone entry.
func (l *Log) Append(ctx context.Context, entry *lifecycle.AuditEntry) (*lifecycle.AuditEntry, error) {
	return l.Commit(ctx, entry, l.store.AppendAudit)
}

// seal must be called with mu held.
func (l *Log) seal(entry *lifecycle.AuditEntry) (*lifecycle.AuditEntry, error) {
	sealed := *entry
	if sealed.ID == "" {
		sealed.ID = uuid.New().String()
	}
	if sealed.Timestamp.IsZero() {
		sealed.Timestamp = l.now()
	}
	sealed.Timestamp = sealed.Timestamp.UTC()
	if sealed.Justification != "" && l.redactor != nil {
		sealed.Justification = l.redactor.RedactString(sealed.Justification)
	}

	sealed.Seq = 1
	sealed.PrevHash = ""
	if l.head != nil {
		sealed.Seq = l.head.Seq + 1
		sealed.PrevHash = l.head.Hash
	}

	hash, err := sealed.ComputeHash()
	if err != nil {
		return nil, err
	}
	sealed.Hash = hash
	return &sealed, nil
}

// Head returns the latest entry, or nil for an empty chain.
func (l *Log) Head(ctx context.Context) (*lifecycle.AuditEntry, error) {
	return l.store.LastAuditEntry(ctx)
}

// Export returns every entry with from <= timestamp < to.
func (l *Log) Export(ctx context.Context, from, to time.Time) ([]*lifecycle.AuditEntry, error) {
	var out []*lifecycle.AuditEntry
	err := l.scan(ctx, lifecycle.AuditQuery{From: from, To: to}, func(e *lifecycle.AuditEntry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Log) scan(ctx context.Context, q lifecycle.AuditQuery, fn func(*lifecycle.AuditEntry) error) error {
	q.Limit = exportPageSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := l.store.ListAudit(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		for _, e := range page {
			if err := fn(e); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.AfterSeq = page[len(page)-1].Seq
	}
}

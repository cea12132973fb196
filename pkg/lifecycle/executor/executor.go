// Package executor performs irreversible record deletion.
//
// Delete is safe to call any number of times for the same record: a Deleted
// record returns its stored certificate, and a record left PendingDeletion by
// an earlier partial attempt is erased again. Legal holds are checked twice,
// the second time immediately before the first store is touched.
//
// A failed verification escalates the record. Delete refuses escalated
// records; only an operator deletion through DeleteAs clears the marker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/erasure"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/telemetry/metrics"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// HoldChecker reports whether an active legal hold covers a record.
type HoldChecker interface {
	Covers(ctx context.Context, rec *lifecycle.Record) (bool, error)
}

// AnomalyReporter persists anomalies.
type AnomalyReporter interface {
	Report(ctx context.Context, a *lifecycle.Anomaly) (*lifecycle.Anomaly, error)
}

// Executor deletes records across every configured store.
type Executor struct {
	ledger    *ledger.Ledger
	certs     lifecycle.CertificateStore
	holds     HoldChecker
	erasers   erasure.Set
	anomalies AnomalyReporter
	config    config.ExecutorConfig
	metrics   *metrics.Collector
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithMetrics records deletions and erase attempts on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = collector }
}

// WithAnomalyReporter reports verification failures.
func WithAnomalyReporter(r AnomalyReporter) Option {
	return func(e *Executor) { e.anomalies = r }
}

// New creates an executor.
func New(l *ledger.Ledger, certs lifecycle.CertificateStore, holds HoldChecker, erasers erasure.Set, cfg config.ExecutorConfig, opts ...Option) *Executor {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = config.DefaultExecutorInitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = config.DefaultExecutorStoreTimeout
	}
	e := &Executor{
		ledger:  l,
		certs:   certs,
		holds:   holds,
		erasers: erasers,
		config:  cfg,
		logger:  slog.Default().With("component", "executor"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stores returns the names of the configured stores.
func (e *Executor) Stores() []string {
	return e.erasers.Names()
}

// Delete erases the record from every store, verifies the erasure and moves
// the record to Deleted with a certificate. Escalated records fail with
// ErrEscalated.
func (e *Executor) Delete(ctx context.Context, recordID string, reason lifecycle.Reason) (*lifecycle.DeletionCertificate, error) {
	return e.delete(ctx, recordID, ledger.TransitionMeta{Reason: reason}, false)
}

// DeleteAs is Delete on behalf of an operator. The justification is sealed
// into every audit entry written. An escalation marker is cleared before the
// stores are erased again.
func (e *Executor) DeleteAs(ctx context.Context, recordID string, meta ledger.TransitionMeta) (*lifecycle.DeletionCertificate, error) {
	return e.delete(ctx, recordID, meta, true)
}

func (e *Executor) delete(ctx context.Context, recordID string, meta ledger.TransitionMeta, override bool) (*lifecycle.DeletionCertificate, error) {
	unlock := e.ledger.Lock(recordID)
	defer unlock()

	rec, err := e.ledger.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	switch rec.State {
	case lifecycle.StateDeleted:
		cert, err := e.certs.GetCertificate(ctx, rec.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate of deleted record %s: %w", rec.ID, err)
		}
		return cert, nil
	case lifecycle.StateHeld:
		return nil, lifecycle.NewHeldError(rec.ID)
	}
	if rec.Escalated() && !override {
		return nil, fmt.Errorf("%w: record %s since %s", lifecycle.ErrEscalated, rec.ID,
			rec.EscalatedAt.Format(time.RFC3339))
	}

	if err := e.checkHold(ctx, rec, meta.Actor); err != nil {
		return nil, err
	}

	if rec.State != lifecycle.StatePendingDeletion {
		if err := e.ledger.Transition(ctx, rec, lifecycle.StatePendingDeletion, meta); err != nil {
			return nil, err
		}
	}

	// A hold placed after the sweep read this record must still win.
	if err := e.checkHold(ctx, rec, meta.Actor); err != nil {
		return nil, err
	}
	if override {
		if err := e.ledger.ClearEscalation(ctx, rec); err != nil {
			return nil, err
		}
	}

	result, err := e.Erase(ctx, rec)
	if err != nil {
		e.metrics.RecordDeletion(deletionOutcome(err))
		return nil, err
	}

	cert := &lifecycle.DeletionCertificate{
		RecordID:   rec.ID,
		Category:   rec.Category,
		Stores:     result.Stores,
		DeletedAt:  result.ErasedAt,
		VerifiedAt: result.VerifiedAt,
	}
	meta.Certificate = cert
	if err := e.ledger.Transition(ctx, rec, lifecycle.StateDeleted, meta); err != nil {
		return nil, err
	}
	e.metrics.RecordDeletion("deleted")

	e.logger.Info("Record deleted",
		"record_id", rec.ID,
		"category", rec.Category,
		"reason", meta.Reason,
		"stores", len(cert.Stores),
		"certificate", cert.Hash,
	)
	return cert, nil
}

// checkHold moves rec to Held and returns a HeldError when a hold covers it.
func (e *Executor) checkHold(ctx context.Context, rec *lifecycle.Record, actor string) error {
	held, err := e.holds.Covers(ctx, rec)
	if err != nil {
		return err
	}
	if !held {
		return nil
	}
	if rec.State.CanTransition(lifecycle.StateHeld) {
		err := e.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{
			Reason: lifecycle.ReasonLegalHoldPlaced,
			Actor:  actor,
		})
		if err != nil {
			return err
		}
	}
	e.metrics.RecordDeletion("held")
	return lifecycle.NewHeldError(rec.ID)
}

func deletionOutcome(err error) string {
	var partial *lifecycle.PartialDeletionError
	var verification *lifecycle.VerificationFailure
	switch {
	case errors.As(err, &partial):
		return "partial"
	case errors.As(err, &verification):
		return "verification_failed"
	default:
		return "error"
	}
}

// Result describes a completed, verified erasure.
type Result struct {
	Stores     []string
	ErasedAt   time.Time
	VerifiedAt time.Time
}

// Erase removes rec from every store in parallel and verifies that none of
// them still returns it. It does not change record state.
func (e *Executor) Erase(ctx context.Context, rec *lifecycle.Record) (result *Result, err error) {
	ctx, span := tracing.Start(ctx, "executor.erase",
		tracing.AttrRecordID.String(rec.ID),
		tracing.AttrCategory.String(rec.Category),
	)
	defer func() { tracing.End(span, err) }()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	for _, er := range e.erasers {
		g.Go(func() error {
			if err := e.eraseWithRetry(ctx, er, rec); err != nil {
				mu.Lock()
				failed[er.Name()] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		var confirmed []string
		for _, name := range e.erasers.Names() {
			if _, ok := failed[name]; !ok {
				confirmed = append(confirmed, name)
			}
		}
		e.logger.Warn("Partial deletion",
			"record_id", rec.ID,
			"confirmed", confirmed,
			"failed", len(failed),
		)
		return nil, lifecycle.NewPartialDeletionError(rec.ID, confirmed, failed)
	}
	erasedAt := e.now().UTC()

	if err := e.verify(ctx, rec); err != nil {
		return nil, err
	}
	return &Result{
		Stores:     e.erasers.Names(),
		ErasedAt:   erasedAt,
		VerifiedAt: e.now().UTC(),
	}, nil
}

func (e *Executor) eraseWithRetry(ctx context.Context, er erasure.Eraser, rec *lifecycle.Record) (err error) {
	ctx, span := tracing.Start(ctx, "erasure.erase", tracing.AttrStore.String(er.Name()))
	attempt := 0
	defer func() {
		span.SetAttributes(tracing.AttrAttempts.Int(attempt))
		tracing.End(span, err)
	}()

	op := func() error {
		attempt++
		start := time.Now()
		storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
		err := er.Erase(storeCtx, rec)
		cancel()

		result := "ok"
		if err != nil {
			result = "error"
			e.logger.Debug("Erase attempt failed",
				"store", er.Name(),
				"record_id", rec.ID,
				"attempt", attempt,
				"error", err,
			)
		}
		e.metrics.RecordErasureAttempt(er.Name(), result, time.Since(start))
		if errors.Is(err, lifecycle.ErrInvalidArgument) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, e.backOff(ctx))
}

func (e *Executor) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialBackoff
	b.MaxInterval = e.config.MaxBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(e.config.MaxRetries, 0))), ctx)
}

// verify reads every store back. Verification is not retried: a store that
// acknowledged the delete but still returns data needs investigation, so the
// record is escalated. Callers hold the record lock.
func (e *Executor) verify(ctx context.Context, rec *lifecycle.Record) error {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		present []string
		errs    []error
	)
	for _, er := range e.erasers {
		g.Go(func() error {
			storeCtx, cancel := context.WithTimeout(ctx, e.config.StoreTimeout)
			defer cancel()
			exists, err := er.Exists(storeCtx, rec)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				present = append(present, er.Name())
				errs = append(errs, fmt.Errorf("%s: %w", er.Name(), err))
			} else if exists {
				present = append(present, er.Name())
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(present) == 0 {
		return nil
	}
	failure := lifecycle.NewVerificationFailure(rec.ID, present, errors.Join(errs...))
	e.logger.Error("Erasure verification failed", "record_id", rec.ID, "stores", present)
	if err := e.ledger.Escalate(ctx, rec); err != nil {
		e.logger.Error("Failed to escalate record", "record_id", rec.ID, "error", err)
	}
	if e.anomalies != nil {
		_, err := e.anomalies.Report(ctx, &lifecycle.Anomaly{
			Kind:     lifecycle.AnomalyVerificationFailure,
			RecordID: rec.ID,
			Category: rec.Category,
			Detail:   failure.Error(),
		})
		if err != nil {
			e.logger.Error("Failed to report verification failure", "record_id", rec.ID, "error", err)
		}
	}
	return failure
}

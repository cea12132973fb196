package engine

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
	"mercator-hq/lethe/pkg/lifecycle/catalog/gitsync"
	"mercator-hq/lethe/pkg/lifecycle/hold"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/lifecycle/scheduler"
	"mercator-hq/lethe/pkg/telemetry/logging"
)

// RegisterRecord starts governing a record created upstream.
func (e *Engine) RegisterRecord(ctx context.Context, req ledger.RegisterRequest) (*lifecycle.Record, error) {
	return e.ledger.Register(ctx, req)
}

// TouchRecord records activity on a record. A zero at means now.
func (e *Engine) TouchRecord(ctx context.Context, recordID string, at time.Time) error {
	return e.ledger.Touch(ctx, recordID, at)
}

// RecordConsentWithdrawal records that the owner withdrew consent. It only
// shortens retention for consent-based categories. A zero at means now.
func (e *Engine) RecordConsentWithdrawal(ctx context.Context, recordID string, at time.Time) error {
	return e.ledger.MarkConsentWithdrawn(ctx, recordID, at)
}

// GetRecord returns a record by ID.
func (e *Engine) GetRecord(ctx context.Context, recordID string) (*lifecycle.Record, error) {
	return e.ledger.Get(ctx, recordID)
}

// PlaceLegalHold places a hold on a subject or a single record.
func (e *Engine) PlaceLegalHold(ctx context.Context, req hold.PlaceRequest) (*lifecycle.LegalHold, error) {
	req.Force = false
	return e.holds.Place(ctx, req)
}

// ReleaseLegalHold releases a hold. Only the actor who placed it may
// release it; anyone else needs ForceReleaseHold.
func (e *Engine) ReleaseLegalHold(ctx context.Context, holdID string, req hold.ReleaseRequest) (*lifecycle.LegalHold, error) {
	req.Force = false
	return e.holds.Release(ctx, holdID, req)
}

// ForcePlaceHold places a hold as an operator override. The justification
// is sealed into the audit chain.
func (e *Engine) ForcePlaceHold(ctx context.Context, req hold.PlaceRequest) (*lifecycle.LegalHold, error) {
	req.Force = true
	return e.holds.Place(ctx, req)
}

// ForceReleaseHold releases a hold regardless of who placed it.
func (e *Engine) ForceReleaseHold(ctx context.Context, holdID string, req hold.ReleaseRequest) (*lifecycle.LegalHold, error) {
	req.Force = true
	return e.holds.Release(ctx, holdID, req)
}

// GetLegalHold returns a hold by ID.
func (e *Engine) GetLegalHold(ctx context.Context, holdID string) (*lifecycle.LegalHold, error) {
	return e.holds.Get(ctx, holdID)
}

// ListLegalHolds lists holds, optionally only the unreleased ones.
func (e *Engine) ListLegalHolds(ctx context.Context, activeOnly bool) ([]*lifecycle.LegalHold, error) {
	return e.holds.List(ctx, activeOnly)
}

// GetDeletionCertificate returns the certificate issued when the record was
// deleted.
func (e *Engine) GetDeletionCertificate(ctx context.Context, recordID string) (*lifecycle.DeletionCertificate, error) {
	cert, err := e.store.GetCertificate(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deletion certificate of record %s: %w", recordID, err)
	}
	return cert, nil
}

// ExportAuditLog returns the audit entries sealed in [from, to). Zero
// bounds are open.
func (e *Engine) ExportAuditLog(ctx context.Context, from, to time.Time) ([]*lifecycle.AuditEntry, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("%w: export range ends before it starts", lifecycle.ErrInvalidArgument)
	}
	return e.audit.Export(ctx, from, to)
}

// VerifyAuditLog recomputes the audit hash chain.
func (e *Engine) VerifyAuditLog(ctx context.Context) (*audit.VerifyReport, error) {
	return e.audit.Verify(ctx)
}

// GetCurrentPolicyCatalog returns the catalog version in effect now.
func (e *Engine) GetCurrentPolicyCatalog(ctx context.Context) (*lifecycle.CatalogVersion, error) {
	if err := e.catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh policy catalog: %w", err)
	}
	v := e.catalog.Current(e.now())
	if v == nil {
		return nil, fmt.Errorf("no policy catalog version in effect: %w", lifecycle.ErrNotFound)
	}
	return v, nil
}

// CatalogVersions returns every published catalog version, oldest first.
func (e *Engine) CatalogVersions(ctx context.Context) ([]*lifecycle.CatalogVersion, error) {
	if err := e.catalog.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("failed to refresh policy catalog: %w", err)
	}
	return e.catalog.Versions(), nil
}

// PublishCatalog appends a new catalog version.
func (e *Engine) PublishCatalog(ctx context.Context, draft *catalog.Draft) (*lifecycle.CatalogVersion, error) {
	return e.catalog.Publish(ctx, draft)
}

// ValidateCatalog checks draft against the latest version without
// publishing it.
func (e *Engine) ValidateCatalog(ctx context.Context, draft *catalog.Draft) error {
	if err := e.catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh policy catalog: %w", err)
	}
	return e.catalog.Validate(draft)
}

// SyncCatalog pulls the catalog repository and publishes its catalog file
// when it changed and takes effect after the latest version.
func (e *Engine) SyncCatalog(ctx context.Context) (*gitsync.SyncResult, error) {
	if e.gitSync == nil {
		return nil, fmt.Errorf("%w: no catalog repository configured", lifecycle.ErrInvalidArgument)
	}
	return e.gitSync.Sync(ctx)
}

// ListAnomalies returns reported anomalies.
func (e *Engine) ListAnomalies(ctx context.Context, q lifecycle.AnomalyQuery) ([]*lifecycle.Anomaly, error) {
	return e.anomalies.List(ctx, q)
}

// RunJob runs a scheduled job immediately, optionally for one category.
func (e *Engine) RunJob(ctx context.Context, job, category, actor string) (*scheduler.RunReport, error) {
	if actor != "" {
		ctx = logging.WithActor(ctx, actor)
	}
	e.logger.InfoContext(ctx, "Ad-hoc job run requested", "job", job, "category", category)
	return e.scheduler.RunOnce(ctx, job, category)
}

// OverrideRequest is an operator's manual state change.
type OverrideRequest struct {
	RecordID      string          `json:"record_id"`
	State         lifecycle.State `json:"state"`
	Actor         string          `json:"actor"`
	Justification string          `json:"justification"`
}

// OverrideResult is the record after an override, with the certificate when
// the override deleted it.
type OverrideResult struct {
	Record      *lifecycle.Record              `json:"record"`
	Certificate *lifecycle.DeletionCertificate `json:"certificate,omitempty"`
}

// OverrideState moves a record to req.State with a manual-override audit
// entry. It is how operators resolve records flagged by the audit scan.
//
// Deleted goes through the deletion executor. It is the only way to resume
// an escalated deletion and clears the escalation marker. Held and Anonymized
// cannot be forced: holds are placed through the hold manager and
// anonymization only happens once an aggregate covers the record. A Held
// record returns to Active only when no active hold covers it.
func (e *Engine) OverrideState(ctx context.Context, req OverrideRequest) (*OverrideResult, error) {
	if err := requireText("actor", req.Actor); err != nil {
		return nil, err
	}
	if err := requireText("justification", req.Justification); err != nil {
		return nil, err
	}
	if !req.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", lifecycle.ErrInvalidArgument, req.State)
	}
	ctx = logging.WithActor(ctx, req.Actor)

	meta := ledger.TransitionMeta{
		Reason:        lifecycle.ReasonManualOverride,
		Actor:         req.Actor,
		Justification: req.Justification,
	}

	switch req.State {
	case lifecycle.StateHeld:
		return nil, fmt.Errorf("%w: place a legal hold instead of overriding to %s", lifecycle.ErrInvalidArgument, req.State)
	case lifecycle.StateAnonymized:
		return nil, fmt.Errorf("%w: records become %s only through aggregation", lifecycle.ErrInvalidArgument, req.State)
	case lifecycle.StateDeleted:
		cert, err := e.executor.DeleteAs(ctx, req.RecordID, meta)
		if err != nil {
			return nil, err
		}
		rec, err := e.ledger.Get(ctx, req.RecordID)
		if err != nil {
			return nil, err
		}
		return &OverrideResult{Record: rec, Certificate: cert}, nil
	}

	unlock := e.ledger.Lock(req.RecordID)
	defer unlock()

	rec, err := e.ledger.Get(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	if rec.State == req.State {
		return &OverrideResult{Record: rec}, nil
	}
	if rec.State == lifecycle.StateHeld {
		held, err := e.holds.Covers(ctx, rec)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, lifecycle.NewHeldError(rec.ID)
		}
	}
	if err := e.ledger.Transition(ctx, rec, req.State, meta); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Record state overridden",
		"record_id", rec.ID,
		"state", rec.State,
		"actor", req.Actor,
	)
	return &OverrideResult{Record: rec}, nil
}

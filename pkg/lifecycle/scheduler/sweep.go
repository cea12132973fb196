package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/executor"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
)

// Sweep outcomes.
const (
	OutcomeDeleted            = "deleted"
	OutcomeAnonymizing        = "anonymizing"
	OutcomeHeld               = "held"
	OutcomeRestored           = "restored"
	OutcomeRetained           = "retained"
	OutcomeSkipped            = "skipped"
	OutcomeUnknownCategory    = "unknown_category"
	OutcomePartial            = "partial"
	OutcomeVerificationFailed = "verification_failed"
	OutcomeEscalated          = "escalated"
	OutcomeFailed             = "failed"
)

// RuleCatalog resolves retention rules and lists known categories.
type RuleCatalog interface {
	ledger.RuleSource
	CategorySource
}

// HoldManager is the subset of the legal hold manager the sweep needs.
type HoldManager interface {
	Covers(ctx context.Context, rec *lifecycle.Record) (bool, error)
	Restore(ctx context.Context, recordID string) (bool, error)
}

// AnomalyReporter persists anomalies.
type AnomalyReporter interface {
	Report(ctx context.Context, a *lifecycle.Anomaly) (*lifecycle.Anomaly, error)

	// ReportOnce skips anomalies already reported for the same record.
	ReportOnce(ctx context.Context, a *lifecycle.Anomaly) (*lifecycle.Anomaly, bool, error)
}

// Deleter erases records.
type Deleter interface {
	Delete(ctx context.Context, recordID string, reason lifecycle.Reason) (*lifecycle.DeletionCertificate, error)
}

// DeletionSweep routes every candidate record of a shard to deletion,
// anonymization or nothing.
type DeletionSweep struct {
	catalog     RuleCatalog
	ledger      *ledger.Ledger
	holds       HoldManager
	deleter     Deleter
	anomalies   AnomalyReporter
	perCategory int
	logger      *slog.Logger
}

// NewDeletionSweep creates the daily deletion sweep.
func NewDeletionSweep(catalog RuleCatalog, l *ledger.Ledger, holds HoldManager, deleter Deleter, anomalies AnomalyReporter, shardsPerCategory int, logger *slog.Logger) *DeletionSweep {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeletionSweep{
		catalog:     catalog,
		ledger:      l,
		holds:       holds,
		deleter:     deleter,
		anomalies:   anomalies,
		perCategory: shardsPerCategory,
		logger:      logger.With("component", "scheduler.sweep"),
	}
}

// Name implements Job.
func (s *DeletionSweep) Name() string { return JobDeletionSweep }

// Shards implements Job.
func (s *DeletionSweep) Shards(ctx context.Context) ([]Shard, error) {
	return categoryShards(ctx, s.catalog, s.ledger, s.perCategory)
}

// RunShard implements Job.
func (s *DeletionSweep) RunShard(ctx context.Context, shard Shard, asOf time.Time) (*ShardResult, error) {
	result := NewShardResult()

	rule, ruleErr := s.catalog.RuleFor(shard.Category, asOf)
	var unknown *lifecycle.UnknownCategoryError
	if ruleErr != nil && !errors.As(ruleErr, &unknown) {
		return result, fmt.Errorf("failed to resolve rule for %s: %w", shard.Category, ruleErr)
	}

	it := s.ledger.CandidatesFor(ctx, shard.Category, asOf, ledger.CandidateOptions{
		ShardIndex: shard.Index,
		ShardCount: shard.Count,
	})
	for it.Next(ctx) {
		rec := it.Record()
		if unknown != nil {
			result.Add(s.reportUnknown(ctx, rec), 1)
			continue
		}
		outcome, err := s.route(ctx, rec, rule, asOf)
		if err != nil {
			s.logger.Warn("Failed to route record",
				"record_id", rec.ID,
				"category", rec.Category,
				"state", rec.State,
				"error", err,
			)
		}
		result.Add(outcome, 1)
	}
	if err := it.Err(); err != nil {
		return result, fmt.Errorf("candidate scan of %s stopped at %q: %w", shard.Category, it.Cursor(), err)
	}
	return result, nil
}

func (s *DeletionSweep) reportUnknown(ctx context.Context, rec *lifecycle.Record) string {
	err := lifecycle.NewUnknownCategoryError(rec.Category, rec.ID)
	_, _, reportErr := s.anomalies.ReportOnce(ctx, &lifecycle.Anomaly{
		Kind:     lifecycle.AnomalyUnknownCategory,
		RecordID: rec.ID,
		Category: rec.Category,
		Detail:   err.Error(),
	})
	if reportErr != nil {
		s.logger.Error("Failed to report unknown category", "record_id", rec.ID, "error", reportErr)
	}
	return OutcomeUnknownCategory
}

// route decides and applies the action for one candidate.
func (s *DeletionSweep) route(ctx context.Context, rec *lifecycle.Record, rule lifecycle.RetentionRule, asOf time.Time) (string, error) {
	held, err := s.holds.Covers(ctx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if held {
		return OutcomeHeld, s.ensureHeld(ctx, rec.ID)
	}

	if rec.State == lifecycle.StateHeld {
		// Every hold was released but the record was not restored.
		if _, err := s.holds.Restore(ctx, rec.ID); err != nil {
			return OutcomeFailed, err
		}
		if rec, err = s.ledger.Get(ctx, rec.ID); err != nil {
			return OutcomeFailed, err
		}
		if rec.State != lifecycle.StateActive || !rule.Due(rec, asOf) {
			return OutcomeRestored, nil
		}
	}

	switch {
	case rec.Escalated():
		// Only an operator override resumes an escalated deletion.
		return OutcomeEscalated, nil
	case rec.State == lifecycle.StatePendingReview:
		return OutcomeSkipped, nil
	case rec.State == lifecycle.StateAnonymizing:
		return OutcomeAnonymizing, nil
	case rec.State == lifecycle.StatePendingDeletion:
		return s.delete(ctx, rec, deletionReason(rule, rec, asOf))
	case rule.ConsentExpired(rec, asOf):
		return s.delete(ctx, rec, lifecycle.ReasonConsentWithdrawn)
	case rule.Expired(rec, asOf) && rule.Anonymizable:
		return s.anonymize(ctx, rec.ID)
	case rule.Expired(rec, asOf):
		return s.delete(ctx, rec, lifecycle.ReasonPolicyExpired)
	default:
		return OutcomeRetained, nil
	}
}

func deletionReason(rule lifecycle.RetentionRule, rec *lifecycle.Record, asOf time.Time) lifecycle.Reason {
	if rule.ConsentExpired(rec, asOf) {
		return lifecycle.ReasonConsentWithdrawn
	}
	return lifecycle.ReasonPolicyExpired
}

func (s *DeletionSweep) delete(ctx context.Context, rec *lifecycle.Record, reason lifecycle.Reason) (string, error) {
	_, err := s.deleter.Delete(ctx, rec.ID, reason)
	var (
		partial      *lifecycle.PartialDeletionError
		verification *lifecycle.VerificationFailure
	)
	switch {
	case err == nil:
		return OutcomeDeleted, nil
	case lifecycle.IsHeld(err):
		return OutcomeHeld, nil
	case errors.Is(err, lifecycle.ErrEscalated):
		return OutcomeEscalated, nil
	case errors.As(err, &partial):
		return OutcomePartial, err
	case errors.As(err, &verification):
		return OutcomeVerificationFailed, err
	default:
		return OutcomeFailed, err
	}
}

// anonymize moves an Active record to Anonymizing. The hold check is
// repeated under the record lock.
func (s *DeletionSweep) anonymize(ctx context.Context, id string) (string, error) {
	unlock := s.ledger.Lock(id)
	defer unlock()

	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return OutcomeFailed, err
	}
	if rec.State != lifecycle.StateActive {
		return OutcomeSkipped, nil
	}
	held, err := s.holds.Covers(ctx, rec)
	if err != nil {
		return OutcomeFailed, err
	}
	if held {
		err := s.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{Reason: lifecycle.ReasonLegalHoldPlaced})
		return OutcomeHeld, err
	}
	if err := s.ledger.Transition(ctx, rec, lifecycle.StateAnonymizing, ledger.TransitionMeta{Reason: lifecycle.ReasonPolicyExpired}); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeAnonymizing, nil
}

// ensureHeld moves a record covered by a hold to Held if it is not already.
func (s *DeletionSweep) ensureHeld(ctx context.Context, id string) error {
	unlock := s.ledger.Lock(id)
	defer unlock()

	rec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if !rec.State.CanTransition(lifecycle.StateHeld) {
		return nil
	}
	return s.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{Reason: lifecycle.ReasonLegalHoldPlaced})
}

var _ Deleter = (*executor.Executor)(nil)

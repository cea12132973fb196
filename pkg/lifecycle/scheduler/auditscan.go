package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
)

// Audit scan outcomes.
const (
	OutcomeFlagged       = "flagged"
	OutcomeStuck         = "stuck"
	OutcomeChainVerified = "chain_verified"
	OutcomeChainBroken   = "chain_broken"
)

// ChainVerifier recomputes the audit hash chain.
type ChainVerifier interface {
	Verify(ctx context.Context) (*audit.VerifyReport, error)
}

// AuditScan looks for conditions that need an operator: categories missing
// from the catalog, deletions that never finish and a broken audit chain.
// It reports them as anomalies and never resolves them. Stuck deletions are
// escalated so automation leaves them to the operator.
type AuditScan struct {
	catalog   RuleCatalog
	ledger    *ledger.Ledger
	verifier  ChainVerifier
	anomalies AnomalyReporter
	grace     time.Duration
	logger    *slog.Logger
}

// NewAuditScan creates the monthly audit scan. Records PendingDeletion for
// longer than stuckGrace are reported.
func NewAuditScan(catalog RuleCatalog, l *ledger.Ledger, verifier ChainVerifier, anomalies AnomalyReporter, stuckGrace time.Duration, logger *slog.Logger) *AuditScan {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditScan{
		catalog:   catalog,
		ledger:    l,
		verifier:  verifier,
		anomalies: anomalies,
		grace:     stuckGrace,
		logger:    logger.With("component", "scheduler.audit_scan"),
	}
}

// Name implements Job.
func (a *AuditScan) Name() string { return JobAuditScan }

// Shards implements Job. The chain check is a single job-wide shard.
func (a *AuditScan) Shards(ctx context.Context) ([]Shard, error) {
	shards, err := categoryShards(ctx, a.catalog, a.ledger, 1)
	if err != nil {
		return nil, err
	}
	return append([]Shard{{Count: 1}}, shards...), nil
}

// RunShard implements Job.
func (a *AuditScan) RunShard(ctx context.Context, shard Shard, asOf time.Time) (*ShardResult, error) {
	result := NewShardResult()
	if shard.Category == "" {
		return result, a.verifyChain(ctx, result)
	}

	_, err := a.catalog.RuleFor(shard.Category, asOf)
	var unknown *lifecycle.UnknownCategoryError
	switch {
	case errors.As(err, &unknown):
		if err := a.flagOrphan(ctx, shard.Category, result); err != nil {
			return result, err
		}
	case err != nil:
		return result, fmt.Errorf("failed to resolve rule for %s: %w", shard.Category, err)
	}

	return result, a.findStuck(ctx, shard.Category, asOf, result)
}

func (a *AuditScan) verifyChain(ctx context.Context, result *ShardResult) error {
	report, err := a.verifier.Verify(ctx)
	var broken *audit.ChainError
	switch {
	case errors.As(err, &broken):
		result.Add(OutcomeChainBroken, 1)
		_, reportErr := a.anomalies.Report(ctx, &lifecycle.Anomaly{
			Kind:   lifecycle.AnomalyAuditChainBroken,
			Detail: broken.Error(),
		})
		return reportErr
	case err != nil:
		return fmt.Errorf("failed to verify audit chain: %w", err)
	}
	result.Add(OutcomeChainVerified, 1)
	a.logger.Info("Audit chain verified", "entries", report.Entries, "head_seq", report.HeadSeq)
	return nil
}

// flagOrphan moves the Active records of a category absent from every
// catalog version to PendingReview.
func (a *AuditScan) flagOrphan(ctx context.Context, category string, result *ShardResult) error {
	var ids []string
	err := a.ledger.Scan(ctx, lifecycle.RecordQuery{
		Category: category,
		States:   []lifecycle.State{lifecycle.StateActive},
	}, func(rec *lifecycle.Record) error {
		ids = append(ids, rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list orphaned records of %s: %w", category, err)
	}

	flagged := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := a.flag(ctx, id)
		if err != nil {
			result.Add(OutcomeFailed, 1)
			a.logger.Warn("Failed to flag orphaned record", "record_id", id, "error", err)
			continue
		}
		if ok {
			flagged++
		}
	}
	result.Add(OutcomeFlagged, flagged)

	_, err = a.anomalies.Report(ctx, &lifecycle.Anomaly{
		Kind:     lifecycle.AnomalyOrphanCategory,
		Category: category,
		Detail:   fmt.Sprintf("category %q is not defined by any catalog version; %d active records moved to review", category, flagged),
	})
	return err
}

func (a *AuditScan) flag(ctx context.Context, id string) (bool, error) {
	unlock := a.ledger.Lock(id)
	defer unlock()

	rec, err := a.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.State != lifecycle.StateActive {
		return false, nil
	}
	err = a.ledger.Transition(ctx, rec, lifecycle.StatePendingReview, ledger.TransitionMeta{Reason: lifecycle.ReasonAnomalyFlagged})
	return err == nil, err
}

func (a *AuditScan) findStuck(ctx context.Context, category string, asOf time.Time, result *ShardResult) error {
	var stuck []*lifecycle.Record
	err := a.ledger.Scan(ctx, lifecycle.RecordQuery{
		Category: category,
		States:   []lifecycle.State{lifecycle.StatePendingDeletion},
	}, func(rec *lifecycle.Record) error {
		if rec.StateChangedAt.Add(a.grace).Before(asOf) {
			stuck = append(stuck, rec)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list pending deletions of %s: %w", category, err)
	}

	for _, rec := range stuck {
		escalated, err := a.escalate(ctx, rec.ID)
		if err != nil {
			return err
		}
		if !escalated {
			continue
		}
		_, err = a.anomalies.Report(ctx, &lifecycle.Anomaly{
			Kind:     lifecycle.AnomalyStuckDeletion,
			RecordID: rec.ID,
			Category: rec.Category,
			Detail: fmt.Sprintf("pending deletion since %s",
				rec.StateChangedAt.UTC().Format(time.RFC3339)),
		})
		if err != nil {
			return err
		}
		result.Add(OutcomeStuck, 1)
	}
	return nil
}

// escalate marks a stuck deletion so the sweep stops retrying it. Records
// that are already escalated, or left PendingDeletion meanwhile, are skipped.
func (a *AuditScan) escalate(ctx context.Context, id string) (bool, error) {
	unlock := a.ledger.Lock(id)
	defer unlock()

	rec, err := a.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if rec.State != lifecycle.StatePendingDeletion || rec.Escalated() {
		return false, nil
	}
	return true, a.ledger.Escalate(ctx, rec)
}

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/anonymize"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
)

// Aggregator runs one anonymization cycle of a category.
type Aggregator interface {
	Aggregate(ctx context.Context, category string, asOf time.Time) (*anonymize.Report, error)
}

// AggregationJob runs the anonymization pipeline once per category. Cycles
// are numbered per category, so categories are never split by owner.
type AggregationJob struct {
	catalog    RuleCatalog
	ledger     *ledger.Ledger
	aggregator Aggregator
	logger     *slog.Logger
}

// NewAggregationJob creates the weekly aggregation job.
func NewAggregationJob(catalog RuleCatalog, l *ledger.Ledger, aggregator Aggregator, logger *slog.Logger) *AggregationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregationJob{
		catalog:    catalog,
		ledger:     l,
		aggregator: aggregator,
		logger:     logger.With("component", "scheduler.aggregation"),
	}
}

// Name implements Job.
func (j *AggregationJob) Name() string { return JobAggregation }

// Shards implements Job.
func (j *AggregationJob) Shards(ctx context.Context) ([]Shard, error) {
	return categoryShards(ctx, j.catalog, j.ledger, 1)
}

// RunShard implements Job.
func (j *AggregationJob) RunShard(ctx context.Context, shard Shard, asOf time.Time) (*ShardResult, error) {
	result := NewShardResult()

	report, err := j.aggregator.Aggregate(ctx, shard.Category, asOf)
	var unknown *lifecycle.UnknownCategoryError
	if errors.As(err, &unknown) {
		// The deletion sweep reports these records.
		j.logger.Debug("Skipping category unknown to the catalog", "category", shard.Category)
		return result, nil
	}
	if report != nil {
		result.Add("published", len(report.Published))
		result.Add("anonymized", report.RecordsAnonymized)
		result.Add("aggregates_removed", report.AggregatesRemoved)
		result.Add("pending", report.Pending)
		result.Add(OutcomeHeld, report.Held)
		result.Add(OutcomeFailed, report.Failed)
	}
	return result, err
}

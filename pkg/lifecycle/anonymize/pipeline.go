// Package anonymize rolls Anonymizing records up the granularity ladder
// (raw, daily, weekly, monthly) into k-anonymous aggregates.
//
// Every run of a category is a numbered cycle. A run first removes the fine
// units whose covering aggregate was published in an earlier cycle, then
// publishes the next rung. Publication and the marking of its sources happen
// in one store write, so fine units are removed only after the coarser
// aggregate exists, and never in the cycle that produced it.
package anonymize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/executor"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

// DefaultKThreshold is the minimum number of records behind a published aggregate.
const DefaultKThreshold = 5

// Eraser removes a record's content from every store without changing its state.
type Eraser interface {
	Erase(ctx context.Context, rec *lifecycle.Record) (*executor.Result, error)
}

// Report summarizes one aggregation run of a category.
type Report struct {
	Category string
	Cycle    int64

	// Published lists the aggregates written this cycle.
	Published []*lifecycle.Aggregate

	// RecordsAnonymized counts records erased and moved to Anonymized.
	RecordsAnonymized int

	// AggregatesRemoved counts finer aggregates deleted after a rollup.
	AggregatesRemoved int

	// Pending counts units left unpublished because their windows hold fewer
	// than k records so far.
	Pending int

	Held   int
	Failed int
}

// Pipeline runs aggregation cycles.
type Pipeline struct {
	store   lifecycle.AggregateStore
	ledger  *ledger.Ledger
	rules   ledger.RuleSource
	holds   executor.HoldChecker
	eraser  Eraser
	audit   *audit.Log
	k       int
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithClock overrides the time source used for published_at.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithMetrics records published aggregates on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = collector }
}

// WithKThreshold sets the minimum group size. Values below 1 select the default.
func WithKThreshold(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.k = k
		}
	}
}

// New creates a pipeline.
func New(store lifecycle.AggregateStore, l *ledger.Ledger, rules ledger.RuleSource, holds executor.HoldChecker, eraser Eraser, log *audit.Log, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		ledger: l,
		rules:  rules,
		holds:  holds,
		eraser: eraser,
		audit:  log,
		k:      DefaultKThreshold,
		logger: slog.Default().With("component", "anonymize"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// K returns the configured threshold.
func (p *Pipeline) K() int {
	return p.k
}

// Aggregate runs one cycle for category. Only windows closed at asOf are
// rolled up. Per-record failures are counted in the report; the error is
// reserved for failures that stop the whole cycle.
func (p *Pipeline) Aggregate(ctx context.Context, category string, asOf time.Time) (*Report, error) {
	rule, err := p.rules.RuleFor(category, asOf)
	if err != nil {
		return nil, err
	}

	cycle, err := p.store.NextCycle(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to start aggregation cycle for %s: %w", category, err)
	}
	report := &Report{Category: category, Cycle: cycle}

	if err := p.removeRecords(ctx, category, cycle, report); err != nil {
		return report, err
	}
	if err := p.removeAggregates(ctx, category, cycle, report); err != nil {
		return report, err
	}

	first := rule.MinAggregationGranularity.FirstPublished()
	if err := p.rollupRecords(ctx, category, first, cycle, asOf.UTC(), report); err != nil {
		return report, err
	}
	for from := first; ; {
		to, ok := from.Next()
		if !ok {
			break
		}
		if err := p.rollupAggregates(ctx, category, from, to, cycle, asOf.UTC(), report); err != nil {
			return report, err
		}
		from = to
	}

	p.logger.Info("Aggregation cycle completed",
		"category", category,
		"cycle", cycle,
		"published", len(report.Published),
		"records_anonymized", report.RecordsAnonymized,
		"aggregates_removed", report.AggregatesRemoved,
		"pending", report.Pending,
		"held", report.Held,
		"failed", report.Failed,
	)
	return report, nil
}

// removeRecords erases Anonymizing records covered by an aggregate from an
// earlier cycle and moves them to Anonymized.
func (p *Pipeline) removeRecords(ctx context.Context, category string, cycle int64, report *Report) error {
	published := make(map[string]int64)
	var eligible []string

	err := p.ledger.Scan(ctx, lifecycle.RecordQuery{
		Category: category,
		States:   []lifecycle.State{lifecycle.StateAnonymizing},
		Coverage: lifecycle.CoverageCovered,
	}, func(rec *lifecycle.Record) error {
		c, ok := published[rec.AggregateID]
		if !ok {
			agg, err := p.store.GetAggregate(ctx, rec.AggregateID)
			switch {
			case errors.Is(err, lifecycle.ErrNotFound):
				// Already rolled up and removed; its count lives on upstream.
				c = 0
			case err != nil:
				return err
			default:
				c = agg.PublishedCycle
			}
			published[rec.AggregateID] = c
		}
		if c < cycle {
			eligible = append(eligible, rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list covered records of %s: %w", category, err)
	}

	for _, id := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := p.anonymizeRecord(ctx, id)
		switch {
		case err == nil:
			report.RecordsAnonymized++
		case lifecycle.IsHeld(err):
			report.Held++
		default:
			report.Failed++
			p.logger.Warn("Failed to anonymize record", "record_id", id, "category", category, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) anonymizeRecord(ctx context.Context, id string) error {
	unlock := p.ledger.Lock(id)
	defer unlock()

	rec, err := p.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.State != lifecycle.StateAnonymizing {
		return nil
	}
	if rec.Escalated() {
		return fmt.Errorf("%w: record %s", lifecycle.ErrEscalated, rec.ID)
	}

	held, err := p.holds.Covers(ctx, rec)
	if err != nil {
		return err
	}
	if held {
		if err := p.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{Reason: lifecycle.ReasonLegalHoldPlaced}); err != nil {
			return err
		}
		return lifecycle.NewHeldError(rec.ID)
	}

	if _, err := p.eraser.Erase(ctx, rec); err != nil {
		return err
	}
	return p.ledger.Transition(ctx, rec, lifecycle.StateAnonymized, ledger.TransitionMeta{Reason: lifecycle.ReasonPolicyExpired})
}

// removeAggregates deletes finer aggregates whose parent was published in an
// earlier cycle.
func (p *Pipeline) removeAggregates(ctx context.Context, category string, cycle int64, report *Report) error {
	all, err := p.store.ListAggregates(ctx, lifecycle.AggregateQuery{Category: category})
	if err != nil {
		return fmt.Errorf("failed to list aggregates of %s: %w", category, err)
	}
	byID := make(map[string]*lifecycle.Aggregate, len(all))
	for _, agg := range all {
		byID[agg.ID] = agg
	}
	for _, agg := range all {
		if agg.RolledInto == "" {
			continue
		}
		parent, ok := byID[agg.RolledInto]
		if !ok || parent.PublishedCycle >= cycle {
			continue
		}
		if err := p.store.DeleteAggregate(ctx, agg.ID); err != nil {
			return fmt.Errorf("failed to delete aggregate %s: %w", agg.ID, err)
		}
		report.AggregatesRemoved++
		p.logger.Debug("Aggregate removed", "aggregate_id", agg.ID, "rolled_into", parent.ID)
	}
	return nil
}

// unit is one input of a rollup: a raw record or a finer aggregate.
type unit struct {
	id    string
	start time.Time
	end   time.Time
	count int
}

// bucket collects the units of one dimension falling into one target window.
type bucket struct {
	start time.Time
	end   time.Time
	units []unit
}

func (p *Pipeline) rollupRecords(ctx context.Context, category string, to lifecycle.Granularity, cycle int64, asOf time.Time, report *Report) error {
	groups := make(map[string][]unit)
	err := p.ledger.Scan(ctx, lifecycle.RecordQuery{
		Category: category,
		States:   []lifecycle.State{lifecycle.StateAnonymizing},
		Coverage: lifecycle.CoverageUncovered,
	}, func(rec *lifecycle.Record) error {
		at := rec.CreatedAt.UTC()
		groups[rec.Dimension] = append(groups[rec.Dimension], unit{id: rec.ID, start: at, end: at, count: 1})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to list uncovered records of %s: %w", category, err)
	}
	return p.publishGroups(ctx, category, lifecycle.GranularityRaw, to, cycle, asOf, groups, report)
}

func (p *Pipeline) rollupAggregates(ctx context.Context, category string, from, to lifecycle.Granularity, cycle int64, asOf time.Time, report *Report) error {
	aggs, err := p.store.ListAggregates(ctx, lifecycle.AggregateQuery{
		Category:    category,
		Granularity: from,
		Coverage:    lifecycle.CoverageUncovered,
	})
	if err != nil {
		return fmt.Errorf("failed to list %s aggregates of %s: %w", from, category, err)
	}
	groups := make(map[string][]unit)
	for _, agg := range aggs {
		// One rung per cycle.
		if agg.PublishedCycle >= cycle {
			continue
		}
		groups[agg.Dimension] = append(groups[agg.Dimension], unit{
			id:    agg.ID,
			start: agg.WindowStart,
			end:   agg.WindowEnd,
			count: agg.Count,
		})
	}
	return p.publishGroups(ctx, category, from, to, cycle, asOf, groups, report)
}

// publishGroups buckets each dimension's units into closed target windows and
// walks them in order. Under-k windows merge forward into the following
// windows until the accumulated count reaches k; whatever is left at the end
// stays unpublished for a later cycle.
func (p *Pipeline) publishGroups(ctx context.Context, category string, from, to lifecycle.Granularity, cycle int64, asOf time.Time, groups map[string][]unit, report *Report) error {
	dimensions := make([]string, 0, len(groups))
	for d := range groups {
		dimensions = append(dimensions, d)
	}
	slices.Sort(dimensions)

	for _, dimension := range dimensions {
		buckets := bucketize(groups[dimension], to, asOf)

		var acc []unit
		var count int
		var start, end time.Time
		for _, b := range buckets {
			if len(acc) == 0 {
				start = b.start
			}
			acc = append(acc, b.units...)
			end = b.end
			for _, u := range b.units {
				count += u.count
				if u.start.Before(start) {
					start = u.start
				}
				if u.end.After(end) {
					end = u.end
				}
			}
			if count < p.k {
				continue
			}

			agg := &lifecycle.Aggregate{
				ID:             uuid.New().String(),
				Category:       category,
				Dimension:      dimension,
				Granularity:    to,
				WindowStart:    start,
				WindowEnd:      end,
				Count:          count,
				PublishedCycle: cycle,
			}
			if err := p.publish(ctx, agg, from, acc); err != nil {
				return err
			}
			report.Published = append(report.Published, agg)
			acc, count = nil, 0
		}
		report.Pending += len(acc)
		if len(acc) > 0 {
			p.logger.Debug("Window below k threshold, merging with the next window",
				"category", category,
				"granularity", to,
				"units", len(acc),
				"count", count,
				"k", p.k,
			)
		}
	}
	return nil
}

func bucketize(units []unit, to lifecycle.Granularity, asOf time.Time) []bucket {
	byStart := make(map[time.Time]*bucket)
	for _, u := range units {
		start := to.WindowStart(u.start)
		end := to.WindowEnd(start)
		if end.After(asOf) || u.end.After(asOf) {
			continue
		}
		b, ok := byStart[start]
		if !ok {
			b = &bucket{start: start, end: end}
			byStart[start] = b
		}
		b.units = append(b.units, u)
	}
	out := make([]bucket, 0, len(byStart))
	for _, b := range byStart {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b bucket) int { return a.start.Compare(b.start) })
	return out
}

func (p *Pipeline) publish(ctx context.Context, agg *lifecycle.Aggregate, from lifecycle.Granularity, units []unit) error {
	agg.PublishedAt = p.now().UTC()
	pub := &lifecycle.Publication{Aggregate: agg}
	for _, u := range units {
		if from == lifecycle.GranularityRaw {
			pub.RecordIDs = append(pub.RecordIDs, u.id)
		} else {
			pub.AggregateIDs = append(pub.AggregateIDs, u.id)
		}
	}

	entry := &lifecycle.AuditEntry{
		Kind:      lifecycle.EntryAggregate,
		Category:  agg.Category,
		Reason:    lifecycle.ReasonPolicyExpired,
		Actor:     ledger.SystemActor,
		Ref:       agg.ID,
		Count:     agg.Count,
		Timestamp: agg.PublishedAt,
		Justification: fmt.Sprintf("%s aggregate %s..%s from %d %s units",
			agg.Granularity,
			agg.WindowStart.Format(time.DateOnly),
			agg.WindowEnd.Format(time.DateOnly),
			len(units),
			from,
		),
	}
	_, err := p.audit.Commit(ctx, entry, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		pub.Entry = sealed
		return p.store.PublishAggregate(ctx, pub)
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s aggregate for %s: %w", agg.Granularity, agg.Category, err)
	}
	p.metrics.RecordAggregatePublished(agg.Category)

	p.logger.Info("Aggregate published",
		"aggregate_id", agg.ID,
		"category", agg.Category,
		"granularity", agg.Granularity,
		"window_start", agg.WindowStart,
		"window_end", agg.WindowEnd,
		"count", agg.Count,
		"cycle", agg.PublishedCycle,
	)
	return nil
}

package ledger

import (
	"context"
	"errors"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
)

// candidateStates are the states a sweep has to look at.
var candidateStates = []lifecycle.State{
	lifecycle.StateActive,
	lifecycle.StateHeld,
	lifecycle.StateAnonymizing,
	lifecycle.StatePendingDeletion,
}

// CandidateOptions restricts a candidate scan to one owner shard and
// resumes it after a previous cursor.
type CandidateOptions struct {
	ShardIndex int
	ShardCount int
	After      string
}

// Iterator lazily yields sweep candidates one page at a time.
//
//	it := l.CandidatesFor(ctx, "session-cookie", asOf, ledger.CandidateOptions{})
//	for it.Next(ctx) {
//	    rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	l        *Ledger
	query    lifecycle.RecordQuery
	asOf     time.Time
	rule     lifecycle.RetentionRule
	ruleless bool

	page []*lifecycle.Record
	pos  int
	done bool
	cur  *lifecycle.Record
	err  error
}

// CandidatesFor returns an iterator over the records of category that the
// sweep must route at asOf: Active and Anonymizing records that are expired
// or consent-expired, and every Held and PendingDeletion record. When the
// category is unknown to the catalog every record in those states is
// yielded so the caller can report it.
func (l *Ledger) CandidatesFor(ctx context.Context, category string, asOf time.Time, opts CandidateOptions) *Iterator {
	it := &Iterator{
		l:    l,
		asOf: asOf,
		query: lifecycle.RecordQuery{
			Category:   category,
			States:     candidateStates,
			ShardIndex: opts.ShardIndex,
			ShardCount: opts.ShardCount,
			AfterID:    opts.After,
			Limit:      l.pageSize,
		},
	}

	rule, err := l.rules.RuleFor(category, asOf)
	var unknown *lifecycle.UnknownCategoryError
	switch {
	case errors.As(err, &unknown):
		it.ruleless = true
	case err != nil:
		it.err = err
		it.done = true
	default:
		it.rule = rule
	}
	return it
}

// Next advances to the next candidate. It returns false when the scan is
// exhausted, the context is cancelled, or the store failed.
func (it *Iterator) Next(ctx context.Context) bool {
	it.cur = nil
	for {
		if it.err != nil {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		for it.pos < len(it.page) {
			rec := it.page[it.pos]
			it.pos++
			it.query.AfterID = rec.ID
			if it.selects(rec) {
				it.cur = rec
				return true
			}
		}
		if it.done {
			return false
		}

		page, err := it.l.store.ListRecords(ctx, it.query)
		if err != nil {
			it.err = err
			return false
		}
		it.page, it.pos = page, 0
		if len(page) < it.query.Limit {
			it.done = true
		}
	}
}

func (it *Iterator) selects(rec *lifecycle.Record) bool {
	if it.ruleless {
		return true
	}
	switch rec.State {
	case lifecycle.StateHeld, lifecycle.StatePendingDeletion:
		return true
	default:
		return it.rule.Due(rec, it.asOf)
	}
}

// Record returns the current candidate.
func (it *Iterator) Record() *lifecycle.Record {
	return it.cur
}

// Cursor returns the ID of the last record examined. Passing it as
// CandidateOptions.After resumes the scan after that record.
func (it *Iterator) Cursor() string {
	return it.query.AfterID
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

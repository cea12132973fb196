package scheduler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/lifecycle/ledger"
)

// Job names.
const (
	JobDeletionSweep = "deletion-sweep"
	JobAggregation   = "aggregation"
	JobAuditScan     = "audit-scan"
)

// Job is a periodic lifecycle job split into independently leased shards.
type Job interface {
	Name() string

	// Shards lists the work units of one run. An error aborts the run.
	Shards(ctx context.Context) ([]Shard, error)

	// RunShard processes one shard as of asOf. Per-record failures are
	// counted in the result; a returned error means the shard could not be
	// processed at all.
	RunShard(ctx context.Context, shard Shard, asOf time.Time) (*ShardResult, error)
}

// Shard is one category, optionally split by owner hash. An empty category
// denotes a job-wide shard.
type Shard struct {
	Category string
	Index    int
	Count    int
}

// Key returns the lease name of the shard within job.
func (s Shard) Key(job string) string {
	category := s.Category
	if category == "" {
		category = "_global"
	}
	return fmt.Sprintf("%s/%s/%d", job, category, s.Index)
}

// ShardResult counts per-record outcomes.
type ShardResult struct {
	mu       sync.Mutex
	outcomes map[string]int
}

// NewShardResult returns an empty result.
func NewShardResult() *ShardResult {
	return &ShardResult{outcomes: make(map[string]int)}
}

// Add counts n records with outcome.
func (r *ShardResult) Add(outcome string, n int) {
	if n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome] += n
}

// Outcomes returns a copy of the counts.
func (r *ShardResult) Outcomes() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.outcomes)
}

// CategorySource lists the categories known to the policy catalog.
type CategorySource interface {
	Categories() []string
}

// categories returns the union of catalog and ledger categories, sorted.
// Ledger-only categories are orphans that still have to be visited.
func categories(ctx context.Context, catalog CategorySource, l *ledger.Ledger) ([]string, error) {
	seen := make(map[string]struct{})
	for _, c := range catalog.Categories() {
		seen[c] = struct{}{}
	}
	stored, err := l.Categories(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range stored {
		seen[c] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

func categoryShards(ctx context.Context, catalog CategorySource, l *ledger.Ledger, perCategory int) ([]Shard, error) {
	names, err := categories(ctx, catalog, l)
	if err != nil {
		return nil, err
	}
	perCategory = max(perCategory, 1)
	shards := make([]Shard, 0, len(names)*perCategory)
	for _, name := range names {
		for i := 0; i < perCategory; i++ {
			shards = append(shards, Shard{Category: name, Index: i, Count: perCategory})
		}
	}
	return shards, nil
}

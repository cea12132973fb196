package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
)

// MemoryStore implements lifecycle.Store in process memory.
// It is intended for tests and single-process development runs.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[string]*lifecycle.Record
	certs      map[string]*lifecycle.DeletionCertificate
	holds      map[string]*lifecycle.LegalHold
	audit      []*lifecycle.AuditEntry
	catalog    []*lifecycle.CatalogVersion
	leases     map[string]*lifecycle.ShardLease
	aggregates map[string]*lifecycle.Aggregate
	cycles     map[string]int64
	anomalies  []*lifecycle.Anomaly
}

var _ lifecycle.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[string]*lifecycle.Record),
		certs:      make(map[string]*lifecycle.DeletionCertificate),
		holds:      make(map[string]*lifecycle.LegalHold),
		leases:     make(map[string]*lifecycle.ShardLease),
		aggregates: make(map[string]*lifecycle.Aggregate),
		cycles:     make(map[string]int64),
	}
}

// Ping implements lifecycle.Store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements lifecycle.Store.
func (s *MemoryStore) Close() error { return nil }

// checkChain must be called with mu held.
func (s *MemoryStore) checkChain(entry *lifecycle.AuditEntry) error {
	head := ""
	if n := len(s.audit); n > 0 {
		head = s.audit[n-1].Hash
	}
	if entry.PrevHash != head {
		return lifecycle.ErrChainMoved
	}
	return nil
}

// appendEntry must be called with mu held, after checkChain.
func (s *MemoryStore) appendEntry(entry *lifecycle.AuditEntry) {
	e := *entry
	s.audit = append(s.audit, &e)
}

// InsertRecord implements lifecycle.RecordStore.
func (s *MemoryStore) InsertRecord(ctx context.Context, rec *lifecycle.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return lifecycle.ErrConflict
	}
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

// GetRecord implements lifecycle.RecordStore.
func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*lifecycle.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	return copyRecord(rec), nil
}

// UpdateLastActive implements lifecycle.RecordStore. Older timestamps are ignored.
func (s *MemoryStore) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return lifecycle.ErrNotFound
	}
	if at.After(rec.LastActiveAt) {
		rec.LastActiveAt = at
	}
	return nil
}

// SetConsentWithdrawn implements lifecycle.RecordStore. The earliest withdrawal wins.
func (s *MemoryStore) SetConsentWithdrawn(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return lifecycle.ErrNotFound
	}
	if rec.ConsentWithdrawnAt == nil || at.Before(*rec.ConsentWithdrawnAt) {
		rec.ConsentWithdrawnAt = &at
	}
	return nil
}

// SetEscalation implements lifecycle.RecordStore.
func (s *MemoryStore) SetEscalation(ctx context.Context, id string, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return lifecycle.ErrNotFound
	}
	rec.EscalatedAt = nil
	if at != nil {
		stamp := *at
		rec.EscalatedAt = &stamp
	}
	return nil
}

// ListRecords implements lifecycle.RecordStore.
func (s *MemoryStore) ListRecords(ctx context.Context, q lifecycle.RecordQuery) ([]*lifecycle.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*lifecycle.Record
	for _, rec := range s.records {
		if matchRecord(rec, q) {
			matched = append(matched, rec)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	out := make([]*lifecycle.Record, len(matched))
	for i, rec := range matched {
		out[i] = copyRecord(rec)
	}
	return out, nil
}

func matchRecord(rec *lifecycle.Record, q lifecycle.RecordQuery) bool {
	if q.Category != "" && rec.Category != q.Category {
		return false
	}
	if q.OwnerID != "" && rec.OwnerID != q.OwnerID {
		return false
	}
	if len(q.States) > 0 && !slices.Contains(q.States, rec.State) {
		return false
	}
	switch q.Coverage {
	case lifecycle.CoverageUncovered:
		if rec.AggregateID != "" {
			return false
		}
	case lifecycle.CoverageCovered:
		if rec.AggregateID == "" {
			return false
		}
	}
	if q.ShardCount > 1 && rec.OwnerShard(q.ShardCount) != q.ShardIndex {
		return false
	}
	return rec.ID > q.AfterID
}

// RecordCategories implements lifecycle.RecordStore.
func (s *MemoryStore) RecordCategories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.records {
		seen[rec.Category] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for c := range seen {
		categories = append(categories, c)
	}
	slices.Sort(categories)
	return categories, nil
}

// ApplyTransition implements lifecycle.RecordStore.
func (s *MemoryStore) ApplyTransition(ctx context.Context, t *lifecycle.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[t.RecordID]
	if !ok {
		return lifecycle.ErrNotFound
	}
	if rec.State != t.From {
		return lifecycle.ErrStateConflict
	}
	if err := s.checkChain(t.Entry); err != nil {
		return err
	}

	rec.State = t.To
	rec.StateChangedAt = t.At
	s.appendEntry(t.Entry)
	if t.Certificate != nil {
		cert := *t.Certificate
		cert.Stores = slices.Clone(t.Certificate.Stores)
		s.certs[t.RecordID] = &cert
	}
	return nil
}

// GetCertificate implements lifecycle.CertificateStore.
func (s *MemoryStore) GetCertificate(ctx context.Context, recordID string) (*lifecycle.DeletionCertificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cert, ok := s.certs[recordID]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	out := *cert
	out.Stores = slices.Clone(cert.Stores)
	return &out, nil
}

// InsertHold implements lifecycle.HoldStore.
func (s *MemoryStore) InsertHold(ctx context.Context, h *lifecycle.LegalHold, entry *lifecycle.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.holds[h.ID]; exists {
		return lifecycle.ErrConflict
	}
	if err := s.checkChain(entry); err != nil {
		return err
	}
	s.holds[h.ID] = copyHold(h)
	s.appendEntry(entry)
	return nil
}

// GetHold implements lifecycle.HoldStore.
func (s *MemoryStore) GetHold(ctx context.Context, id string) (*lifecycle.LegalHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.holds[id]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	return copyHold(h), nil
}

// ReleaseHold implements lifecycle.HoldStore.
func (s *MemoryStore) ReleaseHold(ctx context.Context, h *lifecycle.LegalHold, entry *lifecycle.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.holds[h.ID]
	if !ok {
		return lifecycle.ErrNotFound
	}
	if !existing.Active() {
		return lifecycle.ErrConflict
	}
	if err := s.checkChain(entry); err != nil {
		return err
	}
	released := *h.ReleasedAt
	existing.ReleasedAt = &released
	existing.ReleasedBy = h.ReleasedBy
	existing.ReleaseReason = h.ReleaseReason
	s.appendEntry(entry)
	return nil
}

// ListHolds implements lifecycle.HoldStore.
func (s *MemoryStore) ListHolds(ctx context.Context, activeOnly bool) ([]*lifecycle.LegalHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*lifecycle.LegalHold
	for _, h := range s.holds {
		if activeOnly && !h.Active() {
			continue
		}
		out = append(out, copyHold(h))
	}
	sortHolds(out)
	return out, nil
}

// ActiveHoldsFor implements lifecycle.HoldStore.
func (s *MemoryStore) ActiveHoldsFor(ctx context.Context, recordID, ownerID string) ([]*lifecycle.LegalHold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := &lifecycle.Record{ID: recordID, OwnerID: ownerID}
	var out []*lifecycle.LegalHold
	for _, h := range s.holds {
		if h.Active() && h.Covers(target) {
			out = append(out, copyHold(h))
		}
	}
	sortHolds(out)
	return out, nil
}

func sortHolds(holds []*lifecycle.LegalHold) {
	sort.Slice(holds, func(i, j int) bool {
		if holds[i].CreatedAt.Equal(holds[j].CreatedAt) {
			return holds[i].ID < holds[j].ID
		}
		return holds[i].CreatedAt.Before(holds[j].CreatedAt)
	})
}

// AppendAudit implements lifecycle.AuditStore.
func (s *MemoryStore) AppendAudit(ctx context.Context, entry *lifecycle.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkChain(entry); err != nil {
		return err
	}
	s.appendEntry(entry)
	return nil
}

// LastAuditEntry implements lifecycle.AuditStore.
func (s *MemoryStore) LastAuditEntry(ctx context.Context) (*lifecycle.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.audit) == 0 {
		return nil, nil
	}
	e := *s.audit[len(s.audit)-1]
	return &e, nil
}

// ListAudit implements lifecycle.AuditStore.
func (s *MemoryStore) ListAudit(ctx context.Context, q lifecycle.AuditQuery) ([]*lifecycle.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*lifecycle.AuditEntry
	for _, entry := range s.audit {
		if entry.Seq <= q.AfterSeq {
			continue
		}
		if !q.From.IsZero() && entry.Timestamp.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !entry.Timestamp.Before(q.To) {
			continue
		}
		e := *entry
		out = append(out, &e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// TamperAuditEntry rewrites a stored entry in place. Tests use it to prove
// that verification detects modification.
func (s *MemoryStore) TamperAuditEntry(seq int64, mutate func(*lifecycle.AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.audit {
		if e.Seq == seq {
			mutate(e)
		}
	}
}

// InsertCatalogVersion implements lifecycle.CatalogStore.
func (s *MemoryStore) InsertCatalogVersion(ctx context.Context, v *lifecycle.CatalogVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.Version != len(s.catalog)+1 {
		return lifecycle.ErrConflict
	}
	s.catalog = append(s.catalog, copyVersion(v))
	return nil
}

// ListCatalogVersions implements lifecycle.CatalogStore.
func (s *MemoryStore) ListCatalogVersions(ctx context.Context) ([]*lifecycle.CatalogVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*lifecycle.CatalogVersion, len(s.catalog))
	for i, v := range s.catalog {
		out[i] = copyVersion(v)
	}
	return out, nil
}

// AcquireLease implements lifecycle.LeaseStore.
func (s *MemoryStore) AcquireLease(ctx context.Context, lease *lifecycle.ShardLease, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.leases[lease.Shard]; ok && existing.ExpiresAt.After(now) && existing.Token != lease.Token {
		return lifecycle.ErrConflict
	}
	l := *lease
	s.leases[lease.Shard] = &l
	return nil
}

// RenewLease implements lifecycle.LeaseStore.
func (s *MemoryStore) RenewLease(ctx context.Context, shard, token string, now, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.leases[shard]
	if !ok || existing.Token != token || !existing.ExpiresAt.After(now) {
		return lifecycle.ErrNotFound
	}
	existing.ExpiresAt = expiresAt
	return nil
}

// ReleaseLease implements lifecycle.LeaseStore.
func (s *MemoryStore) ReleaseLease(ctx context.Context, shard, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.leases[shard]; ok && existing.Token == token {
		delete(s.leases, shard)
	}
	return nil
}

// PublishAggregate implements lifecycle.AggregateStore.
func (s *MemoryStore) PublishAggregate(ctx context.Context, p *lifecycle.Publication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.aggregates[p.Aggregate.ID]; exists {
		return lifecycle.ErrConflict
	}
	for _, id := range p.RecordIDs {
		rec, ok := s.records[id]
		if !ok || rec.AggregateID != "" {
			return lifecycle.ErrConflict
		}
	}
	for _, id := range p.AggregateIDs {
		agg, ok := s.aggregates[id]
		if !ok || agg.RolledInto != "" {
			return lifecycle.ErrConflict
		}
	}
	if err := s.checkChain(p.Entry); err != nil {
		return err
	}

	agg := *p.Aggregate
	s.aggregates[agg.ID] = &agg
	for _, id := range p.RecordIDs {
		s.records[id].AggregateID = agg.ID
	}
	for _, id := range p.AggregateIDs {
		s.aggregates[id].RolledInto = agg.ID
	}
	s.appendEntry(p.Entry)
	return nil
}

// GetAggregate implements lifecycle.AggregateStore.
func (s *MemoryStore) GetAggregate(ctx context.Context, id string) (*lifecycle.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[id]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	out := *agg
	return &out, nil
}

// ListAggregates implements lifecycle.AggregateStore.
func (s *MemoryStore) ListAggregates(ctx context.Context, q lifecycle.AggregateQuery) ([]*lifecycle.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*lifecycle.Aggregate
	for _, agg := range s.aggregates {
		if q.Category != "" && agg.Category != q.Category {
			continue
		}
		if q.Granularity != "" && agg.Granularity != q.Granularity {
			continue
		}
		if q.Coverage == lifecycle.CoverageUncovered && agg.RolledInto != "" {
			continue
		}
		if q.Coverage == lifecycle.CoverageCovered && agg.RolledInto == "" {
			continue
		}
		a := *agg
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WindowStart.Equal(out[j].WindowStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].WindowStart.Before(out[j].WindowStart)
	})
	return out, nil
}

// DeleteAggregate implements lifecycle.AggregateStore.
func (s *MemoryStore) DeleteAggregate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.aggregates, id)
	return nil
}

// NextCycle implements lifecycle.AggregateStore.
func (s *MemoryStore) NextCycle(ctx context.Context, category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles[category]++
	return s.cycles[category], nil
}

// InsertAnomaly implements lifecycle.AnomalyStore.
func (s *MemoryStore) InsertAnomaly(ctx context.Context, a *lifecycle.Anomaly, entry *lifecycle.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkChain(entry); err != nil {
		return err
	}
	anomaly := *a
	s.anomalies = append(s.anomalies, &anomaly)
	s.appendEntry(entry)
	return nil
}

// ListAnomalies implements lifecycle.AnomalyStore.
func (s *MemoryStore) ListAnomalies(ctx context.Context, q lifecycle.AnomalyQuery) ([]*lifecycle.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*lifecycle.Anomaly
	for _, a := range s.anomalies {
		if q.Kind != "" && a.Kind != q.Kind {
			continue
		}
		if q.RecordID != "" && a.RecordID != q.RecordID {
			continue
		}
		if !q.Since.IsZero() && a.DetectedAt.Before(q.Since) {
			continue
		}
		anomaly := *a
		out = append(out, &anomaly)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func copyRecord(rec *lifecycle.Record) *lifecycle.Record {
	out := *rec
	if rec.ConsentWithdrawnAt != nil {
		at := *rec.ConsentWithdrawnAt
		out.ConsentWithdrawnAt = &at
	}
	if rec.EscalatedAt != nil {
		at := *rec.EscalatedAt
		out.EscalatedAt = &at
	}
	return &out
}

func copyHold(h *lifecycle.LegalHold) *lifecycle.LegalHold {
	out := *h
	if h.ReleasedAt != nil {
		at := *h.ReleasedAt
		out.ReleasedAt = &at
	}
	return &out
}

func copyVersion(v *lifecycle.CatalogVersion) *lifecycle.CatalogVersion {
	out := *v
	out.Rules = make(map[string]lifecycle.RetentionRule, len(v.Rules))
	for k, r := range v.Rules {
		out.Rules[k] = r
	}
	return &out
}

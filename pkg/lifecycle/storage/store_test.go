package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func storeFactories() map[string]func(t *testing.T) lifecycle.Store {
	return map[string]func(t *testing.T) lifecycle.Store{
		"memory": func(t *testing.T) lifecycle.Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) lifecycle.Store {
			cfg := DefaultSQLiteConfig()
			cfg.Path = filepath.Join(t.TempDir(), "lethe.db")
			s, err := NewSQLiteStore(context.Background(), cfg)
			if err != nil {
				t.Fatalf("NewSQLiteStore() failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s lifecycle.Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// chain seals entries the way the audit log does, without importing it.
type chain struct {
	head *lifecycle.AuditEntry
}

func (c *chain) next(t *testing.T, e lifecycle.AuditEntry) *lifecycle.AuditEntry {
	t.Helper()
	e.Seq = 1
	if c.head != nil {
		e.Seq = c.head.Seq + 1
		e.PrevHash = c.head.Hash
	}
	if e.ID == "" {
		e.ID = fmt.Sprintf("entry-%d", e.Seq)
	}
	if e.Actor == "" {
		e.Actor = "test"
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = base.Add(time.Duration(e.Seq) * time.Minute)
	}
	hash, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("ComputeHash() failed: %v", err)
	}
	e.Hash = hash
	return &e
}

func (c *chain) commit(e *lifecycle.AuditEntry) {
	c.head = e
}

func newRecord(id, category, owner string) *lifecycle.Record {
	return &lifecycle.Record{
		ID:             id,
		Category:       category,
		OwnerID:        owner,
		CreatedAt:      base,
		LastActiveAt:   base,
		State:          lifecycle.StateActive,
		StateChangedAt: base,
	}
}

func TestStore_Records(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()

		for _, rec := range []*lifecycle.Record{
			newRecord("r3", "analytics-event", "alice"),
			newRecord("r1", "session-cookie", "alice"),
			newRecord("r2", "session-cookie", "bob"),
		} {
			if err := s.InsertRecord(ctx, rec); err != nil {
				t.Fatalf("InsertRecord() failed: %v", err)
			}
		}

		if err := s.InsertRecord(ctx, newRecord("r1", "session-cookie", "alice")); !errors.Is(err, lifecycle.ErrConflict) {
			t.Errorf("duplicate InsertRecord() error = %v, want ErrConflict", err)
		}

		if _, err := s.GetRecord(ctx, "missing"); !errors.Is(err, lifecycle.ErrNotFound) {
			t.Errorf("GetRecord(missing) error = %v, want ErrNotFound", err)
		}

		later := base.Add(time.Hour)
		if err := s.UpdateLastActive(ctx, "r1", later); err != nil {
			t.Fatalf("UpdateLastActive() failed: %v", err)
		}
		if err := s.UpdateLastActive(ctx, "r1", base); err != nil {
			t.Fatalf("UpdateLastActive() failed: %v", err)
		}
		rec, err := s.GetRecord(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRecord() failed: %v", err)
		}
		if !rec.LastActiveAt.Equal(later) {
			t.Errorf("LastActiveAt = %v, want %v (older touch must be ignored)", rec.LastActiveAt, later)
		}

		first := base.Add(2 * time.Hour)
		_ = s.SetConsentWithdrawn(ctx, "r1", first.Add(time.Hour))
		_ = s.SetConsentWithdrawn(ctx, "r1", first)
		rec, _ = s.GetRecord(ctx, "r1")
		if rec.ConsentWithdrawnAt == nil || !rec.ConsentWithdrawnAt.Equal(first) {
			t.Errorf("ConsentWithdrawnAt = %v, want earliest %v", rec.ConsentWithdrawnAt, first)
		}

		page, err := s.ListRecords(ctx, lifecycle.RecordQuery{Category: "session-cookie", Limit: 1})
		if err != nil {
			t.Fatalf("ListRecords() failed: %v", err)
		}
		if len(page) != 1 || page[0].ID != "r1" {
			t.Fatalf("first page = %v, want [r1]", ids(page))
		}
		page, _ = s.ListRecords(ctx, lifecycle.RecordQuery{Category: "session-cookie", AfterID: "r1", Limit: 1})
		if len(page) != 1 || page[0].ID != "r2" {
			t.Fatalf("second page = %v, want [r2]", ids(page))
		}

		byOwner, _ := s.ListRecords(ctx, lifecycle.RecordQuery{OwnerID: "alice"})
		if len(byOwner) != 2 {
			t.Errorf("ListRecords(owner=alice) = %v, want 2 records", ids(byOwner))
		}

		categories, err := s.RecordCategories(ctx)
		if err != nil {
			t.Fatalf("RecordCategories() failed: %v", err)
		}
		if len(categories) != 2 || categories[0] != "analytics-event" {
			t.Errorf("RecordCategories() = %v", categories)
		}
	})
}

func TestStore_Escalation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		if err := s.InsertRecord(ctx, newRecord("r1", "session-cookie", "alice")); err != nil {
			t.Fatalf("InsertRecord() failed: %v", err)
		}

		at := base.Add(3 * time.Hour)
		if err := s.SetEscalation(ctx, "r1", &at); err != nil {
			t.Fatalf("SetEscalation() failed: %v", err)
		}
		rec, err := s.GetRecord(ctx, "r1")
		if err != nil {
			t.Fatalf("GetRecord() failed: %v", err)
		}
		if rec.EscalatedAt == nil || !rec.EscalatedAt.Equal(at) {
			t.Errorf("EscalatedAt = %v, want %v", rec.EscalatedAt, at)
		}
		listed, _ := s.ListRecords(ctx, lifecycle.RecordQuery{Category: "session-cookie"})
		if len(listed) != 1 || !listed[0].Escalated() {
			t.Errorf("ListRecords() lost the escalation marker")
		}

		if err := s.SetEscalation(ctx, "r1", nil); err != nil {
			t.Fatalf("SetEscalation(nil) failed: %v", err)
		}
		rec, _ = s.GetRecord(ctx, "r1")
		if rec.Escalated() {
			t.Errorf("EscalatedAt = %v after clearing", rec.EscalatedAt)
		}
		if err := s.SetEscalation(ctx, "missing", &at); !errors.Is(err, lifecycle.ErrNotFound) {
			t.Errorf("SetEscalation(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_OwnerSharding(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		owners := []string{"alice", "bob", "carol", "dave", "erin", "frank"}
		for i, owner := range owners {
			_ = s.InsertRecord(ctx, newRecord(string(rune('a'+i)), "c", owner))
		}

		seen := 0
		for shard := 0; shard < 3; shard++ {
			page, err := s.ListRecords(ctx, lifecycle.RecordQuery{Category: "c", ShardIndex: shard, ShardCount: 3})
			if err != nil {
				t.Fatalf("ListRecords() failed: %v", err)
			}
			for _, rec := range page {
				if lifecycle.OwnerShard(rec.OwnerID, 3) != shard {
					t.Errorf("record %s owner %s returned in shard %d", rec.ID, rec.OwnerID, shard)
				}
			}
			seen += len(page)
		}
		if seen != len(owners) {
			t.Errorf("shards returned %d records, want %d", seen, len(owners))
		}
	})
}

func TestStore_ApplyTransition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		var c chain
		_ = s.InsertRecord(ctx, newRecord("r1", "session-cookie", "alice"))

		entry := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryTransition, RecordID: "r1",
			FromState: lifecycle.StateActive, ToState: lifecycle.StatePendingDeletion, Reason: lifecycle.ReasonPolicyExpired})
		err := s.ApplyTransition(ctx, &lifecycle.Transition{
			RecordID: "r1", From: lifecycle.StateActive, To: lifecycle.StatePendingDeletion, At: base, Entry: entry,
		})
		if err != nil {
			t.Fatalf("ApplyTransition() failed: %v", err)
		}
		c.commit(entry)

		stale := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryTransition, RecordID: "r1"})
		err = s.ApplyTransition(ctx, &lifecycle.Transition{
			RecordID: "r1", From: lifecycle.StateActive, To: lifecycle.StateHeld, At: base, Entry: stale,
		})
		if !errors.Is(err, lifecycle.ErrStateConflict) {
			t.Errorf("stale ApplyTransition() error = %v, want ErrStateConflict", err)
		}

		forked := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryTransition, RecordID: "r1"})
		forked.PrevHash = "not-the-head"
		err = s.ApplyTransition(ctx, &lifecycle.Transition{
			RecordID: "r1", From: lifecycle.StatePendingDeletion, To: lifecycle.StateDeleted, At: base, Entry: forked,
		})
		if !errors.Is(err, lifecycle.ErrChainMoved) {
			t.Errorf("forked ApplyTransition() error = %v, want ErrChainMoved", err)
		}
		rec, _ := s.GetRecord(ctx, "r1")
		if rec.State != lifecycle.StatePendingDeletion {
			t.Errorf("state = %s, rejected transition must not apply", rec.State)
		}

		final := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryTransition, RecordID: "r1",
			FromState: lifecycle.StatePendingDeletion, ToState: lifecycle.StateDeleted})
		cert := &lifecycle.DeletionCertificate{
			RecordID: "r1", Category: "session-cookie", Stores: []string{"primary", "cache"},
			DeletedAt: base, VerifiedAt: base, AuditHash: final.Hash, Hash: "h",
		}
		err = s.ApplyTransition(ctx, &lifecycle.Transition{
			RecordID: "r1", From: lifecycle.StatePendingDeletion, To: lifecycle.StateDeleted, At: base, Entry: final, Certificate: cert,
		})
		if err != nil {
			t.Fatalf("ApplyTransition() failed: %v", err)
		}

		got, err := s.GetCertificate(ctx, "r1")
		if err != nil {
			t.Fatalf("GetCertificate() failed: %v", err)
		}
		if got.AuditHash != final.Hash || len(got.Stores) != 2 {
			t.Errorf("certificate = %+v", got)
		}

		entries, err := s.ListAudit(ctx, lifecycle.AuditQuery{})
		if err != nil {
			t.Fatalf("ListAudit() failed: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("ListAudit() returned %d entries, want 2", len(entries))
		}
		for _, e := range entries {
			hash, _ := e.ComputeHash()
			if hash != e.Hash {
				t.Errorf("entry %d hash does not survive a round trip", e.Seq)
			}
		}
	})
}

func TestStore_Holds(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		var c chain

		subject := &lifecycle.LegalHold{ID: "h1", SubjectID: "alice", Reason: "litigation", PlacedBy: "legal", CreatedAt: base}
		e1 := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Ref: "h1"})
		if err := s.InsertHold(ctx, subject, e1); err != nil {
			t.Fatalf("InsertHold() failed: %v", err)
		}
		c.commit(e1)

		record := &lifecycle.LegalHold{ID: "h2", RecordID: "r9", Reason: "audit", PlacedBy: "legal", CreatedAt: base.Add(time.Minute)}
		e2 := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Ref: "h2"})
		if err := s.InsertHold(ctx, record, e2); err != nil {
			t.Fatalf("InsertHold() failed: %v", err)
		}
		c.commit(e2)

		held, _ := s.ActiveHoldsFor(ctx, "r1", "alice")
		if len(held) != 1 || held[0].ID != "h1" {
			t.Errorf("ActiveHoldsFor(r1, alice) = %d holds, want h1", len(held))
		}
		held, _ = s.ActiveHoldsFor(ctx, "r9", "bob")
		if len(held) != 1 || held[0].ID != "h2" {
			t.Errorf("ActiveHoldsFor(r9, bob) = %d holds, want h2", len(held))
		}
		held, _ = s.ActiveHoldsFor(ctx, "r2", "")
		if len(held) != 0 {
			t.Errorf("ActiveHoldsFor(r2, \"\") = %d holds, want 0", len(held))
		}

		releasedAt := base.Add(time.Hour)
		subject.ReleasedAt = &releasedAt
		subject.ReleasedBy = "legal"
		e3 := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Ref: "h1"})
		if err := s.ReleaseHold(ctx, subject, e3); err != nil {
			t.Fatalf("ReleaseHold() failed: %v", err)
		}
		c.commit(e3)

		e4 := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Ref: "h1"})
		if err := s.ReleaseHold(ctx, subject, e4); !errors.Is(err, lifecycle.ErrConflict) {
			t.Errorf("second ReleaseHold() error = %v, want ErrConflict", err)
		}

		active, _ := s.ListHolds(ctx, true)
		if len(active) != 1 || active[0].ID != "h2" {
			t.Errorf("ListHolds(active) = %d holds, want [h2]", len(active))
		}
		all, _ := s.ListHolds(ctx, false)
		if len(all) != 2 {
			t.Errorf("ListHolds(all) = %d holds, want 2", len(all))
		}
	})
}

func TestStore_CatalogVersions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		v1 := &lifecycle.CatalogVersion{
			Version:       1,
			EffectiveDate: base,
			PublishedAt:   base,
			Rules: map[string]lifecycle.RetentionRule{
				"kyc-status": {Category: "kyc-status", LegalBasis: lifecycle.LegalBasisRegulatoryRequired, LegalBasisDuration: 5 * 365 * 24 * time.Hour},
			},
		}
		v1.Hash, _ = v1.ComputeHash()
		if err := s.InsertCatalogVersion(ctx, v1); err != nil {
			t.Fatalf("InsertCatalogVersion() failed: %v", err)
		}
		if err := s.InsertCatalogVersion(ctx, v1); !errors.Is(err, lifecycle.ErrConflict) {
			t.Errorf("duplicate InsertCatalogVersion() error = %v, want ErrConflict", err)
		}

		versions, err := s.ListCatalogVersions(ctx)
		if err != nil {
			t.Fatalf("ListCatalogVersions() failed: %v", err)
		}
		if len(versions) != 1 {
			t.Fatalf("ListCatalogVersions() = %d versions, want 1", len(versions))
		}
		hash, _ := versions[0].ComputeHash()
		if hash != v1.Hash {
			t.Error("catalog version hash does not survive a round trip")
		}
	})
}

func TestStore_Leases(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		shard := "daily-sweep/session-cookie/0"

		a := &lifecycle.ShardLease{Shard: shard, Owner: "worker-a", Token: "ta", ExpiresAt: base.Add(time.Minute)}
		if err := s.AcquireLease(ctx, a, base); err != nil {
			t.Fatalf("AcquireLease() failed: %v", err)
		}

		b := &lifecycle.ShardLease{Shard: shard, Owner: "worker-b", Token: "tb", ExpiresAt: base.Add(2 * time.Minute)}
		if err := s.AcquireLease(ctx, b, base.Add(30*time.Second)); !errors.Is(err, lifecycle.ErrConflict) {
			t.Errorf("AcquireLease() on live lease error = %v, want ErrConflict", err)
		}

		if err := s.RenewLease(ctx, shard, "ta", base.Add(30*time.Second), base.Add(90*time.Second)); err != nil {
			t.Fatalf("RenewLease() failed: %v", err)
		}

		// Expired leases can be taken over, and the old holder cannot renew.
		if err := s.AcquireLease(ctx, b, base.Add(2*time.Minute)); err != nil {
			t.Fatalf("AcquireLease() after expiry failed: %v", err)
		}
		if err := s.RenewLease(ctx, shard, "ta", base.Add(2*time.Minute), base.Add(3*time.Minute)); !errors.Is(err, lifecycle.ErrNotFound) {
			t.Errorf("RenewLease() by old holder error = %v, want ErrNotFound", err)
		}

		if err := s.ReleaseLease(ctx, shard, "tb"); err != nil {
			t.Fatalf("ReleaseLease() failed: %v", err)
		}
		if err := s.AcquireLease(ctx, a, base.Add(2*time.Minute)); err != nil {
			t.Errorf("AcquireLease() after release failed: %v", err)
		}
	})
}

func TestStore_Aggregates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		var c chain
		for _, id := range []string{"e1", "e2"} {
			_ = s.InsertRecord(ctx, newRecord(id, "analytics-event", "o-"+id))
		}

		agg := &lifecycle.Aggregate{
			ID: "a1", Category: "analytics-event", Granularity: lifecycle.GranularityDaily,
			WindowStart: base, WindowEnd: base.Add(24 * time.Hour), Count: 2, PublishedCycle: 1, PublishedAt: base,
		}
		entry := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryAggregate, Ref: "a1", Count: 2})
		if err := s.PublishAggregate(ctx, &lifecycle.Publication{Aggregate: agg, RecordIDs: []string{"e1", "e2"}, Entry: entry}); err != nil {
			t.Fatalf("PublishAggregate() failed: %v", err)
		}
		c.commit(entry)

		covered, _ := s.ListRecords(ctx, lifecycle.RecordQuery{Coverage: lifecycle.CoverageCovered})
		if len(covered) != 2 {
			t.Errorf("covered records = %v, want 2", ids(covered))
		}

		again := *agg
		again.ID = "a2"
		e2 := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryAggregate, Ref: "a2"})
		err := s.PublishAggregate(ctx, &lifecycle.Publication{Aggregate: &again, RecordIDs: []string{"e1"}, Entry: e2})
		if !errors.Is(err, lifecycle.ErrConflict) {
			t.Errorf("double coverage error = %v, want ErrConflict", err)
		}
		if _, err := s.GetAggregate(ctx, "a2"); !errors.Is(err, lifecycle.ErrNotFound) {
			t.Error("rejected publication must not leave an aggregate behind")
		}

		weekly := &lifecycle.Aggregate{
			ID: "w1", Category: "analytics-event", Granularity: lifecycle.GranularityWeekly,
			WindowStart: base, WindowEnd: base.Add(7 * 24 * time.Hour), Count: 2, PublishedCycle: 2, PublishedAt: base,
		}
		if err := s.PublishAggregate(ctx, &lifecycle.Publication{Aggregate: weekly, AggregateIDs: []string{"a1"}, Entry: e2}); err != nil {
			t.Fatalf("PublishAggregate(weekly) failed: %v", err)
		}
		daily, _ := s.GetAggregate(ctx, "a1")
		if daily.RolledInto != "w1" {
			t.Errorf("RolledInto = %q, want w1", daily.RolledInto)
		}

		uncovered, _ := s.ListAggregates(ctx, lifecycle.AggregateQuery{Category: "analytics-event", Coverage: lifecycle.CoverageUncovered})
		if len(uncovered) != 1 || uncovered[0].ID != "w1" {
			t.Errorf("uncovered aggregates = %d, want [w1]", len(uncovered))
		}

		if err := s.DeleteAggregate(ctx, "a1"); err != nil {
			t.Fatalf("DeleteAggregate() failed: %v", err)
		}

		for want := int64(1); want <= 3; want++ {
			got, err := s.NextCycle(ctx, "analytics-event")
			if err != nil {
				t.Fatalf("NextCycle() failed: %v", err)
			}
			if got != want {
				t.Errorf("NextCycle() = %d, want %d", got, want)
			}
		}
	})
}

func TestStore_Anomalies(t *testing.T) {
	forEachStore(t, func(t *testing.T, s lifecycle.Store) {
		ctx := context.Background()
		var c chain

		for i, kind := range []lifecycle.AnomalyKind{lifecycle.AnomalyOrphanCategory, lifecycle.AnomalyStuckDeletion} {
			a := &lifecycle.Anomaly{ID: string(kind), Kind: kind, Category: "ghost", Detail: "x", DetectedAt: base.Add(time.Duration(i) * time.Hour)}
			e := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Ref: a.ID})
			if err := s.InsertAnomaly(ctx, a, e); err != nil {
				t.Fatalf("InsertAnomaly() failed: %v", err)
			}
			c.commit(e)
		}

		all, _ := s.ListAnomalies(ctx, lifecycle.AnomalyQuery{})
		if len(all) != 2 {
			t.Errorf("ListAnomalies() = %d, want 2", len(all))
		}
		stuck, _ := s.ListAnomalies(ctx, lifecycle.AnomalyQuery{Kind: lifecycle.AnomalyStuckDeletion})
		if len(stuck) != 1 {
			t.Errorf("ListAnomalies(stuck) = %d, want 1", len(stuck))
		}
		recent, _ := s.ListAnomalies(ctx, lifecycle.AnomalyQuery{Since: base.Add(30 * time.Minute)})
		if len(recent) != 1 {
			t.Errorf("ListAnomalies(since) = %d, want 1", len(recent))
		}

		a := &lifecycle.Anomaly{ID: "unknown-r9", Kind: lifecycle.AnomalyUnknownCategory, RecordID: "r9", Category: "ghost", Detail: "x", DetectedAt: base}
		e := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Ref: a.ID})
		if err := s.InsertAnomaly(ctx, a, e); err != nil {
			t.Fatalf("InsertAnomaly() failed: %v", err)
		}
		c.commit(e)
		byRecord, _ := s.ListAnomalies(ctx, lifecycle.AnomalyQuery{Kind: lifecycle.AnomalyUnknownCategory, RecordID: "r9"})
		if len(byRecord) != 1 || byRecord[0].ID != a.ID {
			t.Errorf("ListAnomalies(record) = %+v", byRecord)
		}
		if other, _ := s.ListAnomalies(ctx, lifecycle.AnomalyQuery{RecordID: "r1"}); len(other) != 0 {
			t.Errorf("ListAnomalies(r1) = %d, want 0", len(other))
		}
	})
}

func TestSQLiteStore_AuditEntriesAreAppendOnly(t *testing.T) {
	cfg := DefaultSQLiteConfig()
	cfg.Path = filepath.Join(t.TempDir(), "lethe.db")
	s, err := NewSQLiteStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewSQLiteStore() failed: %v", err)
	}
	defer s.Close()

	var c chain
	e := c.next(t, lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly})
	if err := s.AppendAudit(context.Background(), e); err != nil {
		t.Fatalf("AppendAudit() failed: %v", err)
	}

	if _, err := s.DB().Exec(`UPDATE audit_entries SET actor = 'mallory'`); err == nil {
		t.Error("expected UPDATE on audit_entries to be rejected")
	}
	if _, err := s.DB().Exec(`DELETE FROM audit_entries`); err == nil {
		t.Error("expected DELETE on audit_entries to be rejected")
	}

	version, err := SchemaVersion(context.Background(), s.DB())
	if err != nil {
		t.Fatalf("SchemaVersion() failed: %v", err)
	}
	if version != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", version)
	}
}

func ids(recs []*lifecycle.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/storage"
)

type emailRedactor struct{}

func (emailRedactor) RedactString(value string) string {
	return strings.ReplaceAll(value, "alice@example.com", "[email]")
}

func fixedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestLog_AppendBuildsChain(t *testing.T) {
	store := storage.NewMemoryStore()
	log := New(store, WithClock(fixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	var entries []*lifecycle.AuditEntry
	for i := 0; i < 3; i++ {
		e, err := log.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "system"})
		if err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
		entries = append(entries, e)
	}

	if entries[0].Seq != 1 || entries[0].PrevHash != "" {
		t.Errorf("genesis entry = seq %d prev %q, want seq 1 and empty prev", entries[0].Seq, entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("entry %d does not link to its predecessor", entries[i].Seq)
		}
		if entries[i].Seq != entries[i-1].Seq+1 {
			t.Errorf("entry seq = %d, want %d", entries[i].Seq, entries[i-1].Seq+1)
		}
	}

	report, err := log.Verify(ctx)
	if err != nil {
		t.Fatalf("Verify() failed: %v", err)
	}
	if report.Entries != 3 || report.HeadHash != entries[2].Hash {
		t.Errorf("Verify() = %+v", report)
	}
}

func TestLog_RedactsJustification(t *testing.T) {
	store := storage.NewMemoryStore()
	log := New(store, WithRedactor(emailRedactor{}))

	e, err := log.Append(context.Background(), &lifecycle.AuditEntry{
		Kind:          lifecycle.EntryTransition,
		Actor:         "operator",
		Justification: "requested by alice@example.com",
	})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if strings.Contains(e.Justification, "alice@example.com") {
		t.Errorf("Justification = %q, identifier was not redacted", e.Justification)
	}
}

func TestLog_ResealsWhenAnotherWriterMovesHead(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	first := New(store)
	second := New(store)

	if _, err := first.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "a"}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	// second loads the head lazily and sees entry 1.
	if _, err := second.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "b"}); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	// first still believes entry 1 is the head and must reseal.
	e, err := first.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "a"})
	if err != nil {
		t.Fatalf("Append() after concurrent write failed: %v", err)
	}
	if e.Seq != 3 {
		t.Errorf("resealed entry seq = %d, want 3", e.Seq)
	}

	if _, err := first.Verify(ctx); err != nil {
		t.Errorf("Verify() failed: %v", err)
	}
}

func TestLog_CommitDoesNotAdvanceOnPersistFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	log := New(store)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := log.Commit(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Actor: "x"}, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Commit() error = %v, want boom", err)
	}

	e, err := log.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryHold, Actor: "x"})
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if e.Seq != 1 {
		t.Errorf("seq = %d, failed commit must not consume a sequence number", e.Seq)
	}
}

func TestLog_VerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name    string
		seq     int64
		mutate  func(*lifecycle.AuditEntry)
		wantSeq int64
	}{
		{
			name:    "content change",
			seq:     2,
			mutate:  func(e *lifecycle.AuditEntry) { e.Actor = "mallory" },
			wantSeq: 2,
		},
		{
			name: "rehashed content breaks the next link",
			seq:  2,
			mutate: func(e *lifecycle.AuditEntry) {
				e.Actor = "mallory"
				e.Hash, _ = e.ComputeHash()
			},
			wantSeq: 3,
		},
		{
			name:    "reordered sequence",
			seq:     3,
			mutate:  func(e *lifecycle.AuditEntry) { e.Seq = 7 },
			wantSeq: 7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			log := New(store)
			ctx := context.Background()
			for i := 0; i < 4; i++ {
				if _, err := log.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "system"}); err != nil {
					t.Fatalf("Append() failed: %v", err)
				}
			}

			store.TamperAuditEntry(tt.seq, tt.mutate)

			_, err := log.Verify(ctx)
			var chainErr *ChainError
			if !errors.As(err, &chainErr) {
				t.Fatalf("Verify() error = %v, want *ChainError", err)
			}
			if chainErr.Seq != tt.wantSeq {
				t.Errorf("ChainError.Seq = %d, want %d", chainErr.Seq, tt.wantSeq)
			}
		})
	}
}

func TestLog_ExportRange(t *testing.T) {
	store := storage.NewMemoryStore()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	log := New(store, WithClock(fixedClock(start)))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := log.Append(ctx, &lifecycle.AuditEntry{Kind: lifecycle.EntryAnomaly, Actor: "system"}); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	// Entries are stamped start+1m .. start+5m.
	got, err := log.Export(ctx, start.Add(2*time.Minute), start.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		seqs := make([]int64, len(got))
		for i, e := range got {
			seqs[i] = e.Seq
		}
		t.Errorf("Export() seqs = %v, want [2 3]", seqs)
	}

	all, _ := log.Export(ctx, time.Time{}, time.Time{})
	if len(all) != 5 {
		t.Errorf("unbounded Export() = %d entries, want 5", len(all))
	}
}

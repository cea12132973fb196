package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
	"mercator-hq/lethe/pkg/lifecycle/erasure"
	"mercator-hq/lethe/pkg/lifecycle/hold"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/lifecycle/scheduler"
	"mercator-hq/lethe/pkg/lifecycle/storage"
)

const day = 24 * time.Hour

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Scheduler.Enabled = false
	cfg.Scheduler.WorkerID = "test-worker"
	cfg.Executor.MaxRetries = 1
	cfg.Executor.InitialBackoff = time.Millisecond
	cfg.Executor.MaxBackoff = time.Millisecond
	return cfg
}

type fixture struct {
	engine  *Engine
	store   *storage.MemoryStore
	primary *erasure.MemoryEraser
	now     time.Time
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:   storage.NewMemoryStore(),
		primary: erasure.NewMemoryEraser("primary"),
		now:     epoch,
	}
	e, err := New(context.Background(), cfg,
		WithStore(f.store),
		WithErasers(erasure.Set{f.primary}),
		WithRegistry(prometheus.NewRegistry()),
		WithClock(func() time.Time { return f.now }),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	f.engine = e
	return f
}

func (f *fixture) publish(t *testing.T) {
	t.Helper()
	_, err := f.engine.PublishCatalog(context.Background(), &catalog.Draft{
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Rules: []lifecycle.RetentionRule{
			{Category: "session-cookie", LegalBasis: lifecycle.LegalBasisNone},
			{
				Category:            "kyc-status",
				LegalBasis:          lifecycle.LegalBasisRegulatoryRequired,
				LegalBasisDuration:  5 * 365 * day,
				PostActiveRetention: 30 * day,
			},
		},
	})
	if err != nil {
		t.Fatalf("PublishCatalog() failed: %v", err)
	}
}

func (f *fixture) register(t *testing.T, category string) *lifecycle.Record {
	t.Helper()
	rec, err := f.engine.RegisterRecord(context.Background(), ledger.RegisterRequest{
		Category:  category,
		OwnerID:   "owner-1",
		CreatedAt: f.now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("RegisterRecord() failed: %v", err)
	}
	f.primary.Put(rec.ID)
	return rec
}

func (f *fixture) state(t *testing.T, id string) lifecycle.State {
	t.Helper()
	rec, err := f.engine.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	return rec.State
}

func TestEngine_SweepIssuesCertificate(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	rec := f.register(t, "session-cookie")
	kept := f.register(t, "kyc-status")

	report, err := f.engine.RunJob(ctx, scheduler.JobDeletionSweep, "", "ops@example.com")
	if err != nil {
		t.Fatalf("RunJob() failed: %v", err)
	}
	if report.Outcomes[scheduler.OutcomeDeleted] != 1 {
		t.Errorf("deleted = %d, want 1", report.Outcomes[scheduler.OutcomeDeleted])
	}

	cert, err := f.engine.GetDeletionCertificate(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetDeletionCertificate() failed: %v", err)
	}
	if !slices.Equal(cert.Stores, []string{"primary"}) {
		t.Errorf("certificate stores = %v, want [primary]", cert.Stores)
	}
	if present, _ := f.primary.Exists(ctx, rec); present {
		t.Error("primary store still holds the deleted record")
	}
	if got := f.state(t, kept.ID); got != lifecycle.StateActive {
		t.Errorf("kyc record state = %s, want Active", got)
	}

	if _, err := f.engine.GetDeletionCertificate(ctx, kept.ID); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("GetDeletionCertificate(active) error = %v, want ErrNotFound", err)
	}

	vr, err := f.engine.VerifyAuditLog(ctx)
	if err != nil {
		t.Fatalf("VerifyAuditLog() failed: %v", err)
	}
	entries, err := f.engine.ExportAuditLog(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ExportAuditLog() failed: %v", err)
	}
	if int64(len(entries)) != vr.Entries {
		t.Errorf("exported %d entries, verified %d", len(entries), vr.Entries)
	}
	if last := entries[len(entries)-1]; last.Hash != cert.AuditHash {
		t.Errorf("last entry hash = %s, want certificate audit hash %s", last.Hash, cert.AuditHash)
	}
}

func TestEngine_RunJobUnknown(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)

	_, err := f.engine.RunJob(context.Background(), "nightly-purge", "", "")
	if !errors.Is(err, lifecycle.ErrInvalidArgument) {
		t.Errorf("RunJob() error = %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_ExportAuditLogRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, testConfig())

	_, err := f.engine.ExportAuditLog(context.Background(), epoch, epoch.Add(-day))
	if !errors.Is(err, lifecycle.ErrInvalidArgument) {
		t.Errorf("ExportAuditLog() error = %v, want ErrInvalidArgument", err)
	}
}

func TestEngine_OverrideState(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		from    []lifecycle.State
		to      lifecycle.State
		req     func(id string) OverrideRequest
		want    lifecycle.State
		wantErr error
	}{
		{
			name: "active to review",
			to:   lifecycle.StatePendingReview,
			want: lifecycle.StatePendingReview,
		},
		{
			name: "review back to active",
			from: []lifecycle.State{lifecycle.StatePendingReview},
			to:   lifecycle.StateActive,
			want: lifecycle.StateActive,
		},
		{
			name: "delete through executor",
			to:   lifecycle.StateDeleted,
			want: lifecycle.StateDeleted,
		},
		{
			name:    "held cannot be forced",
			to:      lifecycle.StateHeld,
			want:    lifecycle.StateActive,
			wantErr: lifecycle.ErrInvalidArgument,
		},
		{
			name:    "anonymized cannot be forced",
			to:      lifecycle.StateAnonymized,
			want:    lifecycle.StateActive,
			wantErr: lifecycle.ErrInvalidArgument,
		},
		{
			name: "justification required",
			to:   lifecycle.StatePendingReview,
			req: func(id string) OverrideRequest {
				return OverrideRequest{RecordID: id, State: lifecycle.StatePendingReview, Actor: "dpo"}
			},
			want:    lifecycle.StateActive,
			wantErr: lifecycle.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.register(t, "kyc-status")
			for _, s := range tt.from {
				_, err := f.engine.OverrideState(ctx, OverrideRequest{
					RecordID: rec.ID, State: s, Actor: "dpo", Justification: "setup",
				})
				if err != nil {
					t.Fatalf("OverrideState(%s) setup failed: %v", s, err)
				}
			}

			req := OverrideRequest{RecordID: rec.ID, State: tt.to, Actor: "dpo", Justification: "ticket DPO-42"}
			if tt.req != nil {
				req = tt.req(rec.ID)
			}
			res, err := f.engine.OverrideState(ctx, req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("OverrideState() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("OverrideState() failed: %v", err)
			} else if res.Record.State != tt.want {
				t.Errorf("result state = %s, want %s", res.Record.State, tt.want)
			}

			if got := f.state(t, rec.ID); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
			if tt.want == lifecycle.StateDeleted && (res == nil || res.Certificate == nil) {
				t.Error("deleting override returned no certificate")
			}
		})
	}
}

func TestEngine_OverrideRespectsHold(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	rec := f.register(t, "session-cookie")
	_, err := f.engine.PlaceLegalHold(ctx, hold.PlaceRequest{
		RecordID: rec.ID,
		Reason:   "litigation",
		PlacedBy: "legal",
	})
	if err != nil {
		t.Fatalf("PlaceLegalHold() failed: %v", err)
	}

	for _, to := range []lifecycle.State{lifecycle.StateActive, lifecycle.StateDeleted} {
		_, err = f.engine.OverrideState(ctx, OverrideRequest{
			RecordID: rec.ID, State: to, Actor: "dpo", Justification: "cleanup",
		})
		if !lifecycle.IsHeld(err) {
			t.Errorf("OverrideState(%s) error = %v, want HeldError", to, err)
		}
	}
	if got := f.state(t, rec.ID); got != lifecycle.StateHeld {
		t.Errorf("state = %s, want Held", got)
	}
}

func TestEngine_VerificationFailureResolvedByOverride(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	rec := f.register(t, "session-cookie")
	f.primary.Sticky = map[string]bool{rec.ID: true}

	report, err := f.engine.RunJob(ctx, scheduler.JobDeletionSweep, "", "")
	if err != nil {
		t.Fatalf("RunJob() failed: %v", err)
	}
	if report.Outcomes[scheduler.OutcomeVerificationFailed] != 1 {
		t.Fatalf("Outcomes = %v, want 1 verification_failed", report.Outcomes)
	}

	delete(f.primary.Sticky, rec.ID)
	f.now = f.now.Add(day)
	report, err = f.engine.RunJob(ctx, scheduler.JobDeletionSweep, "", "")
	if err != nil {
		t.Fatalf("RunJob() failed: %v", err)
	}
	if report.Outcomes[scheduler.OutcomeDeleted] != 0 {
		t.Errorf("Outcomes = %v, sweep deleted an escalated record", report.Outcomes)
	}
	if got := f.state(t, rec.ID); got != lifecycle.StatePendingDeletion {
		t.Fatalf("state = %s, want pending_deletion", got)
	}

	res, err := f.engine.OverrideState(ctx, OverrideRequest{
		RecordID: rec.ID, State: lifecycle.StateDeleted, Actor: "dpo", Justification: "store repaired",
	})
	if err != nil {
		t.Fatalf("OverrideState() failed: %v", err)
	}
	if res.Certificate == nil || res.Record.State != lifecycle.StateDeleted || res.Record.Escalated() {
		t.Errorf("OverrideState() = %+v", res.Record)
	}
}

func TestEngine_HoldRelease(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	rec := f.register(t, "kyc-status")
	h, err := f.engine.PlaceLegalHold(ctx, hold.PlaceRequest{
		SubjectID: rec.OwnerID,
		Reason:    "regulator inquiry",
		PlacedBy:  "legal",
	})
	if err != nil {
		t.Fatalf("PlaceLegalHold() failed: %v", err)
	}

	_, err = f.engine.ReleaseLegalHold(ctx, h.ID, hold.ReleaseRequest{ReleasedBy: "ops", Force: true, Justification: "x"})
	if !errors.Is(err, lifecycle.ErrInvalidArgument) {
		t.Errorf("ReleaseLegalHold(other actor) error = %v, want ErrInvalidArgument", err)
	}
	_, err = f.engine.ForceReleaseHold(ctx, h.ID, hold.ReleaseRequest{ReleasedBy: "ops"})
	if !errors.Is(err, lifecycle.ErrInvalidArgument) {
		t.Errorf("ForceReleaseHold(no justification) error = %v, want ErrInvalidArgument", err)
	}

	active, err := f.engine.ListLegalHolds(ctx, true)
	if err != nil {
		t.Fatalf("ListLegalHolds() failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active holds = %d, want 1", len(active))
	}

	_, err = f.engine.ForceReleaseHold(ctx, h.ID, hold.ReleaseRequest{
		ReleasedBy:    "ops",
		Justification: "inquiry closed",
	})
	if err != nil {
		t.Fatalf("ForceReleaseHold() failed: %v", err)
	}
	if got := f.state(t, rec.ID); got != lifecycle.StateActive {
		t.Errorf("state = %s, want Active", got)
	}
}

func TestEngine_RedactsJustification(t *testing.T) {
	f := newFixture(t, testConfig())
	f.publish(t)
	ctx := context.Background()

	rec := f.register(t, "kyc-status")
	h, err := f.engine.ForcePlaceHold(ctx, hold.PlaceRequest{
		RecordID:      rec.ID,
		Reason:        "subpoena",
		PlacedBy:      "legal",
		Justification: "requested by jane.doe@example.com",
	})
	if err != nil {
		t.Fatalf("ForcePlaceHold() failed: %v", err)
	}

	entries, err := f.engine.ExportAuditLog(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ExportAuditLog() failed: %v", err)
	}
	found := false
	for _, e := range entries {
		if strings.Contains(e.Justification, "jane.doe@example.com") {
			t.Errorf("entry %d carries the unredacted email", e.Seq)
		}
		if e.Ref == h.ID {
			found = true
			if e.Reason != lifecycle.ReasonManualOverride {
				t.Errorf("forced hold reason = %s, want manual-override", e.Reason)
			}
		}
	}
	if !found {
		t.Error("no audit entry references the hold")
	}
}

func TestEngine_CatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `effective_date: 2026-01-01T00:00:00Z
categories:
  - name: session-cookie
    legal_basis: none
  - name: support-ticket
    legal_basis: contractual_necessity
    post_active_retention: 90d
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg := testConfig()
	cfg.Catalog.FilePath = path
	f := newFixture(t, cfg)
	ctx := context.Background()

	v, err := f.engine.GetCurrentPolicyCatalog(ctx)
	if err != nil {
		t.Fatalf("GetCurrentPolicyCatalog() failed: %v", err)
	}
	if v.Version != 1 {
		t.Errorf("version = %d, want 1", v.Version)
	}
	if got := v.Rules["support-ticket"].PostActiveRetention; got != 90*day {
		t.Errorf("support-ticket post-active retention = %v, want 90d", got)
	}

	// Loading the same file again publishes nothing.
	again, err := New(ctx, cfg, WithStore(f.store), WithErasers(erasure.Set{}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer again.Close()
	versions, err := again.CatalogVersions(ctx)
	if err != nil {
		t.Fatalf("CatalogVersions() failed: %v", err)
	}
	if len(versions) != 1 {
		t.Errorf("versions = %d, want 1", len(versions))
	}
}

func TestEngine_NoCatalog(t *testing.T) {
	f := newFixture(t, testConfig())

	if _, err := f.engine.GetCurrentPolicyCatalog(context.Background()); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("GetCurrentPolicyCatalog() error = %v, want ErrNotFound", err)
	}
	status := f.engine.Health().CheckReadiness(context.Background())
	if status.Status != "degraded" {
		t.Errorf("readiness = %s, want degraded without a published catalog", status.Status)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StorageConfig{Backend: "memory"}},
		{
			name: "sqlite",
			cfg: config.StorageConfig{
				Backend: "sqlite",
				SQLite: config.SQLiteConfig{
					Path:   filepath.Join(t.TempDir(), "lethe.db"),
					Driver: "sqlite",
				},
			},
		},
		{name: "unsupported", cfg: config.StorageConfig{Backend: "postgres"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := OpenStore(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenStore() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer store.Close()
			if err := store.Ping(ctx); err != nil {
				t.Errorf("Ping() failed: %v", err)
			}
		})
	}
}

func TestEngine_CatalogFromRepository(t *testing.T) {
	src := t.TempDir()
	repo, err := gogit.PlainInit(src, false)
	if err != nil {
		t.Fatalf("PlainInit() failed: %v", err)
	}
	commit := func(content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(src, "policies", "catalog.yaml"), []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			t.Fatalf("Worktree() failed: %v", err)
		}
		if _, err := wt.Add("policies/catalog.yaml"); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
		_, err = wt.Commit("update catalog", &gogit.CommitOptions{
			Author: &object.Signature{Name: "dpo", Email: "dpo@example.com", When: time.Now()},
		})
		if err != nil {
			t.Fatalf("Commit() failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(src, "policies"), 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	commit("effective_date: 2026-01-01T00:00:00Z\ncategories:\n  - name: session-cookie\n    active_lifespan: 30d\n")

	cfg := testConfig()
	cfg.Catalog.Git = config.GitCatalogConfig{
		Enabled:      true,
		Repository:   src,
		Branch:       "master",
		Path:         "policies/catalog.yaml",
		LocalPath:    filepath.Join(t.TempDir(), "clone"),
		PollInterval: time.Minute,
		Timeout:      10 * time.Second,
	}
	f := newFixture(t, cfg)
	ctx := context.Background()

	v, err := f.engine.GetCurrentPolicyCatalog(ctx)
	if err != nil {
		t.Fatalf("GetCurrentPolicyCatalog() failed: %v", err)
	}
	if v.Version != 1 {
		t.Errorf("Version = %d, want 1", v.Version)
	}

	commit("effective_date: 2026-02-01T00:00:00Z\ncategories:\n  - name: session-cookie\n    active_lifespan: 14d\n")
	result, err := f.engine.SyncCatalog(ctx)
	if err != nil {
		t.Fatalf("SyncCatalog() failed: %v", err)
	}
	if result.Published == nil || result.Published.Version != 2 {
		t.Fatalf("SyncCatalog() published %+v, want version 2", result.Published)
	}
	if got := f.engine.Health().CheckReadiness(ctx).Checks["catalog_repository"]; got.Status != "ok" {
		t.Errorf("catalog_repository check = %+v", got)
	}
}

func TestEngine_SyncCatalogWithoutRepository(t *testing.T) {
	f := newFixture(t, testConfig())
	_, err := f.engine.SyncCatalog(context.Background())
	if !errors.Is(err, lifecycle.ErrInvalidArgument) {
		t.Errorf("SyncCatalog() error = %v, want ErrInvalidArgument", err)
	}
}

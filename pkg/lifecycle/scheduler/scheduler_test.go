package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/anomaly"
	"mercator-hq/lethe/pkg/lifecycle/anonymize"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/lifecycle/catalog"
	"mercator-hq/lethe/pkg/lifecycle/erasure"
	"mercator-hq/lethe/pkg/lifecycle/executor"
	"mercator-hq/lethe/pkg/lifecycle/hold"
	"mercator-hq/lethe/pkg/lifecycle/lease"
	"mercator-hq/lethe/pkg/lifecycle/ledger"
	"mercator-hq/lethe/pkg/lifecycle/storage"
)

const day = 24 * time.Hour

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	now       time.Time
	store     *storage.MemoryStore
	audit     *audit.Log
	ledger    *ledger.Ledger
	holds     *hold.Manager
	anomalies *anomaly.Reporter
	primary   *erasure.MemoryEraser
	executor  *executor.Executor
	scheduler *Scheduler
}

func newFixture(t *testing.T, cfg config.SchedulerConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		now:     epoch,
		store:   storage.NewMemoryStore(),
		primary: erasure.NewMemoryEraser("primary"),
	}
	clock := func() time.Time { return f.now }

	cat := catalog.New(f.store, catalog.WithClock(clock))
	_, err := cat.Publish(ctx, &catalog.Draft{
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Rules: []lifecycle.RetentionRule{
			{Category: "session-cookie", LegalBasis: lifecycle.LegalBasisNone},
			{
				Category:            "kyc-status",
				LegalBasis:          lifecycle.LegalBasisRegulatoryRequired,
				LegalBasisDuration:  5 * 365 * day,
				PostActiveRetention: 30 * day,
			},
			{
				Category:            "marketing-pref",
				LegalBasis:          lifecycle.LegalBasisConsentBased,
				ActiveLifespan:      365 * day,
				PostActiveRetention: 30 * day,
				ConsentGracePeriod:  7 * day,
			},
			{Category: "support-ticket", LegalBasis: lifecycle.LegalBasisContractualNecessity, PostActiveRetention: 90 * day},
			{
				Category:                  "analytics-event",
				LegalBasis:                lifecycle.LegalBasisNone,
				Anonymizable:              true,
				MinAggregationGranularity: lifecycle.GranularityDaily,
			},
		},
	})
	if err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	f.audit = audit.New(f.store, audit.WithClock(clock))
	f.ledger = ledger.New(f.store, cat, f.audit, ledger.WithClock(clock))
	f.holds = hold.New(f.store, f.ledger, f.audit, hold.WithClock(clock))
	f.anomalies = anomaly.New(f.store, f.audit, anomaly.WithClock(clock))
	f.executor = executor.New(f.ledger, f.store, f.holds, erasure.Set{f.primary}, config.ExecutorConfig{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}, executor.WithClock(clock), executor.WithAnomalyReporter(f.anomalies))
	pipeline := anonymize.New(f.store, f.ledger, cat, f.holds, f.executor, f.audit, anonymize.WithClock(clock))

	if cfg.StuckDeletionGrace == 0 {
		cfg.StuckDeletionGrace = 72 * time.Hour
	}
	jobs := []Job{
		NewDeletionSweep(cat, f.ledger, f.holds, f.executor, f.anomalies, cfg.ShardsPerCategory, nil),
		NewAggregationJob(cat, f.ledger, pipeline, nil),
		NewAuditScan(cat, f.ledger, f.audit, f.anomalies, cfg.StuckDeletionGrace, nil),
	}
	leases := lease.New(f.store, "worker-1", time.Minute, lease.WithClock(clock))
	f.scheduler = New(cfg, leases, jobs, WithClock(clock), WithRefresher(cat))
	return f
}

func (f *fixture) register(t *testing.T, category, owner string, created time.Time) *lifecycle.Record {
	t.Helper()
	rec, err := f.ledger.Register(context.Background(), ledger.RegisterRequest{
		Category:  category,
		OwnerID:   owner,
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	f.primary.Put(rec.ID)
	return rec
}

func (f *fixture) run(t *testing.T, job, category string) *RunReport {
	t.Helper()
	report, err := f.scheduler.RunOnce(context.Background(), job, category)
	if err != nil {
		t.Fatalf("RunOnce(%s) failed: %v", job, err)
	}
	return report
}

func (f *fixture) state(t *testing.T, id string) lifecycle.State {
	t.Helper()
	rec, err := f.ledger.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	return rec.State
}

func (f *fixture) anomaliesOf(t *testing.T, kind lifecycle.AnomalyKind) []*lifecycle.Anomaly {
	t.Helper()
	out, err := f.anomalies.List(context.Background(), lifecycle.AnomalyQuery{Kind: kind})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	return out
}

func TestDeletionSweep_ImmediatelyInactiveRecordDeleted(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{Workers: 2, ShardsPerCategory: 2})
	ctx := context.Background()
	rec := f.register(t, "session-cookie", "alice", f.now)

	f.now = f.now.Add(time.Hour)
	report := f.run(t, JobDeletionSweep, "")

	if got := f.state(t, rec.ID); got != lifecycle.StateDeleted {
		t.Fatalf("state = %s, want deleted", got)
	}
	if report.Outcomes[OutcomeDeleted] != 1 {
		t.Errorf("Outcomes = %v", report.Outcomes)
	}
	cert, err := f.store.GetCertificate(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetCertificate() failed: %v", err)
	}
	if !cert.DeletedAt.Equal(f.now) {
		t.Errorf("certificate issued at %s, want this cycle", cert.DeletedAt)
	}
	if exists, _ := f.primary.Exists(ctx, rec); exists {
		t.Error("record still stored")
	}
	if _, ok := f.scheduler.LastSuccess(JobDeletionSweep); !ok {
		t.Error("LastSuccess() not recorded")
	}
}

func TestDeletionSweep_RegulatoryRetentionSurvivesConsentWithdrawal(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "kyc-status", "bob", f.now.Add(-2*365*day))
	if err := f.ledger.MarkConsentWithdrawn(ctx, rec.ID, f.now.Add(-300*day)); err != nil {
		t.Fatalf("MarkConsentWithdrawn() failed: %v", err)
	}

	f.run(t, JobDeletionSweep, "")
	if got := f.state(t, rec.ID); got != lifecycle.StateActive {
		t.Errorf("state = %s, want active", got)
	}
}

func TestDeletionSweep_ConsentWithdrawalPastGrace(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "marketing-pref", "carol", f.now.Add(-30*day))
	if err := f.ledger.MarkConsentWithdrawn(ctx, rec.ID, f.now.Add(-10*day)); err != nil {
		t.Fatalf("MarkConsentWithdrawn() failed: %v", err)
	}
	within := f.register(t, "marketing-pref", "dave", f.now.Add(-30*day))
	if err := f.ledger.MarkConsentWithdrawn(ctx, within.ID, f.now.Add(-2*day)); err != nil {
		t.Fatalf("MarkConsentWithdrawn() failed: %v", err)
	}

	f.run(t, JobDeletionSweep, "")

	if got := f.state(t, rec.ID); got != lifecycle.StateDeleted {
		t.Errorf("state = %s, want deleted", got)
	}
	if got := f.state(t, within.ID); got != lifecycle.StateActive {
		t.Errorf("record within the grace period: state = %s, want active", got)
	}
	head, err := f.audit.Head(ctx)
	if err != nil {
		t.Fatalf("Head() failed: %v", err)
	}
	if head.ToState != lifecycle.StateDeleted || head.Reason != lifecycle.ReasonConsentWithdrawn {
		t.Errorf("audit head = %s/%s, want deleted/consent-withdrawn", head.ToState, head.Reason)
	}
}

func TestDeletionSweep_HoldBlocksUntilReleased(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "support-ticket", "erin", epoch)

	// Retention ends on day 90, the hold arrives on day 100.
	f.now = epoch.Add(100 * day)
	h, err := f.holds.Place(ctx, hold.PlaceRequest{SubjectID: "erin", Reason: "litigation", PlacedBy: "counsel"})
	if err != nil {
		t.Fatalf("Place() failed: %v", err)
	}

	f.now = epoch.Add(101 * day)
	report := f.run(t, JobDeletionSweep, "")
	if got := f.state(t, rec.ID); got != lifecycle.StateHeld {
		t.Fatalf("state = %s, want held", got)
	}
	if report.Outcomes[OutcomeHeld] != 1 {
		t.Errorf("Outcomes = %v", report.Outcomes)
	}
	if f.primary.Calls() != 0 {
		t.Error("held record reached the store")
	}

	f.now = epoch.Add(200 * day)
	if _, err := f.holds.Release(ctx, h.ID, hold.ReleaseRequest{ReleasedBy: "counsel", Reason: "settled"}); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	f.now = epoch.Add(201 * day)
	f.run(t, JobDeletionSweep, "")
	if got := f.state(t, rec.ID); got != lifecycle.StateDeleted {
		t.Errorf("state = %s, want deleted after release", got)
	}
}

func TestDeletionSweep_HeldWithoutHoldRestored(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "session-cookie", "frank", epoch)
	if err := f.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{Reason: lifecycle.ReasonManualOverride, Actor: "ops"}); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	f.now = epoch.Add(time.Hour)
	f.run(t, JobDeletionSweep, "")
	if got := f.state(t, rec.ID); got != lifecycle.StateDeleted {
		t.Errorf("state = %s, want deleted", got)
	}
}

func TestDeletionSweep_AnonymizableRecordsAggregated(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{Workers: 3})
	var records []*lifecycle.Record
	for i := 0; i < 5; i++ {
		records = append(records, f.register(t, "analytics-event", "visitor", epoch.Add(time.Duration(i)*time.Minute)))
	}

	f.now = epoch.Add(2 * day)
	report := f.run(t, JobDeletionSweep, "")
	if report.Outcomes[OutcomeAnonymizing] != 5 {
		t.Fatalf("Outcomes = %v, want 5 anonymizing", report.Outcomes)
	}

	report = f.run(t, JobAggregation, "analytics-event")
	if report.Outcomes["published"] != 1 {
		t.Fatalf("Outcomes = %v, want one published aggregate", report.Outcomes)
	}

	f.now = epoch.Add(3 * day)
	report = f.run(t, JobAggregation, "analytics-event")
	if report.Outcomes["anonymized"] != 5 {
		t.Errorf("Outcomes = %v, want 5 anonymized", report.Outcomes)
	}
	for _, rec := range records {
		if got := f.state(t, rec.ID); got != lifecycle.StateAnonymized {
			t.Errorf("state = %s, want anonymized", got)
		}
	}
}

func TestDeletionSweep_UnknownCategoryReported(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	orphan := &lifecycle.Record{
		ID:           "legacy-1",
		Category:     "legacy-export",
		OwnerID:      "gina",
		CreatedAt:    epoch,
		LastActiveAt: epoch,
		State:        lifecycle.StateActive,
	}
	if err := f.store.InsertRecord(ctx, orphan); err != nil {
		t.Fatalf("InsertRecord() failed: %v", err)
	}

	report := f.run(t, JobDeletionSweep, "")
	if report.Outcomes[OutcomeUnknownCategory] != 1 {
		t.Errorf("Outcomes = %v", report.Outcomes)
	}
	reported := f.anomaliesOf(t, lifecycle.AnomalyUnknownCategory)
	if len(reported) != 1 || reported[0].RecordID != orphan.ID {
		t.Fatalf("anomalies = %+v", reported)
	}
	if reported[0].Job != JobDeletionSweep {
		t.Errorf("anomaly job = %q, want %q", reported[0].Job, JobDeletionSweep)
	}
	if got := f.state(t, orphan.ID); got != lifecycle.StateActive {
		t.Errorf("state = %s, want active", got)
	}

	for range 4 {
		f.now = f.now.Add(day)
		report := f.run(t, JobDeletionSweep, "")
		if report.Outcomes[OutcomeUnknownCategory] != 1 {
			t.Errorf("Outcomes = %v", report.Outcomes)
		}
	}
	if got := f.anomaliesOf(t, lifecycle.AnomalyUnknownCategory); len(got) != 1 {
		t.Errorf("repeated sweeps reported %d unknown-category anomalies, want 1", len(got))
	}
}

func TestDeletionSweep_VerificationFailureAwaitsOperator(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "session-cookie", "lena", f.now)
	f.primary.Sticky = map[string]bool{rec.ID: true}

	f.now = f.now.Add(time.Hour)
	report := f.run(t, JobDeletionSweep, "")
	if report.Outcomes[OutcomeVerificationFailed] != 1 {
		t.Fatalf("Outcomes = %v, want 1 verification_failed", report.Outcomes)
	}
	got, err := f.ledger.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != lifecycle.StatePendingDeletion || !got.Escalated() {
		t.Fatalf("record = %s escalated %v, want escalated pending_deletion", got.State, got.Escalated())
	}

	// The store recovers; the sweep must still leave the record alone.
	delete(f.primary.Sticky, rec.ID)
	for range 2 {
		f.now = f.now.Add(day)
		report = f.run(t, JobDeletionSweep, "")
		if report.Outcomes[OutcomeEscalated] != 1 || report.Outcomes[OutcomeDeleted] != 0 {
			t.Errorf("Outcomes = %v, want 1 escalated", report.Outcomes)
		}
	}
	if state := f.state(t, rec.ID); state != lifecycle.StatePendingDeletion {
		t.Fatalf("state = %s without an operator, want pending_deletion", state)
	}
	if _, err := f.store.GetCertificate(ctx, rec.ID); !errors.Is(err, lifecycle.ErrNotFound) {
		t.Errorf("GetCertificate() error = %v, want ErrNotFound", err)
	}
	if _, err := f.executor.Delete(ctx, rec.ID, lifecycle.ReasonPolicyExpired); !errors.Is(err, lifecycle.ErrEscalated) {
		t.Errorf("Delete() error = %v, want ErrEscalated", err)
	}

	cert, err := f.executor.DeleteAs(ctx, rec.ID, ledger.TransitionMeta{
		Reason:        lifecycle.ReasonManualOverride,
		Actor:         "oncall@example.com",
		Justification: "backup store repaired, INC-2041",
	})
	if err != nil {
		t.Fatalf("DeleteAs() failed: %v", err)
	}
	if cert.RecordID != rec.ID {
		t.Errorf("certificate record = %s", cert.RecordID)
	}
	got, err = f.ledger.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.State != lifecycle.StateDeleted || got.Escalated() {
		t.Errorf("record = %s escalated %v, want deleted without escalation", got.State, got.Escalated())
	}
}

func TestScheduler_LeaseContention(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "session-cookie", "hank", epoch)
	f.now = epoch.Add(time.Hour)

	key := Shard{Category: "session-cookie", Count: 1}.Key(JobDeletionSweep)
	other := lease.New(f.store, "worker-2", time.Minute, lease.WithClock(func() time.Time { return f.now }))
	held, err := other.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	report := f.run(t, JobDeletionSweep, "session-cookie")
	if len(report.Contended) != 1 || report.Contended[0] != key {
		t.Fatalf("Contended = %v, want [%s]", report.Contended, key)
	}
	if got := f.state(t, rec.ID); got != lifecycle.StateActive {
		t.Errorf("contended shard was processed: state = %s", got)
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}
	f.run(t, JobDeletionSweep, "session-cookie")
	if got := f.state(t, rec.ID); got != lifecycle.StateDeleted {
		t.Errorf("state = %s after the lease was released, want deleted", got)
	}
}

func TestScheduler_RunOnceRejects(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	tests := []struct {
		name     string
		job      string
		category string
	}{
		{"unknown job", "hourly", ""},
		{"unknown category", JobDeletionSweep, "no-such-category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.RunOnce(context.Background(), tt.job, tt.category)
			if !errors.Is(err, lifecycle.ErrInvalidArgument) {
				t.Errorf("RunOnce() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestAuditScan_OrphanCategory(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	for _, id := range []string{"legacy-1", "legacy-2"} {
		err := f.store.InsertRecord(ctx, &lifecycle.Record{
			ID: id, Category: "legacy-export", OwnerID: "ivan",
			CreatedAt: epoch, LastActiveAt: epoch, State: lifecycle.StateActive,
		})
		if err != nil {
			t.Fatalf("InsertRecord() failed: %v", err)
		}
	}

	report := f.run(t, JobAuditScan, "")
	if report.Outcomes[OutcomeFlagged] != 2 {
		t.Errorf("Outcomes = %v, want 2 flagged", report.Outcomes)
	}
	for _, id := range []string{"legacy-1", "legacy-2"} {
		if got := f.state(t, id); got != lifecycle.StatePendingReview {
			t.Errorf("%s state = %s, want pending_review", id, got)
		}
	}
	orphans := f.anomaliesOf(t, lifecycle.AnomalyOrphanCategory)
	if len(orphans) != 1 || orphans[0].Category != "legacy-export" {
		t.Errorf("orphan anomalies = %+v", orphans)
	}

	// Records under review are left alone by the sweep.
	f.run(t, JobDeletionSweep, "")
	if got := f.state(t, "legacy-1"); got != lifecycle.StatePendingReview {
		t.Errorf("state after sweep = %s", got)
	}
}

func TestAuditScan_StuckDeletion(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{StuckDeletionGrace: 72 * time.Hour})
	ctx := context.Background()
	stuck := f.register(t, "support-ticket", "judy", epoch)
	fresh := f.register(t, "support-ticket", "kim", epoch)

	if err := f.ledger.Transition(ctx, stuck, lifecycle.StatePendingDeletion, ledger.TransitionMeta{Reason: lifecycle.ReasonPolicyExpired}); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}
	f.now = epoch.Add(4 * day)
	if err := f.ledger.Transition(ctx, fresh, lifecycle.StatePendingDeletion, ledger.TransitionMeta{Reason: lifecycle.ReasonPolicyExpired}); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	report := f.run(t, JobAuditScan, "")
	if report.Outcomes[OutcomeStuck] != 1 {
		t.Errorf("Outcomes = %v, want 1 stuck", report.Outcomes)
	}
	found := f.anomaliesOf(t, lifecycle.AnomalyStuckDeletion)
	if len(found) != 1 || found[0].RecordID != stuck.ID {
		t.Errorf("stuck anomalies = %+v", found)
	}
	if got := f.state(t, stuck.ID); got != lifecycle.StatePendingDeletion {
		t.Errorf("audit scan changed state to %s", got)
	}
	rec, err := f.ledger.Get(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !rec.Escalated() {
		t.Error("stuck deletion not escalated")
	}

	f.now = f.now.Add(30 * day)
	report = f.run(t, JobAuditScan, "")
	if report.Outcomes[OutcomeStuck] != 1 {
		t.Errorf("second scan Outcomes = %v, want only the newly stuck record", report.Outcomes)
	}
	if got := f.anomaliesOf(t, lifecycle.AnomalyStuckDeletion); len(got) != 2 {
		t.Errorf("stuck anomalies = %d, want 2", len(got))
	}

	report = f.run(t, JobDeletionSweep, "support-ticket")
	if report.Outcomes[OutcomeEscalated] != 2 {
		t.Errorf("sweep Outcomes = %v, want 2 escalated", report.Outcomes)
	}
	if got := f.state(t, stuck.ID); got != lifecycle.StatePendingDeletion {
		t.Errorf("sweep resumed an escalated deletion: state = %s", got)
	}
}

func TestAuditScan_ChainVerification(t *testing.T) {
	f := newFixture(t, config.SchedulerConfig{})
	ctx := context.Background()
	rec := f.register(t, "session-cookie", "leo", epoch)
	if err := f.ledger.Transition(ctx, rec, lifecycle.StateHeld, ledger.TransitionMeta{Reason: lifecycle.ReasonManualOverride, Actor: "ops"}); err != nil {
		t.Fatalf("Transition() failed: %v", err)
	}

	report := f.run(t, JobAuditScan, "")
	if report.Outcomes[OutcomeChainVerified] != 1 {
		t.Fatalf("Outcomes = %v, want chain verified", report.Outcomes)
	}

	f.store.TamperAuditEntry(1, func(e *lifecycle.AuditEntry) { e.Actor = "mallory" })
	report = f.run(t, JobAuditScan, "")
	if report.Outcomes[OutcomeChainBroken] != 1 {
		t.Errorf("Outcomes = %v, want chain broken", report.Outcomes)
	}
	if got := f.anomaliesOf(t, lifecycle.AnomalyAuditChainBroken); len(got) != 1 {
		t.Errorf("chain anomalies = %d, want 1", len(got))
	}
}

func TestScheduler_Start(t *testing.T) {
	tests := []struct {
		name        string
		cfg         config.SchedulerConfig
		wantError   bool
		wantEntries []string
	}{
		{
			name: "default schedules",
			cfg: config.SchedulerConfig{
				DailySchedule:   "0 3 * * *",
				WeeklySchedule:  "0 4 * * 0",
				MonthlySchedule: "0 5 1 * *",
			},
			wantEntries: []string{JobDeletionSweep, JobAggregation, JobAuditScan},
		},
		{
			name:        "only daily",
			cfg:         config.SchedulerConfig{DailySchedule: "0 3 * * *"},
			wantEntries: []string{JobDeletionSweep},
		},
		{
			name:      "invalid schedule",
			cfg:       config.SchedulerConfig{DailySchedule: "every day"},
			wantError: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cfg)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			err := f.scheduler.Start(ctx)
			if (err != nil) != tt.wantError {
				t.Fatalf("Start() error = %v, wantError %v", err, tt.wantError)
			}
			if tt.wantError {
				if f.scheduler.IsRunning() {
					t.Error("scheduler running after failed start")
				}
				return
			}
			defer f.scheduler.Stop()

			for _, job := range tt.wantEntries {
				if _, ok := f.scheduler.NextRun(job); !ok {
					t.Errorf("NextRun(%s) not scheduled", job)
				}
			}
		})
	}
}

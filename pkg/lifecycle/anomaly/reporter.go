// Package anomaly records conditions the engine refuses to resolve on its
// own. Every anomaly is persisted together with an audit entry; nothing in
// this package changes record state.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/lifecycle"
	"mercator-hq/lethe/pkg/lifecycle/audit"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/metrics"
)

// Reporter persists anomalies.
type Reporter struct {
	store   lifecycle.AnomalyStore
	audit   *audit.Log
	metrics *metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithMetrics counts reported anomalies on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(r *Reporter) { r.metrics = collector }
}

// New creates a reporter.
func New(store lifecycle.AnomalyStore, log *audit.Log, opts ...Option) *Reporter {
	r := &Reporter{
		store:  store,
		audit:  log,
		logger: slog.Default().With("component", "anomaly.reporter"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report persists a. ID and DetectedAt are assigned when empty.
func (r *Reporter) Report(ctx context.Context, a *lifecycle.Anomaly) (*lifecycle.Anomaly, error) {
	anomaly := *a
	if anomaly.ID == "" {
		anomaly.ID = uuid.New().String()
	}
	if anomaly.DetectedAt.IsZero() {
		anomaly.DetectedAt = r.now()
	}
	anomaly.DetectedAt = anomaly.DetectedAt.UTC()
	if anomaly.Job == "" {
		anomaly.Job, _ = logging.GetJob(ctx)
	}

	entry := &lifecycle.AuditEntry{
		Kind:          lifecycle.EntryAnomaly,
		RecordID:      anomaly.RecordID,
		Category:      anomaly.Category,
		Reason:        lifecycle.ReasonAnomalyFlagged,
		Actor:         "system",
		Justification: fmt.Sprintf("%s: %s", anomaly.Kind, anomaly.Detail),
		Ref:           anomaly.ID,
		Timestamp:     anomaly.DetectedAt,
	}
	_, err := r.audit.Commit(ctx, entry, func(ctx context.Context, sealed *lifecycle.AuditEntry) error {
		return r.store.InsertAnomaly(ctx, &anomaly, sealed)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to report %s anomaly: %w", anomaly.Kind, err)
	}
	r.metrics.RecordAnomaly(string(anomaly.Kind))

	r.logger.Warn("Anomaly reported",
		"anomaly_id", anomaly.ID,
		"kind", anomaly.Kind,
		"record_id", anomaly.RecordID,
		"category", anomaly.Category,
		"job", anomaly.Job,
		"detail", anomaly.Detail,
	)
	return &anomaly, nil
}

// ReportOnce persists a unless an anomaly of the same kind was already
// reported for the same record, in which case the earlier report is
// returned and reported is false. Anomalies without a record always persist.
func (r *Reporter) ReportOnce(ctx context.Context, a *lifecycle.Anomaly) (anomaly *lifecycle.Anomaly, reported bool, err error) {
	if a.RecordID != "" {
		earlier, err := r.store.ListAnomalies(ctx, lifecycle.AnomalyQuery{Kind: a.Kind, RecordID: a.RecordID, Limit: 1})
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up earlier %s anomalies: %w", a.Kind, err)
		}
		if len(earlier) > 0 {
			return earlier[0], false, nil
		}
	}
	anomaly, err = r.Report(ctx, a)
	if err != nil {
		return nil, false, err
	}
	return anomaly, true, nil
}

// List returns anomalies matching q in detection order.
func (r *Reporter) List(ctx context.Context, q lifecycle.AnomalyQuery) ([]*lifecycle.Anomaly, error) {
	anomalies, err := r.store.ListAnomalies(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	return anomalies, nil
}

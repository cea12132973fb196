package lifecycle

import (
	"context"
	"time"
)

// Coverage filters records and aggregates by whether a coarser aggregate
// already covers them.
type Coverage int

const (
	CoverageAny Coverage = iota
	CoverageUncovered
	CoverageCovered
)

// RecordQuery selects records for paged iteration. Results are ordered by ID
// and start strictly after AfterID.
type RecordQuery struct {
	Category   string
	OwnerID    string
	States     []State
	Coverage   Coverage
	ShardIndex int
	ShardCount int
	AfterID    string
	Limit      int
}

// Transition is a conditional state change persisted together with its audit
// entry. The store applies it only if the record is still in From.
type Transition struct {
	RecordID    string
	From        State
	To          State
	At          time.Time
	Entry       *AuditEntry
	Certificate *DeletionCertificate
}

// RecordStore persists the record ledger.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	UpdateLastActive(ctx context.Context, id string, at time.Time) error
	SetConsentWithdrawn(ctx context.Context, id string, at time.Time) error

	// SetEscalation stamps or, when at is nil, clears the escalation marker.
	SetEscalation(ctx context.Context, id string, at *time.Time) error
	ListRecords(ctx context.Context, q RecordQuery) ([]*Record, error)
	RecordCategories(ctx context.Context) ([]string, error)

	// ApplyTransition persists the state change, the audit entry and the
	// optional certificate atomically. It returns ErrStateConflict when the
	// record left From, and ErrChainMoved when the audit chain head moved.
	ApplyTransition(ctx context.Context, t *Transition) error
}

// CertificateStore reads deletion certificates written by ApplyTransition.
type CertificateStore interface {
	GetCertificate(ctx context.Context, recordID string) (*DeletionCertificate, error)
}

// HoldStore persists legal holds.
type HoldStore interface {
	InsertHold(ctx context.Context, h *LegalHold, entry *AuditEntry) error
	GetHold(ctx context.Context, id string) (*LegalHold, error)

	// ReleaseHold stamps the release fields of an active hold. It returns
	// ErrConflict if the hold was already released.
	ReleaseHold(ctx context.Context, h *LegalHold, entry *AuditEntry) error
	ListHolds(ctx context.Context, activeOnly bool) ([]*LegalHold, error)
	ActiveHoldsFor(ctx context.Context, recordID, ownerID string) ([]*LegalHold, error)
}

// AuditQuery selects audit entries. Zero times are unbounded.
type AuditQuery struct {
	From     time.Time
	To       time.Time
	AfterSeq int64
	Limit    int
}

// AuditStore persists the audit chain. There is no update or delete.
type AuditStore interface {
	// AppendAudit persists a sealed entry. Every method that takes an entry
	// returns ErrChainMoved when entry.PrevHash is not the hash of the
	// current chain head.
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	LastAuditEntry(ctx context.Context) (*AuditEntry, error)
	ListAudit(ctx context.Context, q AuditQuery) ([]*AuditEntry, error)
}

// CatalogStore persists policy catalog versions.
type CatalogStore interface {
	// InsertCatalogVersion returns ErrConflict if the version number exists.
	InsertCatalogVersion(ctx context.Context, v *CatalogVersion) error
	ListCatalogVersions(ctx context.Context) ([]*CatalogVersion, error)
}

// LeaseStore persists shard leases.
type LeaseStore interface {
	// AcquireLease grants the shard to owner unless another unexpired lease
	// exists, in which case it returns ErrConflict.
	AcquireLease(ctx context.Context, lease *ShardLease, now time.Time) error

	// RenewLease extends a lease still held under token. It returns
	// ErrNotFound if the lease expired or was taken over.
	RenewLease(ctx context.Context, shard, token string, now, expiresAt time.Time) error
	ReleaseLease(ctx context.Context, shard, token string) error
}

// AggregateQuery selects aggregates.
type AggregateQuery struct {
	Category    string
	Granularity Granularity
	Coverage    Coverage
}

// Publication is an aggregate together with the fine units it covers.
type Publication struct {
	Aggregate    *Aggregate
	RecordIDs    []string
	AggregateIDs []string
	Entry        *AuditEntry
}

// AggregateStore persists anonymization aggregates.
type AggregateStore interface {
	// PublishAggregate writes the aggregate, marks every covered record and
	// finer aggregate, and appends the audit entry in one atomic step.
	PublishAggregate(ctx context.Context, p *Publication) error
	GetAggregate(ctx context.Context, id string) (*Aggregate, error)
	ListAggregates(ctx context.Context, q AggregateQuery) ([]*Aggregate, error)
	DeleteAggregate(ctx context.Context, id string) error

	// NextCycle increments and returns the aggregation cycle of category.
	NextCycle(ctx context.Context, category string) (int64, error)
}

// AnomalyQuery selects anomalies. Zero values are unbounded.
type AnomalyQuery struct {
	Kind     AnomalyKind
	RecordID string
	Since    time.Time
	Limit    int
}

// AnomalyStore persists anomaly reports.
type AnomalyStore interface {
	InsertAnomaly(ctx context.Context, a *Anomaly, entry *AuditEntry) error
	ListAnomalies(ctx context.Context, q AnomalyQuery) ([]*Anomaly, error)
}

// Store is the complete persistence surface of the engine.
type Store interface {
	RecordStore
	CertificateStore
	HoldStore
	AuditStore
	CatalogStore
	LeaseStore
	AggregateStore
	AnomalyStore

	Ping(ctx context.Context) error
	Close() error
}

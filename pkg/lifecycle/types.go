package lifecycle

import (
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"
	"unicode"
)

// LegalBasis is the legal ground under which a category is retained.
type LegalBasis string

const (
	LegalBasisNone                 LegalBasis = "none"
	LegalBasisConsentBased         LegalBasis = "consent_based"
	LegalBasisRegulatoryRequired   LegalBasis = "regulatory_required"
	LegalBasisContractualNecessity LegalBasis = "contractual_necessity"
)

// Valid reports whether b is a known legal basis.
func (b LegalBasis) Valid() bool {
	switch b {
	case LegalBasisNone, LegalBasisConsentBased, LegalBasisRegulatoryRequired, LegalBasisContractualNecessity:
		return true
	}
	return false
}

// RetentionRule governs every record of one category.
// Rules are immutable once published; a new catalog version supersedes them.
type RetentionRule struct {
	Category                  string        `json:"category"`
	ActiveLifespan            time.Duration `json:"active_lifespan"`
	PostActiveRetention       time.Duration `json:"post_active_retention"`
	LegalBasis                LegalBasis    `json:"legal_basis"`
	LegalBasisDuration        time.Duration `json:"legal_basis_duration,omitempty"`
	ConsentGracePeriod        time.Duration `json:"consent_grace_period,omitempty"`
	Anonymizable              bool          `json:"anonymizable"`
	MinAggregationGranularity Granularity   `json:"min_aggregation_granularity,omitempty"`
	Sunset                    bool          `json:"sunset,omitempty"`
}

// Validate checks the rule for internal consistency.
func (r RetentionRule) Validate() error {
	if r.Category == "" {
		return fmt.Errorf("retention rule: category is required")
	}
	if !r.LegalBasis.Valid() {
		return fmt.Errorf("retention rule %q: unknown legal basis %q", r.Category, r.LegalBasis)
	}
	if r.ActiveLifespan < 0 || r.PostActiveRetention < 0 || r.LegalBasisDuration < 0 || r.ConsentGracePeriod < 0 {
		return fmt.Errorf("retention rule %q: durations must not be negative", r.Category)
	}
	if r.LegalBasis == LegalBasisRegulatoryRequired && r.LegalBasisDuration == 0 {
		return fmt.Errorf("retention rule %q: regulatory_required needs legal_basis_duration", r.Category)
	}
	if r.MinAggregationGranularity != "" && !r.MinAggregationGranularity.Valid() {
		return fmt.Errorf("retention rule %q: unknown aggregation granularity %q", r.Category, r.MinAggregationGranularity)
	}
	return nil
}

// GoverningRetention is the longest retention duration that applies after
// the record becomes inactive. A regulatory duration always dominates.
func (r RetentionRule) GoverningRetention() time.Duration {
	applicable := []time.Duration{r.PostActiveRetention}
	if r.LegalBasis == LegalBasisRegulatoryRequired {
		applicable = append(applicable, r.LegalBasisDuration)
	}
	return slices.Max(applicable)
}

// InactiveSince returns the instant the record stopped being active.
func (r RetentionRule) InactiveSince(rec *Record) time.Time {
	lifespanEnd := rec.CreatedAt.Add(r.ActiveLifespan)
	if rec.LastActiveAt.After(lifespanEnd) {
		return rec.LastActiveAt
	}
	return lifespanEnd
}

// ExpiresAt returns the instant the record's retention window closes.
func (r RetentionRule) ExpiresAt(rec *Record) time.Time {
	return r.InactiveSince(rec).Add(r.GoverningRetention())
}

// Expired reports whether the retention window closed before asOf.
func (r RetentionRule) Expired(rec *Record, asOf time.Time) bool {
	return r.ExpiresAt(rec).Before(asOf)
}

// ConsentExpired reports whether a consent-based record's consent was
// withdrawn longer than the grace period before asOf. Consent withdrawal has
// no effect under any other legal basis.
func (r RetentionRule) ConsentExpired(rec *Record, asOf time.Time) bool {
	if r.LegalBasis != LegalBasisConsentBased || rec.ConsentWithdrawnAt == nil {
		return false
	}
	return rec.ConsentWithdrawnAt.Add(r.ConsentGracePeriod).Before(asOf)
}

// Due reports whether the record must leave the Active state at asOf.
func (r RetentionRule) Due(rec *Record, asOf time.Time) bool {
	return r.Expired(rec, asOf) || r.ConsentExpired(rec, asOf)
}

// CatalogVersion is one immutable, published set of retention rules.
type CatalogVersion struct {
	Version       int                      `json:"version"`
	EffectiveDate time.Time                `json:"effective_date"`
	Rules         map[string]RetentionRule `json:"rules"`
	PublishedAt   time.Time                `json:"published_at"`
	PrevHash      string                   `json:"prev_hash"`
	Hash          string                   `json:"hash"`
}

// ComputeHash hashes the version content chained to PrevHash.
func (v *CatalogVersion) ComputeHash() (string, error) {
	content := struct {
		Version       int                      `json:"version"`
		EffectiveDate int64                    `json:"effective_date"`
		Rules         map[string]RetentionRule `json:"rules"`
		PublishedAt   int64                    `json:"published_at"`
		PrevHash      string                   `json:"prev_hash"`
	}{v.Version, v.EffectiveDate.UnixNano(), v.Rules, v.PublishedAt.UnixNano(), v.PrevHash}
	return HashJSON(content)
}

// Record is a unit of stored data governed by a retention rule.
type Record struct {
	ID                 string     `json:"id"`
	Category           string     `json:"category"`
	OwnerID            string     `json:"owner_id"`
	Dimension          string     `json:"dimension,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	LastActiveAt       time.Time  `json:"last_active_at"`
	ConsentWithdrawnAt *time.Time `json:"consent_withdrawn_at,omitempty"`
	State              State      `json:"state"`
	StateChangedAt     time.Time  `json:"state_changed_at"`
	AggregateID        string     `json:"aggregate_id,omitempty"`

	// EscalatedAt is set when a deletion of the record failed verification
	// or stalled. Automated jobs leave an escalated record alone until an
	// operator forces its deletion.
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

// Escalated reports whether the record awaits an operator.
func (r *Record) Escalated() bool {
	return r.EscalatedAt != nil
}

// ValidateIdentifier rejects an owner or category identifier that would not
// expand into exactly one literal segment of a store key or backup path.
func ValidateIdentifier(field, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	case strings.ContainsAny(value, `/\`) || strings.Contains(value, ".."):
		return fmt.Errorf("%w: %s %q must not contain a path separator or \"..\"", ErrInvalidArgument, field, value)
	case strings.ContainsAny(value, "*?["):
		return fmt.Errorf("%w: %s %q must not contain a glob character", ErrInvalidArgument, field, value)
	case strings.ContainsFunc(value, unicode.IsControl):
		return fmt.Errorf("%w: %s %q contains a control character", ErrInvalidArgument, field, value)
	}
	return nil
}

// OwnerShard maps the record owner onto one of count shards.
func (r *Record) OwnerShard(count int) int {
	return OwnerShard(r.OwnerID, count)
}

// OwnerShard maps an owner identifier onto one of count shards.
func OwnerShard(ownerID string, count int) int {
	if count <= 1 {
		return 0
	}
	return int(OwnerHash(ownerID) % uint32(count))
}

// OwnerHash is the stable hash used for owner sub-sharding.
func OwnerHash(ownerID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	return h.Sum32()
}

// LegalHold suspends deletion and anonymization of the records it covers.
// Exactly one of SubjectID and RecordID is set.
type LegalHold struct {
	ID            string     `json:"id"`
	SubjectID     string     `json:"subject_id,omitempty"`
	RecordID      string     `json:"record_id,omitempty"`
	Reason        string     `json:"reason"`
	PlacedBy      string     `json:"placed_by"`
	CreatedAt     time.Time  `json:"created_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ReleasedBy    string     `json:"released_by,omitempty"`
	ReleaseReason string     `json:"release_reason,omitempty"`
}

// Active reports whether the hold is unreleased.
func (h *LegalHold) Active() bool {
	return h.ReleasedAt == nil
}

// Covers reports whether the hold applies to rec.
func (h *LegalHold) Covers(rec *Record) bool {
	if h.RecordID != "" {
		return h.RecordID == rec.ID
	}
	return h.SubjectID != "" && h.SubjectID == rec.OwnerID
}

// EntryKind classifies audit entries.
type EntryKind string

const (
	EntryTransition EntryKind = "transition"
	EntryHold       EntryKind = "hold"
	EntryAggregate  EntryKind = "aggregate"
	EntryAnomaly    EntryKind = "anomaly"
)

// AuditEntry is one immutable link of the audit chain. Entries never carry
// owner identifiers; they keep the category and counts.
type AuditEntry struct {
	Seq           int64     `json:"seq"`
	ID            string    `json:"id"`
	Kind          EntryKind `json:"kind"`
	RecordID      string    `json:"record_id,omitempty"`
	Category      string    `json:"category,omitempty"`
	FromState     State     `json:"from_state,omitempty"`
	ToState       State     `json:"to_state,omitempty"`
	Reason        Reason    `json:"reason,omitempty"`
	Actor         string    `json:"actor"`
	Justification string    `json:"justification,omitempty"`
	Ref           string    `json:"ref,omitempty"`
	Count         int       `json:"count,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// ComputeHash hashes every field except Hash.
func (e *AuditEntry) ComputeHash() (string, error) {
	content := *e
	content.Hash = ""
	content.Timestamp = time.Unix(0, e.Timestamp.UnixNano()).UTC()
	return HashJSON(content)
}

// DeletionCertificate proves verified erasure of a record across stores.
type DeletionCertificate struct {
	RecordID   string    `json:"record_id"`
	Category   string    `json:"category"`
	Stores     []string  `json:"stores"`
	DeletedAt  time.Time `json:"deleted_at"`
	VerifiedAt time.Time `json:"verified_at"`
	AuditHash  string    `json:"audit_hash"`
	Hash       string    `json:"hash"`
}

// ComputeHash hashes every field except Hash.
func (c *DeletionCertificate) ComputeHash() (string, error) {
	content := *c
	content.Hash = ""
	content.DeletedAt = time.Unix(0, c.DeletedAt.UnixNano()).UTC()
	content.VerifiedAt = time.Unix(0, c.VerifiedAt.UnixNano()).UTC()
	return HashJSON(content)
}

// Aggregate is a published k-anonymous count over a time window.
type Aggregate struct {
	ID             string      `json:"id"`
	Category       string      `json:"category"`
	Dimension      string      `json:"dimension,omitempty"`
	Granularity    Granularity `json:"granularity"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
	Count          int         `json:"count"`
	PublishedCycle int64       `json:"published_cycle"`
	PublishedAt    time.Time   `json:"published_at"`
	RolledInto     string      `json:"rolled_into,omitempty"`
}

// AnomalyKind classifies operator-facing anomalies.
type AnomalyKind string

const (
	AnomalyOrphanCategory      AnomalyKind = "orphan-category"
	AnomalyStuckDeletion       AnomalyKind = "stuck-deletion"
	AnomalyVerificationFailure AnomalyKind = "verification-failure"
	AnomalyUnknownCategory     AnomalyKind = "unknown-category"
	AnomalyAuditChainBroken    AnomalyKind = "audit-chain-broken"
)

// Anomaly is a condition the engine refuses to resolve on its own.
type Anomaly struct {
	ID         string      `json:"id"`
	Kind       AnomalyKind `json:"kind"`
	RecordID   string      `json:"record_id,omitempty"`
	Category   string      `json:"category,omitempty"`
	Detail     string      `json:"detail"`
	Job        string      `json:"job,omitempty"`
	DetectedAt time.Time   `json:"detected_at"`
}

// ShardLease grants one worker exclusive processing of a shard until ExpiresAt.
type ShardLease struct {
	Shard     string    `json:"shard"`
	Owner     string    `json:"owner"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

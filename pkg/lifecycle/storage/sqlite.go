package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"

	"mercator-hq/lethe/pkg/lifecycle"
)

const backendSQLite = "sqlite"

// SQLiteConfig contains configuration for the SQLite store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// Driver selects the database/sql driver: "sqlite" (modernc, pure Go)
	// or "sqlite3" (mattn, cgo).
	// Default: "sqlite"
	Driver string

	// WALMode enables Write-Ahead Logging mode.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/lethe.db",
		Driver:      "sqlite",
		WALMode:     true,
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteStore implements lifecycle.Store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

var _ lifecycle.Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database and applies pending migrations.
func NewSQLiteStore(ctx context.Context, config *SQLiteConfig) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, lifecycle.NewStorageError(backendSQLite, "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.Driver == "" {
		config.Driver = "sqlite"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "lifecycle.storage.sqlite")

	db, err := sql.Open(config.Driver, config.Path)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "open", err)
	}

	// SQLite only supports a single writer; one connection also keeps the
	// PRAGMAs below in effect for every statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, config: config, logger: logger}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite store initialized",
		"path", config.Path,
		"driver", config.Driver,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	if s.config.WALMode {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return lifecycle.NewStorageError(backendSQLite, "enable_wal", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return lifecycle.NewStorageError(backendSQLite, "set_busy_timeout", err)
	}
	if err := Migrate(ctx, s.db); err != nil {
		return lifecycle.NewStorageError(backendSQLite, "migrate", err)
	}
	return nil
}

// DB exposes the underlying handle for migrations and diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping implements lifecycle.Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements lifecycle.Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.NewStorageError(backendSQLite, op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if isSentinel(err) {
			return err
		}
		return lifecycle.NewStorageError(backendSQLite, op, err)
	}
	if err := tx.Commit(); err != nil {
		return lifecycle.NewStorageError(backendSQLite, op, err)
	}
	return nil
}

func isSentinel(err error) bool {
	return errors.Is(err, lifecycle.ErrNotFound) ||
		errors.Is(err, lifecycle.ErrConflict) ||
		errors.Is(err, lifecycle.ErrStateConflict) ||
		errors.Is(err, lifecycle.ErrChainMoved)
}

func checkChain(ctx context.Context, tx *sql.Tx, entry *lifecycle.AuditEntry) error {
	var head string
	err := tx.QueryRowContext(ctx, `SELECT hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&head)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if entry.PrevHash != head {
		return lifecycle.ErrChainMoved
	}
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *lifecycle.AuditEntry) error {
	if err := checkChain(ctx, tx, e); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (
			seq, id, kind, record_id, category, from_state, to_state, reason,
			actor, justification, ref, count, timestamp, prev_hash, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Seq, e.ID, string(e.Kind), e.RecordID, e.Category, string(e.FromState), string(e.ToState), string(e.Reason),
		e.Actor, e.Justification, e.Ref, e.Count, nanos(e.Timestamp), e.PrevHash, e.Hash,
	)
	return err
}

const recordColumns = `id, category, owner_id, dimension, created_at, last_active_at,
	consent_withdrawn_at, state, state_changed_at, aggregate_id, escalated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*lifecycle.Record, error) {
	var (
		rec                                   lifecycle.Record
		state                                 string
		createdAt, lastActiveAt, stateChanged int64
		consentWithdrawn, escalated           sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.Category, &rec.OwnerID, &rec.Dimension, &createdAt, &lastActiveAt,
		&consentWithdrawn, &state, &stateChanged, &rec.AggregateID, &escalated)
	if err != nil {
		return nil, err
	}
	rec.State = lifecycle.State(state)
	rec.CreatedAt = fromNanos(createdAt)
	rec.LastActiveAt = fromNanos(lastActiveAt)
	rec.StateChangedAt = fromNanos(stateChanged)
	if consentWithdrawn.Valid {
		at := fromNanos(consentWithdrawn.Int64)
		rec.ConsentWithdrawnAt = &at
	}
	if escalated.Valid {
		at := fromNanos(escalated.Int64)
		rec.EscalatedAt = &at
	}
	return &rec, nil
}

// InsertRecord implements lifecycle.RecordStore.
func (s *SQLiteStore) InsertRecord(ctx context.Context, rec *lifecycle.Record) error {
	return s.withTx(ctx, "insert_record", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, rec.ID).Scan(&exists)
		if err == nil {
			return lifecycle.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (
				id, category, owner_id, owner_hash, dimension, created_at, last_active_at,
				consent_withdrawn_at, state, state_changed_at, aggregate_id, escalated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Category, rec.OwnerID, int64(lifecycle.OwnerHash(rec.OwnerID)), rec.Dimension,
			nanos(rec.CreatedAt), nanos(rec.LastActiveAt), nullNanos(rec.ConsentWithdrawnAt),
			string(rec.State), nanos(rec.StateChangedAt), rec.AggregateID, nullNanos(rec.EscalatedAt),
		)
		return err
	})
}

// GetRecord implements lifecycle.RecordStore.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*lifecycle.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "get_record", err)
	}
	return rec, nil
}

// UpdateLastActive implements lifecycle.RecordStore. Older timestamps are ignored.
func (s *SQLiteStore) UpdateLastActive(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, "update_last_active", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE records SET last_active_at = MAX(last_active_at, ?) WHERE id = ?`, nanos(at), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetConsentWithdrawn implements lifecycle.RecordStore. The earliest withdrawal wins.
func (s *SQLiteStore) SetConsentWithdrawn(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, "set_consent_withdrawn", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE records
			SET consent_withdrawn_at = CASE
				WHEN consent_withdrawn_at IS NULL OR consent_withdrawn_at > ? THEN ?
				ELSE consent_withdrawn_at
			END
			WHERE id = ?`, nanos(at), nanos(at), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// SetEscalation implements lifecycle.RecordStore.
func (s *SQLiteStore) SetEscalation(ctx context.Context, id string, at *time.Time) error {
	return s.withTx(ctx, "set_escalation", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE records SET escalated_at = ? WHERE id = ?`, nullNanos(at), id)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return lifecycle.ErrNotFound
	}
	return nil
}

// ListRecords implements lifecycle.RecordStore.
func (s *SQLiteStore) ListRecords(ctx context.Context, q lifecycle.RecordQuery) ([]*lifecycle.Record, error) {
	var (
		conds []string
		args  []any
	)
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, q.Category)
	}
	if q.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if len(q.States) > 0 {
		conds = append(conds, "state IN ("+placeholders(len(q.States))+")")
		for _, st := range q.States {
			args = append(args, string(st))
		}
	}
	switch q.Coverage {
	case lifecycle.CoverageUncovered:
		conds = append(conds, "aggregate_id = ''")
	case lifecycle.CoverageCovered:
		conds = append(conds, "aggregate_id != ''")
	}
	if q.ShardCount > 1 {
		conds = append(conds, "owner_hash % ? = ?")
		args = append(args, q.ShardCount, q.ShardIndex)
	}
	if q.AfterID != "" {
		conds = append(conds, "id > ?")
		args = append(args, q.AfterID)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_records", err)
	}
	defer rows.Close()

	var out []*lifecycle.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "scan_record", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_records", err)
	}
	return out, nil
}

// RecordCategories implements lifecycle.RecordStore.
func (s *SQLiteStore) RecordCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT category FROM records ORDER BY category`)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "record_categories", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "record_categories", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyTransition implements lifecycle.RecordStore.
func (s *SQLiteStore) ApplyTransition(ctx context.Context, t *lifecycle.Transition) error {
	return s.withTx(ctx, "apply_transition", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE records SET state = ?, state_changed_at = ? WHERE id = ? AND state = ?`,
			string(t.To), nanos(t.At), t.RecordID, string(t.From))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, t.RecordID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return lifecycle.ErrNotFound
			}
			if err != nil {
				return err
			}
			return lifecycle.ErrStateConflict
		}

		if err := insertEntry(ctx, tx, t.Entry); err != nil {
			return err
		}

		if c := t.Certificate; c != nil {
			stores, err := json.Marshal(c.Stores)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO deletion_certificates (record_id, category, stores, deleted_at, verified_at, audit_hash, hash)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.RecordID, c.Category, string(stores), nanos(c.DeletedAt), nanos(c.VerifiedAt), c.AuditHash, c.Hash)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetCertificate implements lifecycle.CertificateStore.
func (s *SQLiteStore) GetCertificate(ctx context.Context, recordID string) (*lifecycle.DeletionCertificate, error) {
	var (
		c                     lifecycle.DeletionCertificate
		stores                string
		deletedAt, verifiedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT record_id, category, stores, deleted_at, verified_at, audit_hash, hash
		FROM deletion_certificates WHERE record_id = ?`, recordID).
		Scan(&c.RecordID, &c.Category, &stores, &deletedAt, &verifiedAt, &c.AuditHash, &c.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "get_certificate", err)
	}
	if err := json.Unmarshal([]byte(stores), &c.Stores); err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "decode_certificate", err)
	}
	c.DeletedAt = fromNanos(deletedAt)
	c.VerifiedAt = fromNanos(verifiedAt)
	return &c, nil
}

const holdColumns = `id, subject_id, record_id, reason, placed_by, created_at, released_at, released_by, release_reason`

func scanHold(row rowScanner) (*lifecycle.LegalHold, error) {
	var (
		h         lifecycle.LegalHold
		createdAt int64
		released  sql.NullInt64
	)
	if err := row.Scan(&h.ID, &h.SubjectID, &h.RecordID, &h.Reason, &h.PlacedBy, &createdAt,
		&released, &h.ReleasedBy, &h.ReleaseReason); err != nil {
		return nil, err
	}
	h.CreatedAt = fromNanos(createdAt)
	if released.Valid {
		at := fromNanos(released.Int64)
		h.ReleasedAt = &at
	}
	return &h, nil
}

// InsertHold implements lifecycle.HoldStore.
func (s *SQLiteStore) InsertHold(ctx context.Context, h *lifecycle.LegalHold, entry *lifecycle.AuditEntry) error {
	return s.withTx(ctx, "insert_hold", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM legal_holds WHERE id = ?`, h.ID).Scan(&exists)
		if err == nil {
			return lifecycle.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO legal_holds (id, subject_id, record_id, reason, placed_by, created_at, released_at, released_by, release_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.SubjectID, h.RecordID, h.Reason, h.PlacedBy, nanos(h.CreatedAt),
			nullNanos(h.ReleasedAt), h.ReleasedBy, h.ReleaseReason)
		return err
	})
}

// GetHold implements lifecycle.HoldStore.
func (s *SQLiteStore) GetHold(ctx context.Context, id string) (*lifecycle.LegalHold, error) {
	h, err := scanHold(s.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM legal_holds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "get_hold", err)
	}
	return h, nil
}

// ReleaseHold implements lifecycle.HoldStore.
func (s *SQLiteStore) ReleaseHold(ctx context.Context, h *lifecycle.LegalHold, entry *lifecycle.AuditEntry) error {
	return s.withTx(ctx, "release_hold", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE legal_holds SET released_at = ?, released_by = ?, release_reason = ?
			WHERE id = ? AND released_at IS NULL`,
			nullNanos(h.ReleasedAt), h.ReleasedBy, h.ReleaseReason, h.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM legal_holds WHERE id = ?`, h.ID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return lifecycle.ErrNotFound
			}
			if err != nil {
				return err
			}
			return lifecycle.ErrConflict
		}
		return insertEntry(ctx, tx, entry)
	})
}

// ListHolds implements lifecycle.HoldStore.
func (s *SQLiteStore) ListHolds(ctx context.Context, activeOnly bool) ([]*lifecycle.LegalHold, error) {
	query := `SELECT ` + holdColumns + ` FROM legal_holds`
	if activeOnly {
		query += ` WHERE released_at IS NULL`
	}
	query += ` ORDER BY created_at, id`
	return s.queryHolds(ctx, "list_holds", query)
}

// ActiveHoldsFor implements lifecycle.HoldStore.
func (s *SQLiteStore) ActiveHoldsFor(ctx context.Context, recordID, ownerID string) ([]*lifecycle.LegalHold, error) {
	return s.queryHolds(ctx, "active_holds_for", `
		SELECT `+holdColumns+` FROM legal_holds
		WHERE released_at IS NULL
		  AND ((record_id != '' AND record_id = ?) OR (subject_id != '' AND subject_id = ?))
		ORDER BY created_at, id`, recordID, ownerID)
}

func (s *SQLiteStore) queryHolds(ctx context.Context, op, query string, args ...any) ([]*lifecycle.LegalHold, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, op, err)
	}
	defer rows.Close()

	var out []*lifecycle.LegalHold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, op, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AppendAudit implements lifecycle.AuditStore.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *lifecycle.AuditEntry) error {
	return s.withTx(ctx, "append_audit", func(tx *sql.Tx) error {
		return insertEntry(ctx, tx, entry)
	})
}

const auditColumns = `seq, id, kind, record_id, category, from_state, to_state, reason,
	actor, justification, ref, count, timestamp, prev_hash, hash`

func scanEntry(row rowScanner) (*lifecycle.AuditEntry, error) {
	var (
		e                      lifecycle.AuditEntry
		kind, from, to, reason string
		timestamp              int64
	)
	if err := row.Scan(&e.Seq, &e.ID, &kind, &e.RecordID, &e.Category, &from, &to, &reason,
		&e.Actor, &e.Justification, &e.Ref, &e.Count, &timestamp, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.Kind = lifecycle.EntryKind(kind)
	e.FromState = lifecycle.State(from)
	e.ToState = lifecycle.State(to)
	e.Reason = lifecycle.Reason(reason)
	e.Timestamp = fromNanos(timestamp)
	return &e, nil
}

// LastAuditEntry implements lifecycle.AuditStore.
func (s *SQLiteStore) LastAuditEntry(ctx context.Context) (*lifecycle.AuditEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_entries ORDER BY seq DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "last_audit_entry", err)
	}
	return e, nil
}

// ListAudit implements lifecycle.AuditStore.
func (s *SQLiteStore) ListAudit(ctx context.Context, q lifecycle.AuditQuery) ([]*lifecycle.AuditEntry, error) {
	conds := []string{"seq > ?"}
	args := []any{q.AfterSeq}
	if !q.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, nanos(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, nanos(q.To))
	}
	query := `SELECT ` + auditColumns + ` FROM audit_entries WHERE ` + strings.Join(conds, " AND ") + ` ORDER BY seq`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_audit", err)
	}
	defer rows.Close()

	var out []*lifecycle.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "list_audit", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertCatalogVersion implements lifecycle.CatalogStore.
func (s *SQLiteStore) InsertCatalogVersion(ctx context.Context, v *lifecycle.CatalogVersion) error {
	rules, err := json.Marshal(v.Rules)
	if err != nil {
		return lifecycle.NewStorageError(backendSQLite, "encode_catalog", err)
	}
	return s.withTx(ctx, "insert_catalog_version", func(tx *sql.Tx) error {
		var latest int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM catalog_versions`).Scan(&latest); err != nil {
			return err
		}
		if v.Version != latest+1 {
			return lifecycle.ErrConflict
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO catalog_versions (version, effective_date, rules, published_at, prev_hash, hash)
			VALUES (?, ?, ?, ?, ?, ?)`,
			v.Version, nanos(v.EffectiveDate), string(rules), nanos(v.PublishedAt), v.PrevHash, v.Hash)
		return err
	})
}

// ListCatalogVersions implements lifecycle.CatalogStore.
func (s *SQLiteStore) ListCatalogVersions(ctx context.Context) ([]*lifecycle.CatalogVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, effective_date, rules, published_at, prev_hash, hash
		FROM catalog_versions ORDER BY version`)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_catalog_versions", err)
	}
	defer rows.Close()

	var out []*lifecycle.CatalogVersion
	for rows.Next() {
		var (
			v                      lifecycle.CatalogVersion
			rules                  string
			effective, publishedAt int64
		)
		if err := rows.Scan(&v.Version, &effective, &rules, &publishedAt, &v.PrevHash, &v.Hash); err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "list_catalog_versions", err)
		}
		if err := json.Unmarshal([]byte(rules), &v.Rules); err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "decode_catalog", err)
		}
		v.EffectiveDate = fromNanos(effective)
		v.PublishedAt = fromNanos(publishedAt)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// AcquireLease implements lifecycle.LeaseStore.
func (s *SQLiteStore) AcquireLease(ctx context.Context, lease *lifecycle.ShardLease, now time.Time) error {
	return s.withTx(ctx, "acquire_lease", func(tx *sql.Tx) error {
		var (
			token     string
			expiresAt int64
		)
		err := tx.QueryRowContext(ctx, `SELECT token, expires_at FROM shard_leases WHERE shard = ?`, lease.Shard).Scan(&token, &expiresAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		case expiresAt > nanos(now) && token != lease.Token:
			return lifecycle.ErrConflict
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shard_leases (shard, owner, token, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(shard) DO UPDATE SET owner = excluded.owner, token = excluded.token, expires_at = excluded.expires_at`,
			lease.Shard, lease.Owner, lease.Token, nanos(lease.ExpiresAt))
		return err
	})
}

// RenewLease implements lifecycle.LeaseStore.
func (s *SQLiteStore) RenewLease(ctx context.Context, shard, token string, now, expiresAt time.Time) error {
	return s.withTx(ctx, "renew_lease", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE shard_leases SET expires_at = ? WHERE shard = ? AND token = ? AND expires_at > ?`,
			nanos(expiresAt), shard, token, nanos(now))
		if err != nil {
			return err
		}
		return requireRow(res)
	})
}

// ReleaseLease implements lifecycle.LeaseStore.
func (s *SQLiteStore) ReleaseLease(ctx context.Context, shard, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shard_leases WHERE shard = ? AND token = ?`, shard, token)
	if err != nil {
		return lifecycle.NewStorageError(backendSQLite, "release_lease", err)
	}
	return nil
}

const aggregateColumns = `id, category, dimension, granularity, window_start, window_end, count,
	published_cycle, published_at, rolled_into`

func scanAggregate(row rowScanner) (*lifecycle.Aggregate, error) {
	var (
		a                                   lifecycle.Aggregate
		granularity                         string
		windowStart, windowEnd, publishedAt int64
	)
	if err := row.Scan(&a.ID, &a.Category, &a.Dimension, &granularity, &windowStart, &windowEnd, &a.Count,
		&a.PublishedCycle, &publishedAt, &a.RolledInto); err != nil {
		return nil, err
	}
	a.Granularity = lifecycle.Granularity(granularity)
	a.WindowStart = fromNanos(windowStart)
	a.WindowEnd = fromNanos(windowEnd)
	a.PublishedAt = fromNanos(publishedAt)
	return &a, nil
}

// PublishAggregate implements lifecycle.AggregateStore.
func (s *SQLiteStore) PublishAggregate(ctx context.Context, p *lifecycle.Publication) error {
	a := p.Aggregate
	return s.withTx(ctx, "publish_aggregate", func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM aggregates WHERE id = ?`, a.ID).Scan(&exists)
		if err == nil {
			return lifecycle.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if err := insertEntry(ctx, tx, p.Entry); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO aggregates (id, category, dimension, granularity, window_start, window_end, count,
				published_cycle, published_at, rolled_into)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
			a.ID, a.Category, a.Dimension, string(a.Granularity), nanos(a.WindowStart), nanos(a.WindowEnd),
			a.Count, a.PublishedCycle, nanos(a.PublishedAt))
		if err != nil {
			return err
		}

		for _, id := range p.RecordIDs {
			res, err := tx.ExecContext(ctx, `UPDATE records SET aggregate_id = ? WHERE id = ? AND aggregate_id = ''`, a.ID, id)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return lifecycle.ErrConflict
			}
		}
		for _, id := range p.AggregateIDs {
			res, err := tx.ExecContext(ctx, `UPDATE aggregates SET rolled_into = ? WHERE id = ? AND rolled_into = ''`, a.ID, id)
			if err != nil {
				return err
			}
			if err := requireRow(res); err != nil {
				return lifecycle.ErrConflict
			}
		}
		return nil
	})
}

// GetAggregate implements lifecycle.AggregateStore.
func (s *SQLiteStore) GetAggregate(ctx context.Context, id string) (*lifecycle.Aggregate, error) {
	a, err := scanAggregate(s.db.QueryRowContext(ctx, `SELECT `+aggregateColumns+` FROM aggregates WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lifecycle.ErrNotFound
	}
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "get_aggregate", err)
	}
	return a, nil
}

// ListAggregates implements lifecycle.AggregateStore.
func (s *SQLiteStore) ListAggregates(ctx context.Context, q lifecycle.AggregateQuery) ([]*lifecycle.Aggregate, error) {
	var (
		conds []string
		args  []any
	)
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, q.Category)
	}
	if q.Granularity != "" {
		conds = append(conds, "granularity = ?")
		args = append(args, string(q.Granularity))
	}
	switch q.Coverage {
	case lifecycle.CoverageUncovered:
		conds = append(conds, "rolled_into = ''")
	case lifecycle.CoverageCovered:
		conds = append(conds, "rolled_into != ''")
	}
	query := `SELECT ` + aggregateColumns + ` FROM aggregates`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY window_start, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_aggregates", err)
	}
	defer rows.Close()

	var out []*lifecycle.Aggregate
	for rows.Next() {
		a, err := scanAggregate(rows)
		if err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "list_aggregates", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAggregate implements lifecycle.AggregateStore.
func (s *SQLiteStore) DeleteAggregate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM aggregates WHERE id = ?`, id); err != nil {
		return lifecycle.NewStorageError(backendSQLite, "delete_aggregate", err)
	}
	return nil
}

// NextCycle implements lifecycle.AggregateStore.
func (s *SQLiteStore) NextCycle(ctx context.Context, category string) (int64, error) {
	var cycle int64
	err := s.withTx(ctx, "next_cycle", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO aggregation_cycles (category, cycle) VALUES (?, 1)
			ON CONFLICT(category) DO UPDATE SET cycle = cycle + 1`, category); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT cycle FROM aggregation_cycles WHERE category = ?`, category).Scan(&cycle)
	})
	return cycle, err
}

// InsertAnomaly implements lifecycle.AnomalyStore.
func (s *SQLiteStore) InsertAnomaly(ctx context.Context, a *lifecycle.Anomaly, entry *lifecycle.AuditEntry) error {
	return s.withTx(ctx, "insert_anomaly", func(tx *sql.Tx) error {
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO anomalies (id, kind, record_id, category, detail, job, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.Kind), a.RecordID, a.Category, a.Detail, a.Job, nanos(a.DetectedAt))
		return err
	})
}

// ListAnomalies implements lifecycle.AnomalyStore.
func (s *SQLiteStore) ListAnomalies(ctx context.Context, q lifecycle.AnomalyQuery) ([]*lifecycle.Anomaly, error) {
	var (
		conds []string
		args  []any
	)
	if q.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(q.Kind))
	}
	if q.RecordID != "" {
		conds = append(conds, "record_id = ?")
		args = append(args, q.RecordID)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "detected_at >= ?")
		args = append(args, nanos(q.Since))
	}
	query := `SELECT id, kind, record_id, category, detail, job, detected_at FROM anomalies`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY detected_at, id"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, lifecycle.NewStorageError(backendSQLite, "list_anomalies", err)
	}
	defer rows.Close()

	var out []*lifecycle.Anomaly
	for rows.Next() {
		var (
			a          lifecycle.Anomaly
			kind       string
			detectedAt int64
		)
		if err := rows.Scan(&a.ID, &kind, &a.RecordID, &a.Category, &a.Detail, &a.Job, &detectedAt); err != nil {
			return nil, lifecycle.NewStorageError(backendSQLite, "list_anomalies", err)
		}
		a.Kind = lifecycle.AnomalyKind(kind)
		a.DetectedAt = fromNanos(detectedAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

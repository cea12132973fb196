package erasure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure-Go SQLite driver, registered as "sqlite"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLEraser deletes record rows from a SQL table keyed by record ID.
type SQLEraser struct {
	name        string
	db          *sql.DB
	owned       bool
	deleteQuery string
	existsQuery string
}

// NewSQLEraser erases rows of table whose keyColumn equals the record ID.
// The caller keeps ownership of db.
func NewSQLEraser(name string, db *sql.DB, table, keyColumn string) (*SQLEraser, error) {
	if keyColumn == "" {
		keyColumn = "id"
	}
	if !identifierPattern.MatchString(table) || !identifierPattern.MatchString(keyColumn) {
		return nil, fmt.Errorf("%w: invalid table or key column for eraser %s", lifecycle.ErrInvalidArgument, name)
	}
	return &SQLEraser{
		name:        name,
		db:          db,
		deleteQuery: fmt.Sprintf(`DELETE FROM "%s" WHERE "%s" = ?`, table, keyColumn),
		existsQuery: fmt.Sprintf(`SELECT 1 FROM "%s" WHERE "%s" = ? LIMIT 1`, table, keyColumn),
	}, nil
}

// OpenSQL opens the database described by cfg and returns an eraser that
// owns the connection.
func OpenSQL(cfg config.SQLEraserConfig) (*SQLEraser, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open eraser %s: %w", cfg.Name, err)
	}
	e, err := NewSQLEraser(cfg.Name, db, cfg.Table, cfg.KeyColumn)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.owned = true
	return e, nil
}

// Name implements Eraser.
func (e *SQLEraser) Name() string { return e.name }

// Erase implements Eraser.
func (e *SQLEraser) Erase(ctx context.Context, rec *lifecycle.Record) error {
	if _, err := e.db.ExecContext(ctx, e.deleteQuery, rec.ID); err != nil {
		return fmt.Errorf("delete from %s: %w", e.name, err)
	}
	return nil
}

// Exists implements Eraser.
func (e *SQLEraser) Exists(ctx context.Context, rec *lifecycle.Record) (bool, error) {
	var one int
	err := e.db.QueryRowContext(ctx, e.existsQuery, rec.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query %s: %w", e.name, err)
	}
	return true, nil
}

// Close closes the connection if the eraser opened it.
func (e *SQLEraser) Close() error {
	if !e.owned {
		return nil
	}
	return e.db.Close()
}

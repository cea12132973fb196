package erasure

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/lifecycle"
)

func testRecord() *lifecycle.Record {
	return &lifecycle.Record{ID: "rec-1", OwnerID: "alice", Category: "chat-message"}
}

func TestExpand(t *testing.T) {
	got := expand("lethe:{category}:{owner_id}:{record_id}", testRecord())
	if got != "lethe:chat-message:alice:rec-1" {
		t.Errorf("expand() = %q", got)
	}
}

func TestSQLEraser(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "primary.db")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE messages (record_id TEXT PRIMARY KEY, body TEXT)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO messages VALUES ('rec-1', 'hi'), ('rec-2', 'there')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	e, err := NewSQLEraser("primary", db, "messages", "record_id")
	if err != nil {
		t.Fatalf("NewSQLEraser() failed: %v", err)
	}
	rec := testRecord()

	if exists, err := e.Exists(ctx, rec); err != nil || !exists {
		t.Fatalf("Exists() before erase = %v, %v", exists, err)
	}
	for i := 0; i < 2; i++ {
		if err := e.Erase(ctx, rec); err != nil {
			t.Fatalf("Erase() attempt %d failed: %v", i+1, err)
		}
	}
	if exists, err := e.Exists(ctx, rec); err != nil || exists {
		t.Errorf("Exists() after erase = %v, %v", exists, err)
	}

	var remaining int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&remaining); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if remaining != 1 {
		t.Errorf("remaining rows = %d, want 1", remaining)
	}
}

func TestNewSQLEraser_RejectsIdentifiers(t *testing.T) {
	tests := []struct {
		table, column string
	}{
		{"messages; DROP TABLE x", "id"},
		{"messages", "id\"--"},
		{"", "id"},
	}
	for _, tt := range tests {
		if _, err := NewSQLEraser("primary", nil, tt.table, tt.column); !errors.Is(err, lifecycle.ErrInvalidArgument) {
			t.Errorf("NewSQLEraser(%q, %q) error = %v, want ErrInvalidArgument", tt.table, tt.column, err)
		}
	}
}

func TestFileEraser(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, name := range []string{"rec-1.2026-05-01.bak", "rec-1.2026-05-02.bak", "rec-2.2026-05-01.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("backup"), 0o600); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	e := NewFileEraser("backups", []string{filepath.Join(dir, "{record_id}.*.bak")})
	rec := testRecord()

	if exists, _ := e.Exists(ctx, rec); !exists {
		t.Fatal("Exists() = false before erase")
	}
	if err := e.Erase(ctx, rec); err != nil {
		t.Fatalf("Erase() failed: %v", err)
	}
	if exists, _ := e.Exists(ctx, rec); exists {
		t.Error("Exists() = true after erase")
	}
	if _, err := os.Stat(filepath.Join(dir, "rec-2.2026-05-01.bak")); err != nil {
		t.Errorf("unrelated backup removed: %v", err)
	}
	if err := e.Erase(ctx, rec); err != nil {
		t.Errorf("repeated Erase() failed: %v", err)
	}
}

func TestFileEraser_OwnerCannotWidenPattern(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, owner := range []string{"alice", "bob"} {
		if err := os.MkdirAll(filepath.Join(dir, owner), 0o700); err != nil {
			t.Fatalf("MkdirAll() failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, owner, "profile.bak"), []byte("backup"), 0o600); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}
	e := NewFileEraser("backups", []string{filepath.Join(dir, "{owner_id}", "profile.bak")})

	tests := []struct {
		name  string
		owner string
	}{
		{"star", "*"},
		{"question mark", "al?ce"},
		{"character class", "[ab]*"},
		{"parent directory", "../" + filepath.Base(dir) + "/bob"},
		{"dot dot", ".."},
		{"separator", "alice/../bob"},
		{"backslash", `bob\x`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &lifecycle.Record{ID: "rec-9", OwnerID: tt.owner, Category: "profile"}
			if err := e.Erase(ctx, rec); !errors.Is(err, lifecycle.ErrInvalidArgument) {
				t.Errorf("Erase() error = %v, want ErrInvalidArgument", err)
			}
			if _, err := e.Exists(ctx, rec); !errors.Is(err, lifecycle.ErrInvalidArgument) {
				t.Errorf("Exists() error = %v, want ErrInvalidArgument", err)
			}
			for _, owner := range []string{"alice", "bob"} {
				if _, err := os.Stat(filepath.Join(dir, owner, "profile.bak")); err != nil {
					t.Errorf("%s's backup removed: %v", owner, err)
				}
			}
		})
	}

	alice := &lifecycle.Record{ID: "rec-1", OwnerID: "alice", Category: "profile"}
	if err := e.Erase(ctx, alice); err != nil {
		t.Fatalf("Erase() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alice", "profile.bak")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("alice's backup not removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "bob", "profile.bak")); err != nil {
		t.Errorf("bob's backup removed: %v", err)
	}
}

func TestFileEraser_UnusedPlaceholdersNotChecked(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEraser("backups", []string{filepath.Join(dir, "{record_id}.bak")})
	rec := &lifecycle.Record{ID: "rec-1", OwnerID: "legacy/owner", Category: "profile"}
	if _, err := e.Exists(context.Background(), rec); err != nil {
		t.Errorf("Exists() failed: %v", err)
	}
}

type fakeKeys struct {
	keys map[string]bool
	err  error
}

func (f *fakeKeys) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			delete(f.keys, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeKeys) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func TestRedisEraser(t *testing.T) {
	ctx := context.Background()
	client := &fakeKeys{keys: map[string]bool{
		"record:rec-1":         true,
		"owner:alice:messages": true,
		"record:rec-2":         true,
	}}
	e := NewRedisEraser("cache", client, []string{"record:{record_id}", "owner:{owner_id}:messages"})
	rec := testRecord()

	if exists, err := e.Exists(ctx, rec); err != nil || !exists {
		t.Fatalf("Exists() = %v, %v", exists, err)
	}
	if err := e.Erase(ctx, rec); err != nil {
		t.Fatalf("Erase() failed: %v", err)
	}
	if exists, _ := e.Exists(ctx, rec); exists {
		t.Error("Exists() = true after erase")
	}
	if !client.keys["record:rec-2"] {
		t.Error("unrelated key deleted")
	}

	client.err = errors.New("connection refused")
	if err := e.Erase(ctx, rec); err == nil {
		t.Error("Erase() succeeded on a failing client")
	}
}

func TestMemoryEraser(t *testing.T) {
	ctx := context.Background()
	e := NewMemoryEraser("memory")
	e.Put("rec-1")
	e.Sticky = map[string]bool{"rec-1": true}

	if err := e.Erase(ctx, testRecord()); err != nil {
		t.Fatalf("Erase() failed: %v", err)
	}
	if exists, _ := e.Exists(ctx, testRecord()); !exists {
		t.Error("sticky record was removed")
	}
	if e.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1", e.Calls())
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ErasureConfig{
		SQL: []config.SQLEraserConfig{
			{Name: "primary", Driver: "sqlite", DSN: filepath.Join(dir, "primary.db"), Table: "records"},
		},
		Redis: []config.RedisEraserConfig{
			{
				Name:         "cache",
				Address:      "127.0.0.1:6379",
				KeyTemplates: []string{"record:{record_id}"},
				Throttle:     config.ThrottleConfig{Rate: 50, MaxConcurrent: 4},
			},
		},
		Files: []config.FileEraserConfig{
			{Name: "backups", Patterns: []string{filepath.Join(dir, "{record_id}.bak")}},
		},
	}

	set, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() failed: %v", err)
	}
	defer set.Close()

	names := set.Names()
	if len(names) != 3 || names[0] != "primary" || names[1] != "cache" || names[2] != "backups" {
		t.Errorf("Names() = %v", names)
	}
	if _, ok := set[1].(*throttled); !ok {
		t.Errorf("cache eraser is %T, want throttled", set[1])
	}

	bad := config.ErasureConfig{SQL: []config.SQLEraserConfig{{Name: "primary", DSN: "x", Table: "bad table"}}}
	if _, err := FromConfig(bad); err == nil {
		t.Error("FromConfig() accepted an invalid table name")
	}
}

package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("Chmod() failed: %v", err)
	}
}

func TestFileProvider_Get(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "redis-password", "s3cret\n", 0o600)
	writeSecret(t, dir, "readonly", "ro", 0o400)
	writeSecret(t, dir, "world-readable", "oops", 0o644)

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}
	defer p.Close()

	tests := []struct {
		name    string
		want    string
		wantErr string
	}{
		{name: "redis-password", want: "s3cret"},
		{name: "readonly", want: "ro"},
		{name: "world-readable", wantErr: "insecure permissions"},
		{name: "missing", wantErr: "secret not found"},
		{name: "../escape", wantErr: "invalid secret name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Get(context.Background(), tt.name)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Get(%q) error = %v, want %q", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get(%q) failed: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestFileProvider_CachesUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "key", "v1", 0o600)

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}

	ctx := context.Background()
	if got, _ := p.Get(ctx, "key"); got != "v1" {
		t.Fatalf("Get() = %q, want v1", got)
	}
	writeSecret(t, dir, "key", "v2", 0o600)
	if got, _ := p.Get(ctx, "key"); got != "v1" {
		t.Errorf("Get() before Refresh = %q, want cached v1", got)
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if got, _ := p.Get(ctx, "key"); got != "v2" {
		t.Errorf("Get() after Refresh = %q, want v2", got)
	}
}

func TestFileProvider_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "key", "v1", 0o600)

	p, err := NewFileProvider(dir, true, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}
	defer p.Close()

	ctx := context.Background()
	if got, _ := p.Get(ctx, "key"); got != "v1" {
		t.Fatalf("Get() = %q, want v1", got)
	}
	writeSecret(t, dir, "key", "v2", 0o600)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := p.Get(ctx, "key"); got == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not refresh the rotated secret")
}

func TestFileProvider_ListAndSupports(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "a", "1", 0o600)
	writeSecret(t, dir, "b", "2", 0o600)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}

	p, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}

	names, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("List() = %v, want [a b]", names)
	}
	if !p.Supports("a") || p.Supports("nested") || p.Supports("missing") {
		t.Error("Supports() should only accept regular files")
	}
}

func TestNewFileProvider_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "file", "x", 0o600)

	if _, err := NewFileProvider(filepath.Join(dir, "missing"), false, nil); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := NewFileProvider(filepath.Join(dir, "file"), false, nil); err == nil {
		t.Error("expected error for a file path")
	}
	_, err := NewFileProvider(filepath.Join(dir, "missing"), false, nil)
	if errors.Is(err, ErrSecretNotFound) {
		t.Error("missing directory should not read as a missing secret")
	}
}

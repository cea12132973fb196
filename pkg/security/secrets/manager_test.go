package secrets

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/config"
)

var testCache = CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}

func TestManager_ProviderOrder(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "shared", "from-file", 0o600)
	t.Setenv("LETHE_SECRET_SHARED", "from-env")
	t.Setenv("LETHE_SECRET_ENV_ONLY", "env")

	fp, err := NewFileProvider(dir, false, nil)
	if err != nil {
		t.Fatalf("NewFileProvider() failed: %v", err)
	}
	m := NewManager([]Provider{fp, NewEnvProvider("LETHE_SECRET_")}, testCache, nil)
	defer m.Close()

	ctx := context.Background()
	if got, _ := m.Get(ctx, "shared"); got != "from-file" {
		t.Errorf("Get(shared) = %q, want from-file", got)
	}
	if got, _ := m.Get(ctx, "env-only"); got != "env" {
		t.Errorf("Get(env-only) = %q, want env", got)
	}
	if _, err := m.Get(ctx, "nowhere"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("Get(nowhere) error = %v, want ErrSecretNotFound", err)
	}
}

func TestManager_Resolve(t *testing.T) {
	t.Setenv("LETHE_SECRET_DB_PASSWORD", "pw")
	t.Setenv("LETHE_SECRET_DB_USER", "lethe")
	m := NewManager([]Provider{NewEnvProvider("LETHE_SECRET_")}, testCache, nil)
	ctx := context.Background()

	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "plain", want: "plain"},
		{input: "${secret:db-password}", want: "pw"},
		{input: "postgres://${secret:db-user}:${secret:db-password}@db/crm", want: "postgres://lethe:pw@db/crm"},
		{input: "x=${secret:missing}", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := m.Resolve(ctx, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) = %q, want error", tt.input, got)
				}
				if got != "" {
					t.Errorf("Resolve(%q) leaked partial output %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestManager_RefreshClearsCache(t *testing.T) {
	t.Setenv("LETHE_SECRET_ROTATING", "old")
	m := NewManager([]Provider{NewEnvProvider("LETHE_SECRET_")}, testCache, nil)
	ctx := context.Background()

	if got, _ := m.Get(ctx, "rotating"); got != "old" {
		t.Fatalf("Get() = %q, want old", got)
	}
	t.Setenv("LETHE_SECRET_ROTATING", "new")
	if got, _ := m.Get(ctx, "rotating"); got != "old" {
		t.Errorf("Get() before Refresh = %q, want cached old", got)
	}
	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if got, _ := m.Get(ctx, "rotating"); got != "new" {
		t.Errorf("Get() after Refresh = %q, want new", got)
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "api-key", "k", 0o600)

	m, err := FromConfig(config.SecretsConfig{
		Providers: []config.SecretProviderConfig{
			{Type: "file", Path: dir},
			{Type: "env", Prefix: "LETHE_SECRET_"},
		},
		Cache: config.SecretsCacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10},
	}, nil)
	if err != nil {
		t.Fatalf("FromConfig() failed: %v", err)
	}
	defer m.Close()

	names, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "api-key" {
			found = true
		}
	}
	if !found {
		t.Errorf("List() = %v, want api-key", names)
	}

	_, err = FromConfig(config.SecretsConfig{
		Providers: []config.SecretProviderConfig{{Type: "file", Path: filepath.Join(dir, "missing")}},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "secret provider 0") {
		t.Errorf("FromConfig(missing dir) error = %v", err)
	}
}

func TestHasReferencesAndRedaction(t *testing.T) {
	if !HasReferences("a ${secret:x} b") || HasReferences("$secret:x") {
		t.Error("HasReferences() mismatch")
	}
	if got := redactName("crm-db-password"); got != "cr...rd" {
		t.Errorf("redactName() = %q", got)
	}
	if got := redactName("key"); got != "***" {
		t.Errorf("redactName(short) = %q", got)
	}
}

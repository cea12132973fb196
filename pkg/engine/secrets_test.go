package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/security/secrets"
)

func TestResolveErasureSecrets(t *testing.T) {
	t.Setenv("LETHE_SECRET_CACHE_PASSWORD", "redis-pw")
	t.Setenv("LETHE_SECRET_CRM_DSN", "file:crm.db")
	m := secrets.NewManager(
		[]secrets.Provider{secrets.NewEnvProvider("LETHE_SECRET_")},
		secrets.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10},
		nil,
	)

	in := config.ErasureConfig{
		SQL:   []config.SQLEraserConfig{{Name: "crm", DSN: "${secret:crm-dsn}", Table: "tickets"}},
		Redis: []config.RedisEraserConfig{{Name: "cache", Address: "localhost:6379", Password: "${secret:cache-password}"}},
	}
	out, err := resolveErasureSecrets(context.Background(), m, in)
	if err != nil {
		t.Fatalf("resolveErasureSecrets() failed: %v", err)
	}
	if out.SQL[0].DSN != "file:crm.db" {
		t.Errorf("SQL DSN = %q", out.SQL[0].DSN)
	}
	if out.Redis[0].Password != "redis-pw" || out.Redis[0].Address != "localhost:6379" {
		t.Errorf("Redis = %+v", out.Redis[0])
	}
	if in.SQL[0].DSN != "${secret:crm-dsn}" {
		t.Error("input configuration was modified")
	}

	in.Redis[0].Password = "${secret:missing}"
	_, err = resolveErasureSecrets(context.Background(), m, in)
	if err == nil || !strings.Contains(err.Error(), `store "cache"`) {
		t.Errorf("resolveErasureSecrets(missing) error = %v", err)
	}
}

func TestResolveGitSecrets(t *testing.T) {
	t.Setenv("LETHE_SECRET_CATALOG_TOKEN", "ghp-token")
	m := secrets.NewManager(
		[]secrets.Provider{secrets.NewEnvProvider("LETHE_SECRET_")},
		secrets.CacheConfig{},
		nil,
	)

	in := config.GitCatalogConfig{
		Repository: "https://git.example.com/privacy/catalog.git",
		Auth:       config.GitAuthConfig{Type: "token", Token: "${secret:catalog-token}"},
	}
	out, err := resolveGitSecrets(context.Background(), m, in)
	if err != nil {
		t.Fatalf("resolveGitSecrets() failed: %v", err)
	}
	if out.Auth.Token != "ghp-token" {
		t.Errorf("Auth.Token = %q, want resolved token", out.Auth.Token)
	}
	if in.Auth.Token != "${secret:catalog-token}" {
		t.Error("input configuration was modified")
	}

	in.Auth.SSHKeyPassphrase = "${secret:missing}"
	if _, err := resolveGitSecrets(context.Background(), m, in); err == nil {
		t.Error("resolveGitSecrets() resolved a missing secret")
	}
}

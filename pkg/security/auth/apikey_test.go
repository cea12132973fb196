package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mercator-hq/lethe/pkg/config"
)

func TestKeyStore_Authenticate(t *testing.T) {
	store, err := NewKeyStore([]Key{
		{Principal: Principal{Name: "crm", Roles: []Role{RoleIngest}}, Secret: "crm-key"},
		{Principal: Principal{Name: "dpo", Roles: []Role{RoleOperator}}, Secret: "dpo-key"},
	})
	if err != nil {
		t.Fatalf("NewKeyStore() failed: %v", err)
	}

	p, err := store.Authenticate("dpo-key")
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if p.Name != "dpo" {
		t.Errorf("principal = %q, want dpo", p.Name)
	}
	if _, err := store.Authenticate("crm-key "); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Authenticate(near miss) error = %v, want ErrInvalidKey", err)
	}
	if _, err := store.Authenticate(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Authenticate(empty) error = %v, want ErrInvalidKey", err)
	}
}

func TestNewKeyStore_Rejects(t *testing.T) {
	tests := []struct {
		name string
		keys []Key
		want string
	}{
		{
			name: "empty secret",
			keys: []Key{{Principal: Principal{Name: "a"}}},
			want: "required",
		},
		{
			name: "duplicate name",
			keys: []Key{
				{Principal: Principal{Name: "a"}, Secret: "1"},
				{Principal: Principal{Name: "a"}, Secret: "2"},
			},
			want: "duplicate",
		},
		{
			name: "shared secret",
			keys: []Key{
				{Principal: Principal{Name: "a"}, Secret: "same"},
				{Principal: Principal{Name: "b"}, Secret: "same"},
			},
			want: "reuses",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKeyStore(tt.keys)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewKeyStore() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestFromConfig_ResolvesKeys(t *testing.T) {
	cfg := config.AuthenticationConfig{
		Enabled: true,
		Keys: []config.APIKeyConfig{
			{Name: "warehouse", Key: "${secret:warehouse-key}", Roles: []string{"read"}},
		},
	}
	resolve := func(_ context.Context, s string) (string, error) {
		return strings.ReplaceAll(s, "${secret:warehouse-key}", "resolved"), nil
	}

	store, err := FromConfig(context.Background(), cfg, resolve)
	if err != nil {
		t.Fatalf("FromConfig() failed: %v", err)
	}
	p, err := store.Authenticate("resolved")
	if err != nil {
		t.Fatalf("Authenticate() failed: %v", err)
	}
	if !p.HasRole(RoleRead) || p.HasRole(RoleIngest) {
		t.Errorf("roles = %v, want read only", p.Roles)
	}

	failing := func(context.Context, string) (string, error) { return "", errors.New("no provider") }
	if _, err := FromConfig(context.Background(), cfg, failing); err == nil || !strings.Contains(err.Error(), "warehouse") {
		t.Errorf("FromConfig(failing resolver) error = %v", err)
	}
}

func TestPrincipal_HasRole(t *testing.T) {
	op := &Principal{Name: "dpo", Roles: []Role{RoleOperator}}
	for _, r := range []Role{RoleIngest, RoleRead, RoleOperator} {
		if !op.HasRole(r) {
			t.Errorf("operator should hold %s", r)
		}
	}
	reader := &Principal{Name: "bi", Roles: []Role{RoleRead}}
	if reader.HasRole(RoleOperator) {
		t.Error("reader should not hold operator")
	}
}

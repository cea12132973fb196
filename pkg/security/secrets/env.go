package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads secrets from environment variables. The secret
// "crm-db-password" with prefix "LETHE_SECRET_" is read from
// LETHE_SECRET_CRM_DB_PASSWORD.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment provider.
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{Prefix: prefix}
}

// Get returns the value of the variable backing name. An empty variable
// counts as missing.
func (p *EnvProvider) Get(ctx context.Context, name string) (string, error) {
	envVar := p.envVar(name)
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("%w: %s (env var %s)", ErrSecretNotFound, name, envVar)
	}
	return value, nil
}

// List returns the secret names of every variable carrying the prefix.
func (p *EnvProvider) List(ctx context.Context) ([]string, error) {
	var names []string
	for _, env := range os.Environ() {
		key, _, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, p.Prefix) {
			continue
		}
		names = append(names, p.secretName(key))
	}
	return names, nil
}

// Name returns "env".
func (p *EnvProvider) Name() string { return "env" }

// Supports always returns true so the provider can act as a fallback.
func (p *EnvProvider) Supports(name string) bool { return true }

func (p *EnvProvider) envVar(name string) string {
	return p.Prefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func (p *EnvProvider) secretName(envVar string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(envVar, p.Prefix), "_", "-"))
}

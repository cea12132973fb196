package engine

import (
	"context"
	"fmt"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/security/secrets"
)

// resolveErasureSecrets returns a copy of cfg with ${secret:name}
// references in connection settings replaced by their values.
func resolveErasureSecrets(ctx context.Context, m *secrets.Manager, cfg config.ErasureConfig) (config.ErasureConfig, error) {
	out := config.ErasureConfig{
		SQL:   append([]config.SQLEraserConfig(nil), cfg.SQL...),
		Redis: append([]config.RedisEraserConfig(nil), cfg.Redis...),
		Files: cfg.Files,
	}

	resolve := func(store string, field *string) error {
		if !secrets.HasReferences(*field) {
			return nil
		}
		v, err := m.Resolve(ctx, *field)
		if err != nil {
			return fmt.Errorf("store %q: %w", store, err)
		}
		*field = v
		return nil
	}

	for i := range out.SQL {
		if err := resolve(out.SQL[i].Name, &out.SQL[i].DSN); err != nil {
			return config.ErasureConfig{}, err
		}
	}
	for i := range out.Redis {
		if err := resolve(out.Redis[i].Name, &out.Redis[i].Address); err != nil {
			return config.ErasureConfig{}, err
		}
		if err := resolve(out.Redis[i].Name, &out.Redis[i].Password); err != nil {
			return config.ErasureConfig{}, err
		}
	}
	return out, nil
}

// resolveGitSecrets returns a copy of cfg with ${secret:name} references in
// the repository credentials replaced by their values.
func resolveGitSecrets(ctx context.Context, m *secrets.Manager, cfg config.GitCatalogConfig) (config.GitCatalogConfig, error) {
	for _, field := range []*string{&cfg.Auth.Token, &cfg.Auth.SSHKeyPassphrase} {
		if !secrets.HasReferences(*field) {
			continue
		}
		v, err := m.Resolve(ctx, *field)
		if err != nil {
			return config.GitCatalogConfig{}, fmt.Errorf("catalog repository credentials: %w", err)
		}
		*field = v
	}
	return cfg, nil
}

package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"

	"mercator-hq/lethe/pkg/config"
)

var referencePattern = regexp.MustCompile(`\$\{secret:([^}]+)\}`)

// Manager resolves secrets through an ordered list of providers. The first
// provider that supports a name and returns a value wins.
type Manager struct {
	providers []Provider
	cache     *Cache
	logger    *slog.Logger
}

// NewManager creates a manager over providers.
func NewManager(providers []Provider, cacheConfig CacheConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: providers,
		cache:     NewCache(cacheConfig),
		logger:    logger.With("component", "secrets"),
	}
}

// FromConfig builds the providers named in cfg.
func FromConfig(cfg config.SecretsConfig, logger *slog.Logger) (*Manager, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for i, pc := range cfg.Providers {
		switch pc.Type {
		case "env":
			providers = append(providers, NewEnvProvider(pc.Prefix))
		case "file":
			fp, err := NewFileProvider(pc.Path, pc.Watch, logger)
			if err != nil {
				closeAll(providers)
				return nil, fmt.Errorf("secret provider %d: %w", i, err)
			}
			providers = append(providers, fp)
		default:
			closeAll(providers)
			return nil, fmt.Errorf("secret provider %d: unsupported type %q", i, pc.Type)
		}
	}
	return NewManager(providers, CacheConfig{
		Enabled: cfg.Cache.Enabled,
		TTL:     cfg.Cache.TTL,
		MaxSize: cfg.Cache.MaxSize,
	}, logger), nil
}

// Get returns the named secret.
func (m *Manager) Get(ctx context.Context, name string) (string, error) {
	if value, ok := m.cache.Get(name); ok {
		return value, nil
	}

	var errs []error
	for _, p := range m.providers {
		if !p.Supports(name) {
			continue
		}
		value, err := p.Get(ctx, name)
		if err != nil {
			m.logger.Debug("Secret provider miss", "provider", p.Name(), "name", redactName(name), "error", err)
			errs = append(errs, err)
			continue
		}
		m.cache.Set(name, value)
		return value, nil
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w: %q (no provider supports it)", ErrSecretNotFound, name)
	}
	return "", fmt.Errorf("failed to get secret %q: %w", name, errors.Join(errs...))
}

// Resolve replaces every ${secret:name} reference in input. It fails if any
// reference cannot be resolved; the partially resolved string is never
// returned.
func (m *Manager) Resolve(ctx context.Context, input string) (string, error) {
	var errs []error
	output := referencePattern.ReplaceAllStringFunc(input, func(ref string) string {
		name := referencePattern.FindStringSubmatch(ref)[1]
		value, err := m.Get(ctx, name)
		if err != nil {
			errs = append(errs, err)
			return ref
		}
		return value
	})
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return output, nil
}

// Refresh reloads every provider that supports it and clears the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range m.providers {
		if r, ok := p.(Refresher); ok {
			if err := r.Refresh(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
	}
	m.cache.Clear()
	return errors.Join(errs...)
}

// List returns the sorted union of secret names across providers.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, p := range m.providers {
		names, err := p.List(ctx)
		if err != nil {
			m.logger.Warn("Failed to list secrets", "provider", p.Name(), "error", err)
			continue
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Close releases provider resources such as file watchers.
func (m *Manager) Close() error {
	return closeAll(m.providers)
}

// HasReferences reports whether s contains a ${secret:name} reference.
func HasReferences(s string) bool {
	return referencePattern.MatchString(s)
}

func closeAll(providers []Provider) error {
	var errs []error
	for _, p := range providers {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// redactName keeps the first and last two characters of a secret name.
func redactName(name string) string {
	if len(name) <= 4 {
		return "***"
	}
	return name[:2] + "..." + name[len(name)-2:]
}

package secrets

import (
	"context"
	"errors"
)

// ErrSecretNotFound is returned when no provider holds a secret.
var ErrSecretNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// Get returns the value of the named secret.
	Get(ctx context.Context, name string) (string, error)

	// List returns the names of the secrets the provider holds. Values are
	// never listed.
	List(ctx context.Context) ([]string, error)

	// Name returns the provider type ("env", "file").
	Name() string

	// Supports reports whether the provider may hold the named secret.
	Supports(name string) bool
}

// Refresher is a Provider that can drop what it has read so far.
type Refresher interface {
	Provider
	Refresh(ctx context.Context) error
}

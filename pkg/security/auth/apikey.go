package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"mercator-hq/lethe/pkg/config"
)

// ErrInvalidKey is returned for a key that matches no configured key.
var ErrInvalidKey = errors.New("invalid API key")

// Key is a configured API key.
type Key struct {
	Principal
	Secret string
}

type storedKey struct {
	digest    [sha256.Size]byte
	principal *Principal
}

// KeyStore authenticates API keys. Only SHA-256 digests of the secrets are
// retained, and every lookup compares against all of them in constant time.
type KeyStore struct {
	keys []storedKey
}

// NewKeyStore creates a store from keys. Names and secrets must be unique
// and non-empty.
func NewKeyStore(keys []Key) (*KeyStore, error) {
	s := &KeyStore{keys: make([]storedKey, 0, len(keys))}
	names := make(map[string]bool, len(keys))
	digests := make(map[[sha256.Size]byte]bool, len(keys))

	for _, k := range keys {
		if k.Name == "" || k.Secret == "" {
			return nil, fmt.Errorf("API key name and secret are required")
		}
		if names[k.Name] {
			return nil, fmt.Errorf("duplicate API key name %q", k.Name)
		}
		digest := sha256.Sum256([]byte(k.Secret))
		if digests[digest] {
			return nil, fmt.Errorf("API key %q reuses another key's secret", k.Name)
		}
		names[k.Name] = true
		digests[digest] = true

		p := k.Principal
		s.keys = append(s.keys, storedKey{digest: digest, principal: &p})
	}
	return s, nil
}

// FromConfig builds a store from cfg, passing every key through resolve
// first so keys may be ${secret:name} references.
func FromConfig(ctx context.Context, cfg config.AuthenticationConfig, resolve func(context.Context, string) (string, error)) (*KeyStore, error) {
	keys := make([]Key, 0, len(cfg.Keys))
	for _, kc := range cfg.Keys {
		secret := kc.Key
		if resolve != nil {
			var err error
			if secret, err = resolve(ctx, kc.Key); err != nil {
				return nil, fmt.Errorf("API key %q: %w", kc.Name, err)
			}
		}
		roles := make([]Role, len(kc.Roles))
		for i, r := range kc.Roles {
			roles[i] = Role(r)
		}
		keys = append(keys, Key{Principal: Principal{Name: kc.Name, Roles: roles}, Secret: secret})
	}
	return NewKeyStore(keys)
}

// Authenticate returns the principal owning secret.
func (s *KeyStore) Authenticate(secret string) (*Principal, error) {
	digest := sha256.Sum256([]byte(secret))
	var match *Principal
	for i := range s.keys {
		if subtle.ConstantTimeCompare(digest[:], s.keys[i].digest[:]) == 1 {
			match = s.keys[i].principal
		}
	}
	if match == nil {
		return nil, ErrInvalidKey
	}
	return match, nil
}

// Len returns the number of keys.
func (s *KeyStore) Len() int { return len(s.keys) }

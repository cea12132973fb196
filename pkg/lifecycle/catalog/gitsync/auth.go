package gitsync

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/lethe/pkg/config"
)

// AuthProvider supplies Git transport credentials.
type AuthProvider interface {
	// Auth returns the transport authentication method, or nil for none.
	Auth() (transport.AuthMethod, error)

	// Type names the method for logging.
	Type() string
}

// TokenAuth authenticates HTTPS remotes with an access token.
type TokenAuth struct {
	token string
}

// NewTokenAuth creates a token provider.
func NewTokenAuth(token string) *TokenAuth {
	return &TokenAuth{token: token}
}

// Auth returns basic auth carrying the token as password.
func (a *TokenAuth) Auth() (transport.AuthMethod, error) {
	if a.token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	return &http.BasicAuth{Username: "git", Password: a.token}, nil
}

// Type implements AuthProvider.
func (a *TokenAuth) Type() string { return "token" }

// SSHAuth authenticates SSH remotes with a private key file.
type SSHAuth struct {
	keyPath    string
	passphrase string
}

// NewSSHAuth creates an SSH key provider. passphrase may be empty.
func NewSSHAuth(keyPath, passphrase string) *SSHAuth {
	return &SSHAuth{keyPath: keyPath, passphrase: passphrase}
}

// Auth loads the key. Keys readable by group or others are refused.
func (a *SSHAuth) Auth() (transport.AuthMethod, error) {
	if a.keyPath == "" {
		return nil, fmt.Errorf("ssh key path cannot be empty")
	}
	info, err := os.Stat(a.keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access SSH key file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("SSH key file permissions too open (%o), should be 0600", mode)
	}
	auth, err := ssh.NewPublicKeysFromFile("git", a.keyPath, a.passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}
	return auth, nil
}

// Type implements AuthProvider.
func (a *SSHAuth) Type() string { return "ssh" }

// NoAuth is used for public and local repositories.
type NoAuth struct{}

// Auth implements AuthProvider.
func (NoAuth) Auth() (transport.AuthMethod, error) { return nil, nil }

// Type implements AuthProvider.
func (NoAuth) Type() string { return "none" }

// NewAuthProvider creates the provider selected by cfg. Secret references
// must already be resolved.
func NewAuthProvider(cfg config.GitAuthConfig) (AuthProvider, error) {
	switch cfg.Type {
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		return NewTokenAuth(cfg.Token), nil
	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		return NewSSHAuth(cfg.SSHKeyPath, cfg.SSHKeyPassphrase), nil
	case "none", "":
		return NoAuth{}, nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

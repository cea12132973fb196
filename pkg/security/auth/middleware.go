package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/lethe/pkg/telemetry/logging"
)

type contextKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}

// ErrorWriter writes an authentication or authorization failure.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// Middleware authenticates requests by API key. The principal's name
// replaces any caller-supplied actor.
type Middleware struct {
	store   *KeyStore
	header  string
	onError ErrorWriter
	logger  *slog.Logger
}

// NewMiddleware creates a Middleware reading keys from header. On the
// Authorization header a "Bearer " scheme prefix is required.
func NewMiddleware(store *KeyStore, header string, onError ErrorWriter, logger *slog.Logger) *Middleware {
	if onError == nil {
		onError = func(w http.ResponseWriter, status int, message string) {
			http.Error(w, message, status)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{store: store, header: header, onError: onError, logger: logger}
}

// Handle wraps next with authentication.
func (m *Middleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := m.extract(r)
		if secret == "" {
			m.onError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		p, err := m.store.Authenticate(secret)
		if err != nil {
			m.logger.WarnContext(r.Context(), "Rejected API key",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			m.onError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		ctx = logging.WithActor(ctx, p.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects authenticated callers lacking role. Requests without
// a principal pass through, so the guard is inert when authentication is
// disabled.
func (m *Middleware) RequireRole(role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := PrincipalFrom(r.Context()); ok && !p.HasRole(role) {
				m.onError(w, http.StatusForbidden, "API key "+p.Name+" lacks role "+string(role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) extract(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get(m.header))
	if strings.EqualFold(m.header, "Authorization") {
		scheme, token, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return value
}

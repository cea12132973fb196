package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/security/auth"
	sectls "mercator-hq/lethe/pkg/security/tls"
	"mercator-hq/lethe/pkg/telemetry/health"
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP server in front of the engine.
type Server struct {
	config     *config.ServerConfig
	telemetry  *config.TelemetryConfig
	security   *config.SecurityConfig
	engine     Engine
	version    VersionInfo
	logger     *slog.Logger
	httpServer *http.Server
	listener   net.Listener

	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a new server for engine.
func NewServer(cfg *config.Config, engine Engine, version VersionInfo) *Server {
	return &Server{
		config:    &cfg.Server,
		telemetry: &cfg.Telemetry,
		security:  &cfg.Security,
		engine:    engine,
		version:   version,
		logger:    slog.Default().With("component", "server"),
	}
}

// Listen binds the listen address. Start calls it when it was not called
// before; calling it first lets the caller learn the bound address.
func (s *Server) Listen() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr(), nil
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
// With TLS enabled the listener terminates TLS using certificates that are
// reloaded from disk while the server runs.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler(ctx)
	if err != nil {
		return err
	}
	if _, err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	ln := s.listener
	var tlsConfig *tls.Config
	if s.security.TLS.Enabled {
		if tlsConfig, err = s.tlsConfig(ctx); err != nil {
			_ = s.listener.Close()
			s.listener = nil
			s.mu.Unlock()
			return err
		}
		ln = tls.NewListener(ln, tlsConfig)
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Handler:        handler,
		TLSConfig:      tlsConfig,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "address", ln.Addr().String(), "tls", tlsConfig != nil)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// tlsConfig starts the certificate reloader for the lifetime of ctx.
func (s *Server) tlsConfig(ctx context.Context) (*tls.Config, error) {
	cfg := s.security.TLS
	reloader := sectls.NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, s.logger)
	if err := reloader.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	tlsConfig, err := sectls.ServerConfig(cfg, reloader)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	return tlsConfig, nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.logger.Info("Initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("HTTP server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler. API keys are resolved
// through the engine's secret manager when authentication is enabled.
func (s *Server) Handler(ctx context.Context) (http.Handler, error) {
	var opts routerOptions
	if s.security.Authentication.Enabled {
		store, err := auth.FromConfig(ctx, s.security.Authentication, s.engine.Secrets().Resolve)
		if err != nil {
			return nil, fmt.Errorf("failed to load API keys: %w", err)
		}
		opts.auth = auth.NewMiddleware(store, s.security.Authentication.Header, authError, s.logger)
		s.logger.Info("API key authentication enabled", "keys", store.Len())
	}
	if s.security.TLS.Enabled && s.security.TLS.MTLS.Enabled {
		opts.identitySource = s.security.TLS.MTLS.IdentitySource
	}

	r := newRouter(s.engine, s.logger, opts)

	if s.telemetry.Health.Enabled {
		checker := s.engine.Health()
		r.Get(s.telemetry.Health.LivenessPath, checker.LivenessHandler())
		r.Get(s.telemetry.Health.ReadinessPath, checker.ReadinessHandler())
	}
	if s.telemetry.Metrics.Enabled {
		r.Handle(s.telemetry.Metrics.Path, s.engine.Metrics().Handler())
	}
	r.Get("/version", health.VersionHandler(s.version.Version, s.version.Commit, s.version.BuildTime))

	return r, nil
}

package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CertificateReloader serves a certificate pair from disk and reloads it
// when either file's modification time moves forward.
type CertificateReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	certTime time.Time
	keyTime  time.Time
}

// NewCertificateReloader creates a reloader checking the files every
// interval.
func NewCertificateReloader(certFile, keyFile string, interval time.Duration, logger *slog.Logger) *CertificateReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CertificateReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: interval,
		logger:   logger.With("component", "tls"),
	}
}

// Start loads the pair and keeps checking it until ctx is cancelled. An
// unreadable or expired initial pair is an error; a bad pair found later is
// logged and the previous certificate stays in use.
func (r *CertificateReloader) Start(ctx context.Context) error {
	if err := r.reload(); err != nil {
		return err
	}
	r.logExpiry()
	if r.interval > 0 {
		go r.loop(ctx)
	}
	return nil
}

func (r *CertificateReloader) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Error("Failed to reload certificate", "error", err, "cert_file", r.certFile)
				continue
			}
			r.logger.Info("Certificate reloaded", "cert_file", r.certFile)
			r.logExpiry()
		case <-ctx.Done():
			return
		}
	}
}

func (r *CertificateReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certTime) || keyInfo.ModTime().After(r.keyTime)
}

func (r *CertificateReloader) reload() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return err
	}
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	if err := ValidateCertificate(&cert, time.Now()); err != nil {
		return err
	}

	r.mu.Lock()
	r.cert = &cert
	r.certTime = certInfo.ModTime()
	r.keyTime = keyInfo.ModTime()
	r.mu.Unlock()
	return nil
}

// Certificate returns the current certificate, or nil before Start.
func (r *CertificateReloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificateFunc adapts the reloader to tls.Config.GetCertificate.
func (r *CertificateReloader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert := r.Certificate()
		if cert == nil {
			return nil, errors.New("no certificate loaded")
		}
		return cert, nil
	}
}

func (r *CertificateReloader) logExpiry() {
	cert := r.Certificate()
	if cert == nil || len(cert.Certificate) == 0 {
		return
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return
	}
	days, warning := CheckExpiration(leaf, time.Now())
	if warning != "" {
		r.logger.Warn("Certificate expiring soon",
			"subject", leaf.Subject.CommonName,
			"expires_in_days", days,
			"expires_at", leaf.NotAfter.Format(time.RFC3339),
		)
		return
	}
	r.logger.Info("Certificate loaded",
		"subject", leaf.Subject.CommonName,
		"issuer", leaf.Issuer.CommonName,
		"expires_in_days", days,
	)
}

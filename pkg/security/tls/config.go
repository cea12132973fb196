package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"mercator-hq/lethe/pkg/config"
)

// cipherSuites maps configurable TLS 1.2 suite names to their IDs. TLS 1.3
// suites are not configurable in crypto/tls and are always enabled.
var cipherSuites = map[string]uint16{
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305":    tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305":  tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ServerConfig builds the server-side tls.Config for cfg. Certificates are
// served from reloader so that renewed files take effect without a restart.
func ServerConfig(cfg config.TLSConfig, reloader *CertificateReloader) (*tls.Config, error) {
	minVersion, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	// #nosec G402 - MinVersion is restricted to TLS 1.2 or 1.3
	tlsConfig := &tls.Config{
		MinVersion:     minVersion,
		CipherSuites:   suites,
		GetCertificate: reloader.GetCertificateFunc(),
	}

	if cfg.MTLS.Enabled {
		pool, err := LoadCAPool(cfg.MTLS.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to configure mTLS: %w", err)
		}
		tlsConfig.ClientCAs = pool
		if tlsConfig.ClientAuth, err = parseClientAuth(cfg.MTLS.ClientAuthType); err != nil {
			return nil, err
		}
	}
	return tlsConfig, nil
}

func parseVersion(v string) (uint16, error) {
	switch v {
	case "1.3", "":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuites[name]
		if !ok {
			return nil, fmt.Errorf("unsupported cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

func parseClientAuth(mode string) (tls.ClientAuthType, error) {
	switch mode {
	case "require", "":
		return tls.RequireAndVerifyClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	default:
		return tls.NoClientCert, fmt.Errorf("unsupported client auth type %q", mode)
	}
}

// LoadCAPool reads a PEM bundle into a certificate pool.
func LoadCAPool(path string) (*x509.CertPool, error) {
	// #nosec G304 - path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

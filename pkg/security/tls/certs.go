package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// ExpiryWarningDays is how close to expiry a certificate draws a warning.
const ExpiryWarningDays = 30

// ValidateCertificate checks that the leaf of cert is valid at now.
func ValidateCertificate(cert *tls.Certificate, now time.Time) error {
	if cert == nil || len(cert.Certificate) == 0 {
		return errors.New("certificate chain is empty")
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	return ValidateValidity(leaf, now)
}

// LoadCertificateFile parses the first certificate of a PEM file.
func LoadCertificateFile(path string) (*x509.Certificate, error) {
	// #nosec G304 - path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate found in %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// ValidateValidity checks that now lies within the certificate's validity
// window.
func ValidateValidity(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (valid from %s)", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// CheckExpiration returns the whole days left before cert expires and a
// warning when fewer than ExpiryWarningDays remain.
func CheckExpiration(cert *x509.Certificate, now time.Time) (days int, warning string) {
	days = int(cert.NotAfter.Sub(now).Hours() / 24)
	if days < ExpiryWarningDays {
		warning = fmt.Sprintf("certificate expires in %d days (on %s)", days, cert.NotAfter.Format("2006-01-02"))
	}
	return days, warning
}

// VerifyChain verifies cert against roots for the given usage.
func VerifyChain(cert *x509.Certificate, roots *x509.CertPool, usage x509.ExtKeyUsage) error {
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{usage},
	})
	if err != nil {
		return fmt.Errorf("certificate chain validation failed: %w", err)
	}
	return nil
}

// CertificateInfo is a human-readable summary of a certificate.
type CertificateInfo struct {
	Subject            string    `json:"subject"`
	Issuer             string    `json:"issuer"`
	SerialNumber       string    `json:"serial_number"`
	NotBefore          time.Time `json:"not_before"`
	NotAfter           time.Time `json:"not_after"`
	DNSNames           []string  `json:"dns_names,omitempty"`
	IPAddresses        []string  `json:"ip_addresses,omitempty"`
	SignatureAlgorithm string    `json:"signature_algorithm"`
}

// Describe summarizes cert.
func Describe(cert *x509.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		Subject:            cert.Subject.String(),
		Issuer:             cert.Issuer.String(),
		SerialNumber:       fmt.Sprintf("%x", cert.SerialNumber),
		NotBefore:          cert.NotBefore,
		NotAfter:           cert.NotAfter,
		DNSNames:           cert.DNSNames,
		SignatureAlgorithm: cert.SignatureAlgorithm.String(),
	}
	for _, ip := range cert.IPAddresses {
		info.IPAddresses = append(info.IPAddresses, ip.String())
	}
	return info
}

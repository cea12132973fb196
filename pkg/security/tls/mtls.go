package tls

import (
	"crypto/x509"
	"net/http"

	"mercator-hq/lethe/pkg/telemetry/logging"
)

// ClientIdentity extracts the identity named by source from a client
// certificate. Sources are "subject.CN" (the default), "subject.OU",
// "subject.O" and "SAN" (first DNS name). It returns "" when the field is
// absent.
func ClientIdentity(cert *x509.Certificate, source string) string {
	if cert == nil {
		return ""
	}
	switch source {
	case "subject.CN", "":
		return cert.Subject.CommonName
	case "subject.OU":
		if len(cert.Subject.OrganizationalUnit) > 0 {
			return cert.Subject.OrganizationalUnit[0]
		}
	case "subject.O":
		if len(cert.Subject.Organization) > 0 {
			return cert.Subject.Organization[0]
		}
	case "SAN":
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
	}
	return ""
}

// RequestIdentity returns the identity of the verified client certificate
// presented on r, or "" when there is none.
func RequestIdentity(r *http.Request, source string) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	return ClientIdentity(r.TLS.VerifiedChains[0][0], source)
}

// IdentityMiddleware records the client certificate identity as the actor
// of the request. It runs before API key authentication, which overrides
// it.
func IdentityMiddleware(source string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := RequestIdentity(r, source); id != "" {
				r = r.WithContext(logging.WithActor(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

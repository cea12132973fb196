// Package tls terminates TLS for the HTTP server.
//
// ServerConfig turns the security.tls configuration into a crypto/tls
// configuration restricted to TLS 1.2 or 1.3, with an optional client CA
// for mutual TLS. Certificates come from a CertificateReloader, which polls
// the certificate and key files and swaps in a renewed pair without a
// restart. A pair that fails to load or has expired is rejected and the
// previous one stays in use.
//
// With mutual TLS enabled, the identity of a verified client certificate
// (its common name by default) becomes the actor recorded for the request,
// unless an API key names a different principal.
package tls

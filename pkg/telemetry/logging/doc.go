// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - Structured logging in JSON or text format
//   - PII redaction applied in the handler, so every *slog.Logger derived
//     from it redacts as well
//   - Context-aware logging with request, actor and job fields
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stderr))
//	if err != nil {
//	    return err
//	}
//	logger.SetDefault()
//
//	logger.Info("Deletion certificate issued",
//	    "record_id", rec.ID,
//	    "stores", len(cert.Stores),
//	)
//
// # PII Redaction
//
// Redaction covers emails, phone numbers, SSNs, card numbers, IP addresses,
// bearer tokens and password assignments. Attributes whose key names a
// secret (password, token, dsn, ...) are masked entirely. The same Redactor
// scrubs operator justifications before they are sealed into the audit log.
package logging

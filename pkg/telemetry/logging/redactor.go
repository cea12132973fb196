package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"mercator-hq/lethe/pkg/config"
)

// Redactor redacts PII (Personally Identifiable Information) from log fields
// and from operator text sealed into the audit chain.
type Redactor struct {
	patterns []*redactPattern
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Common PII pattern names.
const (
	PatternBearerToken = "bearer_token"
	PatternPassword    = "password"
	PatternEmail       = "email"
	PatternIPv6        = "ipv6"
	PatternIPv4        = "ipv4"
	PatternCreditCard  = "credit_card"
	PatternSSN         = "ssn"
	PatternPhone       = "phone"
)

// defaultPatterns run in order; longer digit runs go first so a card number
// is not half-consumed by the phone pattern.
var defaultPatterns = []struct {
	name        string
	regex       string
	replacement string
}{
	{PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***"},
	{PatternPassword, `(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***"},
	{PatternEmail, `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, "***@***"},
	{PatternIPv6, `\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`, "****:****:****:****:****:****:****:****"},
	{PatternIPv4, `\b(?:\d{1,3}\.){3}\d{1,3}\b`, "*.*.*.*"},
	{PatternCreditCard, `\b(?:\d[ -]*?){13,16}\b`, "****-****-****-****"},
	{PatternSSN, `\b\d{3}-\d{2}-\d{4}\b`, "***-**-****"},
	{PatternPhone, `(?:\+?1[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`, "***-***-****"},
}

// NewRedactor creates a new Redactor with default and custom patterns.
// Custom patterns run after the defaults. Invalid custom patterns are
// skipped; config validation reports them before this point.
func NewRedactor(customPatterns []config.RedactPattern) *Redactor {
	r := &Redactor{}

	for _, p := range defaultPatterns {
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		})
	}

	for _, p := range customPatterns {
		regex, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, &redactPattern{
			name:        p.Name,
			regex:       regex,
			replacement: p.Replacement,
		})
	}

	return r
}

// RedactString redacts PII from a string value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}

	redacted := value
	for _, pattern := range r.patterns {
		redacted = pattern.regex.ReplaceAllString(redacted, pattern.replacement)
	}

	return redacted
}

// RedactArgs redacts PII from variadic log arguments.
// Args are in the form: key1, value1, key2, value2, ...
func (r *Redactor) RedactArgs(args ...any) []any {
	if r == nil || len(args) == 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 1; i < len(redacted); i += 2 {
		key, ok := redacted[i-1].(string)
		if ok && isSensitiveKey(key) {
			redacted[i] = redactValue(redacted[i])
			continue
		}
		if str, ok := redacted[i].(string); ok {
			redacted[i] = r.RedactString(str)
		}
	}

	return redacted
}

// RedactAttr redacts a single slog attribute, descending into groups.
func (r *Redactor) RedactAttr(a slog.Attr) slog.Attr {
	if r == nil {
		return a
	}

	v := a.Value.Resolve()
	switch {
	case v.Kind() == slog.KindGroup:
		group := v.Group()
		out := make([]slog.Attr, len(group))
		for i, ga := range group {
			out[i] = r.RedactAttr(ga)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case isSensitiveKey(a.Key):
		return slog.Any(a.Key, redactValue(v.Any()))
	case v.Kind() == slog.KindString:
		return slog.String(a.Key, r.RedactString(v.String()))
	case v.Kind() == slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, r.RedactString(err.Error()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// isSensitiveKey checks if a key name indicates sensitive data.
func isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := []string{
		"password", "passwd", "pwd",
		"secret", "token", "api_key", "apikey",
		"authorization", "dsn",
		"ssn", "social_security",
		"credit_card", "creditcard",
		"private_key", "privatekey",
	}

	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}

	return false
}

// redactValue redacts a sensitive value completely, keeping a short prefix
// of long strings for debugging.
func redactValue(value any) any {
	switch v := value.(type) {
	case string:
		if v == "" {
			return ""
		}
		if len(v) <= 4 {
			return "***"
		}
		return v[:4] + "***"
	case fmt.Stringer:
		return "***"
	default:
		return "***"
	}
}

// RedactEmail redacts an email address partially (shows first char and domain).
func RedactEmail(email string) string {
	username, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return email
	}

	if len(username) == 0 {
		return "***@" + domain
	}

	return string(username[0]) + "***@" + domain
}

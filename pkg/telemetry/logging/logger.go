package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mercator-hq/lethe/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in plain text format.
	FormatText LogFormat = "text"
)

// Logger provides structured logging with PII redaction. Redaction happens
// in the slog handler, so the *slog.Logger returned by Slog redacts too.
type Logger struct {
	// slog is the underlying structured logger
	slog *slog.Logger

	// redactor performs PII redaction on log fields
	redactor *Redactor

	// level is the minimum log level
	level slog.Level

	// format is the output format
	format LogFormat
}

// Config contains configuration for the Logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the output format ("json", "text")
	Format string

	// AddSource includes file and line number in logs
	AddSource bool

	// RedactPII enables automatic PII redaction
	RedactPII bool

	// RedactPatterns contains custom PII redaction patterns
	RedactPatterns []config.RedactPattern

	// Writer is the output writer (defaults to os.Stderr)
	Writer io.Writer
}

// FromConfig converts the telemetry logging section into a logger Config.
func FromConfig(cfg config.LoggingConfig, w io.Writer) Config {
	return Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		AddSource:      cfg.AddSource,
		RedactPII:      cfg.RedactPII,
		RedactPatterns: cfg.RedactPatterns,
		Writer:         w,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	var redactor *Redactor
	if cfg.RedactPII {
		redactor = NewRedactor(cfg.RedactPatterns)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch format {
	case FormatText:
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}
	if redactor != nil {
		handler = &redactingHandler{inner: handler, redactor: redactor}
	}

	return &Logger{
		slog:     slog.New(handler),
		redactor: redactor,
		level:    level,
		format:   format,
	}, nil
}

// Slog returns the underlying *slog.Logger for components that take one.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Redactor returns the PII redactor, or nil when redaction is disabled.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// SetDefault installs this logger as the process-wide slog default.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.slog)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// InfoContext logs an info message with context fields.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, append(extractContextFields(ctx), args...)...)
}

// WarnContext logs a warning message with context fields.
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, append(extractContextFields(ctx), args...)...)
}

// ErrorContext logs an error message with context fields.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, append(extractContextFields(ctx), args...)...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if !l.slog.Enabled(ctx, level) {
		return
	}
	l.slog.Log(ctx, level, msg, args...)
}

// With creates a new logger with additional fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:     l.slog.With(args...),
		redactor: l.redactor,
		level:    l.level,
		format:   l.format,
	}
}

// WithContext creates a new logger carrying the context's log fields.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	args := extractContextFields(ctx)
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}

// redactingHandler applies the Redactor to every attribute and message
// before delegating to the wrapped handler.
type redactingHandler struct {
	inner    slog.Handler
	redactor *Redactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.redactor.RedactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactor.RedactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = h.redactor.RedactAttr(a)
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted), redactor: h.redactor}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

// parseLevel parses a log level string into slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "debug", "DEBUG":
		return slog.LevelDebug, nil
	case "info", "INFO", "":
		return slog.LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn, nil
	case "error", "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch formatStr {
	case "json", "JSON", "":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}

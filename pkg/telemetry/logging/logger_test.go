package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mercator-hq/lethe/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid JSON config", Config{Level: "info", Format: "json", RedactPII: true}, false},
		{"valid text config", Config{Level: "debug", Format: "text"}, false},
		{"defaults", Config{}, false},
		{"invalid log level", Config{Level: "invalid", Format: "json"}, true},
		{"invalid format", Config{Level: "info", Format: "console"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func newTestLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.Writer = buf
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return logger, buf
}

func TestLogger_LevelFiltering(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "warn", Format: "json"})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	for _, msg := range []string{"debug message", "info message"} {
		if strings.Contains(output, msg) {
			t.Errorf("%q should be filtered at warn level", msg)
		}
	}
	for _, msg := range []string{"warn message", "error message"} {
		if !strings.Contains(output, msg) {
			t.Errorf("%q missing from output", msg)
		}
	}
}

func TestLogger_StructuredFields(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})

	logger.Info("Record transitioned", "record_id", "rec-1", "to", "PendingDeletion")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry["record_id"] != "rec-1" || entry["to"] != "PendingDeletion" {
		t.Errorf("fields missing from entry: %v", entry)
	}
}

func TestLogger_PIIRedaction(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json", RedactPII: true})

	logger.Info("Hold placed for jane.doe@example.com",
		"justification", "subpoena for jane.doe@example.com, call 555-123-4567",
		"password", "hunter22",
		"err", errors.New("lookup 123-45-6789 failed"),
	)

	output := buf.String()
	for _, pii := range []string{"jane.doe@example.com", "555-123-4567", "hunter22", "123-45-6789"} {
		if strings.Contains(output, pii) {
			t.Errorf("PII value %q was not redacted in output: %s", pii, output)
		}
	}
	if !strings.Contains(output, "subpoena") {
		t.Errorf("non-PII text was lost: %s", output)
	}
}

func TestLogger_SlogAndWithRedact(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json", RedactPII: true})

	child := logger.Slog().With("owner_email", "owner@example.org")
	child.Info("derived logger")

	if strings.Contains(buf.String(), "owner@example.org") {
		t.Errorf("attrs added through Slog().With were not redacted: %s", buf.String())
	}
}

func TestLogger_RedactionDisabled(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "text"})

	logger.Info("plain", "email", "user@example.com")

	if !strings.Contains(buf.String(), "user@example.com") {
		t.Errorf("value redacted with RedactPII off: %s", buf.String())
	}
	if logger.Redactor() != nil {
		t.Error("Redactor() should be nil when redaction is disabled")
	}
}

func TestLogger_ContextMethods(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithJob(ctx, "daily", "run-7")
	logger.InfoContext(ctx, "Shard processed", "shard", 3)

	output := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"job":"daily"`, `"run_id":"run-7"`, `"shard":3`} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %s: %s", want, output)
		}
	}
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newTestLogger(t, Config{Level: "info", Format: "json"})

	if logger.WithContext(context.Background()) != logger {
		t.Error("WithContext() on an empty context should return the same logger")
	}

	logger.WithContext(WithActor(context.Background(), "ops@example")).Info("override")
	if !strings.Contains(buf.String(), `"actor":"ops@example"`) {
		t.Errorf("actor missing: %s", buf.String())
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LoggingConfig{Level: "warn", Format: "text", RedactPII: true}, nil)
	if cfg.Level != "warn" || cfg.Format != "text" || !cfg.RedactPII {
		t.Errorf("FromConfig() = %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	for _, in := range []string{"debug", "INFO", "", "warning", "error"} {
		if _, err := parseLevel(in); err != nil {
			t.Errorf("parseLevel(%q) failed: %v", in, err)
		}
	}
	if _, err := parseLevel("trace"); err == nil {
		t.Error("parseLevel(trace) should fail")
	}
}

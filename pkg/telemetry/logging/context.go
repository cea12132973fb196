package logging

import (
	"context"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs.
	RequestIDKey contextKey = "request_id"

	// ActorKey is the context key for the operator or job acting on records.
	ActorKey contextKey = "actor"

	// JobKey is the context key for the scheduled job name.
	JobKey contextKey = "job"

	// RunIDKey is the context key for a single job run.
	RunIDKey contextKey = "run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// WithActor adds an actor to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the actor from the context.
func GetActor(ctx context.Context) string {
	return stringValue(ctx, ActorKey)
}

// WithJob adds a job name and run ID to the context.
func WithJob(ctx context.Context, job, runID string) context.Context {
	ctx = context.WithValue(ctx, JobKey, job)
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetJob retrieves the job name and run ID from the context.
func GetJob(ctx context.Context) (job, runID string) {
	return stringValue(ctx, JobKey), stringValue(ctx, RunIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}
	if actor := GetActor(ctx); actor != "" {
		fields = append(fields, "actor", actor)
	}
	job, runID := GetJob(ctx)
	if job != "" {
		fields = append(fields, "job", job)
	}
	if runID != "" {
		fields = append(fields, "run_id", runID)
	}

	return fields
}

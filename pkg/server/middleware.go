package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

const (
	// RequestIDHeader is the HTTP header for request ID.
	RequestIDHeader = "X-Request-ID"

	// ActorHeader names the caller of an operator endpoint.
	ActorHeader = "X-Lethe-Actor"

	// TraceIDHeader echoes the trace ID of a traced request.
	TraceIDHeader = "X-Trace-ID"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader captures the status code before writing.
func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called if not already done.
func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// requestIDMiddleware propagates the client's X-Request-ID or assigns one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
	})
}

// actorMiddleware copies X-Lethe-Actor into the request context.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := r.Header.Get(ActorHeader); actor != "" {
			r = r.WithContext(logging.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// tracingMiddleware continues the caller's trace, or starts one, and opens
// a server span named after the matched route.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.Extract(r.Context(), r.Header)
		ctx, span := tracing.Start(ctx, "HTTP "+r.Method,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.IsValid() {
			w.Header().Set(TraceIDHeader, sc.TraceID().String())
		}
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName("HTTP " + r.Method + " " + rctx.RoutePattern())
			span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
		}
		span.SetAttributes(attribute.Int("http.status_code", rw.statusCode))
		if rw.statusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
		}
	})
}

// loggingMiddleware logs each request once it completes. Server errors log
// at error level and client errors at warn.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.statusCode >= 500 {
				level = slog.LevelError
			} else if rw.statusCode >= 400 {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", logging.GetRequestID(r.Context()),
				"trace_id", tracing.TraceID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// recoveryMiddleware turns a handler panic into a 500 response.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.ErrorContext(r.Context(), "Panic in handler",
						"error", err,
						"request_id", logging.GetRequestID(r.Context()),
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					writeError(w, http.StatusInternalServerError, codeInternal, "an internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

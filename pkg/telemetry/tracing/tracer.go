package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/lethe/pkg/config"
)

// instrumentationName identifies lethe's spans to the tracer provider.
const instrumentationName = "mercator-hq/lethe"

// Tracer owns the OpenTelemetry tracer provider for the process.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	enabled  bool
}

// Option configures New.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
}

// WithExporter exports spans synchronously to exp instead of dialing the
// configured OTLP endpoint.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// New creates a Tracer and installs it as the global tracer provider.
// When tracing is disabled a noop tracer is returned and the global
// provider is left alone.
//
// The tracer must be shut down to flush pending spans:
//
//	defer tracer.Shutdown(context.Background())
func New(ctx context.Context, cfg *config.TracingConfig, version string, opts ...Option) (*Tracer, error) {
	if cfg == nil {
		return nil, errors.New("tracing config is nil")
	}
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}, nil
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	sampler, err := createSampler(cfg.Sampler, cfg.SampleRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create sampler: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if o.exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithSyncer(o.exporter))
	} else {
		exporter, err := newOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer(instrumentationName),
		provider: provider,
		enabled:  true,
	}, nil
}

// newOTLPExporter creates an OTLP gRPC exporter. The connection is made
// lazily, so an unreachable collector does not fail startup.
func newOTLPExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(cfg.Timeout))
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Start creates a span from this tracer.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Start creates a span from the global tracer provider. Until New installs
// a provider the span is a noop.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span, sets its status and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceID returns the trace ID in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

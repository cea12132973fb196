// Package tracing provides OpenTelemetry tracing for lethe.
//
// Each job run, each shard it processes, each erasure of a record from a
// downstream store and each HTTP request opens a span. Spans carry the job,
// run, shard, category, record and store as attributes, so a slow sweep can
// be followed down to the store that held it up.
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: otel-collector:4317
//	    insecure: true
//	    sampler: ratio      # always, never or ratio
//	    sample_ratio: 0.25
//
// Spans are exported over OTLP gRPC. Samplers are parent-based: an incoming
// traceparent header decides for the whole request.
//
// # Usage
//
// The process creates one Tracer, which installs the global provider:
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(context.Background())
//
// Components then start spans from the global provider:
//
//	ctx, span := tracing.Start(ctx, "erasure.erase", tracing.AttrStore.String(name))
//	err := eraser.Erase(ctx, rec)
//	tracing.End(span, err)
//
// Before New is called, or with tracing disabled, spans are noops.
package tracing

package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys used across lethe.
const (
	AttrJob      = attribute.Key("lethe.job")
	AttrRunID    = attribute.Key("lethe.run_id")
	AttrShard    = attribute.Key("lethe.shard")
	AttrCategory = attribute.Key("lethe.category")
	AttrRecordID = attribute.Key("lethe.record_id")
	AttrStore    = attribute.Key("lethe.store")
	AttrAttempts = attribute.Key("lethe.attempts")
	AttrOutcome  = attribute.Key("lethe.outcome")
)

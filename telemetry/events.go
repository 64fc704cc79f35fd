package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordDeletionEvent emits a span event for a resource put on the manifest
func RecordDeletionEvent(span trace.Span, kind, id, reason string, thresholdSeconds float64, rule int) {
	if span == nil {
		return
	}

	span.AddEvent("resource.deletion.scheduled", trace.WithAttributes(
		attribute.String("event.type", "resource.deletion.scheduled"),
		attribute.String("resource.type", kind),
		attribute.String("resource.id", id),
		attribute.String("reason", reason),
		attribute.Float64("threshold.seconds", thresholdSeconds),
		attribute.Int("rule.index", rule),
	))
}

// RecordDroppedEvent emits a span event for a resource that left the scan
func RecordDroppedEvent(span trace.Span, kind, id string) {
	if span == nil {
		return
	}

	span.AddEvent("resource.tracking.dropped", trace.WithAttributes(
		attribute.String("event.type", "resource.tracking.dropped"),
		attribute.String("resource.type", kind),
		attribute.String("resource.id", id),
	))
}

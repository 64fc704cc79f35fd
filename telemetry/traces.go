package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CycleSpan represents one reconciliation cycle
type CycleSpan struct {
	span trace.Span
}

// StartCycle starts the root span of a reconciliation cycle
func StartCycle(ctx context.Context, tracer trace.Tracer, scanner string, dryRun bool) (context.Context, *CycleSpan) {
	ctx, span := tracer.Start(ctx, "reconciliation",
		trace.WithAttributes(
			attribute.String("scanner", scanner),
			attribute.Bool("dry_run", dryRun),
		),
	)
	return ctx, &CycleSpan{span: span}
}

// End ends the cycle span
func (c *CycleSpan) End() {
	c.span.End()
}

// Span returns the underlying span for events
func (c *CycleSpan) Span() trace.Span {
	return c.span
}

// SetCounts sets the cycle result attributes
func (c *CycleSpan) SetCounts(scanned, tracked, deleted, dropped int64) {
	c.span.SetAttributes(
		attribute.Int64("resources.scanned", scanned),
		attribute.Int64("resources.tracked", tracked),
		attribute.Int64("resources.deleted", deleted),
		attribute.Int64("resources.dropped", dropped),
	)
}

// StartPhase starts a child span for one phase (load, scan, reconcile, save)
func StartPhase(ctx context.Context, tracer trace.Tracer, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, phase, trace.WithAttributes(attrs...))
}

// EndPhase ends a phase span, recording err when set
func EndPhase(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err.Error(), "phase")
		span.RecordError(err)
	}
	span.End()
}

// RecordError records an error in a span
func RecordError(span trace.Span, errorMessage string, errorType string) {
	span.SetAttributes(
		attribute.String("error.message", errorMessage),
		attribute.String("error.type", errorType),
		attribute.Bool("error.occurred", true),
	)
}

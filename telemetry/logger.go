// Package telemetry carries the zerolog logger, span helpers and span
// events used across a reconciliation cycle.
package telemetry

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTELHook adds trace and span IDs to every log entry
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// Logger wraps zerolog with OTEL integration
type Logger struct {
	zerolog.Logger
}

// NewLogger creates a JSON logger writing to w with OTEL hooks
func NewLogger(service string, w io.Writer) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Logger().
		Hook(OTELHook{})

	return &Logger{Logger: logger}
}

// NewConsoleLogger creates a human readable logger on stderr for the CLI
func NewConsoleLogger(service string) *Logger {
	return NewLogger(service, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// ParseLevel maps a config level to zerolog. DEBUG=yes in the environment
// forces debug regardless of the configured level.
func ParseLevel(level string) zerolog.Level {
	if strings.EqualFold(os.Getenv("DEBUG"), "yes") {
		return zerolog.DebugLevel
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithContext returns a logger with context (for trace propagation)
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogSpanStart logs the start of a span with attributes
func (l *Logger) LogSpanStart(ctx context.Context, spanName string, attrs ...attribute.KeyValue) {
	logger := l.WithContext(ctx)

	event := logger.Debug().Str("span_name", spanName)
	for _, attr := range attrs {
		event = addAttributeToEvent(event, attr)
	}
	event.Msg("span started")
}

// LogSpanEnd logs the end of a span with results
func (l *Logger) LogSpanEnd(ctx context.Context, spanName string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("span_name", spanName).
			Msg("span failed")
	} else {
		logger.Debug().
			Str("span_name", spanName).
			Msg("span completed")
	}
}

func addAttributeToEvent(event *zerolog.Event, attr attribute.KeyValue) *zerolog.Event {
	key := string(attr.Key)

	switch attr.Value.Type() {
	case attribute.STRING:
		return event.Str(key, attr.Value.AsString())
	case attribute.INT64:
		return event.Int64(key, attr.Value.AsInt64())
	case attribute.FLOAT64:
		return event.Float64(key, attr.Value.AsFloat64())
	case attribute.BOOL:
		return event.Bool(key, attr.Value.AsBool())
	default:
		return event.Str(key, attr.Value.Emit())
	}
}

// Convenience methods for reconciliation

func (l *Logger) LogDecision(ctx context.Context, key, outcome, reason string, threshold float64, rule int, deleted bool) {
	logger := l.WithContext(ctx)
	level := zerolog.DebugLevel
	if deleted {
		level = zerolog.InfoLevel
	}
	event := logger.WithLevel(level)
	event.
		Str("resource", key).
		Str("outcome", outcome).
		Str("reason", reason).
		Float64("threshold_seconds", threshold).
		Int("rule", rule).
		Bool("delete", deleted).
		Msg("resource evaluated")
}

func (l *Logger) LogDryRun(ctx context.Context, state, manifest string, queued int) {
	l.WithContext(ctx).Info().
		Str("state", state).
		Str("manifest", manifest).
		Int("queued", queued).
		Msg("dry run: not writing state or manifest")
}

func (l *Logger) LogCycleComplete(ctx context.Context, scanned, tracked, deleted, dropped int, durationMs float64) {
	l.WithContext(ctx).Info().
		Int("scanned", scanned).
		Int("tracked", tracked).
		Int("deleted", deleted).
		Int("dropped", dropped).
		Float64("duration_ms", durationMs).
		Msg("reconciliation completed")
}

func (l *Logger) LogStorageError(ctx context.Context, operation, location string, err error) {
	l.WithContext(ctx).Error().
		Err(err).
		Str("operation", operation).
		Str("location", location).
		Msg("storage operation failed")
}

// Package telemetry provides OpenTelemetry instrumentation for sweepr.
package telemetry

import (
	"context"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweepr/internal/config"
)

// Run outcomes reported in the status attribute.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	registry    *promclient.Registry
	pushgateway string
	job         string

	// Metrics
	runs        metric.Int64Counter
	scanned     metric.Int64Gauge
	deleted     metric.Int64Gauge
	tracked     metric.Int64Gauge
	runDuration metric.Float64Histogram
}

// NewProvider creates a new telemetry provider. Extra readers receive the
// run metrics alongside the configured exporters.
func NewProvider(ctx context.Context, cfg config.OTELConfig, readers ...sdkmetric.Reader) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{
		registry:    promclient.NewRegistry(),
		pushgateway: cfg.Pushgateway,
		job:         cfg.ServiceName,
	}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, readers); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("sweepr")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, readers []sdkmetric.Reader) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	// The Prometheus reader feeds the pushgateway; it is collected on Push.
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	opts = append(opts, sdkmetric.WithReader(promExporter))

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("sweepr")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.runs, err = p.meter.Int64Counter(
		"sweepr_runs",
		metric.WithDescription("Reconciliation runs by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create runs: %w", err)
	}

	p.scanned, err = p.meter.Int64Gauge(
		"sweepr_resources_scanned",
		metric.WithDescription("Resources in the latest scan"),
	)
	if err != nil {
		return fmt.Errorf("create resources_scanned: %w", err)
	}

	p.deleted, err = p.meter.Int64Gauge(
		"sweepr_resources_deleted",
		metric.WithDescription("Resources in the latest deletion manifest"),
	)
	if err != nil {
		return fmt.Errorf("create resources_deleted: %w", err)
	}

	p.tracked, err = p.meter.Int64Gauge(
		"sweepr_resources_tracked",
		metric.WithDescription("Resources carried in the new state"),
	)
	if err != nil {
		return fmt.Errorf("create resources_tracked: %w", err)
	}

	p.runDuration, err = p.meter.Float64Histogram(
		"sweepr_run_duration",
		metric.WithDescription("Duration of reconciliation runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Registry returns the Prometheus registry the run metrics are exported to.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// RunStats summarises one reconciliation run.
type RunStats struct {
	Status   string
	DryRun   bool
	Scanned  int
	Tracked  int
	Deleted  int
	Duration time.Duration
}

// RecordRun records the outcome of a reconciliation run.
func (p *Provider) RecordRun(ctx context.Context, stats RunStats) {
	attrs := metric.WithAttributes(attribute.Bool("dry_run", stats.DryRun))

	p.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", stats.Status),
		attribute.Bool("dry_run", stats.DryRun),
	))
	p.runDuration.Record(ctx, stats.Duration.Seconds(), attrs)
	if stats.Status != StatusSuccess {
		return
	}
	p.scanned.Record(ctx, int64(stats.Scanned), attrs)
	p.tracked.Record(ctx, int64(stats.Tracked), attrs)
	p.deleted.Record(ctx, int64(stats.Deleted), attrs)
}

// Push sends the current run metrics to the configured pushgateway. It is
// a no-op when no pushgateway is configured.
func (p *Provider) Push(ctx context.Context) error {
	if p.pushgateway == "" {
		return nil
	}
	err := push.New(p.pushgateway, p.job).
		Gatherer(p.registry).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.pushgateway, err)
	}
	return nil
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}

// Package orchestrator runs one reconciliation cycle: load the tracked
// state, scan, reconcile, then persist the new state and deletion manifest.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/sweepr/internal/filter"
	"github.com/yairfalse/sweepr/internal/scan"
	internaltelemetry "github.com/yairfalse/sweepr/internal/telemetry"
	"github.com/yairfalse/sweepr/pkg/resource"
	"github.com/yairfalse/sweepr/reconciler"
	"github.com/yairfalse/sweepr/storage"
	"github.com/yairfalse/sweepr/telemetry"
)

// Orchestrator coordinates load → scan → reconcile → save
type Orchestrator struct {
	store    storage.DocumentStore
	scanner  scan.Scanner
	engine   *reconciler.Engine
	state    string
	manifest string

	dryRun       bool
	allowMissing bool
	out          io.Writer
	filter       *filter.Filter
	history      HistoryRecorder
	metrics      MetricsRecorder
	tracer       trace.Tracer
	logger       *telemetry.Logger
}

// NewOrchestrator creates an orchestrator tracking state at the given
// location.
func NewOrchestrator(store storage.DocumentStore, scanner scan.Scanner, engine *reconciler.Engine, state string) *Orchestrator {
	return &Orchestrator{
		store:   store,
		scanner: scanner,
		engine:  engine,
		state:   state,
		out:     io.Discard,
		tracer:  otel.Tracer("github.com/yairfalse/sweepr/orchestrator"),
		logger:  telemetry.NewConsoleLogger("orchestrator"),
	}
}

// WithManifest sets where the deletion manifest is written
func (o *Orchestrator) WithManifest(location string) *Orchestrator {
	o.manifest = location
	return o
}

// WithDryRun suppresses every write while still echoing the manifest
func (o *Orchestrator) WithDryRun(dryRun bool) *Orchestrator {
	o.dryRun = dryRun
	return o
}

// WithAllowMissingState treats a missing state document as empty
func (o *Orchestrator) WithAllowMissingState(allow bool) *Orchestrator {
	o.allowMissing = allow
	return o
}

// WithOutput sets where the manifest is echoed
func (o *Orchestrator) WithOutput(w io.Writer) *Orchestrator {
	o.out = w
	return o
}

// WithFilter narrows the scan before reconciliation
func (o *Orchestrator) WithFilter(f *filter.Filter) *Orchestrator {
	o.filter = f
	return o
}

// WithHistory records every non dry-run cycle
func (o *Orchestrator) WithHistory(h HistoryRecorder) *Orchestrator {
	o.history = h
	return o
}

// WithMetrics sets the run metrics sink
func (o *Orchestrator) WithMetrics(m MetricsRecorder) *Orchestrator {
	o.metrics = m
	return o
}

// WithTracer sets the tracer
func (o *Orchestrator) WithTracer(t trace.Tracer) *Orchestrator {
	o.tracer = t
	return o
}

// WithLogger sets the logger
func (o *Orchestrator) WithLogger(l *telemetry.Logger) *Orchestrator {
	o.logger = l
	return o
}

// RunCycle runs one reconciliation cycle. Nothing is written unless the
// state load, the scan and the encoding of both documents succeed.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	result := &CycleResult{
		StartTime: time.Now(),
		DryRun:    o.dryRun,
	}

	ctx, cycle := telemetry.StartCycle(ctx, o.tracer, o.scanner.Name(), o.dryRun)
	defer cycle.End()

	policy := o.engine.Policy()
	rules := make([]string, 0, len(policy.Rules()))
	for _, r := range policy.Rules() {
		rules = append(rules, r.String())
	}
	o.logger.WithContext(ctx).Info().
		Str("state", o.state).
		Str("scanner", o.scanner.Name()).
		Bool("dry_run", o.dryRun).
		Dur("threshold", policy.Default()).
		Strs("rules", rules).
		Msg("starting reconciliation cycle")

	err := o.runCycle(ctx, result)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		telemetry.RecordError(cycle.Span(), err.Error(), "cycle")
	}
	result.Success = err == nil
	cycle.SetCounts(int64(result.ResourcesScanned), int64(result.ResourcesTracked),
		int64(result.ResourcesDeleted), int64(result.ResourcesDropped))

	return o.finishCycle(ctx, result), err
}

func (o *Orchestrator) runCycle(ctx context.Context, result *CycleResult) error {
	previous, err := o.loadState(ctx)
	if err != nil {
		return err
	}

	scanned, err := o.scanResources(ctx)
	if err != nil {
		return err
	}
	result.ResourcesScanned = len(scanned)

	if o.filter != nil {
		kept := o.filter.FilterResources(scanned)
		result.ResourcesFiltered = len(scanned) - len(kept)
		scanned = kept
	}

	reconcileCtx, span := o.startPhase(ctx, "reconcile",
		attribute.Int("resources.previous", len(previous)),
		attribute.Int("resources.scanned", len(scanned)),
	)
	rec := o.engine.Reconcile(previous, scanned)
	o.logDecisions(reconcileCtx, span, rec)
	o.endPhase(reconcileCtx, span, "reconcile", nil)

	manifest := rec.Manifest()
	result.Decisions = rec.Decisions
	result.Manifest = manifest
	result.ResourcesTracked = len(rec.State)
	result.ResourcesDeleted = len(rec.Deletions)
	result.ResourcesDropped = len(rec.Dropped)

	state := rec.State
	if state == nil {
		state = []resource.Resource{}
	}
	stateDoc, err := resource.Encode(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	manifestDoc, err := resource.Encode(manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	if o.dryRun {
		o.logger.LogDryRun(ctx, o.state, o.manifest, manifest.Len())
	} else if err := o.save(ctx, stateDoc, manifestDoc); err != nil {
		return err
	}

	if _, err := o.out.Write(manifestDoc); err != nil {
		return fmt.Errorf("write manifest output: %w", err)
	}

	if !o.dryRun {
		o.recordHistory(ctx, result)
	}
	return nil
}

func (o *Orchestrator) loadState(ctx context.Context) ([]resource.Resource, error) {
	ctx, span := o.startPhase(ctx, "load", attribute.String("location", o.state))
	previous, err := storage.LoadResources(ctx, o.store, o.state)
	if errors.Is(err, storage.ErrNotFound) && o.allowMissing {
		o.logger.WithContext(ctx).Warn().
			Str("state", o.state).
			Msg("state not found, starting from empty state")
		previous, err = nil, nil
	}
	o.endPhase(ctx, span, "load", err)
	if err != nil {
		o.logger.LogStorageError(ctx, "load", o.state, err)
		return nil, fmt.Errorf("load state: %w", err)
	}
	return previous, nil
}

func (o *Orchestrator) scanResources(ctx context.Context) ([]resource.Resource, error) {
	ctx, span := o.startPhase(ctx, "scan", attribute.String("scanner", o.scanner.Name()))
	resources, err := o.scanner.Scan(ctx)
	o.endPhase(ctx, span, "scan", err)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	o.logger.WithContext(ctx).Debug().
		Int("count", len(resources)).
		Msg("scan completed")
	return resources, nil
}

// save writes the state first so a failed manifest write never leaves a
// manifest that disagrees with the persisted state.
func (o *Orchestrator) save(ctx context.Context, stateDoc, manifestDoc []byte) error {
	ctx, span := o.startPhase(ctx, "save",
		attribute.String("state", o.state),
		attribute.String("manifest", o.manifest),
	)
	err := o.store.Write(ctx, o.state, stateDoc)
	if err != nil {
		o.endPhase(ctx, span, "save", err)
		o.logger.LogStorageError(ctx, "save", o.state, err)
		return fmt.Errorf("save state: %w", err)
	}

	if o.manifest != "" {
		if err := o.store.Write(ctx, o.manifest, manifestDoc); err != nil {
			o.endPhase(ctx, span, "save", err)
			o.logger.LogStorageError(ctx, "save", o.manifest, err)
			return fmt.Errorf("save manifest: %w", err)
		}
	}
	o.endPhase(ctx, span, "save", nil)
	return nil
}

// startPhase opens a child span and logs its start.
func (o *Orchestrator) startPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := telemetry.StartPhase(ctx, o.tracer, phase, attrs...)
	o.logger.LogSpanStart(ctx, phase, attrs...)
	return ctx, span
}

func (o *Orchestrator) endPhase(ctx context.Context, span trace.Span, phase string, err error) {
	o.logger.LogSpanEnd(ctx, phase, err)
	telemetry.EndPhase(span, err)
}

func (o *Orchestrator) logDecisions(ctx context.Context, span trace.Span, rec *reconciler.Result) {
	for _, d := range rec.Decisions {
		o.logger.LogDecision(ctx, d.Key.String(), string(d.Outcome), d.Explain(), d.Threshold.Seconds(), d.Rule, d.Delete())
		if d.Delete() {
			telemetry.RecordDeletionEvent(span, d.Key.Kind, d.Key.ID, string(d.Outcome), d.Threshold.Seconds(), d.Rule)
		}
	}
	for _, key := range rec.Dropped {
		o.logger.WithContext(ctx).Debug().
			Str("resource", key.String()).
			Msg("resource no longer scanned, dropped from state")
		telemetry.RecordDroppedEvent(span, key.Kind, key.ID)
	}
}

func (o *Orchestrator) recordHistory(ctx context.Context, result *CycleResult) {
	if o.history == nil {
		return
	}
	err := o.history.Record(storage.RunRecord{
		Time:     result.StartTime,
		Scanned:  result.ResourcesScanned,
		Tracked:  result.ResourcesTracked,
		Deleted:  result.ResourcesDeleted,
		Dropped:  result.ResourcesDropped,
		Manifest: storage.ManifestRecord(result.Manifest),
	})
	if err != nil {
		// State and manifest are already written; the run still succeeds.
		result.Errors = append(result.Errors, fmt.Sprintf("record history: %v", err))
		o.logger.WithContext(ctx).Warn().Err(err).Msg("failed to record run history")
	}
}

func (o *Orchestrator) finishCycle(ctx context.Context, result *CycleResult) *CycleResult {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	if o.metrics != nil {
		status := internaltelemetry.StatusSuccess
		if !result.Success {
			status = internaltelemetry.StatusFailure
		}
		o.metrics.RecordRun(ctx, internaltelemetry.RunStats{
			Status:   status,
			DryRun:   result.DryRun,
			Scanned:  result.ResourcesScanned,
			Tracked:  result.ResourcesTracked,
			Deleted:  result.ResourcesDeleted,
			Duration: result.Duration,
		})
	}

	if result.Success {
		o.logger.LogCycleComplete(ctx, result.ResourcesScanned, result.ResourcesTracked,
			result.ResourcesDeleted, result.ResourcesDropped, float64(result.Duration.Microseconds())/1000)
	}

	return result
}

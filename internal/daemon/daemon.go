// Package daemon repeats reconciliation cycles on a fixed interval and
// serves health and metrics endpoints while doing so.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/sweepr/orchestrator"
	"github.com/yairfalse/sweepr/telemetry"
)

// Cycler runs one reconciliation cycle
type Cycler interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleResult, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
}

// Daemon manages continuous reconciliation
type Daemon struct {
	interval  time.Duration
	cycler    Cycler
	startTime time.Time
	logger    *telemetry.Logger

	cycleCount   atomic.Int64
	failureCount atomic.Int64

	mu      sync.RWMutex
	lastErr error
	lastRun time.Time
}

// NewDaemon creates a new daemon instance
func NewDaemon(config Config, cycler Cycler) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, errors.New("daemon: interval must be positive")
	}
	if cycler == nil {
		return nil, errors.New("daemon: cycler required")
	}
	return &Daemon{
		interval:  config.Interval,
		cycler:    cycler,
		startTime: time.Now(),
		logger:    telemetry.NewConsoleLogger("daemon"),
	}, nil
}

// WithLogger sets the logger
func (d *Daemon) WithLogger(l *telemetry.Logger) *Daemon {
	d.logger = l
	return d
}

// Start runs a cycle immediately, then every interval until ctx is done.
// A failed cycle is logged and retried on the next tick.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.WithContext(ctx).Info().Dur("interval", d.interval).Msg("starting reconciliation loop")
	d.runReconciliation(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.WithContext(ctx).Info().Int64("cycles", d.cycleCount.Load()).Msg("reconciliation loop stopped")
			return nil
		case <-ticker.C:
			d.runReconciliation(ctx)
		}
	}
}

func (d *Daemon) runReconciliation(ctx context.Context) {
	d.cycleCount.Add(1)
	_, err := d.cycler.RunCycle(ctx)
	if err != nil {
		d.failureCount.Add(1)
		d.logger.WithContext(ctx).Error().
			Err(err).
			Int64("failures", d.failureCount.Load()).
			Msg("reconciliation cycle failed")
	}

	d.mu.Lock()
	d.lastErr = err
	d.lastRun = time.Now()
	d.mu.Unlock()
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime_seconds"`
	Cycles    int64     `json:"cycles"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Health returns daemon health status. The daemon is degraded while the
// most recent cycle failed.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := HealthStatus{
		Status:   "healthy",
		Uptime:   int64(time.Since(d.startTime).Seconds()),
		Cycles:   d.cycleCount.Load(),
		Failures: d.failureCount.Load(),
		LastRun:  d.lastRun,
	}
	if d.lastErr != nil {
		status.Status = "degraded"
		status.LastError = d.lastErr.Error()
	}
	return status
}

// Handler serves /healthz and, when gatherer is set, /metrics.
func (d *Daemon) Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", d.handleHealthz)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	health := d.Health()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(health.LastError))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

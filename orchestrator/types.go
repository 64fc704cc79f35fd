package orchestrator

import (
	"context"
	"time"

	"github.com/yairfalse/sweepr/internal/telemetry"
	"github.com/yairfalse/sweepr/pkg/resource"
	"github.com/yairfalse/sweepr/reconciler"
	"github.com/yairfalse/sweepr/storage"
)

// CycleResult contains the results of a reconciliation cycle
type CycleResult struct {
	StartTime         time.Time             `json:"start_time"`
	EndTime           time.Time             `json:"end_time"`
	Duration          time.Duration         `json:"duration"`
	DryRun            bool                  `json:"dry_run"`
	ResourcesScanned  int                   `json:"resources_scanned"`
	ResourcesFiltered int                   `json:"resources_filtered"`
	ResourcesTracked  int                   `json:"resources_tracked"`
	ResourcesDeleted  int                   `json:"resources_deleted"`
	ResourcesDropped  int                   `json:"resources_dropped"`
	Decisions         []reconciler.Decision `json:"decisions,omitempty"`
	Manifest          *resource.Manifest    `json:"-"`
	Errors            []string              `json:"errors,omitempty"`
	Success           bool                  `json:"success"`
}

// HistoryRecorder persists a summary of each completed run
type HistoryRecorder interface {
	Record(rec storage.RunRecord) error
}

// MetricsRecorder receives run metrics
type MetricsRecorder interface {
	RecordRun(ctx context.Context, stats telemetry.RunStats)
}

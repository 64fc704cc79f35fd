// Package reconciler decides which tracked resources are old enough to be
// queued for deletion.
package reconciler

import (
	"fmt"
	"time"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// Outcome is the result of evaluating one scanned resource.
type Outcome string

const (
	// OutcomeKeep means the resource stays tracked and is not queued.
	OutcomeKeep Outcome = "keep"
	// OutcomeExpired means the resource was observed past its threshold.
	OutcomeExpired Outcome = "expired"
	// OutcomeCreatedAt means the reported creation time is past the deadline.
	OutcomeCreatedAt Outcome = "created_at"
)

// Clock supplies the current time.
type Clock func() time.Time

// Decision explains the outcome for one scanned resource.
type Decision struct {
	Key     resource.Key `json:"key"`
	Outcome Outcome      `json:"outcome"`
	// FirstSeen is in seconds since epoch, zero for created_at outcomes.
	FirstSeen float64 `json:"first_seen"`
	// New is set on the first observation of the resource.
	New       bool          `json:"new"`
	CreatedAt *time.Time    `json:"created_at,omitempty"`
	Threshold time.Duration `json:"threshold"`
	// Deadline is now minus Threshold, in seconds since epoch.
	Deadline float64 `json:"deadline"`
	// Rule is the index of the deciding rule, -1 for the default.
	Rule int `json:"rule"`
}

// Delete reports whether the resource is queued for deletion.
func (d Decision) Delete() bool {
	return d.Outcome != OutcomeKeep
}

// Explain renders a one-line human readable reason.
func (d Decision) Explain() string {
	source := "default threshold"
	if d.Rule >= 0 {
		source = fmt.Sprintf("rule #%d", d.Rule)
	}
	switch d.Outcome {
	case OutcomeCreatedAt:
		return fmt.Sprintf("created %s, older than %s (%s)",
			d.CreatedAt.UTC().Format(time.RFC3339), d.Threshold, source)
	case OutcomeExpired:
		return fmt.Sprintf("first seen %s, past %s (%s)",
			formatEpoch(d.FirstSeen), d.Threshold, source)
	}
	if d.New {
		return fmt.Sprintf("first observation, threshold %s (%s)", d.Threshold, source)
	}
	return fmt.Sprintf("first seen %s, within %s (%s)", formatEpoch(d.FirstSeen), d.Threshold, source)
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	// State is the new tracked state, every entry stamped with __seen__.
	State []resource.Resource
	// Deletions are the resources queued for deletion, in scan order.
	Deletions []resource.Resource
	// Decisions holds one entry per scanned resource, in scan order.
	Decisions []Decision
	// Dropped lists previously tracked keys absent from the scan.
	Dropped []resource.Key
}

// Manifest projects the deletions into the kind-grouped manifest.
func (r *Result) Manifest() *resource.Manifest {
	return BuildManifest(r.Deletions)
}

// BuildManifest groups deletions by kind keeping first-occurrence order.
func BuildManifest(deletions []resource.Resource) *resource.Manifest {
	return resource.NewManifest(deletions)
}

func formatEpoch(seconds float64) string {
	sec := int64(seconds)
	nsec := int64((seconds - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

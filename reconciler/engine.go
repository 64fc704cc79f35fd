package reconciler

import (
	"time"

	"github.com/yairfalse/sweepr/pkg/resource"
)

// Engine merges the previous tracked state with a fresh scan. It holds no
// state between calls.
type Engine struct {
	policy *AgePolicy
	now    Clock
}

// NewEngine creates an engine using the wall clock.
func NewEngine(policy *AgePolicy) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Engine{policy: policy, now: time.Now}
}

// WithClock replaces the time source.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.now = clock
	return e
}

// Policy returns the policy in use.
func (e *Engine) Policy() *AgePolicy {
	return e.policy
}

// Reconcile evaluates every scanned resource in order:
//
//   - a reported creation time older than now minus the effective threshold
//     queues the resource and leaves it out of the new state;
//   - otherwise the first-seen time is carried over from previous, or set
//     to now for new resources;
//   - a first-seen time older than the deadline, or a threshold <= 0,
//     queues the resource, which is still kept in the new state.
//
// Previously tracked resources missing from the scan are dropped.
func (e *Engine) Reconcile(previous, scan []resource.Resource) *Result {
	now := epochSeconds(e.now())
	index := newSeenIndex(previous)

	result := &Result{
		Decisions: make([]Decision, 0, len(scan)),
	}
	positions := make(map[resource.Key]int, len(scan))

	for _, scanned := range scan {
		r := scanned.Clone()
		key := r.Key()
		entry := index.touch(key)

		threshold, rule := e.policy.Resolve(r)
		d := Decision{
			Key:       key,
			Outcome:   OutcomeKeep,
			Threshold: threshold,
			Deadline:  now - threshold.Seconds(),
			Rule:      rule,
		}

		if created, ok := r.CreatedAt(); ok {
			d.CreatedAt = &created
			if epochSeconds(created) < d.Deadline {
				d.Outcome = OutcomeCreatedAt
				result.Deletions = append(result.Deletions, r)
				result.Decisions = append(result.Decisions, d)
				continue
			}
		}

		if entry != nil {
			d.FirstSeen = entry.seen
		} else {
			d.FirstSeen = now
			d.New = true
		}
		r.SetFirstSeen(d.FirstSeen)

		if threshold <= 0 || d.FirstSeen < d.Deadline {
			d.Outcome = OutcomeExpired
			result.Deletions = append(result.Deletions, r)
		}
		result.Decisions = append(result.Decisions, d)

		if pos, ok := positions[key]; ok {
			result.State[pos] = r
			continue
		}
		positions[key] = len(result.State)
		result.State = append(result.State, r)
	}

	result.Dropped = index.unmatched()
	return result
}

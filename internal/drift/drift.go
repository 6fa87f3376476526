// Package drift decides when accumulated external change warrants
// recomputing the plan.
package drift

import (
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

// DefaultThreshold is the change count at which drift becomes significant.
// Configuration, not law.
const DefaultThreshold = 3

// Input carries everything the scorer needs. Pure value; the scorer holds
// no state.
type Input struct {
	Changes   core.ChangeSet
	Previous  *core.Snapshot // baseline the plan was computed against
	Current   *core.Snapshot
	Threshold int
	Elapsed   time.Duration // since the last optimize
}

// Score reduces a change set into a re-optimization recommendation.
// Change is significant when the count reaches the threshold, or when any
// deleted or modified external event collides with a slot an
// engine-generated event already occupies: either way the prior plan no
// longer reflects reality.
func Score(in Input) core.DriftScore {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	score := core.DriftScore{
		ChangedCount:         in.Changes.Total(),
		ElapsedSinceOptimize: in.Elapsed,
	}

	if score.ChangedCount >= threshold {
		score.SignificantChange = true
		return score
	}

	if invalidatesPlan(in) {
		score.SignificantChange = true
	}

	return score
}

// invalidatesPlan reports whether any deleted or modified event overlaps
// an engine-generated event's interval. Modified events are checked at
// both their old and new positions: moving a meeting onto a breathing
// break invalidates the plan just as much as deleting the meeting the
// break was scheduled around.
func invalidatesPlan(in Input) bool {
	var engine []core.CalendarEvent
	if in.Previous != nil {
		engine = in.Previous.EngineEvents()
	}
	if len(engine) == 0 && in.Current != nil {
		engine = in.Current.EngineEvents()
	}
	if len(engine) == 0 {
		return false
	}

	overlapsEngine := func(e core.CalendarEvent) bool {
		for _, g := range engine {
			if e.Overlaps(g.Start, g.End) {
				return true
			}
		}
		return false
	}

	if in.Previous != nil {
		for _, id := range in.Changes.Deleted {
			if e, ok := in.Previous.Events[id]; ok && overlapsEngine(e) {
				return true
			}
		}
	}

	for _, id := range in.Changes.Modified {
		if in.Previous != nil {
			if e, ok := in.Previous.Events[id]; ok && overlapsEngine(e) {
				return true
			}
		}
		if in.Current != nil {
			if e, ok := in.Current.Events[id]; ok && overlapsEngine(e) {
				return true
			}
		}
	}

	return false
}

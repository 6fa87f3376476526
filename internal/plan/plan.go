// Package plan converts gaps and intensity into a conflict-free,
// idempotent set of proposed restorative events.
package plan

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/logging"
	"github.com/quantumlife/cadence/internal/provider"
)

// Target durations per category. A candidate never exceeds its target and
// never shrinks below the category minimum.
var targetDuration = map[core.EventCategory]time.Duration{
	core.CategoryBreathing: 10 * time.Minute,
	core.CategoryWorkout:   30 * time.Minute,
	core.CategoryMeal:      45 * time.Minute,
}

var candidateTitle = map[core.EventCategory]string{
	core.CategoryBreathing: "Breathing break",
	core.CategoryWorkout:   "Movement break",
	core.CategoryMeal:      "Meal break",
}

// Options tune plan generation. Windows are concrete intervals already
// materialized onto the analysis day.
type Options struct {
	MealWindows  []core.Interval
	BufferBefore time.Duration // shrink from gap start
	BufferAfter  time.Duration // shrink from gap end
	Tolerance    time.Duration // idempotence match tolerance
}

// DefaultOptions returns the stock buffer and tolerance.
func DefaultOptions() Options {
	return Options{
		BufferBefore: 2 * time.Minute,
		BufferAfter:  2 * time.Minute,
		Tolerance:    time.Minute,
	}
}

// Build assigns at most one candidate per gap, preferring a meal in a
// configured meal window, then a movement break in an energy peak when the
// day is not low intensity, then a breathing break when the day is high
// intensity. Candidates matching an already-existing engine-generated
// event (same category, interval within tolerance) are dropped, which is
// what makes repeated optimization runs idempotent. Candidates never
// overlap: each occupies a distinct gap.
func Build(gaps []core.Gap, intensity core.ScheduleIntensity, opts Options, existing []core.CalendarEvent) core.OptimizationPlan {
	p := core.OptimizationPlan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = time.Minute
	}

	for _, gap := range gaps {
		category, reason := pick(gap, intensity, opts.MealWindows)
		if category == "" {
			continue
		}

		cand, ok := place(gap, category, opts)
		if !ok {
			continue
		}
		cand.Reason = reason

		if alreadyScheduled(cand, existing, tolerance) || conflictsWithExisting(cand, existing) {
			continue
		}

		p.Candidates = append(p.Candidates, cand)
	}

	return p
}

// pick chooses a category for the gap, or "" to leave it untouched.
func pick(gap core.Gap, intensity core.ScheduleIntensity, mealWindows []core.Interval) (core.EventCategory, string) {
	for _, w := range mealWindows {
		if gap.Interval().Overlaps(w) {
			return core.CategoryMeal, "free time in a meal window - reserved an unhurried meal"
		}
	}
	if gap.OverlapsEnergyPeak && intensity.Level != core.IntensityLow {
		return core.CategoryWorkout, "free time during an energy peak - scheduled movement"
	}
	if intensity.Level == core.IntensityHigh {
		return core.CategoryBreathing, "high-intensity day - inserted a recovery breathing break"
	}
	return "", ""
}

// place fits a candidate into the gap, buffered away from both
// boundaries so it never abuts an adjacent busy event exactly.
func place(gap core.Gap, category core.EventCategory, opts Options) (core.CandidateEvent, bool) {
	start := gap.Start.Add(opts.BufferBefore)
	end := gap.End.Add(-opts.BufferAfter)

	min := category.MinimumDuration()
	if end.Sub(start) < min {
		return core.CandidateEvent{}, false
	}

	if target := targetDuration[category]; end.Sub(start) > target {
		end = start.Add(target)
	}

	return core.CandidateEvent{
		ID:       uuid.NewString(),
		Category: category,
		Title:    candidateTitle[category],
		Start:    start,
		End:      end,
	}, true
}

// alreadyScheduled reports whether an engine-generated event of the same
// category already occupies the candidate's interval within tolerance.
func alreadyScheduled(cand core.CandidateEvent, existing []core.CalendarEvent, tolerance time.Duration) bool {
	for _, e := range existing {
		if e.Source != core.SourceEngine || e.Category != cand.Category {
			continue
		}
		if absDuration(e.Start.Sub(cand.Start)) <= tolerance && absDuration(e.End.Sub(cand.End)) <= tolerance {
			return true
		}
	}
	return false
}

// conflictsWithExisting rejects candidates colliding with any existing
// engine-generated event, whatever its category. Planning treats engine
// events as free time so their gaps stay stable; this is the guard that
// keeps two of ours from sharing a slot.
func conflictsWithExisting(cand core.CandidateEvent, existing []core.CalendarEvent) bool {
	for _, e := range existing {
		if e.Source != core.SourceEngine {
			continue
		}
		if cand.Start.Before(e.End) && e.Start.Before(cand.End) {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Apply submits the plan's candidates to the provider. Partial failure is
// reported in the result, never rolled back; a later run re-attempts only
// the still-missing candidates because Build drops what already exists.
func Apply(ctx context.Context, p provider.CalendarProvider, optPlan core.OptimizationPlan) (core.ApplyResult, error) {
	if optPlan.Empty() {
		return core.ApplyResult{}, nil
	}

	log := logging.WithField("plan", optPlan.ID)
	result, err := p.CreateEvents(ctx, optPlan.Candidates)
	if err != nil {
		return result, err
	}

	log.Info("applied plan: %d created, %d failed", len(result.Created), len(result.Failed))
	return result, nil
}

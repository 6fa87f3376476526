// Package analyze converts a busy timeline into gaps and a schedule
// intensity classification.
package analyze

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

// Intensity ratio breakpoints. Below Low is low, below High is medium,
// else high.
const (
	RatioLow  = 0.35
	RatioHigh = 0.65
)

// MergeIntervals sorts busy intervals by start and merges overlapping or
// adjacent ones. The input slice is not modified. Panics on an inverted
// interval: malformed input is a contract violation, not data.
func MergeIntervals(intervals []core.Interval) []core.Interval {
	if len(intervals) == 0 {
		return nil
	}

	sorted := append([]core.Interval(nil), intervals...)
	for _, iv := range sorted {
		if err := iv.Validate(); err != nil {
			panic(fmt.Sprintf("analyze: %v", err))
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []core.Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged
}

// Subtract removes the holes from the busy timeline. Both inputs may be
// unsorted; the result is merged and ordered.
func Subtract(busy, holes []core.Interval) []core.Interval {
	if len(holes) == 0 {
		return MergeIntervals(busy)
	}

	mergedHoles := MergeIntervals(holes)
	var out []core.Interval
	for _, iv := range MergeIntervals(busy) {
		cur := iv
		for _, h := range mergedHoles {
			if !cur.Overlaps(h) {
				continue
			}
			if h.Start.After(cur.Start) {
				out = append(out, core.Interval{Start: cur.Start, End: h.Start})
			}
			if h.End.Before(cur.End) {
				cur = core.Interval{Start: h.End, End: cur.End}
				continue
			}
			cur = core.Interval{}
			break
		}
		if cur.End.After(cur.Start) {
			out = append(out, cur)
		}
	}
	return out
}

// Analyze computes the schedule intensity of the window and the ordered
// free gaps within it. Busy intervals are clipped to the window and
// merged before complementing. Gaps shorter than minGap are discarded;
// pass zero to keep every gap. A gap overlaps an energy peak when it
// intersects any energy window by at least one minute.
//
// Panics on an inverted window (fail fast on contract violation). A
// zero-width window yields ratio 0 and level low rather than dividing
// by zero.
func Analyze(window core.Interval, busy []core.Interval, energyWindows []core.Interval, minGap time.Duration) (core.ScheduleIntensity, []core.Gap) {
	if err := window.Validate(); err != nil {
		panic(fmt.Sprintf("analyze: %v", err))
	}

	totalMinutes := window.Minutes()
	if totalMinutes == 0 {
		return core.ScheduleIntensity{Level: core.IntensityLow}, nil
	}

	merged := MergeIntervals(clip(busy, window))

	busyMinutes := 0
	for _, iv := range merged {
		busyMinutes += iv.Minutes()
	}

	ratio := float64(busyMinutes) / float64(totalMinutes)
	intensity := core.ScheduleIntensity{
		BusyMinutes:  busyMinutes,
		TotalMinutes: totalMinutes,
		Ratio:        ratio,
		Level:        levelFor(ratio),
	}

	return intensity, gaps(window, merged, energyWindows, minGap)
}

func levelFor(ratio float64) core.IntensityLevel {
	switch {
	case ratio < RatioLow:
		return core.IntensityLow
	case ratio < RatioHigh:
		return core.IntensityMedium
	default:
		return core.IntensityHigh
	}
}

// clip restricts intervals to the window, dropping those fully outside.
func clip(intervals []core.Interval, window core.Interval) []core.Interval {
	var out []core.Interval
	for _, iv := range intervals {
		if err := iv.Validate(); err != nil {
			panic(fmt.Sprintf("analyze: %v", err))
		}
		if !iv.Overlaps(window) {
			continue
		}
		clipped := iv
		if clipped.Start.Before(window.Start) {
			clipped.Start = window.Start
		}
		if clipped.End.After(window.End) {
			clipped.End = window.End
		}
		out = append(out, clipped)
	}
	return out
}

// gaps complements the merged busy intervals within the window.
func gaps(window core.Interval, merged []core.Interval, energyWindows []core.Interval, minGap time.Duration) []core.Gap {
	var out []core.Gap

	emit := func(start, end time.Time) {
		if end.Sub(start) < minGap || !end.After(start) {
			return
		}
		g := core.Gap{
			Start:   start,
			End:     end,
			Minutes: core.Interval{Start: start, End: end}.Minutes(),
		}
		g.OverlapsEnergyPeak = overlapsEnergy(g.Interval(), energyWindows)
		out = append(out, g)
	}

	cursor := window.Start
	for _, iv := range merged {
		emit(cursor, iv.Start)
		cursor = iv.End
	}
	emit(cursor, window.End)

	return out
}

// overlapsEnergy reports an intersection of at least one minute with any
// energy window.
func overlapsEnergy(iv core.Interval, energyWindows []core.Interval) bool {
	for _, w := range energyWindows {
		start := iv.Start
		if w.Start.After(start) {
			start = w.Start
		}
		end := iv.End
		if w.End.Before(end) {
			end = w.End
		}
		if end.Sub(start) >= time.Minute {
			return true
		}
	}
	return false
}

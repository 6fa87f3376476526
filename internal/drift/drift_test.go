package drift

import (
	"testing"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func external(id string, start, end time.Duration) core.CalendarEvent {
	return core.CalendarEvent{
		ID:     id,
		Title:  id,
		Start:  base.Add(start),
		End:    base.Add(end),
		Source: core.SourceExternal,
	}
}

func engine(id string, start, end time.Duration) core.CalendarEvent {
	return core.CalendarEvent{
		ID:       id,
		Title:    "Breathing break",
		Start:    base.Add(start),
		End:      base.Add(end),
		Source:   core.SourceEngine,
		Category: core.CategoryBreathing,
	}
}

func TestScore_ThresholdBoundary(t *testing.T) {
	tests := []struct {
		name    string
		changes core.ChangeSet
		want    bool
	}{
		{
			name:    "below threshold",
			changes: core.ChangeSet{Added: []string{"a"}, Modified: []string{"b"}},
			want:    false,
		},
		{
			name:    "at threshold",
			changes: core.ChangeSet{Added: []string{"a"}, Modified: []string{"b"}, Deleted: []string{"c"}},
			want:    true,
		},
		{
			name:    "above threshold",
			changes: core.ChangeSet{Added: []string{"a", "b", "c", "d"}},
			want:    true,
		},
		{
			name:    "empty",
			changes: core.ChangeSet{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Score(Input{Changes: tt.changes, Threshold: 3})
			if score.SignificantChange != tt.want {
				t.Errorf("SignificantChange = %v, want %v", score.SignificantChange, tt.want)
			}
			if score.ChangedCount != tt.changes.Total() {
				t.Errorf("ChangedCount = %d, want %d", score.ChangedCount, tt.changes.Total())
			}
		})
	}
}

func TestScore_ZeroThresholdUsesDefault(t *testing.T) {
	changes := core.ChangeSet{Added: []string{"a", "b"}}
	if Score(Input{Changes: changes}).SignificantChange {
		t.Error("2 changes under default threshold 3 should not be significant")
	}
	changes.Added = append(changes.Added, "c")
	if !Score(Input{Changes: changes}).SignificantChange {
		t.Error("3 changes at default threshold should be significant")
	}
}

func TestScore_DeletionOverlappingEngineEvent(t *testing.T) {
	// A single deletion, well under threshold, but it frees the slot an
	// engine event was scheduled around.
	prev := core.NewSnapshot([]core.CalendarEvent{
		external("meeting", 0, time.Hour),
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)
	cur := core.NewSnapshot([]core.CalendarEvent{
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)

	score := Score(Input{
		Changes:   core.ChangeSet{Deleted: []string{"meeting"}},
		Previous:  prev,
		Current:   cur,
		Threshold: 3,
	})
	if !score.SignificantChange {
		t.Error("deletion overlapping an engine event must be significant")
	}
}

func TestScore_ModificationMovedOntoEngineEvent(t *testing.T) {
	// Meeting originally clear of the engine event, moved on top of it.
	// Overlap at the new position counts.
	prev := core.NewSnapshot([]core.CalendarEvent{
		external("meeting", 2*time.Hour, 3*time.Hour),
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)
	cur := core.NewSnapshot([]core.CalendarEvent{
		external("meeting", 25*time.Minute, 85*time.Minute),
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)

	score := Score(Input{
		Changes:   core.ChangeSet{Modified: []string{"meeting"}},
		Previous:  prev,
		Current:   cur,
		Threshold: 3,
	})
	if !score.SignificantChange {
		t.Error("modification landing on an engine event must be significant")
	}
}

func TestScore_ChangesClearOfEngineEvents(t *testing.T) {
	prev := core.NewSnapshot([]core.CalendarEvent{
		external("meeting", 2*time.Hour, 3*time.Hour),
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)
	cur := core.NewSnapshot([]core.CalendarEvent{
		external("meeting", 4*time.Hour, 5*time.Hour),
		engine("break", 30*time.Minute, 40*time.Minute),
	}, nil, base)

	score := Score(Input{
		Changes:   core.ChangeSet{Modified: []string{"meeting"}},
		Previous:  prev,
		Current:   cur,
		Threshold: 3,
	})
	if score.SignificantChange {
		t.Error("one modification clear of engine events should not be significant")
	}
}

func TestScore_NoEngineEventsNoInvalidation(t *testing.T) {
	prev := core.NewSnapshot([]core.CalendarEvent{external("a", 0, time.Hour)}, nil, base)
	cur := core.NewSnapshot(nil, nil, base)

	score := Score(Input{
		Changes:   core.ChangeSet{Deleted: []string{"a"}},
		Previous:  prev,
		Current:   cur,
		Threshold: 3,
	})
	if score.SignificantChange {
		t.Error("no engine events scheduled, nothing to invalidate")
	}
}

func TestScore_ElapsedPassedThrough(t *testing.T) {
	score := Score(Input{Elapsed: 90 * time.Minute, Threshold: 3})
	if score.ElapsedSinceOptimize != 90*time.Minute {
		t.Errorf("ElapsedSinceOptimize = %v, want 90m", score.ElapsedSinceOptimize)
	}
}

package core

import (
	"testing"
	"time"
)

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestIntervalOverlaps(t *testing.T) {
	a := Interval{Start: base, End: base.Add(time.Hour)}

	tests := []struct {
		name  string
		other Interval
		want  bool
	}{
		{"identical", a, true},
		{"contained", Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}, true},
		{"partial", Interval{Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)}, true},
		{"adjacent after", Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, false},
		{"adjacent before", Interval{Start: base.Add(-time.Hour), End: base}, false},
		{"disjoint", Interval{Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Overlaps(tt.other); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			// Overlap is symmetric.
			if got := tt.other.Overlaps(a); got != tt.want {
				t.Errorf("reverse Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIntervalValidate(t *testing.T) {
	good := Interval{Start: base, End: base.Add(time.Hour)}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate = %v, want nil", err)
	}

	zero := Interval{Start: base, End: base}
	if err := zero.Validate(); err != nil {
		t.Errorf("zero-width Validate = %v, want nil", err)
	}

	inverted := Interval{Start: base.Add(time.Hour), End: base}
	if err := inverted.Validate(); err == nil {
		t.Error("inverted interval passed validation")
	}
}

func TestCategoryMinimumDuration(t *testing.T) {
	tests := []struct {
		category EventCategory
		want     time.Duration
	}{
		{CategoryBreathing, 5 * time.Minute},
		{CategoryWorkout, 15 * time.Minute},
		{CategoryMeal, 20 * time.Minute},
		{EventCategory(""), 0},
	}
	for _, tt := range tests {
		if got := tt.category.MinimumDuration(); got != tt.want {
			t.Errorf("%s MinimumDuration = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestSnapshotSortedEvents(t *testing.T) {
	events := []CalendarEvent{
		{ID: "z", Start: base, End: base.Add(time.Hour)},
		{ID: "a", Start: base, End: base.Add(time.Hour)},
		{ID: "later", Start: base.Add(-time.Hour), End: base},
	}
	s := NewSnapshot(events, nil, base)

	sorted := s.SortedEvents()
	want := []string{"later", "a", "z"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Errorf("sorted[%d] = %s, want %s", i, sorted[i].ID, id)
		}
	}
}

func TestSnapshotClone(t *testing.T) {
	s := NewSnapshot([]CalendarEvent{
		{ID: "a", Start: base, End: base.Add(time.Hour)},
	}, []Interval{{Start: base, End: base.Add(time.Hour)}}, base)

	c := s.Clone()
	delete(c.Events, "a")
	c.Busy[0].End = base.Add(2 * time.Hour)

	if len(s.Events) != 1 {
		t.Error("clone shares the event map")
	}
	if !s.Busy[0].End.Equal(base.Add(time.Hour)) {
		t.Error("clone shares the busy slice")
	}

	var nilSnap *Snapshot
	if nilSnap.Clone() != nil {
		t.Error("nil Clone should stay nil")
	}
}

func TestChangeSetTotals(t *testing.T) {
	var empty ChangeSet
	if !empty.Empty() || empty.Total() != 0 {
		t.Error("zero value should be empty")
	}

	cs := ChangeSet{Added: []string{"a"}, Modified: []string{"b", "c"}, Deleted: []string{"d"}}
	if cs.Total() != 4 || cs.Empty() {
		t.Errorf("Total = %d, want 4", cs.Total())
	}
}

func TestChangeSetMerge(t *testing.T) {
	a := ChangeSet{Added: []string{"x"}, Deleted: []string{"y"}}
	b := ChangeSet{Added: []string{"x", "z"}, Modified: []string{"m"}}

	merged := a.Merge(b)
	if merged.Total() != 4 {
		t.Errorf("Total = %d, want 4 (x deduplicated)", merged.Total())
	}
	if len(merged.Added) != 2 {
		t.Errorf("Added = %v, want [x z]", merged.Added)
	}

	// Merge does not mutate its receiver.
	if a.Total() != 2 {
		t.Errorf("receiver mutated: %+v", a)
	}

	var zero ChangeSet
	if got := zero.Merge(zero); !got.Empty() {
		t.Errorf("empty merge = %+v, want empty", got)
	}
}

func TestClockRangeOn(t *testing.T) {
	day := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	iv, err := ClockRange{Start: "09:00", End: "12:30"}.On(day)
	if err != nil {
		t.Fatalf("On: %v", err)
	}
	if !iv.Start.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("Start = %v", iv.Start)
	}
	if !iv.End.Equal(time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)) {
		t.Errorf("End = %v", iv.End)
	}

	if _, err := (ClockRange{Start: "9am", End: "12:00"}).On(day); err == nil {
		t.Error("expected error on non HH:MM clock")
	}
	if _, err := (ClockRange{Start: "12:00", End: "09:00"}).On(day); err == nil {
		t.Error("expected error on inverted range")
	}
}

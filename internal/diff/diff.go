// Package diff compares calendar snapshots.
package diff

import (
	"github.com/quantumlife/cadence/internal/core"
)

// Diff classifies the difference between two snapshots into added,
// modified, and deleted event ids. Engine-generated events are excluded:
// our own writes must not read as "schedule changed externally". Each
// sequence is ordered by event start time, ties by id, so output is
// identical for identical inputs regardless of map iteration order.
//
// A nil previous snapshot is treated as empty (first observation).
func Diff(previous, current *core.Snapshot) core.ChangeSet {
	var cs core.ChangeSet

	prevEvents := map[string]core.CalendarEvent{}
	if previous != nil {
		prevEvents = previous.Events
	}
	curEvents := map[string]core.CalendarEvent{}
	if current != nil {
		curEvents = current.Events
	}

	if current != nil {
		for _, e := range current.SortedEvents() {
			if e.Source == core.SourceEngine {
				continue
			}
			prev, ok := prevEvents[e.ID]
			switch {
			case !ok:
				cs.Added = append(cs.Added, e.ID)
			case changed(prev, e):
				cs.Modified = append(cs.Modified, e.ID)
			}
		}
	}

	if previous != nil {
		for _, e := range previous.SortedEvents() {
			if e.Source == core.SourceEngine {
				continue
			}
			if _, ok := curEvents[e.ID]; !ok {
				cs.Deleted = append(cs.Deleted, e.ID)
			}
		}
	}

	return cs
}

// changed reports whether the fields that matter to the schedule differ.
func changed(prev, cur core.CalendarEvent) bool {
	return !prev.Start.Equal(cur.Start) ||
		!prev.End.Equal(cur.End) ||
		prev.Title != cur.Title
}

// Package core defines the fundamental types for Cadence.
// Everything the sync engine, analyzer, and planner exchange lives here.
package core

import (
	"fmt"
	"sort"
	"time"
)

// -----------------------------------------------------------------------------
// EVENTS - What we observe on the external calendar
// -----------------------------------------------------------------------------

// EventSource distinguishes externally authored events from our own writes.
type EventSource string

const (
	SourceExternal EventSource = "external"
	SourceEngine   EventSource = "engine"
)

// EventCategory classifies engine-generated events. External events carry
// an empty category.
type EventCategory string

const (
	CategoryBreathing EventCategory = "breathing"
	CategoryWorkout   EventCategory = "workout"
	CategoryMeal      EventCategory = "meal"
)

// MinimumDuration returns the shortest gap a candidate of this category
// can be placed into.
func (c EventCategory) MinimumDuration() time.Duration {
	switch c {
	case CategoryBreathing:
		return 5 * time.Minute
	case CategoryWorkout:
		return 15 * time.Minute
	case CategoryMeal:
		return 20 * time.Minute
	default:
		return 0
	}
}

// CalendarEvent is a single event as last observed on the provider.
// Times are UTC instants. Immutable once observed; UpdatedAt is the
// provider's modification stamp used for change detection.
type CalendarEvent struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Source    EventSource   `json:"source"`
	Category  EventCategory `json:"category,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Duration returns the event length.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event intersects [start, end).
func (e CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Minutes returns the interval length in whole minutes.
func (iv Interval) Minutes() int {
	return int(iv.End.Sub(iv.Start) / time.Minute)
}

// Overlaps reports whether two intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Validate fails on an inverted interval. Inverted input is a caller bug,
// not a recoverable condition.
func (iv Interval) Validate() error {
	if iv.End.Before(iv.Start) {
		return fmt.Errorf("%w: %s before %s", ErrInvalidInterval, iv.End.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
	}
	return nil
}

// -----------------------------------------------------------------------------
// SNAPSHOT - The authoritative last-known calendar state
// -----------------------------------------------------------------------------

// Snapshot is the point-in-time record of a user's calendar: the event set
// keyed by provider id plus the busy timeline for the lookahead window.
// Exactly one authoritative snapshot exists per connected user; it is
// replaced whole, never mutated in place.
type Snapshot struct {
	Events     map[string]CalendarEvent `json:"events"`
	Busy       []Interval               `json:"busy"`
	CapturedAt time.Time                `json:"captured_at"`
}

// NewSnapshot builds a snapshot from an event list and busy timeline.
func NewSnapshot(events []CalendarEvent, busy []Interval, capturedAt time.Time) *Snapshot {
	m := make(map[string]CalendarEvent, len(events))
	for _, e := range events {
		m[e.ID] = e
	}
	return &Snapshot{
		Events:     m,
		Busy:       append([]Interval(nil), busy...),
		CapturedAt: capturedAt,
	}
}

// SortedEvents returns all events ordered by start time, ties by id.
// Deterministic regardless of map iteration order.
func (s *Snapshot) SortedEvents() []CalendarEvent {
	events := make([]CalendarEvent, 0, len(s.Events))
	for _, e := range s.Events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return events
}

// EngineEvents returns the engine-generated subset, ordered.
func (s *Snapshot) EngineEvents() []CalendarEvent {
	var out []CalendarEvent
	for _, e := range s.SortedEvents() {
		if e.Source == SourceEngine {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy. Readers always get fully-formed snapshots.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	m := make(map[string]CalendarEvent, len(s.Events))
	for id, e := range s.Events {
		m[id] = e
	}
	return &Snapshot{
		Events:     m,
		Busy:       append([]Interval(nil), s.Busy...),
		CapturedAt: s.CapturedAt,
	}
}

// -----------------------------------------------------------------------------
// CHANGES & DRIFT
// -----------------------------------------------------------------------------

// ChangeSet holds the classified difference between two snapshots.
// Each sequence is ordered by event start time, ties by id.
type ChangeSet struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Total returns the number of changed events.
func (c ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted)
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool {
	return c.Total() == 0
}

// Merge unions another change set into this one, deduplicating ids within
// each list. Drift accumulates change across syncs, and one event modified
// on every poll is still one changed event.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	return ChangeSet{
		Added:    mergeIDs(c.Added, other.Added),
		Modified: mergeIDs(c.Modified, other.Modified),
		Deleted:  mergeIDs(c.Deleted, other.Deleted),
	}
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range a {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// DriftScore reduces accumulated external change into a recommendation.
type DriftScore struct {
	ChangedCount         int           `json:"changed_count"`
	SignificantChange    bool          `json:"significant_change"`
	ElapsedSinceOptimize time.Duration `json:"elapsed_since_optimize"`
}

// -----------------------------------------------------------------------------
// INTENSITY & GAPS
// -----------------------------------------------------------------------------

// IntensityLevel is the coarse schedule saturation class.
type IntensityLevel string

const (
	IntensityLow    IntensityLevel = "low"
	IntensityMedium IntensityLevel = "medium"
	IntensityHigh   IntensityLevel = "high"
)

// ScheduleIntensity summarizes how saturated a window is.
type ScheduleIntensity struct {
	BusyMinutes  int            `json:"busy_minutes"`
	TotalMinutes int            `json:"total_minutes"`
	Ratio        float64        `json:"ratio"`
	Level        IntensityLevel `json:"level"`
}

// Gap is a free interval eligible for an inserted activity.
type Gap struct {
	Start              time.Time `json:"start"`
	End                time.Time `json:"end"`
	Minutes            int       `json:"minutes"`
	OverlapsEnergyPeak bool      `json:"overlaps_energy_peak"`
}

// Interval returns the gap as an Interval.
func (g Gap) Interval() Interval {
	return Interval{Start: g.Start, End: g.End}
}

// -----------------------------------------------------------------------------
// PLANS
// -----------------------------------------------------------------------------

// CandidateEvent is a proposed restorative event mapped to one gap.
type CandidateEvent struct {
	ID       string        `json:"id"`
	Category EventCategory `json:"category"`
	Title    string        `json:"title"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Reason   string        `json:"reason"`
}

// OptimizationPlan is an ordered, non-overlapping set of candidates.
type OptimizationPlan struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Candidates []CandidateEvent `json:"candidates"`
}

// Empty reports whether the plan proposes nothing.
func (p OptimizationPlan) Empty() bool {
	return len(p.Candidates) == 0
}

// ApplyResult summarizes plan application. Partial failure is reported,
// not rolled back: created events are real and must remain.
type ApplyResult struct {
	Created []CalendarEvent   `json:"created"`
	Failed  []FailedCandidate `json:"failed"`
}

// FailedCandidate pairs a candidate with the reason its create failed.
type FailedCandidate struct {
	Candidate CandidateEvent `json:"candidate"`
	Error     string         `json:"error"`
}

// -----------------------------------------------------------------------------
// CONNECTION STATE
// -----------------------------------------------------------------------------

// ConnectionState is the sync controller's lifecycle state. A single tagged
// value rather than independent booleans, so "syncing while disconnected"
// is unrepresentable.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateSyncing      ConnectionState = "syncing"
	StateError        ConnectionState = "error"
)

// Status is the read-only display snapshot exposed to consumers.
type Status struct {
	State            ConnectionState `json:"state"`
	LastSyncAt       *time.Time      `json:"last_sync_at,omitempty"`
	Changes          ChangeSet       `json:"changes"`
	ShouldReoptimize bool            `json:"should_reoptimize"`
	Error            string          `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------
// USER WINDOWS
// -----------------------------------------------------------------------------

// ClockRange is a time-of-day range in "HH:MM" form, e.g. {"09:00","12:00"},
// used for energy and meal windows.
type ClockRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// On materializes the clock range onto a concrete day, in that day's
// location.
func (c ClockRange) On(day time.Time) (Interval, error) {
	start, err := clockOn(c.Start, day)
	if err != nil {
		return Interval{}, fmt.Errorf("clock range start: %w", err)
	}
	end, err := clockOn(c.End, day)
	if err != nil {
		return Interval{}, fmt.Errorf("clock range end: %w", err)
	}
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func clockOn(clock string, day time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

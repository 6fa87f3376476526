// Package fake provides an in-memory CalendarProvider for tests and
// local development.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

// Provider is a scriptable in-memory calendar. Zero value is usable.
type Provider struct {
	mu sync.Mutex

	events []core.CalendarEvent
	busy   []core.Interval
	nextID int

	// Error injection. When set, the corresponding call fails.
	VerifyErr error
	ListErr   error
	BusyErr   error
	DeleteErr error

	// FailTitles makes CreateEvents fail individual candidates by title,
	// for partial-failure scenarios.
	FailTitles map[string]error

	// OnList, when set, runs at the start of every ListEvents call.
	// Tests use it to block a sync in flight.
	OnList func(ctx context.Context)

	// Call counters
	ListCalls   int
	BusyCalls   int
	CreateCalls int
}

// New returns an empty provider.
func New() *Provider {
	return &Provider{}
}

// SetTimeline replaces the event set and busy intervals.
func (p *Provider) SetTimeline(events []core.CalendarEvent, busy []core.Interval) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append([]core.CalendarEvent(nil), events...)
	p.busy = append([]core.Interval(nil), busy...)
}

// Events returns a copy of the current event set.
func (p *Provider) Events() []core.CalendarEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.CalendarEvent(nil), p.events...)
}

// Verify implements provider.CalendarProvider.
func (p *Provider) Verify(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.VerifyErr
}

// FetchBusyFree implements provider.CalendarProvider.
func (p *Provider) FetchBusyFree(ctx context.Context, timeMin, timeMax time.Time) ([]core.Interval, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.BusyCalls++
	if p.BusyErr != nil {
		return nil, p.BusyErr
	}
	window := core.Interval{Start: timeMin, End: timeMax}
	var out []core.Interval
	for _, iv := range p.busy {
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// ListEvents implements provider.CalendarProvider.
func (p *Provider) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]core.CalendarEvent, error) {
	p.mu.Lock()
	hook := p.OnList
	p.ListCalls++
	err := p.ListErr
	events := append([]core.CalendarEvent(nil), p.events...)
	p.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("list events: %w: %v", core.ErrProviderTransient, ctxErr)
	}

	var out []core.CalendarEvent
	for _, e := range events {
		if e.Overlaps(timeMin, timeMax) {
			out = append(out, e)
		}
	}
	return out, nil
}

// CreateEvents implements provider.CalendarProvider.
func (p *Provider) CreateEvents(ctx context.Context, candidates []core.CandidateEvent) (core.ApplyResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateCalls++

	var result core.ApplyResult
	for _, cand := range candidates {
		if err, ok := p.FailTitles[cand.Title]; ok {
			result.Failed = append(result.Failed, core.FailedCandidate{
				Candidate: cand,
				Error:     err.Error(),
			})
			continue
		}

		p.nextID++
		created := core.CalendarEvent{
			ID:        fmt.Sprintf("fake-%d", p.nextID),
			Title:     cand.Title,
			Start:     cand.Start,
			End:       cand.End,
			Source:    core.SourceEngine,
			Category:  cand.Category,
			UpdatedAt: time.Now().UTC(),
		}
		p.events = append(p.events, created)
		p.busy = append(p.busy, core.Interval{Start: created.Start, End: created.End})
		result.Created = append(result.Created, created)
	}

	return result, nil
}

// DeleteEvent implements provider.CalendarProvider.
func (p *Provider) DeleteEvent(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	for i, e := range p.events {
		if e.ID == id {
			p.events = append(p.events[:i], p.events[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("delete event: %w: no event %s", core.ErrProviderPermanent, id)
}

// Package provider defines the calendar provider capability consumed by
// the sync engine. The concrete wire protocol stays behind this interface.
package provider

import (
	"context"
	"time"

	"github.com/quantumlife/cadence/internal/core"
)

// CalendarProvider is the capability the engine needs from an external
// calendar. Implementations classify their failures into the core error
// taxonomy (core.ErrAuth, core.ErrProviderTransient, core.ErrProviderPermanent)
// so the controller can choose the right recovery.
type CalendarProvider interface {
	// Verify checks that the credential grants calendar access.
	Verify(ctx context.Context) error

	// FetchBusyFree returns the busy intervals within [timeMin, timeMax).
	FetchBusyFree(ctx context.Context, timeMin, timeMax time.Time) ([]core.Interval, error)

	// ListEvents returns the events within [timeMin, timeMax).
	ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]core.CalendarEvent, error)

	// CreateEvents submits candidates one by one. Partial failure is part
	// of the result, not an error: created events are real and remain.
	CreateEvents(ctx context.Context, candidates []core.CandidateEvent) (core.ApplyResult, error)

	// DeleteEvent removes a single event. Used for explicit user cleanup
	// only, never by the sync loop.
	DeleteEvent(ctx context.Context, id string) error
}

// Package google implements the Google Calendar provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/quantumlife/cadence/internal/core"
	"github.com/quantumlife/cadence/internal/logging"
)

// Extended private properties marking events Cadence created. Diffing and
// idempotence depend on recognizing our own writes on the wire.
const (
	propEngine   = "cadence"
	propCategory = "cadence_category"
)

// Client implements provider.CalendarProvider against the Google
// Calendar API.
type Client struct {
	service    *calendar.Service
	calendarID string
	token      *oauth2.Token
	oauth      *OAuthClient
	log        *logging.Logger
}

// NewClient creates a new Calendar client
func NewClient(ctx context.Context, oauth *OAuthClient, token *oauth2.Token, calendarID string) (*Client, error) {
	service, err := oauth.CreateCalendarService(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	if calendarID == "" {
		calendarID = "primary"
	}

	return &Client{
		service:    service,
		calendarID: calendarID,
		token:      token,
		oauth:      oauth,
		log:        logging.WithField("provider", "google_calendar"),
	}, nil
}

// Verify checks that the credential grants access to the calendar.
func (c *Client) Verify(ctx context.Context) error {
	if _, err := c.service.Calendars.Get(c.calendarID).Context(ctx).Do(); err != nil {
		return classify("verify calendar access", err)
	}
	return nil
}

// FetchBusyFree returns the busy intervals within [timeMin, timeMax).
func (c *Client) FetchBusyFree(ctx context.Context, timeMin, timeMax time.Time) ([]core.Interval, error) {
	req := &calendar.FreeBusyRequest{
		TimeMin: timeMin.Format(time.RFC3339),
		TimeMax: timeMax.Format(time.RFC3339),
		Items:   []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	}

	resp, err := c.service.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, classify("query free/busy", err)
	}

	var busy []core.Interval
	for _, cal := range resp.Calendars {
		for _, period := range cal.Busy {
			start, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				c.log.Warn("skipping busy period with bad start %q: %v", period.Start, err)
				continue
			}
			end, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				c.log.Warn("skipping busy period with bad end %q: %v", period.End, err)
				continue
			}
			if end.Before(start) {
				c.log.Warn("skipping inverted busy period %s..%s", period.Start, period.End)
				continue
			}
			busy = append(busy, core.Interval{Start: start.UTC(), End: end.UTC()})
		}
	}

	return busy, nil
}

// ListEvents returns the events within [timeMin, timeMax).
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time) ([]core.CalendarEvent, error) {
	call := c.service.Events.List(c.calendarID).
		Context(ctx).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime")

	var events []core.CalendarEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			if event, ok := c.convertEvent(item); ok {
				events = append(events, event)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("list events", err)
	}

	return events, nil
}

// CreateEvents submits candidates one by one, collecting partial failures.
func (c *Client) CreateEvents(ctx context.Context, candidates []core.CandidateEvent) (core.ApplyResult, error) {
	var result core.ApplyResult

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		event := &calendar.Event{
			Summary:     cand.Title,
			Description: cand.Reason,
			Start:       &calendar.EventDateTime{DateTime: cand.Start.Format(time.RFC3339)},
			End:         &calendar.EventDateTime{DateTime: cand.End.Format(time.RFC3339)},
			ExtendedProperties: &calendar.EventExtendedProperties{
				Private: map[string]string{
					propEngine:   "1",
					propCategory: string(cand.Category),
				},
			},
		}

		created, err := c.service.Events.Insert(c.calendarID, event).Context(ctx).Do()
		if err != nil {
			c.log.Warn("create %s event failed: %v", cand.Category, err)
			result.Failed = append(result.Failed, core.FailedCandidate{
				Candidate: cand,
				Error:     classify("create event", err).Error(),
			})
			continue
		}

		if converted, ok := c.convertEvent(created); ok {
			result.Created = append(result.Created, converted)
		}
	}

	return result, nil
}

// DeleteEvent removes a single event.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if err := c.service.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return classify("delete event", err)
	}
	return nil
}

// convertEvent is the parse-and-validate boundary. Records without a stable
// id, without concrete times (all-day), or with inverted times never reach
// the diff engine.
func (c *Client) convertEvent(item *calendar.Event) (core.CalendarEvent, bool) {
	if item == nil || item.Id == "" || item.Status == "cancelled" {
		return core.CalendarEvent{}, false
	}
	if item.Start == nil || item.End == nil || item.Start.DateTime == "" || item.End.DateTime == "" {
		return core.CalendarEvent{}, false
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		c.log.Warn("skipping event %s with bad start: %v", item.Id, err)
		return core.CalendarEvent{}, false
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil {
		c.log.Warn("skipping event %s with bad end: %v", item.Id, err)
		return core.CalendarEvent{}, false
	}
	if end.Before(start) {
		c.log.Warn("skipping event %s with inverted times", item.Id)
		return core.CalendarEvent{}, false
	}

	event := core.CalendarEvent{
		ID:     item.Id,
		Title:  item.Summary,
		Start:  start.UTC(),
		End:    end.UTC(),
		Source: core.SourceExternal,
	}

	if item.ExtendedProperties != nil && item.ExtendedProperties.Private[propEngine] == "1" {
		event.Source = core.SourceEngine
		event.Category = core.EventCategory(item.ExtendedProperties.Private[propCategory])
	}

	if item.Updated != "" {
		if updated, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			event.UpdatedAt = updated.UTC()
		}
	}

	return event, true
}

// classify maps Google API failures into the core error taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == 401 || gerr.Code == 403:
			return fmt.Errorf("%s: %w: %v", op, core.ErrAuth, err)
		case gerr.Code == 404 || gerr.Code == 410:
			return fmt.Errorf("%s: %w: %v", op, core.ErrProviderPermanent, err)
		default:
			return fmt.Errorf("%s: %w: %v", op, core.ErrProviderTransient, err)
		}
	}
	// Network-level failures are retryable
	return fmt.Errorf("%s: %w: %v", op, core.ErrProviderTransient, err)
}

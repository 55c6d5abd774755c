package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/metrics"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
)

const (
	primaryCalendar = "primary"
	eventPageSize   = 250
	syncLookBack    = 30 * 24 * time.Hour
	syncLookAhead   = 180 * 24 * time.Hour
)

// SyncCalendar imports primary calendar events in a window around now.
// Events are matched by google_event_id, so repeated runs are idempotent.
func (s *AuthService) SyncCalendar(ctx context.Context, user *models.User) (SyncResult, error) {
	var res SyncResult
	tok, err := s.authorized(ctx, user)
	if err != nil {
		return res, err
	}
	svc, err := s.calendarService(ctx, tok)
	if err != nil {
		return res, fmt.Errorf("calendar client: %w", err)
	}

	now := s.now().UTC()
	pageToken := ""
	for {
		call := svc.Events.List(primaryCalendar).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(now.Add(-syncLookBack).Format(time.RFC3339)).
			TimeMax(now.Add(syncLookAhead).Format(time.RFC3339)).
			MaxResults(eventPageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		page, err := call.Do()
		if err != nil {
			metrics.IncIntegrationFailure("google")
			return res, fmt.Errorf("list calendar events: %w", err)
		}
		for _, item := range page.Items {
			if err := s.importEvent(ctx, user, item, &res); err != nil {
				return res, err
			}
		}
		if page.NextPageToken == "" {
			return res, nil
		}
		pageToken = page.NextPageToken
	}
}

func (s *AuthService) importEvent(ctx context.Context, user *models.User, item *calendar.Event, res *SyncResult) error {
	if item.Id == "" || item.Status == "cancelled" {
		res.Skipped++
		return nil
	}
	incoming, ok := eventFromGoogle(user, item)
	if !ok {
		res.Skipped++
		return nil
	}

	existing, err := s.events.FindEventByGoogleID(ctx, user.ID, item.Id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if err := s.events.CreateEvent(ctx, incoming); err != nil {
			return fmt.Errorf("create event: %w", err)
		}
		res.Created++
		return nil
	case err != nil:
		return err
	}

	if !mergeEvent(existing, incoming) {
		res.Skipped++
		return nil
	}
	if err := s.events.UpdateEvent(ctx, existing); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	res.Updated++
	return nil
}

func eventFromGoogle(user *models.User, item *calendar.Event) (*models.Event, bool) {
	start, ok := parseEventTime(item.Start)
	if !ok {
		return nil, false
	}
	gid := item.Id
	ev := &models.Event{
		OwnerID:       user.ID,
		Title:         strings.TrimSpace(item.Summary),
		Description:   item.Description,
		Location:      item.Location,
		EventType:     models.EventTypeMeeting,
		StartDatetime: start,
		GoogleEventID: &gid,
		IsActive:      true,
	}
	if ev.Title == "" {
		ev.Title = "(no title)"
	}
	if end, ok := parseEventTime(item.End); ok {
		ev.EndDatetime = &end
	}
	for _, a := range item.Attendees {
		if a.Email == "" || a.Self {
			continue
		}
		ev.Participants = append(ev.Participants, models.Participant{Email: strings.ToLower(a.Email), Name: a.DisplayName})
	}
	return ev, true
}

// mergeEvent copies the calendar-owned fields onto dst and reports whether
// anything changed.
func mergeEvent(dst, src *models.Event) bool {
	changed := dst.Title != src.Title ||
		dst.Description != src.Description ||
		dst.Location != src.Location ||
		!dst.StartDatetime.Equal(src.StartDatetime) ||
		!sameTime(dst.EndDatetime, src.EndDatetime) ||
		!slices.Equal(dst.Participants, src.Participants) ||
		!dst.IsActive
	if !changed {
		return false
	}
	dst.Title = src.Title
	dst.Description = src.Description
	dst.Location = src.Location
	dst.StartDatetime = src.StartDatetime
	dst.EndDatetime = src.EndDatetime
	dst.Participants = src.Participants
	dst.IsActive = true
	return true
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// parseEventTime reads a timed or all-day calendar boundary.
func parseEventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		return parsed.UTC(), err == nil
	}
	if t.Date != "" {
		parsed, err := time.Parse(time.DateOnly, t.Date)
		return parsed.UTC(), err == nil
	}
	return time.Time{}, false
}

// CalendarSync mirrors local event changes to the owner's primary calendar.
type CalendarSync struct {
	auth *AuthService
}

func NewCalendarSync(auth *AuthService) *CalendarSync {
	return &CalendarSync{auth: auth}
}

// UpsertEvent creates or updates the calendar copy of a local event. Owners
// without a linked account are skipped. A calendar copy deleted on Google's
// side is recreated.
func (c *CalendarSync) UpsertEvent(ctx context.Context, ownerID, eventID uuid.UUID) error {
	user, tok, ok, err := c.linkedOwner(ctx, ownerID)
	if err != nil || !ok {
		return err
	}
	ev, err := c.auth.events.GetEvent(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if ev.OwnerID != user.ID {
		return nil
	}
	if !ev.IsActive {
		if ev.GoogleEventID == nil {
			return nil
		}
		return c.DeleteEvent(ctx, ownerID, *ev.GoogleEventID)
	}

	svc, err := c.auth.calendarService(ctx, tok)
	if err != nil {
		return fmt.Errorf("calendar client: %w", err)
	}
	body := eventToGoogle(ev)

	if ev.GoogleEventID != nil && *ev.GoogleEventID != "" {
		_, err := svc.Events.Update(primaryCalendar, *ev.GoogleEventID, body).Context(ctx).Do()
		if err == nil {
			return nil
		}
		if !isStatus(err, http.StatusNotFound, http.StatusGone) {
			metrics.IncIntegrationFailure("google_calendar")
			return fmt.Errorf("update calendar event: %w", err)
		}
		zerolog.Ctx(ctx).Info().Str("event_id", ev.ID.String()).Msg("calendar copy missing, recreating")
	}

	created, err := svc.Events.Insert(primaryCalendar, body).Context(ctx).Do()
	if err != nil {
		metrics.IncIntegrationFailure("google_calendar")
		return fmt.Errorf("insert calendar event: %w", err)
	}
	return c.auth.events.SetEventGoogleID(ctx, ev.ID, created.Id)
}

// DeleteEvent removes the calendar copy. A copy that is already gone counts
// as deleted.
func (c *CalendarSync) DeleteEvent(ctx context.Context, ownerID uuid.UUID, googleEventID string) error {
	if googleEventID == "" {
		return nil
	}
	_, tok, ok, err := c.linkedOwner(ctx, ownerID)
	if err != nil || !ok {
		return err
	}
	svc, err := c.auth.calendarService(ctx, tok)
	if err != nil {
		return fmt.Errorf("calendar client: %w", err)
	}
	err = svc.Events.Delete(primaryCalendar, googleEventID).Context(ctx).Do()
	if err != nil && !isStatus(err, http.StatusNotFound, http.StatusGone) {
		metrics.IncIntegrationFailure("google_calendar")
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}

func (c *CalendarSync) linkedOwner(ctx context.Context, ownerID uuid.UUID) (*models.User, *oauth2.Token, bool, error) {
	user, err := c.auth.tokens.GetUserByID(ctx, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	if !user.GoogleLinked() {
		return user, nil, false, nil
	}
	tok, err := c.auth.authorized(ctx, user)
	if errors.Is(err, domain.ErrNotLinked) {
		return user, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return user, tok, true, nil
}

func eventToGoogle(ev *models.Event) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.StartDatetime.UTC().Format(time.RFC3339)},
	}
	end := ev.StartDatetime.Add(time.Hour)
	if ev.EndDatetime != nil && ev.EndDatetime.After(ev.StartDatetime) {
		end = *ev.EndDatetime
	}
	out.End = &calendar.EventDateTime{DateTime: end.UTC().Format(time.RFC3339)}
	for _, p := range ev.Participants {
		out.Attendees = append(out.Attendees, &calendar.EventAttendee{Email: p.Email, DisplayName: p.Name})
	}
	return out
}

func isStatus(err error, codes ...int) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return slices.Contains(codes, gerr.Code)
}

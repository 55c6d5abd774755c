package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/events"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultUpcomingLimit = 10

// ParticipantList decodes either ["a@b.c"] or [{"email": "a@b.c", "name": "A"}].
type ParticipantList []models.Participant

func (l *ParticipantList) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(ParticipantList, 0, len(raw))
	for _, item := range raw {
		var email string
		if err := json.Unmarshal(item, &email); err == nil {
			if email = strings.TrimSpace(email); email != "" {
				out = append(out, models.Participant{Email: email})
			}
			continue
		}
		var p models.Participant
		if err := json.Unmarshal(item, &p); err != nil {
			return err
		}
		if strings.TrimSpace(p.Email) != "" {
			out = append(out, p)
		}
	}
	*l = out
	return nil
}

// EventInput carries a create or a partial update.
type EventInput struct {
	Title         *string          `json:"title"`
	Description   *string          `json:"description"`
	Location      *string          `json:"location"`
	Project       *string          `json:"project"`
	EventType     *string          `json:"event_type"`
	StartDatetime *string          `json:"start_datetime"`
	EndDatetime   *string          `json:"end_datetime"`
	RepeatPattern *string          `json:"repeat_pattern"`
	Participants  *ParticipantList `json:"participants"`
}

type EventService struct {
	events    domain.EventRepository
	publisher domain.EventPublisher
	logger    *zerolog.Logger
}

func NewEventService(repo domain.EventRepository, publisher domain.EventPublisher, logger *zerolog.Logger) *EventService {
	return &EventService{
		events:    repo,
		publisher: publisher,
		logger:    logger,
	}
}

// List returns events the user owns or participates in.
func (s *EventService) List(ctx context.Context, user *models.User, filter domain.EventFilter) ([]*models.Event, error) {
	return s.events.ListEvents(ctx, user.ID, user.Email, filter)
}

func (s *EventService) Upcoming(ctx context.Context, user *models.User, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = defaultUpcomingLimit
	}
	now := time.Now().UTC()
	return s.events.ListEvents(ctx, user.ID, user.Email, domain.EventFilter{Start: &now, Limit: limit})
}

// Between lists events starting in [from, to).
func (s *EventService) Between(ctx context.Context, user *models.User, from, to time.Time) ([]*models.Event, error) {
	end := to.Add(-time.Nanosecond)
	return s.events.ListEvents(ctx, user.ID, user.Email, domain.EventFilter{Start: &from, End: &end})
}

// FindByTitle matches owned active events only, so chat deletes never touch
// events the user merely attends.
func (s *EventService) FindByTitle(ctx context.Context, user *models.User, title string) ([]*models.Event, error) {
	return s.events.ListEvents(ctx, user.ID, "", domain.EventFilter{Search: title})
}

func (s *EventService) Get(ctx context.Context, user *models.User, id uuid.UUID) (*models.Event, error) {
	ev, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive {
		return nil, domain.ErrNotFound
	}
	if ev.OwnerID != user.ID && !hasParticipant(ev, user.Email) {
		return nil, domain.ErrForbidden
	}
	return ev, nil
}

func (s *EventService) Create(ctx context.Context, user *models.User, in EventInput) (*models.Event, error) {
	ev := &models.Event{
		OwnerID:   user.ID,
		EventType: models.EventTypeMeeting,
		IsActive:  true,
	}
	if in.StartDatetime == nil || strings.TrimSpace(*in.StartDatetime) == "" {
		return nil, domain.Invalid("start_datetime", "is required")
	}
	if err := applyEventInput(ev, in); err != nil {
		return nil, err
	}
	if ev.Title == "" {
		return nil, domain.Invalid("title", "is required")
	}
	if err := s.events.CreateEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.publish(events.EventCreated, ev)
	return ev, nil
}

func (s *EventService) Update(ctx context.Context, user *models.User, id uuid.UUID, in EventInput) (*models.Event, error) {
	ev, err := s.owned(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := applyEventInput(ev, in); err != nil {
		return nil, err
	}
	if ev.Title == "" {
		return nil, domain.Invalid("title", "is required")
	}
	if err := s.events.UpdateEvent(ctx, ev); err != nil {
		return nil, err
	}
	s.publish(events.EventUpdated, ev)
	return ev, nil
}

// Delete soft-deletes an owned event.
func (s *EventService) Delete(ctx context.Context, user *models.User, id uuid.UUID) error {
	ev, err := s.owned(ctx, user, id)
	if err != nil {
		return err
	}
	if err := s.events.SoftDeleteEvent(ctx, ev.ID); err != nil {
		return err
	}
	s.publish(events.EventDeleted, ev)
	return nil
}

func (s *EventService) owned(ctx context.Context, user *models.User, id uuid.UUID) (*models.Event, error) {
	ev, err := s.events.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.IsActive {
		return nil, domain.ErrNotFound
	}
	if ev.OwnerID != user.ID {
		return nil, domain.ErrForbidden
	}
	return ev, nil
}

func (s *EventService) publish(topic string, ev *models.Event) {
	if s.publisher == nil {
		return
	}
	payload := events.CalendarEventPayload{
		EventID:   ev.ID,
		OwnerID:   ev.OwnerID,
		Title:     ev.Title,
		ChangedAt: time.Now().UTC(),
	}
	if ev.GoogleEventID != nil {
		payload.GoogleEventID = *ev.GoogleEventID
	}
	if err := s.publisher.PublishJSON(topic, payload); err != nil {
		s.logger.Warn().Err(err).Str("topic", topic).Str("event_id", ev.ID.String()).Msg("failed to publish event change")
	}
}

func applyEventInput(ev *models.Event, in EventInput) error {
	trim := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	trim(&ev.Title, in.Title)
	trim(&ev.Description, in.Description)
	trim(&ev.Location, in.Location)
	trim(&ev.Project, in.Project)
	trim(&ev.RepeatPattern, in.RepeatPattern)
	if in.EventType != nil && strings.TrimSpace(*in.EventType) != "" {
		ev.EventType = strings.ToLower(strings.TrimSpace(*in.EventType))
	}

	if in.StartDatetime != nil {
		start, err := ParseDateTime("start_datetime", *in.StartDatetime)
		if err != nil {
			return err
		}
		ev.StartDatetime = start
	}
	if in.EndDatetime != nil {
		end, err := parseOptionalTime("end_datetime", in.EndDatetime)
		if err != nil {
			return err
		}
		ev.EndDatetime = end
	}
	if ev.EndDatetime != nil && ev.EndDatetime.Before(ev.StartDatetime) {
		return domain.Invalid("end_datetime", "must not be before start_datetime")
	}

	if in.Participants != nil {
		ev.Participants = []models.Participant(*in.Participants)
	}
	return nil
}

func hasParticipant(ev *models.Event, email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, p := range ev.Participants {
		if strings.EqualFold(p.Email, email) {
			return true
		}
	}
	return false
}

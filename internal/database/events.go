package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
)

func (db *DB) CreateEvent(ctx context.Context, event *models.Event) error {
	normalizeParticipants(event)
	if err := db.gorm.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("create event: %w", mapError(err))
	}
	return nil
}

func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := db.gorm.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &event, nil
}

func (db *DB) UpdateEvent(ctx context.Context, event *models.Event) error {
	normalizeParticipants(event)
	if err := db.gorm.WithContext(ctx).Save(event).Error; err != nil {
		return fmt.Errorf("update event: %w", mapError(err))
	}
	return nil
}

// SoftDeleteEvent clears is_active; the row is kept.
func (db *DB) SoftDeleteEvent(ctx context.Context, id uuid.UUID) error {
	res := db.gorm.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("delete event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) ListEvents(
	ctx context.Context,
	ownerID uuid.UUID,
	participantEmail string,
	filter domain.EventFilter,
) ([]*models.Event, error) {
	q := db.gorm.WithContext(ctx).Where("is_active = ?", true)

	email := strings.ToLower(strings.TrimSpace(participantEmail))
	if email != "" {
		cond, arg, err := db.participantCondition(email)
		if err != nil {
			return nil, err
		}
		q = q.Where("(owner_id = ? OR "+cond+")", ownerID, arg)
	} else {
		q = q.Where("owner_id = ?", ownerID)
	}

	if filter.Start != nil {
		q = q.Where("start_datetime >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		q = q.Where("start_datetime <= ?", filter.End.UTC())
	}
	if p := strings.TrimSpace(filter.Project); p != "" {
		q = q.Where("LOWER(project) = ?", strings.ToLower(p))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		term := likeTerm(s)
		q = q.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(location) LIKE ?)", term, term, term)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var events []*models.Event
	if err := q.Order("start_datetime ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// participantCondition returns a dialect specific JSON containment predicate
// matching events whose participants include email.
func (db *DB) participantCondition(email string) (string, any, error) {
	if db.dialect == dialectPostgres {
		needle, err := json.Marshal([]models.Participant{{Email: email}})
		if err != nil {
			return "", nil, fmt.Errorf("participant filter: %w", err)
		}
		return "participants @> CAST(? AS jsonb)", string(needle), nil
	}
	return "EXISTS (SELECT 1 FROM json_each(events.participants) " +
		"WHERE LOWER(json_extract(json_each.value, '$.email')) = ?)", email, nil
}

func (db *DB) FindEventByGoogleID(ctx context.Context, ownerID uuid.UUID, googleEventID string) (*models.Event, error) {
	var event models.Event
	err := db.gorm.WithContext(ctx).
		Where("owner_id = ? AND google_event_id = ?", ownerID, googleEventID).
		First(&event).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &event, nil
}

// SetEventGoogleID records the calendar id of a mirrored event without
// touching the other columns.
func (db *DB) SetEventGoogleID(ctx context.Context, id uuid.UUID, googleEventID string) error {
	res := db.gorm.WithContext(ctx).
		Model(&models.Event{}).
		Where("id = ?", id).
		Update("google_event_id", googleEventID)
	if res.Error != nil {
		return fmt.Errorf("set google event id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func normalizeParticipants(event *models.Event) {
	for i := range event.Participants {
		event.Participants[i].Email = strings.ToLower(strings.TrimSpace(event.Participants[i].Email))
	}
}

package database

import (
	"context"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// personSearchColumns are matched with LOWER(col) LIKE. The concatenation
// lets "John Smith" find a contact split over both name columns.
var personSearchColumns = []string{
	"first_name", "last_name", "first_name || ' ' || last_name",
	"email", "company", "job_title", "notes", "tags", "location",
}

func (db *DB) CreatePerson(ctx context.Context, person *models.Person) error {
	person.Email = strings.ToLower(strings.TrimSpace(person.Email))
	if err := db.gorm.WithContext(ctx).Create(person).Error; err != nil {
		return fmt.Errorf("create person: %w", mapError(err))
	}
	return nil
}

func (db *DB) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	var person models.Person
	if err := db.gorm.WithContext(ctx).First(&person, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &person, nil
}

func (db *DB) UpdatePerson(ctx context.Context, person *models.Person) error {
	person.Email = strings.ToLower(strings.TrimSpace(person.Email))
	if err := db.gorm.WithContext(ctx).Save(person).Error; err != nil {
		return fmt.Errorf("update person: %w", mapError(err))
	}
	return nil
}

func (db *DB) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tx := db.gorm.WithContext(ctx)
	if err := tx.Where("person_id = ?", id).Delete(&models.PersonShare{}).Error; err != nil {
		return fmt.Errorf("delete person shares: %w", err)
	}
	res := tx.Delete(&models.Person{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete person: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteAllPeople removes every contact owned by ownerID and returns the count.
func (db *DB) DeleteAllPeople(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	tx := db.gorm.WithContext(ctx)
	if err := tx.Where("owner_id = ?", ownerID).Delete(&models.PersonShare{}).Error; err != nil {
		return 0, fmt.Errorf("delete shares: %w", err)
	}
	res := tx.Where("owner_id = ?", ownerID).Delete(&models.Person{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete people: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListPeople returns contacts owned by ownerID, plus contacts shared with them
// when filter.IncludeShared is set. Search matches any text column.
func (db *DB) ListPeople(ctx context.Context, ownerID uuid.UUID, filter domain.PersonFilter) ([]*models.Person, error) {
	q := db.gorm.WithContext(ctx).Model(&models.Person{})

	if filter.IncludeShared {
		shared := db.gorm.Model(&models.PersonShare{}).
			Select("person_id").
			Where("shared_with_user_id = ?", ownerID)
		q = q.Where("(owner_id = ? OR id IN (?))", ownerID, shared)
	} else {
		q = q.Where("owner_id = ?", ownerID)
	}

	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where(anyColumnLike(personSearchColumns), repeatArg(likeTerm(s), len(personSearchColumns))...)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var people []*models.Person
	if err := q.Order("created_at DESC").Find(&people).Error; err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	return people, nil
}

func (db *DB) FindPersonByEmail(ctx context.Context, ownerID uuid.UUID, email string) (*models.Person, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.ErrNotFound
	}
	var person models.Person
	err := db.gorm.WithContext(ctx).
		Where("owner_id = ? AND LOWER(email) = ?", ownerID, email).
		First(&person).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &person, nil
}

func (db *DB) FindPersonByGoogleID(ctx context.Context, ownerID uuid.UUID, googleID string) (*models.Person, error) {
	var person models.Person
	err := db.gorm.WithContext(ctx).
		Where("owner_id = ? AND google_contact_id = ?", ownerID, googleID).
		First(&person).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &person, nil
}

// SharePerson grants access, updating the permission when a share exists.
func (db *DB) SharePerson(ctx context.Context, share *models.PersonShare) error {
	err := db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "person_id"}, {Name: "shared_with_user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"permission"}),
		}).
		Create(share).Error
	if err != nil {
		return fmt.Errorf("share person: %w", mapError(err))
	}
	return nil
}

func (db *DB) GetShare(ctx context.Context, personID, userID uuid.UUID) (*models.PersonShare, error) {
	var share models.PersonShare
	err := db.gorm.WithContext(ctx).
		Where("person_id = ? AND shared_with_user_id = ?", personID, userID).
		First(&share).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &share, nil
}

// anyColumnLike builds "(LOWER(a) LIKE ? OR LOWER(b) LIKE ? ...)".
func anyColumnLike(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = "LOWER(" + c + ") LIKE ?"
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func repeatArg(v any, n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = v
	}
	return args
}

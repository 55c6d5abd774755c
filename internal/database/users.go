package database

import (
	"context"
	"fmt"
	"strings"

	"neonetworker/internal/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.PreferredMessagingPlatform == "" {
		user.PreferredMessagingPlatform = models.PlatformTelegram
	}
	if err := db.gorm.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", mapError(err))
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.gorm.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := db.gorm.WithContext(ctx).
		First(&user, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (db *DB) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := db.gorm.WithContext(ctx).First(&user, "telegram_id = ?", telegramID).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

func (db *DB) GetUserByWhatsAppPhone(ctx context.Context, phone string) (*models.User, error) {
	var user models.User
	if err := db.gorm.WithContext(ctx).First(&user, "whatsapp_phone = ?", phone).Error; err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// UpdateUser saves every column except the chat state, including zero values
// such as is_approved=false. Chat state is written by SaveChatState only.
func (db *DB) UpdateUser(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if err := db.gorm.WithContext(ctx).Omit("state_data").Save(user).Error; err != nil {
		return fmt.Errorf("update user: %w", mapError(err))
	}
	return nil
}

func (db *DB) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := db.gorm.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (db *DB) ListGoogleLinkedUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := db.gorm.WithContext(ctx).
		Where("google_refresh_token <> '' OR google_access_token <> ''").
		Order("created_at").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("list google users: %w", err)
	}
	return users, nil
}

// DeleteUser removes the user together with every row they own.
func (db *DB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return db.gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			return mapError(err)
		}

		steps := []struct {
			model any
			where string
			args  []any
		}{
			{&models.PersonShare{}, "owner_id = ? OR shared_with_user_id = ?", []any{id, id}},
			{&models.Person{}, "owner_id = ?", []any{id}},
			{&models.Task{}, "owner_id = ?", []any{id}},
			{&models.Event{}, "owner_id = ?", []any{id}},
			{&models.Notification{}, "user_email = ?", []any{user.Email}},
		}
		for _, s := range steps {
			if err := tx.Where(s.where, s.args...).Delete(s.model).Error; err != nil {
				return fmt.Errorf("delete user data: %w", err)
			}
		}

		if err := tx.Delete(&models.User{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
}

// CountRecords returns table sizes for the admin stats endpoint.
func (db *DB) CountRecords(ctx context.Context) (map[string]int64, error) {
	counts := map[string]int64{}
	tables := []struct {
		name  string
		model any
		where string
	}{
		{"users", &models.User{}, ""},
		{"approved_users", &models.User{}, "is_approved = ?"},
		{"people", &models.Person{}, ""},
		{"tasks", &models.Task{}, ""},
		{"events", &models.Event{}, "is_active = ?"},
	}

	for _, t := range tables {
		var n int64
		q := db.gorm.WithContext(ctx).Model(t.model)
		if t.where != "" {
			q = q.Where(t.where, true)
		}
		if err := q.Count(&n).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", t.name, err)
		}
		counts[t.name] = n
	}
	return counts, nil
}

// GetChatState reads the state blob stored on the user row.
func (db *DB) GetChatState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	var user models.User
	err := db.gorm.WithContext(ctx).Select("id", "state_data").First(&user, "id = ?", userID).Error
	if err != nil {
		return nil, mapError(err)
	}
	state := user.StateData.Data()
	state.UserID = userID
	return &state, nil
}

// SaveChatState overwrites the state blob in a single column update.
func (db *DB) SaveChatState(ctx context.Context, state *models.ChatState) error {
	res := db.gorm.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", state.UserID).
		Update("state_data", datatypes.NewJSONType(*state))
	if res.Error != nil {
		return fmt.Errorf("save chat state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("save chat state: %w", mapError(gorm.ErrRecordNotFound))
	}
	return nil
}

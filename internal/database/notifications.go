package database

import (
	"context"
	"fmt"
	"strings"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
)

func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	n.UserEmail = strings.ToLower(strings.TrimSpace(n.UserEmail))
	if err := db.gorm.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("create notification: %w", mapError(err))
	}
	return nil
}

func (db *DB) ListNotifications(ctx context.Context, email string, unreadOnly bool) ([]*models.Notification, error) {
	q := db.gorm.WithContext(ctx).Where("user_email = ?", strings.ToLower(strings.TrimSpace(email)))
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}

	var out []*models.Notification
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead only touches rows addressed to email.
func (db *DB) MarkNotificationRead(ctx context.Context, id uuid.UUID, email string) error {
	res := db.gorm.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_email = ?", id, strings.ToLower(strings.TrimSpace(email))).
		Update("is_read", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification read: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

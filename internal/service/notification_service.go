package service

import (
	"context"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
)

type NotificationService struct {
	repo domain.NotificationRepository
}

func NewNotificationService(repo domain.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) List(ctx context.Context, user *models.User, unreadOnly bool) ([]*models.Notification, error) {
	return s.repo.ListNotifications(ctx, user.Email, unreadOnly)
}

func (s *NotificationService) MarkRead(ctx context.Context, user *models.User, id uuid.UUID) error {
	return s.repo.MarkNotificationRead(ctx, id, user.Email)
}

func (s *NotificationService) Notify(ctx context.Context, email, kind, message string) error {
	return s.repo.CreateNotification(ctx, &models.Notification{UserEmail: email, Type: kind, Message: message})
}

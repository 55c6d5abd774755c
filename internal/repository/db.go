package repository

import (
	"context"
	"errors"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
)

type chatStateStore interface {
	GetChatState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error)
	SaveChatState(ctx context.Context, state *models.ChatState) error
}

// DBStateRepository persists chat state in the users.state_data column.
// Rate limiting is process local.
type DBStateRepository struct {
	store  chatStateStore
	limits *MemoryStateRepository
}

func NewDBStateRepository(store chatStateStore) *DBStateRepository {
	return &DBStateRepository{
		store:  store,
		limits: NewMemoryStateRepository(0),
	}
}

func (r *DBStateRepository) GetState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	state, err := r.store.GetChatState(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !state.Waiting() && state.ThreadID == "" {
		return nil, nil
	}
	return state, nil
}

func (r *DBStateRepository) SetState(ctx context.Context, state *models.ChatState) error {
	return r.store.SaveChatState(ctx, state)
}

// ClearState resets the column to an empty state.
func (r *DBStateRepository) ClearState(ctx context.Context, userID uuid.UUID) error {
	err := r.store.SaveChatState(ctx, &models.ChatState{UserID: userID, Current: models.StateIdle, UpdatedAt: time.Now()})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (r *DBStateRepository) CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error) {
	return r.limits.CheckRateLimit(ctx, userID, limit, window)
}

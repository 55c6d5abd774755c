package service

import (
	"context"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StateService owns the chat state machine storage. Every write replaces the
// whole state.
type StateService struct {
	stateRepo domain.StateRepository
	logger    *zerolog.Logger
}

func NewStateService(stateRepo domain.StateRepository, logger *zerolog.Logger) *StateService {
	return &StateService{
		stateRepo: stateRepo,
		logger:    logger,
	}
}

// GetUserState returns the stored state, or idle when none is stored.
func (s *StateService) GetUserState(ctx context.Context, userID uuid.UUID) (models.ChatState, error) {
	state, err := s.stateRepo.GetState(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get user state")
		return models.ChatState{}, err
	}
	if state == nil {
		return models.ChatState{UserID: userID, Current: models.StateIdle}, nil
	}
	state.UserID = userID
	return *state, nil
}

// Transition stores next atomically. An idle state with no assistant thread
// is deleted rather than stored.
func (s *StateService) Transition(ctx context.Context, next models.ChatState) error {
	if !next.Waiting() && next.ThreadID == "" {
		return s.stateRepo.ClearState(ctx, next.UserID)
	}
	next.UpdatedAt = time.Now().UTC()
	if err := s.stateRepo.SetState(ctx, &next); err != nil {
		s.logger.Error().Err(err).Str("user_id", next.UserID.String()).Str("state", string(next.Kind())).Msg("failed to set user state")
		return err
	}
	return nil
}

// ResetUserState returns the user to idle, keeping the assistant thread.
func (s *StateService) ResetUserState(ctx context.Context, userID uuid.UUID) error {
	current, err := s.GetUserState(ctx, userID)
	if err != nil {
		return err
	}
	return s.Transition(ctx, current.Idle())
}

func (s *StateService) CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error) {
	return s.stateRepo.CheckRateLimit(ctx, userID, limit, window)
}

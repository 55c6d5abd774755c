package repository

import (
	"context"
	"testing"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateStore struct {
	states map[uuid.UUID]models.ChatState
}

func (f *fakeStateStore) GetChatState(_ context.Context, userID uuid.UUID) (*models.ChatState, error) {
	s, ok := f.states[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (f *fakeStateStore) SaveChatState(_ context.Context, state *models.ChatState) error {
	if _, ok := f.states[state.UserID]; !ok {
		return domain.ErrNotFound
	}
	f.states[state.UserID] = *state
	return nil
}

func TestDBStateRepository(t *testing.T) {
	ctx := context.Background()
	known := uuid.New()
	store := &fakeStateStore{states: map[uuid.UUID]models.ChatState{known: {}}}
	repo := NewDBStateRepository(store)

	got, err := repo.GetState(ctx, known)
	require.NoError(t, err)
	assert.Nil(t, got, "an idle state without a thread reads as absent")

	got, err = repo.GetState(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)

	waiting := (models.ChatState{UserID: known}).WaitingDelete(models.StateWaitingTaskDelete, []models.Candidate{
		{ID: uuid.New(), Label: "Buy milk"},
	})
	require.NoError(t, repo.SetState(ctx, &waiting))

	got, err = repo.GetState(ctx, known)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StateWaitingTaskDelete, got.Current)
	assert.Equal(t, "Buy milk", got.TargetLabel)

	require.NoError(t, repo.ClearState(ctx, known))
	got, err = repo.GetState(ctx, known)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, repo.ClearState(ctx, uuid.New()))

	allowed, err := repo.CheckRateLimit(ctx, known, 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	allowed, err = repo.CheckRateLimit(ctx, known, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

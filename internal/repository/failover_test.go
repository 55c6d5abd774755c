package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ChatState), args.Error(1)
}

func (m *mockRepo) SetState(ctx context.Context, state *models.ChatState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *mockRepo) ClearState(ctx context.Context, userID uuid.UUID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, userID, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverStateRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverStateRepository(primary, fallback, &logger)
	ctx := context.Background()

	markDownAt := func(at time.Time) {
		repo.isDown.Store(true)
		repo.lastCheck.Store(at.UnixNano())
	}

	t.Run("PrimarySuccess", func(t *testing.T) {
		id := uuid.New()
		state := &models.ChatState{UserID: id}
		primary.On("GetState", ctx, id).Return(state, nil).Once()

		got, err := repo.GetState(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryMissReadsFallback", func(t *testing.T) {
		id := uuid.New()
		state := &models.ChatState{UserID: id, ThreadID: "thread_1"}
		primary.On("GetState", ctx, id).Return(nil, nil).Once()
		fallback.On("GetState", ctx, id).Return(state, nil).Once()

		got, err := repo.GetState(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		assert.False(t, repo.isDown.Load())
		fallback.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		id := uuid.New()
		state := &models.ChatState{UserID: id}
		primary.On("GetState", ctx, id).Return(nil, errors.New("fail")).Once()
		fallback.On("GetState", ctx, id).Return(state, nil).Once()

		got, err := repo.GetState(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		markDownAt(time.Now().Add(-2 * time.Minute))

		id := uuid.New()
		state := &models.ChatState{UserID: id}
		primary.On("GetState", ctx, id).Return(state, nil).Once()
		fallback.On("GetState", ctx, id).Return(state, nil).Once()
		primary.On("SetState", ctx, state).Return(nil).Once()

		got, err := repo.GetState(ctx, id)
		assert.NoError(t, err)
		assert.Equal(t, state, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttemptFail", func(t *testing.T) {
		markDownAt(time.Now().Add(-2 * time.Minute))

		id := uuid.New()
		primary.On("GetState", ctx, id).Return(nil, errors.New("still fail")).Once()
		fallback.On("GetState", ctx, id).Return(nil, nil).Once()

		_, err := repo.GetState(ctx, id)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("SetStateWritesThrough", func(t *testing.T) {
		repo.isDown.Store(false)
		state := &models.ChatState{UserID: uuid.New()}
		primary.On("SetState", ctx, state).Return(nil).Once()
		fallback.On("SetState", ctx, state).Return(nil).Once()

		err := repo.SetState(ctx, state)
		assert.NoError(t, err)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("ClearStateWritesThrough", func(t *testing.T) {
		repo.isDown.Store(false)
		id := uuid.New()
		primary.On("ClearState", ctx, id).Return(nil).Once()
		fallback.On("ClearState", ctx, id).Return(nil).Once()

		err := repo.ClearState(ctx, id)
		assert.NoError(t, err)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("CheckRateLimitSuccess", func(t *testing.T) {
		repo.isDown.Store(false)
		id := uuid.New()
		primary.On("CheckRateLimit", ctx, id, 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, id, 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		primary.AssertExpectations(t)
	})

	t.Run("SetStateFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		state := &models.ChatState{UserID: uuid.New()}
		primary.On("SetState", ctx, state).Return(errors.New("fail")).Once()
		fallback.On("SetState", ctx, state).Return(nil).Once()

		err := repo.SetState(ctx, state)
		assert.NoError(t, err)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("CheckRateLimitFailover", func(t *testing.T) {
		repo.isDown.Store(false)
		id := uuid.New()
		primary.On("CheckRateLimit", ctx, id, 10, time.Minute).Return(false, errors.New("fail")).Once()
		fallback.On("CheckRateLimit", ctx, id, 10, time.Minute).Return(true, nil).Once()

		allowed, err := repo.CheckRateLimit(ctx, id, 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("AlreadyDownSkipsPrimary", func(t *testing.T) {
		markDownAt(time.Now())
		id := uuid.New()
		state := &models.ChatState{UserID: id}
		fallback.On("SetState", ctx, state).Return(nil).Once()
		fallback.On("ClearState", ctx, id).Return(nil).Once()
		fallback.On("CheckRateLimit", ctx, id, 10, time.Minute).Return(true, nil).Once()

		assert.NoError(t, repo.SetState(ctx, state))
		assert.NoError(t, repo.ClearState(ctx, id))
		allowed, err := repo.CheckRateLimit(ctx, id, 10, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)

		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "SetState", ctx, state)
		primary.AssertNotCalled(t, "ClearState", ctx, id)
	})
}

func TestFailoverStateRepository_ClearDuringOutage(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverStateRepository(primary, fallback, &logger)
	ctx := context.Background()
	id := uuid.New()

	stale := &models.ChatState{UserID: id, Current: models.StateWaitingVoiceApproval, Transcript: "delete Bob", UpdatedAt: time.Now().Add(-time.Hour)}

	// Primary fails while the pending state is cleared; only fallback sees it.
	primary.On("ClearState", ctx, id).Return(errors.New("connection refused")).Once()
	fallback.On("ClearState", ctx, id).Return(nil).Once()
	assert.NoError(t, repo.ClearState(ctx, id))
	assert.True(t, repo.isDown.Load())

	repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

	// Primary is back but still holds the pre-outage entry.
	primary.On("GetState", ctx, id).Return(stale, nil).Once()
	fallback.On("GetState", ctx, id).Return(nil, nil).Once()
	primary.On("ClearState", ctx, id).Return(nil).Once()

	got, err := repo.GetState(ctx, id)
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, repo.isDown.Load())

	// Once resynced, primary is trusted again without touching fallback.
	fresh := &models.ChatState{UserID: id, Current: models.StateIdle, ThreadID: "thread_9", UpdatedAt: time.Now().Add(-time.Hour)}
	primary.On("GetState", ctx, id).Return(fresh, nil).Once()
	got, err = repo.GetState(ctx, id)
	assert.NoError(t, err)
	assert.Equal(t, fresh, got)

	// Entries written after recovery skip the resync entirely.
	other := uuid.New()
	recent := &models.ChatState{UserID: other, ThreadID: "thread_1", UpdatedAt: time.Now().Add(time.Second)}
	primary.On("GetState", ctx, other).Return(recent, nil).Once()
	got, err = repo.GetState(ctx, other)
	assert.NoError(t, err)
	assert.Equal(t, recent, got)

	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
	fallback.AssertNumberOfCalls(t, "GetState", 1)
}

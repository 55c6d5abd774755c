package repository

import (
	"context"
	"testing"
	"time"

	"neonetworker/internal/config"
	"neonetworker/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStateRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisStateRepository(client, time.Hour)
	ctx := context.Background()

	t.Run("SetAndGetState", func(t *testing.T) {
		userID := uuid.New()
		state := (models.ChatState{UserID: userID, ThreadID: "thread_abc"}).WaitingVoice("add task call Bob")

		err := repo.SetState(ctx, &state)
		require.NoError(t, err)
		assert.True(t, s.Exists("chat_state:"+userID.String()))

		got, err := repo.GetState(ctx, userID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.StateWaitingVoiceApproval, got.Current)
		assert.Equal(t, "add task call Bob", got.Transcript)
		assert.Equal(t, "thread_abc", got.ThreadID)
	})

	t.Run("StateExpires", func(t *testing.T) {
		userID := uuid.New()
		state := models.ChatState{UserID: userID, Current: models.StateWaitingTaskDelete}
		require.NoError(t, repo.SetState(ctx, &state))

		s.FastForward(time.Hour + time.Second)

		got, err := repo.GetState(ctx, userID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("GetNonExistentState", func(t *testing.T) {
		got, err := repo.GetState(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ClearState", func(t *testing.T) {
		userID := uuid.New()
		state := &models.ChatState{UserID: userID, Current: models.StateWaitingPersonDelete}
		require.NoError(t, repo.SetState(ctx, state))

		err := repo.ClearState(ctx, userID)
		require.NoError(t, err)

		got, _ := repo.GetState(ctx, userID)
		assert.Nil(t, got)
	})

	t.Run("RateLimit", func(t *testing.T) {
		userID := uuid.New()
		limit := 2
		window := time.Second

		allowed, err := repo.CheckRateLimit(ctx, userID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = repo.CheckRateLimit(ctx, userID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Third request exceeds the limit
		allowed, err = repo.CheckRateLimit(ctx, userID, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		s.FastForward(window + time.Millisecond)

		allowed, err = repo.CheckRateLimit(ctx, userID, limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisStateRepository(nil, time.Hour)
		_, err := repo.GetState(ctx, uuid.New())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})
}

func TestNewRedisClient(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	t.Run("Address", func(t *testing.T) {
		client, err := NewRedisClient(config.RedisConfig{Address: s.Addr(), PoolSize: 2})
		require.NoError(t, err)
		defer Close(client)
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("URL", func(t *testing.T) {
		client, err := NewRedisClient(config.RedisConfig{Address: "redis://" + s.Addr() + "/0"})
		require.NoError(t, err)
		defer Close(client)
		assert.NoError(t, Ping(ctx, client))
	})

	t.Run("BadURL", func(t *testing.T) {
		_, err := NewRedisClient(config.RedisConfig{Address: "ftp://nowhere"})
		assert.Error(t, err)
	})
}

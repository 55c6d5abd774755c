package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"neonetworker/internal/domain"
	"neonetworker/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// retryPrimaryAfter is how long the primary stays bypassed after a failure.
const retryPrimaryAfter = time.Minute

// FailoverStateRepository serves chat state from primary (Redis) and switches
// to fallback (the users.state_data column) while primary is failing.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64

	// Primary entries older than recoveredAt may have missed writes that only
	// reached fallback. resynced holds users already refreshed since then.
	recoveredAt atomic.Int64
	resynced    sync.Map
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should try primary. After
// retryPrimaryAfter a single probe is let through.
func (r *FailoverStateRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > retryPrimaryAfter
}

func (r *FailoverStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverStateRepository) markUp() {
	if r.isDown.Swap(false) {
		r.resynced.Clear()
		r.recoveredAt.Store(time.Now().UnixNano())
		r.logger.Info().Msg("Primary state repository recovered")
	}
}

func (r *FailoverStateRepository) stale(userID uuid.UUID, state *models.ChatState) bool {
	at := r.recoveredAt.Load()
	if at == 0 || !state.UpdatedAt.Before(time.Unix(0, at)) {
		return false
	}
	_, done := r.resynced.Load(userID)
	return !done
}

// resync overwrites primary with the fallback copy, which kept taking writes
// during the outage.
func (r *FailoverStateRepository) resync(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	state, err := r.fallback.GetState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		err = r.primary.ClearState(ctx, userID)
	} else {
		err = r.primary.SetState(ctx, state)
	}
	if err != nil {
		r.markDown(err)
		return state, nil
	}
	r.resynced.Store(userID, struct{}{})
	r.logger.Debug().Str("user_id", userID.String()).Msg("Resynced primary chat state from fallback")
	return state, nil
}

func (r *FailoverStateRepository) GetState(ctx context.Context, userID uuid.UUID) (*models.ChatState, error) {
	if r.usePrimary() {
		state, err := r.primary.GetState(ctx, userID)
		if err == nil {
			r.markUp()
			if state != nil && r.stale(userID, state) {
				return r.resync(ctx, userID)
			}
			if state != nil {
				return state, nil
			}
			// Redis entries expire; the column copy outlives them.
			return r.fallback.GetState(ctx, userID)
		}
		r.markDown(err)
	}

	return r.fallback.GetState(ctx, userID)
}

// SetState writes through to fallback so the durable copy is always current.
func (r *FailoverStateRepository) SetState(ctx context.Context, state *models.ChatState) error {
	if r.usePrimary() {
		if err := r.primary.SetState(ctx, state); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}

	return r.fallback.SetState(ctx, state)
}

func (r *FailoverStateRepository) ClearState(ctx context.Context, userID uuid.UUID) error {
	if r.usePrimary() {
		if err := r.primary.ClearState(ctx, userID); err != nil {
			r.markDown(err)
		} else {
			r.markUp()
		}
	}

	return r.fallback.ClearState(ctx, userID)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, userID uuid.UUID, limit int, window time.Duration) (bool, error) {
	if r.usePrimary() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			r.markUp()
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}

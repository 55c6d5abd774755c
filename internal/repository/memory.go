package repository

import (
	"context"
	"sync"
	"time"

	"neonetworker/internal/models"

	"github.com/google/uuid"
)

type window struct {
	count int
	reset time.Time
}

type storedState struct {
	state   models.ChatState
	expires time.Time
}

// MemoryStateRepository keeps chat state and rate limit windows in process.
// A zero ttl keeps states until cleared.
type MemoryStateRepository struct {
	mu      sync.Mutex
	ttl     time.Duration
	states  map[uuid.UUID]storedState
	windows map[uuid.UUID]*window
	now     func() time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		ttl:     ttl,
		states:  make(map[uuid.UUID]storedState),
		windows: make(map[uuid.UUID]*window),
		now:     time.Now,
	}
}

// GetState returns a copy, or nil when absent or expired.
func (r *MemoryStateRepository) GetState(_ context.Context, userID uuid.UUID) (*models.ChatState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	if !st.expires.IsZero() && r.now().After(st.expires) {
		delete(r.states, userID)
		return nil, nil
	}
	out := st.state
	return &out, nil
}

func (r *MemoryStateRepository) SetState(_ context.Context, state *models.ChatState) error {
	st := storedState{state: *state}
	if r.ttl > 0 {
		st.expires = r.now().Add(r.ttl)
	}

	r.mu.Lock()
	r.states[state.UserID] = st
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepository) ClearState(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	delete(r.states, userID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryStateRepository) CheckRateLimit(_ context.Context, userID uuid.UUID, limit int, period time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.windows[userID]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(period)}
		r.windows[userID] = w
	}
	w.count++
	return w.count <= limit, nil
}

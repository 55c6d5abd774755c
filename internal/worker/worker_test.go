package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"neonetworker/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMirror struct {
	mu       sync.Mutex
	upserts  []uuid.UUID
	deletes  []string
	failures int
}

func (f *fakeMirror) UpsertEvent(_ context.Context, _, eventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("boom")
	}
	f.upserts = append(f.upserts, eventID)
	return nil
}

func (f *fakeMirror) DeleteEvent(_ context.Context, _ uuid.UUID, googleEventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, googleEventID)
	return nil
}

func (f *fakeMirror) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func TestProcessTaskSuccess(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewCalendarWorker(mirror, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	eventID := uuid.New()
	require.NoError(t, w.Enqueue(ctx, CalendarTask{Type: TaskUpsert, EventID: eventID, OwnerID: uuid.New()}))

	task, ok := w.tryLocalQueue()
	require.True(t, ok)
	w.processTask(ctx, &task)

	assert.Equal(t, []uuid.UUID{eventID}, mirror.upserts)
}

func TestProcessTaskRetry(t *testing.T) {
	mirror := &fakeMirror{failures: 1}
	w := NewCalendarWorker(mirror, nil, RetryPolicy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, w.Enqueue(ctx, CalendarTask{Type: TaskUpsert, EventID: uuid.New()}))

	assert.Eventually(t, func() bool { return mirror.upsertCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-w.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestProcessTaskDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	mirror := &fakeMirror{failures: 10}
	w := NewCalendarWorker(mirror, client, RetryPolicy{MaxRetries: 1}, nil)
	ctx := context.Background()

	task := CalendarTask{Type: TaskUpsert, EventID: uuid.New()}
	w.processTask(ctx, &task)

	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, "boom", task.LastError)
	n, err := client.LLen(ctx, "calendar:deadletter").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueViaRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	w := NewCalendarWorker(&fakeMirror{}, client, RetryPolicy{}, nil)
	ctx := context.Background()

	eventID := uuid.New()
	require.NoError(t, w.Enqueue(ctx, CalendarTask{Type: TaskUpsert, EventID: eventID}))

	_, ok := w.tryLocalQueue()
	assert.False(t, ok)

	task, ok := w.tryRedis(ctx)
	require.True(t, ok)
	assert.Equal(t, eventID, task.EventID)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestEnqueueValidation(t *testing.T) {
	w := NewCalendarWorker(&fakeMirror{}, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	assert.Error(t, w.Enqueue(ctx, CalendarTask{Type: TaskUpsert}))
	assert.Error(t, w.Enqueue(ctx, CalendarTask{Type: "bogus", EventID: uuid.New()}))

	// A delete for an event that was never mirrored is a no-op.
	require.NoError(t, w.Enqueue(ctx, CalendarTask{Type: TaskDelete, EventID: uuid.New()}))
	_, ok := w.tryLocalQueue()
	assert.False(t, ok)
}

func TestSubscribe(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewCalendarWorker(mirror, nil, RetryPolicy{}, nil)
	bus := events.NewEventBus()
	w.Subscribe(bus)
	ctx := context.Background()

	eventID := uuid.New()
	require.NoError(t, bus.PublishJSON(events.EventCreated, events.CalendarEventPayload{EventID: eventID}))
	require.NoError(t, bus.PublishJSON(events.EventDeleted, events.CalendarEventPayload{EventID: eventID, GoogleEventID: "g-1"}))

	for i := 0; i < 2; i++ {
		task, ok := w.tryLocalQueue()
		require.True(t, ok)
		w.processTask(ctx, &task)
	}

	assert.Equal(t, []uuid.UUID{eventID}, mirror.upserts)
	assert.Equal(t, []string{"g-1"}, mirror.deletes)
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 5*time.Second, policy.NextDelay(5), "capped at MaxDelay")
	assert.Equal(t, time.Second, RetryPolicy{}.NextDelay(0))
}

func TestRetryPolicyDefaultsAndExhausted(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2}.withDefaults()

	assert.Equal(t, 2, policy.MaxRetries)
	assert.Equal(t, DefaultRetryPolicy.InitialDelay, policy.InitialDelay)
	assert.Equal(t, DefaultRetryPolicy.MaxDelay, policy.MaxDelay)
	assert.False(t, policy.Exhausted(1))
	assert.True(t, policy.Exhausted(2))
}

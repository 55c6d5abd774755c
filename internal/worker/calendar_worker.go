package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"neonetworker/internal/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskUpsert = "upsert"
	TaskDelete = "delete"
)

// CalendarTask mirrors one local event change to Google Calendar.
type CalendarTask struct {
	Type          string    `json:"type"`
	EventID       uuid.UUID `json:"event_id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	GoogleEventID string    `json:"google_event_id,omitempty"`
	Attempt       int       `json:"attempt"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CalendarMirror applies local event changes to the owner's calendar.
type CalendarMirror interface {
	UpsertEvent(ctx context.Context, ownerID, eventID uuid.UUID) error
	DeleteEvent(ctx context.Context, ownerID uuid.UUID, googleEventID string) error
}

// CalendarWorker consumes CalendarTasks from an in-memory queue, or from Redis
// when a client is configured, and retries failures with backoff.
type CalendarWorker struct {
	mirror        CalendarMirror
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan CalendarTask
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger

	wg      sync.WaitGroup
	stopped chan struct{}
}

func NewCalendarWorker(mirror CalendarMirror, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *CalendarWorker {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}

	return &CalendarWorker{
		mirror:        mirror,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan CalendarTask, 128),
		redisQueueKey: "calendar:queue",
		deadLetterKey: "calendar:deadletter",
		logger:        logger,
		stopped:       make(chan struct{}),
	}
}

// Subscribe routes event bus topics into the worker queue.
func (w *CalendarWorker) Subscribe(bus *events.EventBus) {
	handler := func(taskType string) events.EventHandler {
		return func(ev *events.Event) error {
			var p events.CalendarEventPayload
			if err := ev.Decode(&p); err != nil {
				w.logger.Error().Err(err).Str("topic", ev.Type).Msg("decode calendar event")
				return err
			}
			return w.Enqueue(context.Background(), CalendarTask{
				Type:          taskType,
				EventID:       p.EventID,
				OwnerID:       p.OwnerID,
				GoogleEventID: p.GoogleEventID,
			})
		}
	}

	bus.Subscribe(events.EventCreated, handler(TaskUpsert))
	bus.Subscribe(events.EventUpdated, handler(TaskUpsert))
	bus.Subscribe(events.EventDeleted, handler(TaskDelete))
}

// Enqueue schedules task via Redis, falling back to the in-memory queue.
func (w *CalendarWorker) Enqueue(ctx context.Context, task CalendarTask) error {
	switch task.Type {
	case TaskUpsert:
		if task.EventID == uuid.Nil {
			return errors.New("event id is required")
		}
	case TaskDelete:
		if task.GoogleEventID == "" {
			// never mirrored, nothing to remove
			return nil
		}
	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Msg("calendar_worker: redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
		return nil
	default:
		w.logger.Error().Str("event_id", task.EventID.String()).Msg("calendar_worker: queue full, task dropped")
		return errors.New("calendar queue is full")
	}
}

// Start runs the consume loop until ctx is done.
func (w *CalendarWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("calendar_worker: started")
	defer func() {
		w.wg.Wait()
		close(w.stopped)
		w.logger.Info().Msg("calendar_worker: stopped")
	}()

	for {
		if t, ok := w.next(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stopped is closed when Start has returned.
func (w *CalendarWorker) Stopped() <-chan struct{} {
	return w.stopped
}

func (w *CalendarWorker) next(ctx context.Context) (CalendarTask, bool) {
	if t, ok := w.tryLocalQueue(); ok {
		return t, true
	}
	if t, ok := w.tryRedis(ctx); ok {
		return t, true
	}
	if w.redis != nil {
		return CalendarTask{}, false
	}

	select {
	case t := <-w.queue:
		return t, true
	case <-ctx.Done():
		return CalendarTask{}, false
	}
}

func (w *CalendarWorker) tryLocalQueue() (CalendarTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return CalendarTask{}, false
	}
}

func (w *CalendarWorker) tryRedis(ctx context.Context) (CalendarTask, bool) {
	if w.redis == nil {
		return CalendarTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error().Err(err).Msg("calendar_worker: redis BRPOP error")
		}
		return CalendarTask{}, false
	}
	if len(res) != 2 {
		return CalendarTask{}, false
	}
	var task CalendarTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("calendar_worker: decode redis task")
		return CalendarTask{}, false
	}
	return task, true
}

func (w *CalendarWorker) processTask(ctx context.Context, task *CalendarTask) {
	if err := w.handle(ctx, task); err != nil {
		w.retryOrFail(ctx, task, err)
	}
}

func (w *CalendarWorker) handle(ctx context.Context, task *CalendarTask) error {
	switch task.Type {
	case TaskUpsert:
		return w.mirror.UpsertEvent(ctx, task.OwnerID, task.EventID)
	case TaskDelete:
		return w.mirror.DeleteEvent(ctx, task.OwnerID, task.GoogleEventID)
	default:
		return fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func (w *CalendarWorker) retryOrFail(ctx context.Context, task *CalendarTask, cause error) {
	task.Attempt++
	task.LastError = cause.Error()

	log := w.logger.With().
		Str("type", task.Type).
		Str("event_id", task.EventID.String()).
		Int("attempt", task.Attempt).
		Logger()

	if w.retryPolicy.Exhausted(task.Attempt) {
		log.Error().Err(cause).Msg("calendar_worker: giving up")
		w.pushDeadLetter(ctx, task)
		return
	}

	delay := w.retryPolicy.NextDelay(task.Attempt)
	log.Warn().Err(cause).Dur("retry_in", delay).Msg("calendar_worker: task failed")

	retry := *task
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case w.queue <- retry:
		default:
			w.logger.Error().Msg("calendar_worker: queue full, retry dropped")
		}
	}()
}

func (w *CalendarWorker) pushRedis(ctx context.Context, key string, task CalendarTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *CalendarWorker) pushDeadLetter(ctx context.Context, task *CalendarTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
		w.logger.Error().Err(err).Msg("calendar_worker: deadletter push")
	}
}

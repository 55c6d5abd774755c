package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Calendar topics, published after a local event row is committed.
const (
	EventCreated = "event_created"
	EventUpdated = "event_updated"
	EventDeleted = "event_deleted"
)

// CalendarEventPayload is the snapshot published when a local calendar event
// changes. GoogleEventID is set when the event is already mirrored.
type CalendarEventPayload struct {
	EventID       uuid.UUID `json:"event_id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	Title         string    `json:"title"`
	GoogleEventID string    `json:"google_event_id,omitempty"`
	ChangedAt     time.Time `json:"changed_at"`
}

// Event is one message on the bus.
type Event struct {
	ID        uuid.UUID
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus fans events out to the handlers of their topic, synchronously and
// in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	topics map[string][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{topics: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(topic string, handler EventHandler) {
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], handler)
	b.mu.Unlock()
}

// Publish stamps event and runs every handler of its topic. A failing handler
// does not stop the others; all failures are joined into the returned error.
func (b *EventBus) Publish(event *Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	handlers := make([]EventHandler, len(b.topics[event.Type]))
	copy(handlers, b.topics[event.Type])
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(event); err != nil {
			errs = append(errs, fmt.Errorf("%s handler: %w", event.Type, err))
		}
	}
	return errors.Join(errs...)
}

// PublishJSON encodes payload and publishes it on topic. Publishing on a nil
// bus is a no-op.
func (b *EventBus) PublishJSON(topic string, payload any) error {
	if b == nil {
		return nil
	}
	ev, err := NewJSONEvent(topic, payload)
	if err != nil {
		return err
	}
	return b.Publish(&ev)
}

func NewJSONEvent(topic string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", topic, err)
	}
	return Event{ID: uuid.New(), Type: topic, Payload: raw, CreatedAt: time.Now().UTC()}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventReservationCreated = "reservation_created"
	EventReservationUpdated = "reservation_updated"
	EventReservationDeleted = "reservation_deleted"
)

// ReservationEventTypes lists every type published by the booking service.
var ReservationEventTypes = []string{
	EventReservationCreated,
	EventReservationUpdated,
	EventReservationDeleted,
}

// ReservationEventPayload is the reservation snapshot sent to subscribers.
type ReservationEventPayload struct {
	ReservationID int64     `json:"reservation_id"`
	Title         string    `json:"title,omitempty"`
	Name          string    `json:"name,omitempty"`
	Date          string    `json:"date"`
	StartTime     string    `json:"start_time,omitempty"`
	EndTime       string    `json:"end_time,omitempty"`
	ResourceKey   string    `json:"resource_key,omitempty"`
	Replayed      bool      `json:"replayed,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a hook called when a handler fails. Handlers keep running.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	b.onError = fn
	b.mu.Unlock()
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish runs the handlers of the event type synchronously, in subscription order.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

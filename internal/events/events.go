package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventAuthChanged    = "auth_changed"
	EventMutationQueued = "mutation_queued"
	EventQueueCleared   = "queue_cleared"
	EventQueueDrained   = "queue_drained"
)

// AuthChangedPayload notifies observers that the signed-in user changed.
// SignedIn is false after a sign-out.
type AuthChangedPayload struct {
	SignedIn bool   `json:"signed_in"`
	UserID   string `json:"user_id,omitempty"`
}

// MutationQueuedPayload describes a mutation that degraded to the queue.
type MutationQueuedPayload struct {
	MutationID int64  `json:"mutation_id"`
	Type       string `json:"type"`
}

// QueueDrainedPayload summarizes a drain pass for event consumers.
type QueueDrainedPayload struct {
	Synced    int `json:"synced"`
	Rejected  int `json:"rejected"`
	Remaining int `json:"remaining"`
}

// Event represents a lightweight in-process notification.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub, the explicit replacement for the
// portal's old window-wide auth broadcast.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
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

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}

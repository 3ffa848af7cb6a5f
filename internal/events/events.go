package events

import (
	"encoding/json"
	"sync"
	"time"

	"courtside/internal/models"
)

const (
	EventRequestSubmitted = "request_submitted"
	EventRequestScheduled = "request_scheduled"
	EventRequestConfirmed = "request_confirmed"
	EventRequestRetried   = "request_retried"
	EventRequestFailed    = "request_failed"
	EventRequestCancelled = "request_cancelled"
	EventRequestExpired   = "request_expired"
)

// RequestEventPayload is the minimal request snapshot for event consumers.
type RequestEventPayload struct {
	RequestID    string        `json:"request_id"`
	OwnerID      string        `json:"owner_id"`
	CourtID      int64         `json:"court_id"`
	TargetDate   time.Time     `json:"target_date"`
	TimeSlot     string        `json:"time_slot"`
	Status       models.Status `json:"status"`
	AttemptCount int           `json:"attempt_count,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

// PayloadFor builds an event payload from a request snapshot.
func PayloadFor(req *models.BookingRequest, reason string) RequestEventPayload {
	return RequestEventPayload{
		RequestID:    req.ID,
		OwnerID:      req.OwnerID,
		CourtID:      req.CourtID,
		TargetDate:   req.TargetDate,
		TimeSlot:     req.TimeSlot,
		Status:       req.Status,
		AttemptCount: req.AttemptCount,
		Reason:       reason,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
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

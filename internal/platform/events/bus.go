// Package events provides the in-process event bus that fans consultation
// lifecycle events out to subscribers such as the WebSocket hub and the
// webhook dispatcher.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the dispatch engine and payout coordinator.
const (
	TypeCaseCreated   = "case.created"
	TypeCaseAssigned  = "case.assigned"
	TypeCaseCompleted = "case.completed"
	TypeCaseDeclined  = "case.declined"
	TypeCaseExpired   = "case.expired"
	TypeCaseCancelled = "case.cancelled"
	TypeCaseRefunded  = "case.refunded"

	TypePayoutCreated   = "payout.created"
	TypePayoutCompleted = "payout.completed"
	TypePayoutFailed    = "payout.failed"
)

// Event is a single lifecycle notification. Topic routes the event to
// interested subscribers (e.g. "doctor:<id>", "patient:<id>", "cases:standard").
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	CaseID    string          `json:"caseId,omitempty"`
	DoctorID  string          `json:"doctorId,omitempty"`
	PatientID string          `json:"patientId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an Event with a fresh ID and timestamp.
func NewEvent(eventType, topic string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
	}
}

// Subscriber receives published events. Implementations must not block;
// the bus delivers asynchronously but a stuck subscriber still leaks a
// goroutine per event.
type Subscriber interface {
	Publish(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

func (f SubscriberFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus is an in-process publish/subscribe fan-out. Delivery is asynchronous
// and best-effort: a failing subscriber is logged and never blocks the
// publisher or other subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a subscriber for all future events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish fans the event out to every subscriber on its own goroutine.
// It never returns an error to the publisher; lifecycle state changes must
// not fail because a notification channel is down.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		go func(s Subscriber) {
			if err := s.Publish(context.WithoutCancel(ctx), event); err != nil {
				b.logger.Warn().
					Err(err).
					Str("event_id", event.ID).
					Str("event_type", event.Type).
					Str("topic", event.Topic).
					Msg("event delivery failed")
			}
		}(s)
	}
}

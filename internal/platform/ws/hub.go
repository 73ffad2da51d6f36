// Package ws pushes consultation lifecycle events to connected clients over
// WebSockets. Each client is subscribed to topics derived from its identity:
// doctors get "doctor:<id>" plus the shared "cases:standard" queue feed,
// patients get "patient:<id>".
package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/heydoc/consult/internal/platform/events"
)

// TopicDoctor returns the private topic for a doctor.
func TopicDoctor(doctorID string) string { return "doctor:" + doctorID }

// TopicPatient returns the private topic for a patient.
func TopicPatient(patientID string) string { return "patient:" + patientID }

// TopicStandardQueue is the shared feed of standard-tier queue activity.
const TopicStandardQueue = "cases:standard"

// Client is one connected WebSocket session. Send is drained by the
// connection's write pump; the hub closes it on unregister.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients by topic and fans serialized events out to them.
// It implements events.Subscriber so it attaches directly to the bus.
type Hub struct {
	mu      sync.RWMutex
	byTopic map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byTopic: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client and subscribes it to its topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.byTopic[topic] == nil {
			h.byTopic[topic] = make(map[*Client]struct{})
		}
		h.byTopic[topic][client] = struct{}{}
	}
}

// Unregister removes a client from all topics and closes its Send channel.
// Safe to call more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subs, ok := h.byTopic[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.byTopic, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Broadcast sends raw data to every client on a topic. A client with a full
// buffer is skipped rather than blocking the hub.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.byTopic[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Debug().
				Str("client_id", client.ID).
				Str("topic", topic).
				Msg("dropping event for slow client")
		}
	}
}

// Publish implements events.Subscriber by routing the event to subscribers
// of its topic.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	data, err := marshalEvent(event)
	if err != nil {
		return err
	}
	h.Broadcast(event.Topic, data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTopic[topic])
}

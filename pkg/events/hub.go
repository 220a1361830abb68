// Package events fans appended events out to live stream subscribers.
// Delivery is best effort: the hub never blocks an appender, and a
// subscriber that stops draining its channel is disconnected.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/codetrail/codetrail/pkg/models"
)

// DefaultBufferSize is the per-subscriber channel depth used when the
// caller does not override it.
const DefaultBufferSize = 64

// Subscription is one live consumer of the event stream.
type Subscription struct {
	ID        string
	ProjectID *int64 // nil subscribes to every project
	C         <-chan models.Event

	ch chan models.Event
}

// Hub is an in-memory broadcaster. Events published after Subscribe
// returns are delivered in publish order; there is no replay of earlier
// events.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	bufSize int
	closed  bool
	logger  *slog.Logger
}

func NewHub(bufSize int, logger *slog.Logger) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]*Subscription),
		bufSize: bufSize,
		logger:  logger.With("component", "event_hub"),
	}
}

// Subscribe registers a new consumer. A non-nil projectID restricts
// delivery to events of that project; project-less events (global
// prompts, summaries) are delivered to every subscriber.
func (h *Hub) Subscribe(projectID *int64) *Subscription {
	ch := make(chan models.Event, h.bufSize)
	sub := &Subscription{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		C:         ch,
		ch:        ch,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub.ID] = sub
	h.logger.Debug("Subscriber attached", "subscription_id", sub.ID, "total", len(h.subs))
	return sub
}

// Unsubscribe detaches a consumer and closes its channel. Safe to call
// after the hub already dropped the subscription.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(id, "unsubscribed")
}

// Publish delivers an event to every matching subscriber without
// blocking. A subscriber whose buffer is full is dropped; a lagging
// reader must not stall the watch or request paths.
func (h *Hub) Publish(evt models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	for id, sub := range h.subs {
		if !sub.wants(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.logger.Warn("Subscriber too slow, dropping",
				"subscription_id", id, "buffer", h.bufSize)
			h.dropLocked(id, "buffer overflow")
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id := range h.subs {
		h.dropLocked(id, "hub closed")
	}
}

func (h *Hub) dropLocked(id, reason string) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.logger.Debug("Subscriber detached",
		"subscription_id", id, "reason", reason, "total", len(h.subs))
}

func (s *Subscription) wants(evt models.Event) bool {
	if s.ProjectID == nil || evt.ProjectID == nil {
		return true
	}
	return *s.ProjectID == *evt.ProjectID
}

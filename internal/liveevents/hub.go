// Package liveevents fans ingestion outcomes out to live subscribers.
//
// Publishing never blocks the ingest path: a slow subscriber misses events
// rather than stalling the writer.
package liveevents

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
)

const (
	StatusAccepted     = "accepted"
	StatusDeduplicated = "deduplicated"
)

const (
	replayBuffer     = 50
	subscriberBuffer = 16
)

// ErrInvalidEventType reports a blank subscription key.
var ErrInvalidEventType = errors.New("invalid_event_type")

// LiveEvent is one ingestion outcome on the live feed.
type LiveEvent struct {
	TransactionID string    `json:"transaction_id"`
	CustomerID    string    `json:"customer_id"`
	EventType     string    `json:"event_type"`
	Status        string    `json:"status"`
	RecordedAt    time.Time `json:"recorded_at"`
}

type stream struct {
	mu     sync.Mutex
	replay []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

// Hub keeps one stream per event type with a short replay buffer.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*stream)}
}

// Module wires the hub.
var Module = fx.Module("liveevents",
	fx.Provide(NewHub),
)

// Publish delivers the event to current subscribers of its type and keeps it
// in the replay buffer. Events for types nobody watches are dropped.
func (h *Hub) Publish(event LiveEvent) {
	eventType := strings.TrimSpace(event.EventType)
	if eventType == "" {
		return
	}

	h.mu.RLock()
	s := h.streams[eventType]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	s.replay = append(s.replay, event)
	if len(s.replay) > replayBuffer {
		s.replay = s.replay[len(s.replay)-replayBuffer:]
	}
	targets := make([]chan LiveEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		targets = append(targets, ch)
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscription is one subscriber's handle on a stream.
type Subscription struct {
	hub       *Hub
	eventType string
	id        uint64
	ch        chan LiveEvent
	once      sync.Once
}

// Subscribe attaches to the stream for eventType and returns the recent
// replay buffer alongside the live channel.
func (h *Hub) Subscribe(eventType string) (*Subscription, []LiveEvent, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, nil, ErrInvalidEventType
	}

	s := h.ensureStream(eventType)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan LiveEvent, subscriberBuffer)
	s.subs[id] = ch
	replay := append([]LiveEvent(nil), s.replay...)
	s.mu.Unlock()

	return &Subscription{hub: h, eventType: eventType, id: id, ch: ch}, replay, nil
}

func (h *Hub) ensureStream(eventType string) *stream {
	h.mu.RLock()
	s := h.streams[eventType]
	h.mu.RUnlock()
	if s != nil {
		return s
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if s = h.streams[eventType]; s == nil {
		s = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[eventType] = s
	}
	return s
}

func (h *Hub) unsubscribe(eventType string, id uint64) {
	h.mu.RLock()
	s := h.streams[eventType]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	delete(s.subs, id)
	idle := len(s.subs) == 0
	s.mu.Unlock()
	if !idle {
		return
	}

	// Drop fully idle streams so abandoned event types do not pin replay
	// buffers forever.
	h.mu.Lock()
	if current := h.streams[eventType]; current == s {
		s.mu.Lock()
		if len(s.subs) == 0 {
			delete(h.streams, eventType)
		}
		s.mu.Unlock()
	}
	h.mu.Unlock()
}

// Events is the live channel; closed subscriptions keep a nil-safe channel.
func (s *Subscription) Events() <-chan LiveEvent {
	return s.ch
}

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s.eventType, s.id)
	})
}

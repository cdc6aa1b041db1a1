package console

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const defaultChannelBuffer = 64

// EventType names what changed.
type EventType string

const (
	EventGraph        EventType = "graph"
	EventTimeline     EventType = "timeline"
	EventPipeline     EventType = "pipeline"
	EventRuns         EventType = "runs"
	EventEdit         EventType = "edit"
	EventNotification EventType = "notification"
)

// Event tells subscribers that a view changed. Data carries the new
// notification for EventNotification and is nil otherwise; subscribers read
// the view itself from the Console.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

type subscriber struct {
	ch    chan Event
	types []EventType
}

// Hub fans events out to subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Publish sends e to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if len(sub.types) > 0 && !slices.Contains(sub.types, e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// slow subscriber
		}
	}
}

// Subscribe returns a channel of events of the given types (all types when
// none are given) and a function that ends the subscription.
func (h *Hub) Subscribe(types ...EventType) (<-chan Event, func()) {
	id := h.seq.Add(1)
	ch := make(chan Event, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, types: types}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

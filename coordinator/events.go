package coordinator

import (
	"sync"
	"time"
)

// EventType identifies a fleet lifecycle event.
type EventType string

const (
	EventAgentConnected EventType = "agent_connected"
	EventAgentLost      EventType = "agent_lost"
)

// Event notifies subscribers of a node joining or leaving the fleet.
type Event struct {
	Type   EventType `json:"type"`
	NodeID string    `json:"node_id"`
	Ts     time.Time `json:"ts"`
}

// EventBus fans lifecycle events out to subscribers. Publish never blocks:
// a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus an unsubscribe func.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *EventBus) Publish(ev Event) {
	if ev.Ts.IsZero() {
		ev.Ts = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

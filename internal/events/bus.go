// Package events is a scoped observer registry. A Bus lives as long as the
// session or page that owns it; listeners attach with Subscribe and detach
// with the returned func when their owner goes away. Delivery is
// synchronous, best effort, and nothing is replayed to late subscribers.
package events

import (
	"sort"
	"sync"
	"time"
)

// Well-known topics.
const (
	TopicRxSigned      = "rx:signed"
	TopicConsentOpened = "consent:opened"
)

// Event is a notification published on a Bus.
type Event struct {
	Topic          string    `json:"topic"`
	ConsultationID string    `json:"consultation_id"`
	At             time.Time `json:"at"`
}

// Handler receives events for a topic.
type Handler func(Event)

// Bus fans events out to the listeners of their topic.
type Bus struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[string]map[uint64]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string]map[uint64]Handler)}
}

// Subscribe registers fn for topic and returns the func that removes it.
// Calling the returned func more than once is harmless.
func (b *Bus) Subscribe(topic string, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.listeners[topic] == nil {
		b.listeners[topic] = make(map[uint64]Handler)
	}
	b.listeners[topic][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[topic], id)
			if len(b.listeners[topic]) == 0 {
				delete(b.listeners, topic)
			}
		})
	}
}

// Publish delivers ev to the current listeners of ev.Topic in subscription
// order. Listeners may subscribe or unsubscribe from inside a handler.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.listeners[ev.Topic]))
	for id := range b.listeners[ev.Topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, len(ids))
	for i, id := range ids {
		handlers[i] = b.listeners[ev.Topic][id]
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Listeners returns the number of listeners on topic.
func (b *Bus) Listeners(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[topic])
}

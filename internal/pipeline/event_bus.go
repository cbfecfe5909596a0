package pipeline

import (
	"sync"
	"time"

	"pirwatch/internal/history"
)

// EventType names what happened in the detection loop.
type EventType string

const (
	EventMotionDetected EventType = "motion_detected"
	EventWindowClosed   EventType = "window_closed"
	EventPersonDetected EventType = "person_detected"
	EventFinalized      EventType = "event_finalized"
	EventStatus         EventType = "status"
	EventError          EventType = "error"
)

// Event is published on the EventBus by the session.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Message   string          `json:"message,omitempty"`
	Record    *history.Record `json:"record,omitempty"`
	Status    *Status         `json:"status,omitempty"`
}

// EventHandler receives events synchronously.
type EventHandler func(Event)

// EventBus provides pub/sub for loop events.
// Handlers run on the publishing goroutine; channel subscribers drop
// events when their buffer is full.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	types   map[EventType]bool // empty means all types
	channel chan Event
	handler EventHandler
}

func (s *eventSubscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for the given event types, or all types
// when none are given. Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler, types ...EventType) func() {
	sub := &eventSubscription{
		types:   typeSet(types),
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a buffered channel receiving the given event
// types and an unsubscribe function that closes it.
func (b *EventBus) SubscribeChannel(bufferSize int, types ...EventType) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan Event, bufferSize)
	sub := &eventSubscription{
		types:   typeSet(types),
		channel: ch,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish sends an event to all matching subscribers
func (b *EventBus) Publish(ev Event) {
	if b == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if !sub.wants(ev.Type) {
			continue
		}
		if sub.handler != nil {
			sub.handler(ev)
		} else if sub.channel != nil {
			select {
			case sub.channel <- ev:
			default:
				// Channel full, skip this event
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

func typeSet(types []EventType) map[EventType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

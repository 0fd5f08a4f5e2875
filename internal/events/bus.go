// Package events is the in-process notification channel between the registry,
// the state machine and their observers (dispatcher, board).
package events

import (
	"sync"
)

// defaultBufSize is used when a subscriber asks for a non-positive buffer.
const defaultBufSize = 256

// Publisher is the narrow side of the bus handed to producers.
type Publisher interface {
	Publish(event Event)
}

// EventBus is a channel-based pub-sub event bus.
// Events are routed by their Topic; SubscribeAll receives every topic.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to all topics
	closed  bool
}

var _ Publisher = (*EventBus)(nil)

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events published on topic.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	ch := newChannel(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll. Unknown channels are ignored.
func (b *EventBus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for topic, channels := range b.subs {
		if kept, ch := without(channels, sub); ch != nil {
			b.subs[topic] = kept
			close(ch)
			return
		}
	}
	if kept, ch := without(b.allSubs, sub); ch != nil {
		b.allSubs = kept
		close(ch)
	}
}

// Publish delivers event to subscribers of its topic and to SubscribeAll
// channels. Non-blocking: a full subscriber channel drops the event.
// Publishing on a nil bus or after Close is a no-op.
func (b *EventBus) Publish(event Event) {
	if b == nil || event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[event.Topic()] {
		trySend(ch, event)
	}
	for _, ch := range b.allSubs {
		trySend(ch, event)
	}
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func newChannel(bufSize int) chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	return make(chan Event, bufSize)
}

func trySend(ch chan Event, event Event) {
	select {
	case ch <- event:
	default:
	}
}

func without(channels []chan Event, sub <-chan Event) ([]chan Event, chan Event) {
	for i, ch := range channels {
		if (<-chan Event)(ch) == sub {
			return append(channels[:i:i], channels[i+1:]...), ch
		}
	}
	return channels, nil
}

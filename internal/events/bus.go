package events

import (
	"sync"
)

// defaultBufSize covers a burst of task and round events between two TUI
// frames.
const defaultBufSize = 256

// Publisher is the write side of the bus. Components depend on it so they
// can run without a bus in tests.
type Publisher interface {
	Publish(topic string, event Event)
}

// EventBus is a channel-based pub-sub event bus. A nil *EventBus is a valid
// Publisher that drops everything.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan Event // topic -> subscriber channels
	allSubs []chan Event            // channels subscribed to every topic
	closed  bool                    // guarded by mu; no sends or closes after it is set
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events published to any of the given
// topics, or to every topic when none are given. bufSize defaults to 256.
// The channel is closed when the bus closes, so consumers can range over it.
// Subscribing to a closed bus returns an already closed channel.
func (b *EventBus) Subscribe(bufSize int, topics ...string) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	if len(topics) == 0 {
		b.allSubs = append(b.allSubs, ch)
		return ch
	}
	for _, topic := range topics {
		b.subs[topic] = append(b.subs[topic], ch)
	}
	return ch
}

// Publish delivers event to the topic's subscribers and to catch-all
// subscribers. It never blocks: a subscriber whose channel is full misses
// the event, and the scheduler and network keep running regardless of how
// slowly the TUI drains its channel.
func (b *EventBus) Publish(topic string, event Event) {
	if b == nil {
		return
	}

	// The read lock keeps Close from closing a channel mid-send while still
	// letting publishers run in parallel.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	// Topic subscribers first, then catch-all ones.
	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
			// full, drop
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
			// full, drop
		}
	}
}

// Close closes the bus and every subscriber channel. Safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	// Publish checks closed under the same lock, so nothing sends after this.
	// A channel subscribed to several topics appears several times.
	seen := make(map[chan Event]bool)
	closeOnce := func(ch chan Event) {
		if !seen[ch] {
			seen[ch] = true
			close(ch)
		}
	}
	for _, channels := range b.subs {
		for _, ch := range channels {
			closeOnce(ch)
		}
	}
	for _, ch := range b.allSubs {
		closeOnce(ch)
	}
}

package events

import (
	"sync"
	"time"
)

// DefaultHistorySize bounds the history kept by NewMemoryBus(0).
const DefaultHistorySize = 1024

// EventBus provides publish/subscribe for compile events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// MemoryBus is an in-memory EventBus with a bounded history ring.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	history     []Event
	maxHistory  int
}

// NewMemoryBus creates a bus that keeps at most maxHistory events.
// A non-positive size selects DefaultHistorySize.
func NewMemoryBus(maxHistory int) *MemoryBus {
	if maxHistory <= 0 {
		maxHistory = DefaultHistorySize
	}
	return &MemoryBus{
		history:    make([]Event, 0, min(maxHistory, 256)),
		maxHistory: maxHistory,
	}
}

func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.history = append(b.history, event)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
	b.mu.Unlock()

	// Sends never block, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow subscribers miss events; the compiler never blocks on them.
		}
	}
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch := make(chan Event, 64)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return ch
}

func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// History returns the retained events published at or after since.
func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// CountByType tallies the retained events per type.
func (b *MemoryBus) CountByType() map[EventType]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[EventType]int)
	for _, e := range b.history {
		counts[e.Type]++
	}
	return counts
}

// Package events provides the in-process event bus the engine publishes to.
// Collaborators (notification, analytics, status surfaces) subscribe to the
// bus; the core has no compile-time dependency on any of them.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

// Event types emitted by the engine.
const (
	TypeOpportunitiesFound    Type = "opportunities_found"
	TypeTradeExecuted         Type = "trade_executed"
	TypeTradeFailed           Type = "trade_failed"
	TypeCircuitBreakerTripped Type = "circuit_breaker_tripped"
	TypeRiskWarning           Type = "risk_warning"
)

// Event is a single bus message. Payload is event-type specific.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   any
}

// Bus fans events out to all subscribers. Publishing never blocks: a
// subscriber that falls behind loses events rather than stalling the core.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber and returns its channel.
// buffer controls how many events may queue before drops occur.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer < 1 {
		buffer = 1
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(t Type, payload any) {
	ev := Event{Type: t, Timestamp: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// Package events is a small in-process pub/sub bus.
//
// Each subscriber owns a bounded channel. Publish never blocks: when a
// subscriber's channel is full the event is dropped for that subscriber only
// and counted. Events reach a given subscriber in publish order.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers.
type Bus[T any] struct {
	name    string
	mu      sync.RWMutex
	subs    map[uint64]chan T
	next    uint64
	closed  bool
	dropped atomic.Int64
}

// NewBus creates a bus; name is used in logs.
func NewBus[T any](name string) *Bus[T] {
	return &Bus[T]{name: name, subs: make(map[uint64]chan T)}
}

// Subscribe registers a subscriber with a channel of the given capacity.
// The returned func unsubscribes and closes the channel.
func (b *Bus[T]) Subscribe(size int) (<-chan T, func()) {
	ch := make(chan T, max(size, 1))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber with room for it.
func (b *Bus[T]) Publish(ev T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			n := b.dropped.Add(1)
			slog.Debug("event dropped, subscriber full", "bus", b.name, "dropped_total", n)
		}
	}
}

// Dropped returns how many deliveries were skipped.
func (b *Bus[T]) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

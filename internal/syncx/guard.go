// Package syncx provides extended synchronization primitives
package syncx

import (
	"sync"
	"sync/atomic"
)

// RWGuard wraps RWMutex with scoped lock helpers.
type RWGuard[T any] struct {
	mu    sync.RWMutex
	value T
}

// NewGuard creates a guarded value.
func NewGuard[T any](initial T) *RWGuard[T] {
	return &RWGuard[T]{value: initial}
}

// Write executes fn while holding write lock, fn receives pointer for mutation.
func (g *RWGuard[T]) Write(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.value)
}

// Get returns a copy of the value (T should be value type or immutable).
func (g *RWGuard[T]) Get() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.value
}

// Set atomically replaces the value.
func (g *RWGuard[T]) Set(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = v
}

// Swap atomically replaces and returns old value.
func (g *RWGuard[T]) Swap(v T) T {
	g.mu.Lock()
	defer g.mu.Unlock()
	old := g.value
	g.value = v
	return old
}

// Flag marks a single operation as in progress. TryAcquire never blocks, so
// callers that lose the race simply skip their turn.
type Flag struct {
	busy atomic.Bool
}

// TryAcquire sets the flag and reports whether this caller now owns it.
func (f *Flag) TryAcquire() bool { return f.busy.CompareAndSwap(false, true) }

// Release clears the flag.
func (f *Flag) Release() { f.busy.Store(false) }

// Busy reports whether an operation is in progress.
func (f *Flag) Busy() bool { return f.busy.Load() }

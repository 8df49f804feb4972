// Package events provides a small typed publish/subscribe primitive used for
// in-process domain events (price changes, closed positions, settings updates).
package events

import "sync"

// Emitter fans a value out to every current subscriber. Handlers run
// synchronously on the emitting goroutine; there is no ordering guarantee
// between handlers.
type Emitter[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(T)
}

// NewEmitter returns an empty Emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that detaches it. Once the
// returned function has returned, fn is not invoked by any later Emit.
// Calling it more than once is harmless.
func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[uint64]func(T))
	}
	id := e.next
	e.next++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Emit delivers v to a snapshot of the current subscribers.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	handlers := make([]func(T), 0, len(e.subs))
	for _, fn := range e.subs {
		handlers = append(handlers, fn)
	}
	e.mu.RUnlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// Len returns the number of attached subscribers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// Package observe provides a small synchronous event emitter.
//
// Listeners run on the emitting goroutine, one after another, in the order they
// subscribed. Each listener receives the value passed to Emit and nothing is queued:
// a listener added during an Emit is not called for that Emit.
package observe

import "sync"

type entry[T any] struct {
	id int
	fn func(T)
}

type Emitter[T any] struct {
	mu        sync.RWMutex
	nextID    int
	listeners []entry[T]
}

// Subscribe registers fn and returns an id for Unsubscribe.
func (e *Emitter[T]) Subscribe(fn func(T)) int {
	if fn == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners = append(e.listeners, entry[T]{id: e.nextID, fn: fn})
	return e.nextID
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (e *Emitter[T]) Unsubscribe(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Emit calls every listener with v. The listener list is copied under the read lock
// so listeners may subscribe or unsubscribe while being called.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	snapshot := make([]entry[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.RUnlock()
	for _, l := range snapshot {
		l.fn(v)
	}
}

// Package notify provides a typed broadcast hub for state change events.
package notify

import "sync"

// Hub delivers values of type T to subscribers.
// Callback subscribers are invoked synchronously in subscription order.
// Channel subscribers receive values without blocking the publisher.
type Hub[T any] struct {
	mu        sync.RWMutex
	nextID    uint64
	callbacks []callback[T]
	listeners map[chan T]struct{}
}

type callback[T any] struct {
	id uint64
	fn func(T)
}

// New creates a new Hub instance.
func New[T any]() *Hub[T] {
	return &Hub[T]{
		listeners: make(map[chan T]struct{}),
	}
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (h *Hub[T]) Subscribe(fn func(T)) (dispose func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.callbacks = append(h.callbacks, callback[T]{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, cb := range h.callbacks {
				if cb.id == id {
					h.callbacks = append(h.callbacks[:i:i], h.callbacks[i+1:]...)
					return
				}
			}
		})
	}
}

// Channel returns a buffered channel that receives published values.
// The caller must call the returned function when done to release the channel.
func (h *Hub[T]) Channel(buf int) (<-chan T, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan T, buf)
	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers v to every callback, in subscription order, and then to
// every channel listener. A listener whose buffer is full misses the value.
// Callbacks run outside the hub lock and may subscribe or dispose.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	callbacks := make([]callback[T], len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.RUnlock()

	for _, cb := range callbacks {
		cb.fn(v)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.listeners {
		select {
		case ch <- v:
		default:
			// Channel full, skip (listener will catch up on next publish)
		}
	}
}

// Len returns the number of callback and channel subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.callbacks) + len(h.listeners)
}

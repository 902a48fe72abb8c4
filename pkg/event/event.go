// Package event provides a typed publish/subscribe primitive.
//
// Handlers run synchronously on the emitting goroutine, in registration order.
// A panicking handler does not prevent the remaining handlers from running;
// the recovered value is reported back to the emitter instead.
package event

import (
	"fmt"
	"sync"
)

type Handler[T any] func(T)

// Event is a list of handlers for payloads of type T.
// The zero value is ready to use.
type Event[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn Handler[T]
}

// Subscription identifies one registered handler.
type Subscription struct {
	off  func()
	once sync.Once
}

// Off removes the handler. It is safe to call more than once.
func (s *Subscription) Off() {
	if s == nil {
		return
	}
	s.once.Do(s.off)
}

// On registers fn and returns its subscription.
func (e *Event[T]) On(fn Handler[T]) *Subscription {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.handlers = append(e.handlers, entry[T]{id: id, fn: fn})
	e.mu.Unlock()

	return &Subscription{off: func() { e.remove(id) }}
}

func (e *Event[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, h := range e.handlers {
		if h.id == id {
			e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered handlers.
func (e *Event[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Clear removes every handler.
func (e *Event[T]) Clear() {
	e.mu.Lock()
	e.handlers = nil
	e.mu.Unlock()
}

// Emit calls every handler with v and returns one error per handler that panicked.
// Handlers added or removed during Emit take effect on the next call.
func (e *Event[T]) Emit(v T) []error {
	e.mu.RLock()
	handlers := make([]entry[T], len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := call(h.fn, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func call[T any](fn Handler[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = fmt.Errorf("handler panicked: %w", rerr)
				return
			}
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	fn(v)
	return nil
}

// Package event provides a small typed publish/subscribe stream used to
// expose named notification channels on pipeline components. Components hold
// a Stream per event kind (has-a) instead of exposing a generic emitter, so
// the public surface stays limited to typed events.
package event

import "sync"

// Stream is a fan-out notification channel for values of type T.
// Publish delivers the value to every subscriber callback in registration
// order, on the publisher's goroutine — subscribers must not block.
//
// The zero value is ready to use. All methods are safe for concurrent use.
type Stream[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns an unsubscribe function. The
// unsubscribe function is idempotent.
func (s *Stream[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers v to all current subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, sub := range s.subs {
		fns = append(fns, sub.fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the current subscriber count.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

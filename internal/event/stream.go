// Package event provides the typed publish/subscribe hub that delivers
// pipeline output to the application. Publishing never blocks the
// capture loop: a subscriber that falls behind loses events and the
// stream counts the drops.
package event

import (
	"sync"
	"sync/atomic"
)

// Stream is a fan-out channel for one event kind.
type Stream[T any] struct {
	mu      sync.RWMutex
	subs    []chan T
	buf     int
	closed  bool
	dropped atomic.Uint64
}

// NewStream creates a stream whose subscriber channels buffer buf events.
func NewStream[T any](buf int) *Stream[T] {
	if buf <= 0 {
		buf = 1
	}
	return &Stream[T]{buf: buf}
}

// Subscribe registers a new receiver. The channel is closed when the
// stream closes.
func (s *Stream[T]) Subscribe() <-chan T {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, s.buf)
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Publish delivers v to every subscriber without blocking; full
// subscriber channels drop the event.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			s.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to slow subscribers.
func (s *Stream[T]) Dropped() uint64 { return s.dropped.Load() }

// Close closes all subscriber channels. Further publishes are ignored.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

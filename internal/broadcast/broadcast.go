// Package broadcast implements a small publish/subscribe fan-out used to
// push player state snapshots to observers.
package broadcast

import (
	"sync"
	"sync/atomic"
)

// Broadcaster delivers published values to every current subscriber, in
// subscription order.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   []*subscription[T]
	closed bool
}

type subscription[T any] struct {
	fn     func(T)
	active atomic.Bool
}

// New returns an empty broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is idempotent and may be called from inside a listener
// while a Publish is in progress; the removed listener is not invoked again,
// not even for the value currently being delivered.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s := &subscription[T]{fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return func() {
		if !s.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, cur := range b.subs {
			if cur == s {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish calls every subscriber with v. Listeners run on the caller's
// goroutine without the broadcaster lock held.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		if !s.active.Load() {
			continue
		}
		s.fn(v)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops every subscriber. Later Subscribe calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.active.Store(false)
	}
}

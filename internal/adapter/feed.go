// ABOUTME: Ordered in-process fan-out of inbound items to subscribers
// ABOUTME: Publish calls every subscriber synchronously in subscription order

package adapter

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Feed delivers each published value to every subscriber, in arrival order.
// Subscribers must not block: the adapter's receive loop runs them inline.
type Feed[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber[T]
}

// Subscribe registers fn and returns a function that removes it again.
func (f *Feed[T]) Subscribe(fn func(T)) (cancel func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, s := range f.subs {
				if s.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish hands v to every current subscriber.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	targets := make([]func(T), len(f.subs))
	for i, s := range f.subs {
		targets[i] = s.fn
	}
	f.mu.RUnlock()

	for _, fn := range targets {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

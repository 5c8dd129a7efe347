// Package reactive implements a framework-neutral "observable cell": a
// value with get/set/subscribe semantics that any UI layer (Wails/Vue, a
// test harness, or nothing at all) can bind to without the core depending
// on a particular reactive framework.
package reactive

import "sync"

// Cell holds a value of type T and notifies subscribers on every Set.
// Safe for concurrent use; the frontend's binding model is single-threaded
// and cooperative, but the mutex costs nothing and protects against
// accidental cross-goroutine misuse (e.g. a Wails-bound method called from
// the webview's own thread while a render tick is in flight).
type Cell[T any] struct {
	mu   sync.RWMutex
	val  T
	subs map[int]func(T)
	next int
}

// NewCell creates a Cell initialized to v.
func NewCell[T any](v T) *Cell[T] {
	return &Cell[T]{val: v, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

// Set replaces the value and notifies every current subscriber, in
// subscription order, with the new value.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.val = v
	subs := make([]func(T), 0, len(c.subs))
	for i := 0; i < c.next; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Update atomically reads the current value, derives a new one via fn, and
// sets it, notifying subscribers with the result.
func (c *Cell[T]) Update(fn func(T) T) {
	c.mu.Lock()
	c.val = fn(c.val)
	v := c.val
	subs := make([]func(T), 0, len(c.subs))
	for i := 0; i < c.next; i++ {
		if s, ok := c.subs[i]; ok {
			subs = append(subs, s)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Subscribe registers cb to be called on every future Set/Update, and
// immediately once with the current value. It returns an unsubscribe
// function; calling it more than once is a no-op.
func (c *Cell[T]) Subscribe(cb func(T)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = cb
	current := c.val
	c.mu.Unlock()

	cb(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

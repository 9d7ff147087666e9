// Package reactive implements the watchable value holder spec.md §9 asks
// for in place of the teacher's hand-rolled atomic/mutex ProgressState
// (internal/engine/types/progress.go): a single current value, broadcast
// to current subscribers, with last-value-on-subscribe semantics and
// coalescing under back-pressure.
package reactive

import "sync"

// Cell holds a current value of T and lets subscribers watch it change.
// A new subscriber immediately receives the current value (last-value-on-
// subscribe). Updates published while a subscriber's channel is full
// replace the pending value rather than blocking the publisher — progress
// ticks coalesce, but Set always keeps the latest value available to a
// subscriber that's ready to receive.
type Cell[T any] struct {
	mu   sync.Mutex
	val  T
	subs map[int]chan T
	next int
}

func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{val: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val
}

// Set publishes a new value and notifies subscribers, coalescing into
// each subscriber's single-slot buffer instead of blocking.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	c.val = v
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			// Drain the stale pending value and replace it — the caller
			// wants the latest, not a backlog (spec.md §9: "drop or
			// coalesce intermediate progress updates under back-pressure").
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
	c.mu.Unlock()
}

// Subscription is a live watch on a Cell. Call Close when done.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
}

// C returns the channel to receive updates on.
func (s *Subscription[T]) C() <-chan T { return s.ch }

func (s *Subscription[T]) Close() { s.cancel() }

// Subscribe registers a new subscriber and immediately delivers the
// current value so the subscriber never observes a gap before the first
// update (last-value-on-subscribe).
func (c *Cell[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	id := c.next
	c.next++
	ch := make(chan T, 1)
	ch <- c.val
	c.subs[id] = ch
	c.mu.Unlock()

	return &Subscription[T]{
		ch: ch,
		cancel: func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		},
	}
}

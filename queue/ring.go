// Package queue implements a fixed-capacity FIFO ring buffer.
package queue

// Ring is a bounded FIFO queue. It never grows: pushing to a full Ring fails.
//
// Ring is not safe for concurrent use.
type Ring[E any] struct {
	s    []E
	r, w uint
}

// NewRing returns an empty Ring able to hold capacity elements.
func NewRing[E any](capacity int) *Ring[E] {
	if capacity <= 0 {
		panic(`queue: ring: capacity must be positive`)
	}
	return &Ring[E]{s: make([]E, capacity)}
}

// NewRingOn returns an empty Ring that stores its elements in buf, with a
// capacity of len(buf).
func NewRingOn[E any](buf []E) *Ring[E] {
	if len(buf) == 0 {
		panic(`queue: ring: buffer must not be empty`)
	}
	return &Ring[E]{s: buf}
}

func (x *Ring[E]) index(val uint) uint {
	return val % uint(len(x.s))
}

// Len returns the number of queued elements.
func (x *Ring[E]) Len() int {
	return int(x.w - x.r)
}

// Cap returns the capacity.
func (x *Ring[E]) Cap() int {
	return len(x.s)
}

// Full reports whether TryPush would fail.
func (x *Ring[E]) Full() bool {
	return x.Len() >= len(x.s)
}

// TryPush appends v, returning false if the ring is full.
func (x *Ring[E]) TryPush(v E) bool {
	if x.Full() {
		return false
	}
	x.s[x.index(x.w)] = v
	x.w++
	return true
}

// TryPop removes and returns the oldest element.
func (x *Ring[E]) TryPop() (v E, ok bool) {
	if x.r == x.w {
		return
	}
	i := x.index(x.r)
	v, ok = x.s[i], true
	var zero E
	x.s[i] = zero
	x.r++
	return
}

// Peek returns the oldest element without removing it.
func (x *Ring[E]) Peek() (v E, ok bool) {
	if x.r == x.w {
		return
	}
	return x.s[x.index(x.r)], true
}

// Reset discards every queued element.
func (x *Ring[E]) Reset() {
	clear(x.s)
	x.r, x.w = 0, 0
}

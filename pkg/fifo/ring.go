// Package fifo provides a fixed-capacity first-in first-out ring.
package fifo

import (
	"errors"
	"fmt"
)

var (
	// ErrFull is returned by Put when the ring holds Cap elements.
	ErrFull = errors.New("fifo: full")
	// ErrCapacity is returned by New for a capacity that is not a power of two.
	ErrCapacity = errors.New("fifo: capacity must be a power of two")
)

// Ring is a bounded FIFO. Indexes wrap with a mask, so the capacity is a
// power of two. A zero-capacity ring is valid and is always both full and
// empty; it stands for a disabled direction.
//
// Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	mask uint32
	head uint32 // next write
	tail uint32 // next read
}

// New allocates a ring holding up to capacity elements.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity < 0 || capacity > 1<<16 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	r := &Ring[T]{buf: make([]T, capacity)}
	if capacity > 0 {
		r.mask = uint32(capacity - 1)
	}
	return r, nil
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of queued elements.
func (r *Ring[T]) Len() int { return int(r.head - r.tail) }

// IsEmpty reports whether Get would fail.
func (r *Ring[T]) IsEmpty() bool { return r.head == r.tail }

// IsFull reports whether Put would fail.
func (r *Ring[T]) IsFull() bool { return r.Len() == len(r.buf) }

// Put appends v.
func (r *Ring[T]) Put(v T) error {
	if r.IsFull() {
		return ErrFull
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return nil
}

// Get removes and returns the oldest element.
func (r *Ring[T]) Get() (T, bool) {
	var zero T
	if r.IsEmpty() {
		return zero, false
	}
	i := r.tail & r.mask
	v := r.buf[i]
	r.buf[i] = zero
	r.tail++
	return v, true
}

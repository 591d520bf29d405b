// Package rb provides a lock-free multiple producer/single consumer
// generic ring buffer.
//
// Writes never block: when the buffer is full the item is rejected,
// so producers can safely write while holding other locks.
package rb

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrClosed is returned when the buffer is closed.
	ErrClosed = errors.New("ring buffer: buffer is closed")
	// ErrFull is returned when the buffer is full.
	ErrFull = errors.New("ring buffer: buffer is full")
)

// RingBuffer is a lock-free mpsc generic ring buffer.
// Any number of goroutines can write, only one can read at a time.
type RingBuffer[T any] struct {
	buf *mpscBuffer[T]

	isClosed atomic.Bool
}

// NewRingBuffer returns a new ring buffer.
// The capacity is rounded up to the next power of 2.
func NewRingBuffer[T any](capacity uint32) *RingBuffer[T] {
	return &RingBuffer[T]{
		buf: newMPSCBuffer[T](roundToPowerOf2(capacity)),
	}
}

// TryWrite adds the item to the buffer without blocking.
// It returns [ErrFull] when there is no room left and
// [ErrClosed] when the buffer is closed.
func (rb *RingBuffer[T]) TryWrite(item T) error {
	if rb.isClosed.Load() {
		return ErrClosed
	}

	if !rb.buf.push(item) {
		return ErrFull
	}

	return nil
}

// TryRead pops the oldest item without blocking.
// The boolean is false if there is nothing to read.
func (rb *RingBuffer[T]) TryRead() (T, bool) {
	return rb.buf.pop()
}

// Drain pops all the readable items, in write order.
func (rb *RingBuffer[T]) Drain() []T {
	items := make([]T, 0, rb.buf.len())

	for {
		item, ok := rb.buf.pop()
		if !ok {
			return items
		}

		items = append(items, item)
	}
}

// Len returns the number of items in the buffer.
func (rb *RingBuffer[T]) Len() int {
	return int(rb.buf.len())
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer[T]) Cap() int {
	return int(rb.buf.capacity)
}

// Close closes the buffer. Already written items can still be read.
func (rb *RingBuffer[T]) Close() {
	rb.isClosed.Store(true)
}

// IsClosed states whether the buffer is closed.
func (rb *RingBuffer[T]) IsClosed() bool {
	return rb.isClosed.Load()
}

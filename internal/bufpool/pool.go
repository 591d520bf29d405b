// Package bufpool provides pooled fixed-capacity byte buffers.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Buffer is a fixed-capacity byte buffer.
// The size marks how many bytes of the buffer are in use.
type Buffer struct {
	data []byte
	size int

	pool *Pool
}

// Full returns the whole underlying memory of the buffer,
// regardless of its size.
func (b *Buffer) Full() []byte {
	return b.data
}

// Bytes returns the used part of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// Size returns the number of used bytes.
func (b *Buffer) Size() int {
	return b.size
}

// SetSize sets the number of used bytes.
// It panics if size is greater than the capacity.
func (b *Buffer) SetSize(size int) {
	if size > len(b.data) {
		panic("bufpool: size greater than capacity")
	}

	b.size = size
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Release gives the buffer back to its pool.
// The buffer must not be used afterwards.
func (b *Buffer) Release() {
	b.pool.Return(b)
}

// Pool is a thread-safe pool of buffers sharing the same capacity.
type Pool struct {
	capacity int
	pool     sync.Pool

	outstanding atomic.Int64
}

// New returns a pool of buffers of the given capacity.
func New(capacity int) *Pool {
	p := &Pool{
		capacity: capacity,
	}

	p.pool.New = func() any {
		return &Buffer{
			data: make([]byte, capacity),
			pool: p,
		}
	}

	return p
}

// Capacity returns the capacity of the buffers of the pool.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Borrow returns an empty buffer.
func (p *Pool) Borrow() *Buffer {
	p.outstanding.Add(1)

	buf := p.pool.Get().(*Buffer)
	buf.size = 0

	return buf
}

// Return gives back a buffer previously borrowed from the pool.
// Buffers coming from other pools are ignored.
func (p *Pool) Return(buf *Buffer) {
	if buf == nil || buf.pool != p {
		return
	}

	p.outstanding.Add(-1)
	p.pool.Put(buf)
}

// Outstanding returns the number of borrowed buffers
// not yet returned.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

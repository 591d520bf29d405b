package rb

import (
	"runtime"
)

type mpscBuffer[T any] struct {
	*commonBuffer

	buffer []slot[T]
}

func newMPSCBuffer[T any](capacity uint64) *mpscBuffer[T] {
	return &mpscBuffer[T]{
		commonBuffer: newCommonBuffer(capacity),

		buffer: make([]slot[T], capacity),
	}
}

func (rb *mpscBuffer[T]) push(item T) bool {
	for {
		head := rb.head.Load()
		tail := rb.tail.Load()

		// Check if the buffer is full
		if head-tail >= rb.capacity {
			return false
		}

		slot := &rb.buffer[head&rb.capMask]

		// The consumer has not released the slot yet
		if slot.dataReady.Load() {
			runtime.Gosched()
			continue
		}

		if !rb.head.CompareAndSwap(head, head+1) {
			runtime.Gosched()
			continue
		}

		slot.data = item
		slot.dataReady.Store(true)

		return true
	}
}

func (rb *mpscBuffer[T]) pop() (T, bool) {
	var zero T

	tail := rb.tail.Load()
	slot := &rb.buffer[tail&rb.capMask]

	if !slot.dataReady.Load() {
		// Either empty or a producer is still writing the slot
		return zero, false
	}

	item := slot.data
	slot.data = zero
	slot.dataReady.Store(false)

	rb.tail.Add(1)

	return item, true
}

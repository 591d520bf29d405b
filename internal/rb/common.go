package rb

import (
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

type slot[T any] struct {
	dataReady atomic.Bool
	data      T
}

type commonBuffer struct {
	head atomic.Uint64

	_ cpu.CacheLinePad

	tail atomic.Uint64

	_ cpu.CacheLinePad

	capacity uint64
	capMask  uint64

	_ cpu.CacheLinePad
}

func newCommonBuffer(capacity uint64) *commonBuffer {
	return &commonBuffer{
		capacity: capacity,
		capMask:  capacity - 1,
	}
}

func (cb *commonBuffer) len() uint64 {
	tail := cb.tail.Load()
	head := cb.head.Load()

	if head < tail {
		return 0
	}

	return head - tail
}

// roundToPowerOf2 returns the smallest power of 2
// greater than or equal to n (minimum 2).
func roundToPowerOf2(n uint32) uint64 {
	if n <= 2 {
		return 2
	}

	return 1 << bits.Len32(n-1)
}

// Package ring provides a fixed-capacity circular buffer with O(1) eviction.
package ring

// Buffer is a fixed-capacity FIFO ring. Pushing onto a full buffer evicts
// the oldest element. Not safe for concurrent use — callers hold their own
// lock.
type Buffer[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

// New creates a Buffer with the given capacity. Panics if capacity < 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		panic("ring: capacity must be at least 1")
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element if the buffer is full.
func (b *Buffer[T]) Push(v T) {
	if b.size < len(b.buf) {
		b.buf[(b.head+b.size)%len(b.buf)] = v
		b.size++
		return
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
}

// Len returns the number of elements currently held.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the buffer's fixed capacity.
func (b *Buffer[T]) Cap() int { return len(b.buf) }

// At returns the element at index i, where 0 is the oldest. Panics if i is
// out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.buf[(b.head+i)%len(b.buf)]
}

// Last returns up to n most recent elements in oldest-first order.
func (b *Buffer[T]) Last(n int) []T {
	if n > b.size {
		n = b.size
	}
	out := make([]T, 0, n)
	for i := b.size - n; i < b.size; i++ {
		out = append(out, b.At(i))
	}
	return out
}

// Snapshot returns all elements in oldest-first order.
func (b *Buffer[T]) Snapshot() []T { return b.Last(b.size) }

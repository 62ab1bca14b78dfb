// Package history provides fixed-capacity rolling windows used to build
// temporally aware features from optimizer state.
package history

import "github.com/copyleftdev/cmadac/internal/optimization"

// Buffer is a fixed-capacity FIFO. Appending to a full buffer drops the
// oldest element. Iteration order is always chronological.
//
// Buffer is not safe for concurrent use.
type Buffer[T any] struct {
	data  []T
	start int
	size  int
}

// New creates an empty buffer holding at most capacity elements.
func New[T any](capacity int) (*Buffer[T], error) {
	if capacity <= 0 {
		return nil, optimization.NewErrorf(optimization.ErrInvalidConfig,
			"history capacity must be positive, got %d", capacity).WithComponent("history")
	}
	return &Buffer[T]{data: make([]T, capacity)}, nil
}

// Append inserts x, evicting the oldest element at capacity.
func (b *Buffer[T]) Append(x T) {
	if b.size < len(b.data) {
		b.data[(b.start+b.size)%len(b.data)] = x
		b.size++
		return
	}
	b.data[b.start] = x
	b.start = (b.start + 1) % len(b.data)
}

// Clear empties the buffer without releasing storage.
func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.start = 0
	b.size = 0
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return len(b.data) }

// At returns the i-th oldest element. It panics when i is out of range.
func (b *Buffer[T]) At(i int) T {
	if i < 0 || i >= b.size {
		panic("history: index out of range")
	}
	return b.data[(b.start+i)%len(b.data)]
}

// Last returns the newest element and false when the buffer is empty.
func (b *Buffer[T]) Last() (T, bool) {
	if b.size == 0 {
		var zero T
		return zero, false
	}
	return b.At(b.size - 1), true
}

// Values returns a chronological copy of the contents.
func (b *Buffer[T]) Values() []T {
	out := make([]T, b.size)
	for i := range out {
		out[i] = b.At(i)
	}
	return out
}

// PadLeft returns values preceded by zeros so the result has length n.
// If values is longer than n only the newest n entries are kept.
func PadLeft(values []float64, n int) []float64 {
	out := make([]float64, n)
	if len(values) > n {
		values = values[len(values)-n:]
	}
	copy(out[n-len(values):], values)
	return out
}

// Pair is one (objective delta, velocity delta) sample.
type Pair struct {
	ObjectiveDelta float64
	VelocityDelta  float64
}

// Flatten concatenates pairs as [o0, v0, o1, v1, ...].
func Flatten(pairs []Pair) []float64 {
	out := make([]float64, 0, 2*len(pairs))
	for _, p := range pairs {
		out = append(out, p.ObjectiveDelta, p.VelocityDelta)
	}
	return out
}

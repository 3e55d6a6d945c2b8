// Package collections provides generic pooled data structures used on the
// pipeline's hot paths.
package collections

import (
	"sync"
)

// SlicePool is a generic pool for slices of any type. It exists to keep
// allocator churn down where the processor acquires and releases window
// buffers at high rate.
type SlicePool[T any] struct {
	pool       sync.Pool
	initialCap int
}

// NewSlicePool creates a new slice pool with the given initial capacity.
func NewSlicePool[T any](initialCap int) *SlicePool[T] {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &SlicePool[T]{
		initialCap: initialCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, initialCap)
				return &s
			},
		},
	}
}

// Get gets a slice from the pool. The slice has zero length and at least
// the pool's initial capacity.
func (p *SlicePool[T]) Get() *[]T {
	return p.pool.Get().(*[]T)
}

// Put returns a slice to the pool after clearing it.
func (p *SlicePool[T]) Put(s *[]T) {
	*s = (*s)[:0]
	p.pool.Put(s)
}

// Cap returns the initial capacity slices are created with.
func (p *SlicePool[T]) Cap() int {
	return p.initialCap
}

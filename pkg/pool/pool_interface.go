// Package pool holds the acquisition contract shared by the pool variants, so
// callers such as benchmarks can run against any of them.
package pool

import (
	"github.com/geseq/objectpool"
	"github.com/geseq/objectpool/local"
)

// Releaser is a handle that hands its payload back when released.
type Releaser interface {
	Release()
}

// Interface defines the common interface for pools handing out handles of type H
type Interface[H Releaser] interface {
	Acquire() (H, bool)        // Checks out a free slot
	AcquireStrict() (H, error) // Checks out a free slot or fails with objectpool.ErrExhausted
	CountFree() int            // Slots not held outside the pool
	Capacity() int             // Fixed number of slots
}

// Ensure that both pool variants implement Interface
var (
	_ Interface[*objectpool.Handle[objectpool.Recyclable]] = (*objectpool.Pool[objectpool.Recyclable])(nil)
	_ Interface[*local.Handle[objectpool.Recyclable]]      = (*local.Pool[objectpool.Recyclable])(nil)
	_ Interface[*HeapHandle[objectpool.Recyclable]]        = (*Heap[objectpool.Recyclable])(nil)
)

// Heap satisfies Interface without pooling anything: every Acquire builds a
// new payload and Release leaves it to the garbage collector. It is the
// baseline pools are measured against.
type Heap[T any] struct {
	factory func() T
}

// NewHeap returns a Heap building payloads with factory.
func NewHeap[T any](factory func() T) *Heap[T] {
	return &Heap[T]{factory: factory}
}

// HeapHandle holds a payload built by a Heap.
type HeapHandle[T any] struct {
	Value T
}

// Release drops the payload.
func (h *HeapHandle[T]) Release() {
	var zero T
	h.Value = zero
}

func (p *Heap[T]) Acquire() (*HeapHandle[T], bool) {
	return &HeapHandle[T]{Value: p.factory()}, true
}

func (p *Heap[T]) AcquireStrict() (*HeapHandle[T], error) {
	h, _ := p.Acquire()
	return h, nil
}

// CountFree is always zero, nothing is kept.
func (p *Heap[T]) CountFree() int { return 0 }

// Capacity is always zero, nothing is kept.
func (p *Heap[T]) Capacity() int { return 0 }

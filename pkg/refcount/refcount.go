// Package refcount provides the shared reference counter behind every slot of
// a concurrent pool.
package refcount

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Counter is an atomic reference count padded to its own cache line, so that
// neighbouring slots scanned by different goroutines don't false share.
type Counter struct {
	_ cpu.CacheLinePad
	n atomic.Int64
	_ cpu.CacheLinePad
}

// New returns a counter starting at n.
func New(n int64) *Counter {
	c := &Counter{}
	c.n.Store(n)
	return c
}

// Load returns the current count.
func (c *Counter) Load() int64 {
	return c.n.Load()
}

// Inc adds one reference and returns the new count.
func (c *Counter) Inc() int64 {
	return c.n.Add(1)
}

// CompareAndSwap moves the count from old to new if it still equals old.
func (c *Counter) CompareAndSwap(old, new int64) bool {
	return c.n.CompareAndSwap(old, new)
}

// TryAcquire moves the count from free to free+1. Exactly one of several
// racing callers observing the same free count succeeds.
func (c *Counter) TryAcquire(free int64) bool {
	return c.n.CompareAndSwap(free, free+1)
}

// DecrementAbove drops one reference as long as the count stays above floor.
// It returns false, leaving the count untouched, when the count is at floor+1
// or below, i.e. when the caller holds the last reference above floor.
func (c *Counter) DecrementAbove(floor int64) bool {
	for {
		n := c.n.Load()
		if n <= floor+1 {
			return false
		}
		if c.n.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Package local provides a pool for payloads that never leave one goroutine.
//
// It has the same acquisition and recycling rules as objectpool.Pool but keeps
// plain counters instead of atomics and locks. Access goes through borrows that
// are checked at run time: any number of shared borrows, or a single mutable
// one. Nothing in this package is safe for concurrent use.
package local

import (
	"fmt"
	"unsafe"

	"github.com/geseq/objectpool"
	"go.uber.org/zap"
)

// Pool is a fixed-capacity pool of payloads used from a single goroutine.
type Pool[T objectpool.Recyclable] struct {
	slots     []slot[T] // contiguous backing storage
	handles   []*Handle[T]
	name      string
	log       *zap.Logger
	slotStart uintptr
	slotEnd   uintptr

	acquired  uint64
	exhausted uint64
	evicted   uint64
	recycled  uint64
}

type settings struct {
	name   string
	logger *zap.Logger
}

// PoolOption configures a local Pool.
type PoolOption func(*settings)

// WithName sets the pool name used in logs and errors
func WithName(name string) PoolOption {
	return func(s *settings) { s.name = name }
}

// WithLogger sets the logger; nil disables logging
func WithLogger(l *zap.Logger) PoolOption {
	return func(s *settings) {
		if l == nil {
			l = zap.NewNop()
		}
		s.logger = l
	}
}

// New creates a pool of capacity slots filled by factory.
func New[T objectpool.Recyclable](capacity int, factory func() T, opts ...PoolOption) *Pool[T] {
	if capacity < 0 {
		panic(fmt.Sprintf("local: negative capacity %d", capacity))
	}
	if factory == nil {
		panic("local: nil factory")
	}

	s := settings{name: "local", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&s)
	}

	p := &Pool[T]{
		slots:   make([]slot[T], capacity),
		handles: make([]*Handle[T], capacity),
		name:    s.name,
		log:     s.logger.With(zap.String("pool", s.name)),
	}
	for i := range p.slots {
		p.slots[i] = slot[T]{value: factory(), refs: free, index: i, pool: p}
		p.handles[i] = &Handle[T]{slot: &p.slots[i], owner: true}
	}
	if capacity > 0 {
		p.slotStart = uintptr(unsafe.Pointer(&p.slots[0]))
		p.slotEnd = uintptr(unsafe.Pointer(&p.slots[capacity-1]))
	}

	p.log.Debug("pool created", zap.Int("capacity", capacity))
	return p
}

// NewDefault creates a pool whose payloads start as new(T).
func NewDefault[T any, P objectpool.RecyclablePtr[T]](capacity int, opts ...PoolOption) *Pool[P] {
	return New(capacity, func() P { return P(new(T)) }, opts...)
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.name
}

// Capacity returns the number of slots.
func (p *Pool[T]) Capacity() int {
	return len(p.slots)
}

// Handles returns the pool's own handles in slot order.
func (p *Pool[T]) Handles() []*Handle[T] {
	out := make([]*Handle[T], len(p.handles))
	copy(out, p.handles)
	return out
}

// Contains reports whether h refers to a slot of this pool.
func (p *Pool[T]) Contains(h *Handle[T]) bool {
	if h == nil || len(p.slots) == 0 {
		return false
	}
	ptr := uintptr(unsafe.Pointer(h.slot))
	return ptr >= p.slotStart && ptr <= p.slotEnd
}

// CountFree returns the number of slots with no holder outside the pool.
func (p *Pool[T]) CountFree() int {
	var n int
	for i := range p.slots {
		if p.slots[i].refs == free {
			n++
		}
	}
	return n
}

// Acquire checks out the first free slot in index order.
func (p *Pool[T]) Acquire() (*Handle[T], bool) {
	h := p.acquire()
	if h == nil {
		p.exhausted++
		p.log.Debug("pool exhausted")
		return nil, false
	}
	return h, true
}

// AcquireStrict is like Acquire but reports exhaustion as an error wrapping
// objectpool.ErrExhausted.
func (p *Pool[T]) AcquireStrict() (*Handle[T], error) {
	h := p.acquire()
	if h == nil {
		p.exhausted++
		p.log.Warn("pool exhausted")
		return nil, fmt.Errorf("pool %q: %w", p.name, objectpool.ErrExhausted)
	}
	return h, nil
}

func (p *Pool[T]) acquire() *Handle[T] {
	for i := range p.slots {
		s := &p.slots[i]
		if s.refs == free {
			s.refs++
			p.acquired++
			return &Handle[T]{slot: s}
		}
	}
	return nil
}

// ForceAcquireMatching checks out the first slot for which pred returns true,
// reinitializing it even if it is held. It panics with ErrBorrowed or
// ErrBorrowedMut if the payload is borrowed at that moment.
func (p *Pool[T]) ForceAcquireMatching(pred func(*Handle[T]) bool) (*Handle[T], bool) {
	for _, h := range p.handles {
		if pred(h) {
			return p.force(h.slot), true
		}
	}
	return nil, false
}

// ForceAcquireMinFunc forcibly checks out the slot with the smallest payload
// according to cmp, the first one on ties.
func (p *Pool[T]) ForceAcquireMinFunc(cmp func(a, b T) int) (*Handle[T], bool) {
	if len(p.slots) == 0 {
		return nil, false
	}

	victim := &p.slots[0]
	for i := 1; i < len(p.slots); i++ {
		if cmp(p.slots[i].value, victim.value) < 0 {
			victim = &p.slots[i]
		}
	}
	return p.force(victim), true
}

// ForceAcquireMin forcibly checks out the slot with the smallest payload
// according to its Compare method.
func ForceAcquireMin[T objectpool.Ordered[T]](p *Pool[T]) (*Handle[T], bool) {
	return p.ForceAcquireMinFunc(func(a, b T) int { return a.Compare(b) })
}

func (p *Pool[T]) force(s *slot[T]) *Handle[T] {
	if err := s.reinitialize(); err != nil {
		panic(err)
	}

	s.refs++
	p.evicted++
	p.log.Info("slot evicted", zap.Int("index", s.index), zap.Int("refs", s.refs))
	return &Handle[T]{slot: s}
}

// Stats returns the current activity counters.
func (p *Pool[T]) Stats() objectpool.Stats {
	return objectpool.Stats{
		Name:      p.name,
		Capacity:  p.Capacity(),
		Free:      p.CountFree(),
		Acquired:  p.acquired,
		Exhausted: p.exhausted,
		Evicted:   p.evicted,
		Recycled:  p.recycled,
	}
}

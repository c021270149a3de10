package objectpool

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Pool is a fixed-capacity collection of reusable payloads, safe for
// concurrent use.
//
// Every payload is built once by New. Acquire checks out the first free slot;
// the slot comes back by itself, reinitialized, when the last handle to it is
// released. Acquisition never blocks: an exhausted pool reports it right away.
//
// The slot slice is never resized after New, which is what lets concurrent
// scans run without a pool-wide lock. Growing or shrinking a pool would need
// one.
type Pool[T Recyclable] struct {
	handles []*Handle[T]
	state   *poolState
}

// poolState is shared by a pool and all of its slots.
type poolState struct {
	name    string
	policy  LockPolicy
	log     *zap.Logger
	metrics *poolMetrics

	acquired  atomic.Uint64
	exhausted atomic.Uint64
	evicted   atomic.Uint64
	recycled  atomic.Uint64
}

// Stats is a point in time view of a pool's activity.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Free      int    `json:"free"`
	Acquired  uint64 `json:"acquired"`
	Exhausted uint64 `json:"exhausted"`
	Evicted   uint64 `json:"evicted"`
	Recycled  uint64 `json:"recycled"`
}

// New creates a pool of capacity slots, each holding a payload built by
// factory. factory is called exactly capacity times, before New returns.
func New[T Recyclable](capacity int, factory func() T, opts ...Option) *Pool[T] {
	if capacity < 0 {
		panic(fmt.Sprintf("objectpool: negative capacity %d", capacity))
	}
	if factory == nil {
		panic("objectpool: nil factory")
	}

	var s settings
	options(defaultOpts).applyTo(&s)
	options(opts).applyTo(&s)

	state := &poolState{
		name:   s.name,
		policy: s.policy,
		log:    s.logger.With(zap.String("pool", s.name)),
	}

	p := &Pool[T]{
		handles: make([]*Handle[T], capacity),
		state:   state,
	}
	for i := range p.handles {
		p.handles[i] = ownerHandle(newSlot(i, factory(), state))
	}

	state.metrics = newPoolMetrics(s.registerer, s.name, func() float64 {
		return float64(p.CountFree())
	})

	state.log.Debug("pool created",
		zap.Int("capacity", capacity),
		zap.Stringer("lock_policy", s.policy),
	)

	return p
}

// NewDefault creates a pool whose payloads start as new(T).
func NewDefault[T any, P RecyclablePtr[T]](capacity int, opts ...Option) *Pool[P] {
	return New(capacity, func() P { return P(new(T)) }, opts...)
}

// Name returns the pool name.
func (p *Pool[T]) Name() string {
	return p.state.name
}

// Capacity returns the number of slots, fixed for the lifetime of the pool.
func (p *Pool[T]) Capacity() int {
	return len(p.handles)
}

// Handles returns the pool's own handles in slot order. They can be read,
// written and cloned but releasing them has no effect.
func (p *Pool[T]) Handles() []*Handle[T] {
	out := make([]*Handle[T], len(p.handles))
	copy(out, p.handles)
	return out
}

// CountFree returns the number of slots with no holder outside the pool.
func (p *Pool[T]) CountFree() int {
	var n int
	for _, h := range p.handles {
		if h.slot.refs.Load() == free {
			n++
		}
	}
	return n
}

// Acquire checks out the first free slot in index order. It returns false if
// every slot is checked out.
func (p *Pool[T]) Acquire() (*Handle[T], bool) {
	h := p.acquire()
	if h == nil {
		p.state.onExhausted(zapcore.DebugLevel)
		return nil, false
	}
	return h, true
}

// AcquireStrict is like Acquire but reports exhaustion as an error wrapping
// ErrExhausted.
func (p *Pool[T]) AcquireStrict() (*Handle[T], error) {
	h := p.acquire()
	if h == nil {
		p.state.onExhausted(zapcore.WarnLevel)
		return nil, fmt.Errorf("pool %q: %w", p.state.name, ErrExhausted)
	}
	return h, nil
}

func (p *Pool[T]) acquire() *Handle[T] {
	for _, h := range p.handles {
		// losing the race means another goroutine took it, keep scanning
		if h.slot.refs.TryAcquire(free) {
			p.state.onAcquire()
			return liveHandle(h.slot)
		}
	}
	return nil
}

// ForceAcquireMatching checks out the first slot, free or not, for which pred
// returns true. The payload is reinitialized first, under the slot's write
// lock, and any poison is cleared.
//
// Like Acquire it never blocks: a matching slot that is locked at that moment
// is skipped and the scan goes on to the next match. It returns false if no
// slot both matches and is available.
//
// Existing holders of that slot keep their handles and see the payload reset
// underneath them; the slot stays checked out until all of them and the
// returned handle are released. pred receives the pool's own handle and may
// lock it for reading, but must unlock before returning.
func (p *Pool[T]) ForceAcquireMatching(pred func(*Handle[T]) bool) (*Handle[T], bool) {
	for _, h := range p.handles {
		if !pred(h) {
			continue
		}
		if forced, ok := p.force(h.slot); ok {
			return forced, true
		}
	}
	return nil, false
}

// ForceAcquireMinFunc forcibly checks out the slot holding the smallest
// payload according to cmp, the first one on ties. See ForceAcquireMatching.
//
// Slots that cannot be read locked without waiting take no part in the
// comparison. It returns false if the pool is empty, if every slot is locked,
// or if the chosen slot gets locked before it can be evicted.
func (p *Pool[T]) ForceAcquireMinFunc(cmp func(a, b T) int) (*Handle[T], bool) {
	var victim *slot[T]
	for _, h := range p.handles {
		s := h.slot
		if !s.lock.TryRLock() {
			continue
		}
		if victim == nil {
			victim = s
			s.lock.RUnlock()
			continue
		}

		if !victim.lock.TryRLock() {
			// the current minimum got locked since, it could not be evicted anyway
			victim = s
			s.lock.RUnlock()
			continue
		}
		less := cmp(s.value, victim.value) < 0
		victim.lock.RUnlock()
		s.lock.RUnlock()

		if less {
			victim = s
		}
	}

	if victim == nil {
		return nil, false
	}
	return p.force(victim)
}

// ForceAcquireMin forcibly checks out the slot holding the smallest payload
// according to its Compare method.
func ForceAcquireMin[T Ordered[T]](p *Pool[T]) (*Handle[T], bool) {
	return p.ForceAcquireMinFunc(func(a, b T) int { return a.Compare(b) })
}

func (p *Pool[T]) force(s *slot[T]) (*Handle[T], bool) {
	refs, ok := s.tryEvict()
	if !ok {
		p.state.onEvictSkipped(s.index)
		return nil, false
	}

	p.state.onEvict(s.index, int(refs))
	return liveHandle(s), true
}

// Stats returns the current activity counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Name:      p.state.name,
		Capacity:  p.Capacity(),
		Free:      p.CountFree(),
		Acquired:  p.state.acquired.Load(),
		Exhausted: p.state.exhausted.Load(),
		Evicted:   p.state.evicted.Load(),
		Recycled:  p.state.recycled.Load(),
	}
}

func (s *poolState) onAcquire() {
	s.acquired.Add(1)
	s.metrics.incAcquired()
}

func (s *poolState) onExhausted(level zapcore.Level) {
	s.exhausted.Add(1)
	s.metrics.incExhausted()

	if ce := s.log.Check(level, "pool exhausted"); ce != nil {
		ce.Write()
	}
}

func (s *poolState) onEvict(index, refs int) {
	s.evicted.Add(1)
	s.metrics.incEvicted()

	s.log.Info("slot evicted", zap.Int("index", index), zap.Int("refs", refs))
}

func (s *poolState) onEvictSkipped(index int) {
	if ce := s.log.Check(zapcore.DebugLevel, "slot locked, not evicted"); ce != nil {
		ce.Write(zap.Int("index", index))
	}
}

func (s *poolState) onRecycle() {
	s.recycled.Add(1)
	s.metrics.incRecycled()
}

func (s *poolState) onRecycleFailed(index, refs int, err error) {
	s.log.Error("slot not recycled on release",
		zap.Int("index", index),
		zap.Int("refs", refs),
		zap.Error(err),
	)
}

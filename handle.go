package objectpool

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/geseq/objectpool/pkg/refcount"
	"go.uber.org/zap"
)

// free is the reference count of a slot only the pool refers to.
const free = 1

// slot is one fixed storage location of a pool.
type slot[T Recyclable] struct {
	refs     *refcount.Counter
	lock     slotLocker
	poisoned atomic.Bool
	evicting atomic.Bool
	value    T
	index    int
	state    *poolState
}

func newSlot[T Recyclable](index int, value T, state *poolState) *slot[T] {
	return &slot[T]{
		refs:  refcount.New(free),
		lock:  state.policy.newLocker(),
		value: value,
		index: index,
		state: state,
	}
}

// recycle reinitializes the payload without blocking.
func (s *slot[T]) recycle() error {
	if !s.lock.TryLock() {
		return ErrWouldBlock
	}
	defer s.lock.Unlock()

	if s.poisoned.Load() {
		return ErrPoisoned
	}

	s.value.Reinitialize()
	return nil
}

// tryEvict reinitializes the payload regardless of current holders and adds
// a reference for the evicting caller. It fails without side effects if the
// slot is locked or another eviction is in progress.
func (s *slot[T]) tryEvict() (refs int64, ok bool) {
	if !s.evicting.CompareAndSwap(false, true) {
		return 0, false
	}
	defer s.evicting.Store(false)

	if !s.lock.TryLock() {
		return 0, false
	}
	defer s.lock.Unlock()

	s.value.Reinitialize()
	s.poisoned.Store(false)
	return s.refs.Inc(), true
}

// Handle is a shared reference to one slot of a Pool.
//
// The slot is checked out for as long as at least one handle obtained from the
// pool (directly or through Clone) has not been released. Every such handle
// must be released exactly once, usually with defer:
//
//	h, ok := pool.Acquire()
//	if !ok {
//		return
//	}
//	defer h.Release()
//
// When the last of them is released the payload is reinitialized and the slot
// becomes free again. A Handle must not be used after Release.
type Handle[T Recyclable] struct {
	slot  *slot[T]
	owner bool // held by the pool itself, never released
	live  atomic.Bool
}

func ownerHandle[T Recyclable](s *slot[T]) *Handle[T] {
	return &Handle[T]{slot: s, owner: true}
}

func liveHandle[T Recyclable](s *slot[T]) *Handle[T] {
	h := &Handle[T]{slot: s}
	h.live.Store(true)
	return h
}

func (h *Handle[T]) check() error {
	if h.owner || h.live.Load() {
		return nil
	}
	return ErrReleased
}

// Index returns the position of the slot within its pool.
func (h *Handle[T]) Index() int {
	return h.slot.index
}

// RefCount returns the number of references to the slot, including the one
// held by the pool. A count of 1 means the slot is free.
func (h *Handle[T]) RefCount() int {
	return int(h.slot.refs.Load())
}

// Released reports whether Release has completed on this handle.
func (h *Handle[T]) Released() bool {
	return !h.owner && !h.live.Load()
}

// Clone returns a new handle to the same slot. This is the only way a slot
// gets checked out; the clone must be released like any other handle.
func (h *Handle[T]) Clone() *Handle[T] {
	if err := h.check(); err != nil {
		panic(err)
	}

	h.slot.refs.Inc()
	return liveHandle(h.slot)
}

// Release drops this reference to the slot.
//
// If it is the last reference besides the pool's own, the payload is
// reinitialized before the slot is marked free. Reinitialization never blocks:
// if the slot is locked or poisoned at that moment Release panics with a
// *RecycleError and leaves the slot checked out and the handle unreleased, so
// the pool can never hand out a payload that was not reset. A panic from
// Reinitialize leaves them the same way. Either way Release can be retried.
// Releasing twice, or releasing one of the pool's own handles, is a no-op.
func (h *Handle[T]) Release() {
	if h.owner || !h.live.CompareAndSwap(true, false) {
		return
	}

	released := false
	defer func() {
		if !released {
			h.live.Store(true)
		}
	}()

	s := h.slot
	for {
		if s.refs.DecrementAbove(free) {
			released = true
			return
		}

		err := s.recycle()
		if errors.Is(err, ErrWouldBlock) && s.evicting.Load() {
			// the evicting goroutine adds its reference before unlocking
			runtime.Gosched()
			continue
		}
		if err != nil {
			s.state.onRecycleFailed(s.index, int(s.refs.Load()), err)
			panic(&RecycleError{Pool: s.state.name, Index: s.index, Err: err})
		}

		// a forced eviction may have added a holder since the check above
		if s.refs.CompareAndSwap(free+1, free) {
			s.state.onRecycle()
			released = true
			return
		}
	}
}

// IsPoisoned reports whether a writer panicked while holding the slot.
func (h *Handle[T]) IsPoisoned() bool {
	return h.slot.poisoned.Load()
}

// ClearPoison marks the slot as healthy again.
func (h *Handle[T]) ClearPoison() {
	h.slot.poisoned.Store(false)
}

// Read locks the slot for shared access, blocking until the lock is
// available. If the slot is poisoned the returned *PoisonError holds the guard.
func (h *Handle[T]) Read() (*ReadGuard[T], error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	h.slot.lock.RLock()
	return h.slot.readGuard()
}

// TryRead is like Read but fails with ErrWouldBlock instead of waiting.
func (h *Handle[T]) TryRead() (*ReadGuard[T], error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	if !h.slot.lock.TryRLock() {
		return nil, ErrWouldBlock
	}
	return h.slot.readGuard()
}

// Write locks the slot for exclusive access, blocking until the lock is
// available. If the slot is poisoned the returned *PoisonError holds the guard.
func (h *Handle[T]) Write() (*WriteGuard[T], error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	h.slot.lock.Lock()
	return h.slot.writeGuard()
}

// TryWrite is like Write but fails with ErrWouldBlock instead of waiting.
func (h *Handle[T]) TryWrite() (*WriteGuard[T], error) {
	if err := h.check(); err != nil {
		return nil, err
	}

	if !h.slot.lock.TryLock() {
		return nil, ErrWouldBlock
	}
	return h.slot.writeGuard()
}

// View calls fn with the payload under shared access. It returns ErrPoisoned
// without calling fn if the slot is poisoned.
func (h *Handle[T]) View(fn func(T)) error {
	g, err := h.Read()
	if err != nil {
		return unlockPoisoned[*ReadGuard[T]](err)
	}
	defer g.Unlock()

	fn(g.Value())
	return nil
}

// Update calls fn with the payload under exclusive access. A panic in fn
// poisons the slot.
func (h *Handle[T]) Update(fn func(T)) error {
	g, err := h.Write()
	if err != nil {
		return unlockPoisoned[*WriteGuard[T]](err)
	}
	defer g.Unlock()

	fn(g.Value())
	return nil
}

// unlockPoisoned gives up the guard carried by a *PoisonError.
func unlockPoisoned[G interface{ Unlock() }](err error) error {
	if pe, ok := err.(*PoisonError[G]); ok {
		pe.Guard().Unlock()
		return ErrPoisoned
	}
	return err
}

func (s *slot[T]) readGuard() (*ReadGuard[T], error) {
	g := &ReadGuard[T]{slot: s}
	if s.poisoned.Load() {
		return nil, &PoisonError[*ReadGuard[T]]{guard: g}
	}
	return g, nil
}

func (s *slot[T]) writeGuard() (*WriteGuard[T], error) {
	g := &WriteGuard[T]{slot: s}
	if s.poisoned.Load() {
		return nil, &PoisonError[*WriteGuard[T]]{guard: g}
	}
	return g, nil
}

// ReadGuard holds shared access to a payload until Unlock.
type ReadGuard[T Recyclable] struct {
	slot     *slot[T]
	unlocked bool
}

// Value returns the payload. It must not be used after Unlock.
func (g *ReadGuard[T]) Value() T {
	return g.slot.value
}

// Unlock releases shared access. Further calls are no-ops.
func (g *ReadGuard[T]) Unlock() {
	if g.unlocked {
		return
	}
	g.unlocked = true
	g.slot.lock.RUnlock()
}

// WriteGuard holds exclusive access to a payload until Unlock.
type WriteGuard[T Recyclable] struct {
	slot     *slot[T]
	unlocked bool
}

// Value returns the payload. It must not be used after Unlock.
func (g *WriteGuard[T]) Value() T {
	return g.slot.value
}

// Unlock releases exclusive access. Further calls are no-ops.
//
// When deferred directly (defer g.Unlock()) it also detects a panic unwinding
// through the critical section: the slot is poisoned, unlocked, and the panic
// continues with the same value. The re-raised panic reports the stack of
// Unlock, so the stack of the original panic is logged at error level first.
func (g *WriteGuard[T]) Unlock() {
	if g.unlocked {
		return
	}
	g.unlocked = true

	if r := recover(); r != nil {
		s := g.slot
		s.poisoned.Store(true)
		s.state.log.Error("slot poisoned",
			zap.Int("index", s.index),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
		s.lock.Unlock()
		panic(r)
	}
	g.slot.lock.Unlock()
}

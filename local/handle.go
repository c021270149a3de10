package local

import (
	"errors"

	"github.com/geseq/objectpool"
	"go.uber.org/zap"
)

// Borrow errors
var (
	ErrBorrowed    = errors.New("local: value already borrowed")
	ErrBorrowedMut = errors.New("local: value already mutably borrowed")
)

const (
	free      = 1
	mutBorrow = -1
)

type slot[T objectpool.Recyclable] struct {
	value  T
	refs   int
	borrow int // shared borrows, or mutBorrow
	index  int
	pool   *Pool[T]
}

func (s *slot[T]) borrowMut() error {
	switch {
	case s.borrow == mutBorrow:
		return ErrBorrowedMut
	case s.borrow > 0:
		return ErrBorrowed
	}
	s.borrow = mutBorrow
	return nil
}

// reinitialize resets the payload under a mutable borrow.
func (s *slot[T]) reinitialize() error {
	if err := s.borrowMut(); err != nil {
		return err
	}
	defer func() { s.borrow = 0 }()

	s.value.Reinitialize()
	return nil
}

// Handle is a reference to one slot of a local Pool. Every handle returned by
// Acquire or Clone must be released exactly once.
type Handle[T objectpool.Recyclable] struct {
	slot     *slot[T]
	owner    bool
	released bool
}

// Index returns the position of the slot within its pool.
func (h *Handle[T]) Index() int {
	return h.slot.index
}

// RefCount returns the number of references to the slot, the pool's own
// included.
func (h *Handle[T]) RefCount() int {
	return h.slot.refs
}

// Released reports whether Release has been called on this handle.
func (h *Handle[T]) Released() bool {
	return h.released
}

// Clone returns a new handle to the same slot.
func (h *Handle[T]) Clone() *Handle[T] {
	if h.released {
		panic(objectpool.ErrReleased)
	}

	h.slot.refs++
	return &Handle[T]{slot: h.slot}
}

// Release drops this reference. The last one besides the pool's reinitializes
// the payload and frees the slot; if the payload is borrowed at that moment
// Release panics with a *objectpool.RecycleError and the slot stays checked
// out. A panic from Reinitialize leaves the slot checked out too, and in both
// cases Release can be retried.
func (h *Handle[T]) Release() {
	if h.owner || h.released {
		return
	}

	s := h.slot
	if s.refs > free+1 {
		s.refs--
		h.released = true
		return
	}

	if err := s.reinitialize(); err != nil {
		s.pool.log.Error("slot not recycled on release", zap.Int("index", s.index), zap.Error(err))
		panic(&objectpool.RecycleError{Pool: s.pool.name, Index: s.index, Err: err})
	}

	s.refs = free
	h.released = true
	s.pool.recycled++
}

// Borrow returns shared access to the payload. It panics if the payload is
// mutably borrowed.
func (h *Handle[T]) Borrow() *Ref[T] {
	r, err := h.TryBorrow()
	if err != nil {
		panic(err)
	}
	return r
}

// TryBorrow is like Borrow but returns ErrBorrowedMut instead of panicking.
func (h *Handle[T]) TryBorrow() (*Ref[T], error) {
	if h.released {
		return nil, objectpool.ErrReleased
	}
	if h.slot.borrow == mutBorrow {
		return nil, ErrBorrowedMut
	}

	h.slot.borrow++
	return &Ref[T]{slot: h.slot}, nil
}

// BorrowMut returns exclusive access to the payload. It panics if the payload
// is borrowed in any way.
func (h *Handle[T]) BorrowMut() *RefMut[T] {
	r, err := h.TryBorrowMut()
	if err != nil {
		panic(err)
	}
	return r
}

// TryBorrowMut is like BorrowMut but returns ErrBorrowed or ErrBorrowedMut
// instead of panicking.
func (h *Handle[T]) TryBorrowMut() (*RefMut[T], error) {
	if h.released {
		return nil, objectpool.ErrReleased
	}
	if err := h.slot.borrowMut(); err != nil {
		return nil, err
	}
	return &RefMut[T]{slot: h.slot}, nil
}

// Ref is a shared borrow of a payload.
type Ref[T objectpool.Recyclable] struct {
	slot *slot[T]
	done bool
}

// Value returns the payload. It must not be modified through a Ref.
func (r *Ref[T]) Value() T {
	return r.slot.value
}

// Release ends the borrow. Further calls are no-ops.
func (r *Ref[T]) Release() {
	if r.done {
		return
	}
	r.done = true
	r.slot.borrow--
}

// RefMut is an exclusive borrow of a payload.
type RefMut[T objectpool.Recyclable] struct {
	slot *slot[T]
	done bool
}

// Value returns the payload.
func (r *RefMut[T]) Value() T {
	return r.slot.value
}

// Release ends the borrow. Further calls are no-ops.
func (r *RefMut[T]) Release() {
	if r.done {
		return
	}
	r.done = true
	r.slot.borrow = 0
}

package objectpool

import (
	"errors"
	"fmt"
)

// Pool errors
var (
	ErrExhausted  = errors.New("objectpool: pool is out of objects")
	ErrPoisoned   = errors.New("objectpool: slot poisoned by a panic while locked for writing")
	ErrWouldBlock = errors.New("objectpool: slot is locked")
	ErrReleased   = errors.New("objectpool: handle already released")
)

// PoisonError is returned by the access methods of a Handle whose slot was
// poisoned. The lock is held by the embedded guard; callers that decide to
// proceed anyway take it with Guard and must unlock it as usual.
type PoisonError[G any] struct {
	guard G
}

func (e *PoisonError[G]) Error() string {
	return ErrPoisoned.Error()
}

// Is reports whether target is ErrPoisoned.
func (e *PoisonError[G]) Is(target error) bool {
	return target == ErrPoisoned
}

// Guard returns the guard that still holds the slot lock.
func (e *PoisonError[G]) Guard() G {
	return e.guard
}

// RecycleError is the panic value raised when the last external holder of a
// slot releases it but the slot cannot be reinitialized.
type RecycleError struct {
	Pool  string
	Index int
	Err   error
}

func (e *RecycleError) Error() string {
	return fmt.Sprintf("objectpool: cannot recycle slot %d of pool %q: %v", e.Index, e.Pool, e.Err)
}

func (e *RecycleError) Unwrap() error {
	return e.Err
}

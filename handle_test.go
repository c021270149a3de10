package objectpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catchPanic(fn func()) (r any) {
	defer func() { r = recover() }()
	fn()
	return nil
}

func poison(t *testing.T, h *Handle[*monster]) {
	t.Helper()

	r := catchPanic(func() {
		g, err := h.Write()
		require.NoError(t, err)
		defer g.Unlock()

		g.Value().levelUp()
		panic("boom")
	})
	require.Equal(t, "boom", r)
	require.True(t, h.IsPoisoned())
}

func TestReadWrite(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	defer h.Release()

	w, err := h.Write()
	require.NoError(t, err)
	w.Value().levelUp()
	w.Unlock()
	w.Unlock()

	r, err := h.Read()
	require.NoError(t, err)
	assert.Equal(t, uint8(11), r.Value().level)
	r.Unlock()
}

func TestSharedReaders(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	defer h.Release()

	r1, err := h.Read()
	require.NoError(t, err)

	r2, err := h.TryRead()
	require.NoError(t, err)

	_, err = h.TryWrite()
	assert.ErrorIs(t, err, ErrWouldBlock)

	r1.Unlock()
	r2.Unlock()

	w, err := h.TryWrite()
	require.NoError(t, err)

	_, err = h.TryRead()
	assert.ErrorIs(t, err, ErrWouldBlock)
	w.Unlock()
}

func TestExclusiveReaders(t *testing.T) {
	p := New(1, newMonster, WithLockPolicy(Exclusive))
	h, ok := p.Acquire()
	require.True(t, ok)
	defer h.Release()

	r, err := h.Read()
	require.NoError(t, err)

	_, err = h.TryRead()
	assert.ErrorIs(t, err, ErrWouldBlock)
	_, err = h.TryWrite()
	assert.ErrorIs(t, err, ErrWouldBlock)

	r.Unlock()

	r, err = h.TryRead()
	require.NoError(t, err)
	r.Unlock()
}

func TestPoisonedAccess(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	poison(t, h)

	_, err := h.Read()
	require.ErrorIs(t, err, ErrPoisoned)

	var pe *PoisonError[*ReadGuard[*monster]]
	require.True(t, errors.As(err, &pe))
	// the guard is still usable and holds the lock
	assert.Equal(t, uint8(11), pe.Guard().Value().level)
	_, err = h.TryWrite()
	assert.ErrorIs(t, err, ErrWouldBlock)
	pe.Guard().Unlock()

	_, err = h.TryWrite()
	var wpe *PoisonError[*WriteGuard[*monster]]
	require.True(t, errors.As(err, &wpe))
	wpe.Guard().Unlock()

	assert.ErrorIs(t, h.Update(func(*monster) { t.Fatal("must not run") }), ErrPoisoned)
	assert.ErrorIs(t, h.View(func(*monster) { t.Fatal("must not run") }), ErrPoisoned)

	h.ClearPoison()
	assert.False(t, h.IsPoisoned())
	assert.NoError(t, h.View(func(*monster) {}))
	h.Release()
	assert.Equal(t, 1, p.CountFree())
}

func TestUpdatePanicPoisons(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)

	r := catchPanic(func() {
		_ = h.Update(func(*monster) { panic("update") })
	})
	assert.Equal(t, "update", r)
	assert.True(t, h.IsPoisoned())

	// the lock was released on the way out
	h.ClearPoison()
	g, err := h.TryWrite()
	require.NoError(t, err)
	g.Unlock()
	h.Release()
}

func TestReadPanicDoesNotPoison(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	defer h.Release()

	r := catchPanic(func() {
		_ = h.View(func(*monster) { panic("view") })
	})
	assert.Equal(t, "view", r)
	assert.False(t, h.IsPoisoned())
}

func TestReleasePoisonedPanics(t *testing.T) {
	p := New(2, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	poison(t, h)

	r := catchPanic(h.Release)
	err, ok := r.(*RecycleError)
	require.True(t, ok, "unexpected panic value %v", r)
	assert.ErrorIs(t, err, ErrPoisoned)
	assert.Equal(t, 0, err.Index)
	assert.Equal(t, "default", err.Pool)

	// the slot is not handed out again before it is reset
	assert.False(t, h.Released())
	assert.Equal(t, 2, h.RefCount())
	assert.Equal(t, 1, p.CountFree())
	other, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, 1, other.Index())
	other.Release()

	h.ClearPoison()
	h.Release()
	assert.True(t, h.Released())
	assert.Equal(t, 2, p.CountFree())
	assert.Equal(t, uint8(1), level(t, p.Handles()[0]))
}

func TestReleaseContendedPanics(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)

	g, err := p.Handles()[0].Read()
	require.NoError(t, err)

	r := catchPanic(h.Release)
	rerr, ok := r.(*RecycleError)
	require.True(t, ok, "unexpected panic value %v", r)
	assert.ErrorIs(t, rerr, ErrWouldBlock)
	assert.Equal(t, 0, p.CountFree())

	g.Unlock()
	h.Release()
	assert.Equal(t, 1, p.CountFree())
}

func TestPanicWhileHoldingHandle(t *testing.T) {
	p := New(2, newMonster)

	r := catchPanic(func() {
		h, ok := p.Acquire()
		require.True(t, ok)
		defer h.Release()

		setLevel(t, h, 99)
		panic("holder failed")
	})
	assert.Equal(t, "holder failed", r)

	assert.Equal(t, 2, p.CountFree())
	assert.Equal(t, uint8(1), level(t, p.Handles()[0]))
}

func TestPanicWhileWritingWithDeferredRelease(t *testing.T) {
	p := New(2, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)

	r := catchPanic(func() {
		defer h.Release()
		_ = h.Update(func(m *monster) {
			m.level = 99
			panic("writer failed")
		})
	})

	// the deferred release could not reset a poisoned payload
	rerr, ok := r.(*RecycleError)
	require.True(t, ok, "unexpected panic value %v", r)
	assert.ErrorIs(t, rerr, ErrPoisoned)
	assert.Equal(t, 1, p.CountFree())

	next, ok := p.Acquire()
	require.True(t, ok)
	assert.Equal(t, 1, next.Index())
	next.Release()

	h.ClearPoison()
	h.Release()
	assert.Equal(t, 2, p.CountFree())
	assert.Equal(t, uint8(1), level(t, p.Handles()[0]))
}

func TestReleaseTwice(t *testing.T) {
	p := New(2, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	c := h.Clone()

	h.Release()
	h.Release()
	assert.Equal(t, 2, c.RefCount())
	assert.Equal(t, 1, p.CountFree())

	c.Release()
	assert.Equal(t, 2, p.CountFree())
}

func TestReleaseOwnerHandle(t *testing.T) {
	p := New(1, newMonster)
	owner := p.Handles()[0]
	owner.Release()
	assert.False(t, owner.Released())
	assert.Equal(t, 1, owner.RefCount())

	c := owner.Clone()
	assert.Equal(t, 0, p.CountFree())
	c.Release()
	assert.Equal(t, 1, p.CountFree())
}

func TestUseAfterRelease(t *testing.T) {
	p := New(1, newMonster)
	h, ok := p.Acquire()
	require.True(t, ok)
	h.Release()

	_, err := h.Read()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = h.TryWrite()
	assert.ErrorIs(t, err, ErrReleased)
	assert.ErrorIs(t, h.Update(func(*monster) {}), ErrReleased)
	assert.PanicsWithError(t, ErrReleased.Error(), func() { h.Clone() })
	assert.Equal(t, 1, p.CountFree())
}

type flaky struct {
	failNext bool
	n        int
}

func (f *flaky) Reinitialize() {
	if f.failNext {
		f.failNext = false
		panic("reinitialize failed")
	}
	f.n = 0
}

func TestReinitializePanicKeepsHandle(t *testing.T) {
	p := New(1, func() *flaky { return &flaky{} })
	h, ok := p.Acquire()
	require.True(t, ok)
	require.NoError(t, h.Update(func(f *flaky) {
		f.failNext = true
		f.n = 3
	}))

	assert.Equal(t, "reinitialize failed", catchPanic(h.Release))
	assert.False(t, h.Released())
	assert.Equal(t, 2, h.RefCount())
	assert.Equal(t, 0, p.CountFree())
	assert.False(t, h.IsPoisoned())

	// the slot lock was given back
	g, err := h.TryWrite()
	require.NoError(t, err)
	g.Unlock()

	h.Release()
	assert.True(t, h.Released())
	assert.Equal(t, 1, p.CountFree())
	require.NoError(t, p.Handles()[0].View(func(f *flaky) { assert.Zero(t, f.n) }))
}

func TestEvictReinitializePanic(t *testing.T) {
	p := New(1, func() *flaky { return &flaky{} })
	owner := p.Handles()[0]
	require.NoError(t, owner.Update(func(f *flaky) { f.failNext = true }))

	r := catchPanic(func() {
		p.ForceAcquireMatching(func(*Handle[*flaky]) bool { return true })
	})
	assert.Equal(t, "reinitialize failed", r)
	assert.Equal(t, 1, owner.RefCount())
	assert.Equal(t, 1, p.CountFree())

	forced, ok := p.ForceAcquireMatching(func(*Handle[*flaky]) bool { return true })
	require.True(t, ok)
	assert.Equal(t, 2, forced.RefCount())
	forced.Release()
	assert.Equal(t, 1, p.CountFree())
}

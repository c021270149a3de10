package objectpool

// Recyclable is implemented by every payload stored in a pool.
//
// Reinitialize restores the value to its canonical fresh state. It is called
// when the last external holder releases a slot and on forced eviction, so it
// must not fail and calling it twice must leave the same state as calling it
// once.
type Recyclable interface {
	Reinitialize()
}

// Ordered is a Recyclable payload with a total order, used to pick an
// eviction victim with ForceAcquireMin. Compare returns a negative number when
// the receiver sorts before other, zero when equal and a positive number
// otherwise.
type Ordered[T any] interface {
	Recyclable
	Compare(other T) int
}

// RecyclablePtr constrains P to be *T implementing Recyclable, so that pools
// can build payloads with new(T).
type RecyclablePtr[T any] interface {
	*T
	Recyclable
}

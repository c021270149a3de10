package objectpool

import (
	"fmt"
	"strings"
	"sync"
)

// LockPolicy selects how a slot synchronizes access to its payload.
type LockPolicy byte

const (
	// SharedExclusive allows many concurrent readers or a single writer.
	SharedExclusive LockPolicy = iota
	// Exclusive allows a single accessor at a time, reader or writer.
	Exclusive
)

// String implements Stringer interface
func (p LockPolicy) String() string {
	switch p {
	case SharedExclusive:
		return "shared"
	case Exclusive:
		return "exclusive"
	}

	return ""
}

// ParseLockPolicy parses the names returned by LockPolicy.String.
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "shared", "rw", "rwmutex":
		return SharedExclusive, nil
	case "exclusive", "mutex":
		return Exclusive, nil
	}

	return SharedExclusive, fmt.Errorf("objectpool: unknown lock policy %q", s)
}

type slotLocker interface {
	Lock()
	Unlock()
	TryLock() bool
	RLock()
	RUnlock()
	TryRLock() bool
}

// exclusiveLock serves readers through the same mutex as writers.
type exclusiveLock struct {
	sync.Mutex
}

func (l *exclusiveLock) RLock()         { l.Lock() }
func (l *exclusiveLock) RUnlock()       { l.Unlock() }
func (l *exclusiveLock) TryRLock() bool { return l.TryLock() }

func (p LockPolicy) newLocker() slotLocker {
	if p == Exclusive {
		return &exclusiveLock{}
	}
	return &sync.RWMutex{}
}

// Package rmutex implements a reentrant mutex, keyed by the calling
// goroutine.
//
// The dispatch core's lock discipline (spec §5) requires that a slot,
// invoked from within SignalInstance's emit loop, may legally call back
// into Connect, Disconnect, or Emit of the *same* SignalInstance, without
// deadlocking. sync.Mutex is not reentrant, so this wrapper tracks the
// owning goroutine (via internal/goid) and allows the owner to re-acquire
// without blocking, while still serializing every other goroutine through
// a real sync.Mutex.
package rmutex

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-signals/internal/goid"
)

// Mutex is a reentrant mutual exclusion lock.
type Mutex struct {
	mu    sync.Mutex
	owner atomic.Int64 // goroutine id of current holder, 0 = unheld
	depth int           // re-entrancy depth, only touched by the owner
}

// Lock acquires the mutex. If the calling goroutine already holds it, Lock
// increments the re-entrancy depth and returns immediately.
func (m *Mutex) Lock() {
	id := goid.Get()
	if m.owner.Load() == id {
		m.depth++
		return
	}
	m.mu.Lock()
	m.owner.Store(id)
	m.depth = 1
}

// Unlock releases one level of re-entrancy. Once depth reaches zero the
// mutex is released for other goroutines.
//
// Unlock panics if called by a goroutine that does not hold the lock, same
// as sync.Mutex panics on an unbalanced Unlock.
func (m *Mutex) Unlock() {
	if m.owner.Load() != goid.Get() {
		panic("rmutex: Unlock of unheld mutex")
	}
	m.depth--
	if m.depth == 0 {
		m.owner.Store(0)
		m.mu.Unlock()
	}
}

// Depth returns the current re-entrancy depth, for the calling goroutine,
// or 0 if it does not hold the lock.
func (m *Mutex) Depth() int {
	if m.owner.Load() != goid.Get() {
		return 0
	}
	return m.depth
}

package gridsession

import (
	"sync"
	"sync/atomic"
)

// Guard prevents concurrent or recursive sanitization of the same session.
// It maps session IDs to an in-progress flag; at most one caller holds the
// flag for a given ID at any instant.
//
// The guard is an ordinary injected component, not package state, so tests
// and independent managers can each own their own instance.
type Guard struct {
	flags sync.Map // session ID -> *atomic.Bool
}

func NewGuard() *Guard {
	return &Guard{}
}

// TryBegin attempts to mark the session as in-progress. It returns true if
// the caller acquired the flag and must later call End. A losing caller gets
// false and should simply skip its pass; it must not block or retry.
func (g *Guard) TryBegin(id string) bool {
	v, _ := g.flags.LoadOrStore(id, new(atomic.Bool))
	return v.(*atomic.Bool).CompareAndSwap(false, true)
}

// End clears the in-progress flag for the session. Calling End for an ID
// that was never begun is harmless.
func (g *Guard) End(id string) {
	if v, ok := g.flags.Load(id); ok {
		v.(*atomic.Bool).Store(false)
	}
}

// Forget drops the session's entry entirely. Call it when the session is
// destroyed so the map does not grow without bound. A subsequent TryBegin
// for the same ID starts fresh, even if the flag was still marked
// in-progress when the session went away.
func (g *Guard) Forget(id string) {
	g.flags.Delete(id)
}

// Len returns the number of tracked sessions. Intended for tests and
// monitoring of the accepted bounded-growth risk.
func (g *Guard) Len() int {
	n := 0
	g.flags.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

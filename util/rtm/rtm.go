// Package rtm runs short critical sections under lock elision when the
// platform offers a hardware transaction, falling back to a mutex after a
// bounded number of failed attempts.
package rtm

import (
	"sync"

	"go.uber.org/atomic"
)

// Elider starts and ends speculative sections. Begin reports whether a
// speculative section is running; if it later conflicts, execution resumes
// with Begin returning false.
type Elider interface {
	Begin() bool
	End()
	Abort()
}

type noElision struct{}

func (noElision) Begin() bool { return false }
func (noElision) End()        {}
func (noElision) Abort()      {}

// NoElision never speculates; every section takes the fallback mutex.
var NoElision Elider = noElision{}

// Lock is a mutex whose critical sections may be elided.
type Lock struct {
	elider  Elider
	retries int

	mu   sync.Mutex
	held atomic.Bool

	elided    atomic.Uint64
	fallbacks atomic.Uint64
}

// NewLock creates a Lock. A nil elider means NoElision.
func NewLock(elider Elider, retries int) *Lock {
	if elider == nil {
		elider = NoElision
	}
	return &Lock{elider: elider, retries: retries}
}

// Do runs fn atomically with respect to every other Do on the same Lock.
func (l *Lock) Do(fn func()) {
	for i := 0; i < l.retries; i++ {
		if !l.elider.Begin() {
			continue
		}
		// Reading held puts the fallback lock into the speculative read set,
		// so a concurrent fallback aborts us.
		if l.held.Load() {
			l.elider.Abort()
			continue
		}
		fn()
		l.elider.End()
		l.elided.Inc()
		return
	}
	l.mu.Lock()
	l.held.Store(true)
	fn()
	l.held.Store(false)
	l.mu.Unlock()
	l.fallbacks.Inc()
}

// Stats returns how many sections ran speculatively and how many fell back.
func (l *Lock) Stats() (elided, fallbacks uint64) {
	return l.elided.Load(), l.fallbacks.Load()
}

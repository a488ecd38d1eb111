// Package cc holds the concurrency control protocols a txn.Manager can be
// instantiated with, and the per-record metadata each of them keeps.
package cc

import (
	"go.uber.org/atomic"
)

const writerBit = uint64(1) << 63

// RWLock is a non-blocking reader/writer lock in one word: the writer bit and
// a reader count.
type RWLock struct {
	word atomic.Uint64
}

func (l *RWLock) TryRLock() bool {
	for {
		w := l.word.Load()
		if w&writerBit != 0 {
			return false
		}
		if l.word.CAS(w, w+1) {
			return true
		}
	}
}

func (l *RWLock) RUnlock() {
	l.word.Dec()
}

func (l *RWLock) TryLock() bool {
	return l.word.CAS(0, writerBit)
}

// TryUpgrade turns the caller's shared lock into an exclusive one, if the
// caller is the only reader.
func (l *RWLock) TryUpgrade() bool {
	return l.word.CAS(1, writerBit)
}

func (l *RWLock) Unlock() {
	l.word.Store(0)
}

// IsLocked reports whether the lock is held exclusively.
func (l *RWLock) IsLocked() bool {
	return l.word.Load()&writerBit != 0
}

// Readers returns the number of shared holders.
func (l *RWLock) Readers() int {
	return int(l.word.Load() &^ writerBit)
}

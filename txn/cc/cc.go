package cc

import (
	"runtime"

	"github.com/cznic/mathutil"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/txn"
)

// lockSpins bounds how long protocols that lock in a global order spin on
// one record before giving up.
const lockSpins = 64

// maxObserved returns the largest record timestamp the transaction observed.
func maxObserved[C any](t *txn.Txn[C]) uint64 {
	var ts uint64
	for i := 0; i < t.Accesses.Len(); i++ {
		ts = mathutil.MaxUint64(ts, t.Accesses.At(i).Timestamp)
	}
	return ts
}

// install publishes the outcome of a write access as the record's image.
func install[C any](a *txn.Access[C]) {
	if a.Type == txn.Delete {
		a.Record.Publish(nil)
		return
	}
	a.Record.Publish(a.Local.Data)
}

// newVersionOf builds the committed version a write access installs.
func newVersionOf[C any](a *txn.Access[C], ts uint64) *storage.Version {
	if a.Type == txn.Delete {
		return storage.NewVersion(ts, nil, true, true)
	}
	return storage.NewVersion(ts, a.Local.Data, false, true)
}

func commitVersion[C any](a *txn.Access[C]) {
	if a.Type == txn.Delete {
		a.Version.Commit(nil, true)
		return
	}
	a.Version.Commit(a.Local.Data, false)
}

func imageOf(v *storage.Version) []byte {
	if v == nil || v.Tombstone {
		return nil
	}
	return v.Data
}

func tsOf(v *storage.Version) uint64 {
	if v == nil {
		return 0
	}
	return v.TS
}

func spinLock(l *RWLock, spins int) bool {
	for i := 0; ; i++ {
		if l.TryLock() {
			return true
		}
		if i >= spins {
			return false
		}
		runtime.Gosched()
	}
}

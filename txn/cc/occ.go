package cc

import (
	"runtime"

	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/txn"
)

// readSpins bounds how long an optimistic read waits for a record locked by
// a committing writer.
const readSpins = 32

// OCC is optimistic concurrency control: reads and writes take no locks,
// and at commit the write set is locked and the read set validated against
// the timestamps observed.
//
// Silo is the same protocol with the write set locked in a global order,
// spinning briefly on each lock instead of aborting at once.
type OCC struct {
	name       string
	sortWrites bool
	spins      int
}

func NewOCC() *OCC {
	return &OCC{name: config.ProtocolOCC}
}

func NewSilo() *OCC {
	return &OCC{name: config.ProtocolSilo, sortWrites: true, spins: lockSpins}
}

func (p *OCC) Name() string { return p.name }

func (p *OCC) Begin(t *txn.Txn[LockContent]) {}

// stableRead reads the image and timestamp of a record as of one committed
// write.
func stableRead(a *txn.Access[LockContent]) bool {
	c := &a.Record.Content
	for i := 0; i < readSpins; i++ {
		ts := c.ts.Load()
		if c.lock.IsLocked() {
			runtime.Gosched()
			continue
		}
		image := a.Record.Image()
		if !c.lock.IsLocked() && c.ts.Load() == ts {
			a.Image = image
			a.Timestamp = ts
			return true
		}
	}
	return false
}

func (p *OCC) Acquire(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	if !stableRead(a) {
		return txn.ErrConflict
	}
	return nil
}

func (p *OCC) Upgrade(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	return nil
}

func (p *OCC) AcquireInsert(t *txn.Txn[LockContent], a *txn.Access[LockContent]) {
	a.Record.Content.lock.TryLock()
	a.Held = txn.HoldExclusive
}

func (p *OCC) Validate(t *txn.Txn[LockContent]) error {
	var ws []*txn.Access[LockContent]
	if p.sortWrites {
		ws = t.SortedWriteSet()
	} else {
		ws = t.WriteSet()
	}
	for _, a := range ws {
		if a.Held == txn.HoldExclusive {
			continue
		}
		c := &a.Record.Content
		if !spinLock(&c.lock, p.spins) {
			return txn.ErrConflict
		}
		a.Held = txn.HoldExclusive
		if c.ts.Load() != a.Timestamp {
			return txn.ErrConflict
		}
	}
	for i := 0; i < t.Accesses.Len(); i++ {
		a := t.Accesses.At(i)
		if a.Type != txn.Read {
			continue
		}
		c := &a.Record.Content
		if c.ts.Load() != a.Timestamp || (a.Held == txn.HoldNone && c.lock.IsLocked()) {
			return txn.ErrConflict
		}
	}
	t.CommitTS = t.CommitTimestamp(maxObserved(t))
	return nil
}

func (p *OCC) Apply(t *txn.Txn[LockContent]) {
	applyLocked(t)
}

func (p *OCC) Release(t *txn.Txn[LockContent], committed bool) {
	releaseLocks(t, nil)
}

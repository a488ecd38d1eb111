package cc

import (
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/txn"
	"github.com/vishalag001/Cavalia/util/rtm"
)

// DbxContent is the record metadata of DBX. It is only touched inside the
// protocol's critical sections.
type DbxContent struct {
	ts    uint64
	owner int
}

// DBX runs every metadata access in a short critical section that hardware
// lock elision can execute speculatively: reads are optimistic, and commit
// claims the write set, validates the read set and installs the writes in
// two such sections.
type DBX struct {
	rtm *rtm.Lock
}

func NewDBX(elider rtm.Elider, retries int) *DBX {
	return &DBX{rtm: rtm.NewLock(elider, retries)}
}

func (p *DBX) Name() string { return config.ProtocolDBX }

// Stats returns how many critical sections ran speculatively and how many
// took the fallback lock.
func (p *DBX) Stats() (elided, fallbacks uint64) {
	return p.rtm.Stats()
}

func (p *DBX) Begin(t *txn.Txn[DbxContent]) {}

func (p *DBX) Acquire(t *txn.Txn[DbxContent], a *txn.Access[DbxContent]) error {
	var err error
	p.rtm.Do(func() {
		c := &a.Record.Content
		if c.owner != 0 {
			err = txn.ErrConflict
			return
		}
		a.Image = a.Record.Image()
		a.Timestamp = c.ts
	})
	return err
}

func (p *DBX) Upgrade(t *txn.Txn[DbxContent], a *txn.Access[DbxContent]) error {
	return nil
}

func (p *DBX) AcquireInsert(t *txn.Txn[DbxContent], a *txn.Access[DbxContent]) {
	p.rtm.Do(func() {
		a.Record.Content.owner = t.ThreadID + 1
	})
	a.Held = txn.HoldExclusive
}

func (p *DBX) Validate(t *txn.Txn[DbxContent]) error {
	var err error
	me := t.ThreadID + 1
	p.rtm.Do(func() {
		for i := 0; i < t.Accesses.Len(); i++ {
			a := t.Accesses.At(i)
			c := &a.Record.Content
			if a.Held == txn.HoldExclusive {
				continue
			}
			if c.owner != 0 || c.ts != a.Timestamp {
				err = txn.ErrConflict
				return
			}
			if a.Type.IsWrite() {
				c.owner = me
				a.Held = txn.HoldExclusive
			}
		}
	})
	if err != nil {
		return err
	}
	t.CommitTS = t.CommitTimestamp(maxObserved(t))
	return nil
}

func (p *DBX) Apply(t *txn.Txn[DbxContent]) {
	ws := t.WriteSet()
	p.rtm.Do(func() {
		for _, a := range ws {
			install(a)
			a.Record.Content.ts = t.CommitTS
		}
	})
}

func (p *DBX) Release(t *txn.Txn[DbxContent], committed bool) {
	p.rtm.Do(func() {
		for i := t.Accesses.Len() - 1; i >= 0; i-- {
			a := t.Accesses.At(i)
			if a.Held == txn.HoldExclusive {
				a.Record.Content.owner = 0
				a.Held = txn.HoldNone
			}
		}
	})
}

package cc

import (
	"sync"

	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/timestamp"
	"github.com/vishalag001/Cavalia/txn"
)

// ToContent is the record metadata of timestamp ordering.
type ToContent struct {
	mu  sync.Mutex
	rts uint64
	wts uint64
	// owner is the thread id plus one of the transaction with a pending
	// write, 0 if none.
	owner int
}

// TO is basic timestamp ordering: every transaction is serialized at its
// start timestamp, and an access that would contradict that order aborts.
// Records with a pending write cannot be accessed until it commits or aborts.
type TO struct {
	source timestamp.Source
}

func NewTO(source timestamp.Source) *TO {
	return &TO{source: source}
}

func (p *TO) Name() string { return config.ProtocolTO }

func (p *TO) Begin(t *txn.Txn[ToContent]) {
	t.StartTS = p.source.Allocate(t.ThreadID)
}

func (p *TO) Acquire(t *txn.Txn[ToContent], a *txn.Access[ToContent]) error {
	c := &a.Record.Content
	ts := t.StartTS
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Type == txn.Read {
		if c.owner != 0 || ts < c.wts {
			return txn.ErrConflict
		}
		if ts > c.rts {
			c.rts = ts
		}
	} else {
		if c.owner != 0 || ts < c.rts || ts < c.wts {
			return txn.ErrConflict
		}
		c.owner = t.ThreadID + 1
		a.Held = txn.HoldExclusive
	}
	a.Image = a.Record.Image()
	a.Timestamp = c.wts
	return nil
}

func (p *TO) Upgrade(t *txn.Txn[ToContent], a *txn.Access[ToContent]) error {
	c := &a.Record.Content
	ts := t.StartTS
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner != 0 || ts < c.rts || ts < c.wts {
		return txn.ErrConflict
	}
	c.owner = t.ThreadID + 1
	a.Held = txn.HoldExclusive
	return nil
}

func (p *TO) AcquireInsert(t *txn.Txn[ToContent], a *txn.Access[ToContent]) {
	c := &a.Record.Content
	c.mu.Lock()
	c.owner = t.ThreadID + 1
	c.mu.Unlock()
	a.Held = txn.HoldExclusive
}

func (p *TO) Validate(t *txn.Txn[ToContent]) error {
	t.CommitTS = t.StartTS
	return nil
}

func (p *TO) Apply(t *txn.Txn[ToContent]) {
	for _, a := range t.WriteSet() {
		c := &a.Record.Content
		c.mu.Lock()
		install(a)
		c.wts = t.CommitTS
		c.mu.Unlock()
	}
}

func (p *TO) Release(t *txn.Txn[ToContent], committed bool) {
	for i := t.Accesses.Len() - 1; i >= 0; i-- {
		a := t.Accesses.At(i)
		if a.Held != txn.HoldExclusive {
			continue
		}
		c := &a.Record.Content
		c.mu.Lock()
		c.owner = 0
		c.mu.Unlock()
		a.Held = txn.HoldNone
	}
}

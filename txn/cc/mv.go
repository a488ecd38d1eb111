package cc

import (
	"sync"

	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/timestamp"
	"github.com/vishalag001/Cavalia/txn"
)

// MvContent is the record metadata of the multi-version protocols. MVTO
// serializes chain updates with mu; MVOCC and SI with the lock word.
type MvContent struct {
	mu    sync.Mutex
	lock  RWLock
	chain storage.VersionChain
}

// Chain returns the version history of the record.
func (c *MvContent) Chain() *storage.VersionChain {
	return &c.chain
}

// MVTO is multi-version timestamp ordering. Reads see the newest version
// older than the start timestamp and raise its read timestamp; a write
// appends a tentative version unless a newer transaction has already read
// or written the record.
type MVTO struct {
	source      timestamp.Source
	maxVersions int
}

func NewMVTO(source timestamp.Source, maxVersions int) *MVTO {
	return &MVTO{source: source, maxVersions: maxVersions}
}

func (p *MVTO) Name() string { return config.ProtocolMVTO }

func (p *MVTO) Begin(t *txn.Txn[MvContent]) {
	t.StartTS = p.source.Allocate(t.ThreadID)
}

func (p *MVTO) Acquire(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	c := &a.Record.Content
	ts := t.StartTS
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.Type != txn.Read {
		head := c.chain.Head()
		if head != nil && (head.TS > ts || !head.Committed()) {
			return txn.ErrConflict
		}
		return p.writeLocked(t, a, head)
	}
	v := c.chain.Visible(ts)
	if v == nil {
		if c.chain.Truncated() {
			return txn.ErrConflict
		}
		return nil
	}
	if !v.Committed() {
		return txn.ErrConflict
	}
	v.ObserveRead(ts)
	a.Version = v
	a.Image = imageOf(v)
	a.Timestamp = v.TS
	return nil
}

// writeLocked appends a tentative version on top of head, the version the
// write replaces.
func (p *MVTO) writeLocked(t *txn.Txn[MvContent], a *txn.Access[MvContent], head *storage.Version) error {
	if head != nil && head.ReadTS() > t.StartTS {
		return txn.ErrConflict
	}
	v := storage.NewVersion(t.StartTS, nil, false, false)
	a.Record.Content.chain.Push(v)
	a.Version = v
	a.Image = imageOf(head)
	a.Timestamp = tsOf(head)
	a.Held = txn.HoldExclusive
	return nil
}

func (p *MVTO) Upgrade(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	c := &a.Record.Content
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.chain.Head()
	if head != a.Version {
		return txn.ErrConflict
	}
	return p.writeLocked(t, a, head)
}

func (p *MVTO) AcquireInsert(t *txn.Txn[MvContent], a *txn.Access[MvContent]) {
	v := storage.NewVersion(t.StartTS, nil, false, false)
	c := &a.Record.Content
	c.mu.Lock()
	c.chain.Push(v)
	c.mu.Unlock()
	a.Version = v
	a.Held = txn.HoldExclusive
}

func (p *MVTO) Validate(t *txn.Txn[MvContent]) error {
	t.CommitTS = t.StartTS
	return nil
}

func (p *MVTO) Apply(t *txn.Txn[MvContent]) {
	for _, a := range t.WriteSet() {
		c := &a.Record.Content
		c.mu.Lock()
		commitVersion(a)
		c.chain.Truncate(p.maxVersions)
		c.mu.Unlock()
	}
}

// Release drops the tentative versions that were not committed.
func (p *MVTO) Release(t *txn.Txn[MvContent], committed bool) {
	for i := t.Accesses.Len() - 1; i >= 0; i-- {
		a := t.Accesses.At(i)
		if a.Version != nil && !a.Version.Committed() {
			c := &a.Record.Content
			c.mu.Lock()
			c.chain.Remove(a.Version)
			c.mu.Unlock()
		}
		a.Held = txn.HoldNone
	}
}

// MVOCC is optimistic concurrency control over version chains: reads see the
// latest committed version, and commit appends a new version to every written
// record after checking that no record read or written got a newer one.
type MVOCC struct {
	maxVersions int
}

func NewMVOCC(maxVersions int) *MVOCC {
	return &MVOCC{maxVersions: maxVersions}
}

func (p *MVOCC) Name() string { return config.ProtocolMVOCC }

func (p *MVOCC) Begin(t *txn.Txn[MvContent]) {}

func (p *MVOCC) Acquire(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	v := a.Record.Content.chain.Latest()
	a.Version = v
	a.Image = imageOf(v)
	a.Timestamp = tsOf(v)
	return nil
}

func (p *MVOCC) Upgrade(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	return nil
}

func (p *MVOCC) AcquireInsert(t *txn.Txn[MvContent], a *txn.Access[MvContent]) {
	a.Record.Content.lock.TryLock()
	a.Held = txn.HoldExclusive
}

func (p *MVOCC) Validate(t *txn.Txn[MvContent]) error {
	for _, a := range t.SortedWriteSet() {
		if a.Held == txn.HoldExclusive {
			continue
		}
		c := &a.Record.Content
		if !spinLock(&c.lock, lockSpins) {
			return txn.ErrConflict
		}
		a.Held = txn.HoldExclusive
		if tsOf(c.chain.Latest()) != a.Timestamp {
			return txn.ErrConflict
		}
	}
	for i := 0; i < t.Accesses.Len(); i++ {
		a := t.Accesses.At(i)
		if a.Type != txn.Read {
			continue
		}
		c := &a.Record.Content
		if tsOf(c.chain.Latest()) != a.Timestamp || (a.Held == txn.HoldNone && c.lock.IsLocked()) {
			return txn.ErrConflict
		}
	}
	t.CommitTS = t.CommitTimestamp(maxObserved(t))
	return nil
}

func (p *MVOCC) Apply(t *txn.Txn[MvContent]) {
	for _, a := range t.WriteSet() {
		c := &a.Record.Content
		c.chain.Push(newVersionOf(a, t.CommitTS))
		c.chain.Truncate(p.maxVersions)
	}
}

func (p *MVOCC) Release(t *txn.Txn[MvContent], committed bool) {
	releaseMvLocks(t)
}

func releaseMvLocks(t *txn.Txn[MvContent]) {
	for i := t.Accesses.Len() - 1; i >= 0; i-- {
		a := t.Accesses.At(i)
		if a.Held == txn.HoldExclusive {
			a.Record.Content.lock.Unlock()
			a.Held = txn.HoldNone
		}
	}
}

// SI is snapshot isolation. A transaction reads the snapshot published when
// it began; writers lock records without waiting and the first committer
// wins. Commit timestamps come from a sequencer that publishes them in order,
// so a snapshot never misses a commit older than itself.
type SI struct {
	seq         *timestamp.Sequencer
	maxVersions int
}

func NewSI(maxVersions int) *SI {
	return &SI{seq: timestamp.NewSequencer(), maxVersions: maxVersions}
}

func (p *SI) Name() string { return config.ProtocolSI }

// Sequencer returns the commit timestamp sequencer.
func (p *SI) Sequencer() *timestamp.Sequencer {
	return p.seq
}

func (p *SI) Begin(t *txn.Txn[MvContent]) {
	t.StartTS = p.seq.Snapshot()
}

func (p *SI) Acquire(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	if a.Type != txn.Read {
		return p.lockForWrite(t, a)
	}
	c := &a.Record.Content
	v := c.chain.VisibleCommitted(t.StartTS)
	if v == nil && c.chain.Truncated() {
		return txn.ErrConflict
	}
	a.Version = v
	a.Image = imageOf(v)
	a.Timestamp = tsOf(v)
	return nil
}

func (p *SI) lockForWrite(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	c := &a.Record.Content
	if !c.lock.TryLock() {
		return txn.ErrConflict
	}
	latest := c.chain.Latest()
	if latest != nil && latest.TS > t.StartTS {
		c.lock.Unlock()
		return txn.ErrConflict
	}
	a.Held = txn.HoldExclusive
	a.Version = latest
	a.Image = imageOf(latest)
	a.Timestamp = tsOf(latest)
	return nil
}

func (p *SI) Upgrade(t *txn.Txn[MvContent], a *txn.Access[MvContent]) error {
	return p.lockForWrite(t, a)
}

func (p *SI) AcquireInsert(t *txn.Txn[MvContent], a *txn.Access[MvContent]) {
	a.Record.Content.lock.TryLock()
	a.Held = txn.HoldExclusive
}

func (p *SI) Validate(t *txn.Txn[MvContent]) error {
	if len(t.WriteSet()) == 0 {
		t.CommitTS = t.StartTS
		return nil
	}
	t.CommitTS = p.seq.Allocate()
	t.Allocated = true
	return nil
}

func (p *SI) Apply(t *txn.Txn[MvContent]) {
	for _, a := range t.WriteSet() {
		c := &a.Record.Content
		c.chain.Push(newVersionOf(a, t.CommitTS))
		c.chain.Truncate(p.maxVersions)
	}
}

// Release publishes the commit timestamp, committed or not, so later
// snapshots are not held back.
func (p *SI) Release(t *txn.Txn[MvContent], committed bool) {
	if t.Allocated {
		p.seq.Publish(t.CommitTS)
		t.Allocated = false
	}
	releaseMvLocks(t)
}

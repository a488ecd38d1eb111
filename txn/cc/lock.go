package cc

import (
	"encoding/binary"
	"time"

	"github.com/dgryski/go-farm"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/txn"
	"github.com/vishalag001/Cavalia/util/lockwaiter"
	"go.uber.org/atomic"
)

// LockContent is the record metadata of the locking and optimistic
// protocols: a lock word and the commit timestamp of the last write.
type LockContent struct {
	lock RWLock
	ts   atomic.Uint64
}

// Timestamp returns the commit timestamp of the last write.
func (c *LockContent) Timestamp() uint64 {
	return c.ts.Load()
}

// Lock is two-phase locking that never waits: a lock that cannot be taken
// at once aborts the transaction.
type Lock struct{}

func NewLock() *Lock {
	return &Lock{}
}

func (p *Lock) Name() string { return config.ProtocolLock }

func (p *Lock) Begin(t *txn.Txn[LockContent]) {}

func (p *Lock) Acquire(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	c := &a.Record.Content
	if a.Type == txn.Read {
		if !c.lock.TryRLock() {
			return txn.ErrConflict
		}
		a.Held = txn.HoldShared
	} else {
		if !c.lock.TryLock() {
			return txn.ErrConflict
		}
		a.Held = txn.HoldExclusive
	}
	a.Image = a.Record.Image()
	a.Timestamp = c.ts.Load()
	return nil
}

func (p *Lock) Upgrade(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	if !a.Record.Content.lock.TryUpgrade() {
		return txn.ErrConflict
	}
	a.Held = txn.HoldExclusive
	return nil
}

func (p *Lock) AcquireInsert(t *txn.Txn[LockContent], a *txn.Access[LockContent]) {
	a.Record.Content.lock.TryLock()
	a.Held = txn.HoldExclusive
}

func (p *Lock) Validate(t *txn.Txn[LockContent]) error {
	t.CommitTS = t.CommitTimestamp(maxObserved(t))
	return nil
}

func (p *Lock) Apply(t *txn.Txn[LockContent]) {
	applyLocked(t)
}

func (p *Lock) Release(t *txn.Txn[LockContent], committed bool) {
	releaseLocks(t, nil)
}

func applyLocked(t *txn.Txn[LockContent]) {
	for _, a := range t.WriteSet() {
		install(a)
		a.Record.Content.ts.Store(t.CommitTS)
	}
}

// releaseLocks unlocks in reverse access order, appending the hash of every
// released record to hashes.
func releaseLocks(t *txn.Txn[LockContent], hashes []uint64) []uint64 {
	for i := t.Accesses.Len() - 1; i >= 0; i-- {
		a := t.Accesses.At(i)
		switch a.Held {
		case txn.HoldShared:
			a.Record.Content.lock.RUnlock()
		case txn.HoldExclusive:
			a.Record.Content.lock.Unlock()
		default:
			continue
		}
		a.Held = txn.HoldNone
		if hashes != nil {
			hashes = append(hashes, keyHash(a))
		}
	}
	return hashes
}

func keyHash[C any](a *txn.Access[C]) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(a.TableID))
	binary.LittleEndian.PutUint64(buf[8:], uint64(a.Record.Handle()))
	return farm.Fingerprint64(buf[:])
}

// LockWait is two-phase locking where a transaction that finds a record
// locked waits for it up to a timeout. Deadlocks end in a timeout.
type LockWait struct {
	waiters *lockwaiter.Manager
	timeout time.Duration
}

func NewLockWait(timeout time.Duration) *LockWait {
	return &LockWait{
		waiters: lockwaiter.NewManager(),
		timeout: timeout,
	}
}

func (p *LockWait) Name() string { return config.ProtocolLockWait }

// Begin stamps the transaction with its start time, which orders waiters on
// the same record.
func (p *LockWait) Begin(t *txn.Txn[LockContent]) {
	t.StartTS = uint64(time.Now().UnixNano())
}

func (p *LockWait) Acquire(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	c := &a.Record.Content
	if a.Type == txn.Read {
		if !p.wait(t, a, c.lock.TryRLock) {
			return txn.ErrConflict
		}
		a.Held = txn.HoldShared
	} else {
		if !p.wait(t, a, c.lock.TryLock) {
			return txn.ErrConflict
		}
		a.Held = txn.HoldExclusive
	}
	a.Image = a.Record.Image()
	a.Timestamp = c.ts.Load()
	return nil
}

func (p *LockWait) Upgrade(t *txn.Txn[LockContent], a *txn.Access[LockContent]) error {
	if !p.wait(t, a, a.Record.Content.lock.TryUpgrade) {
		return txn.ErrConflict
	}
	a.Held = txn.HoldExclusive
	return nil
}

// wait retries try until it succeeds or the timeout passes. Every wakeup
// re-registers the waiter before retrying, so a release between a failed try
// and the wait is never missed.
func (p *LockWait) wait(t *txn.Txn[LockContent], a *txn.Access[LockContent], try func() bool) bool {
	if try() {
		return true
	}
	deadline := time.Now().Add(p.timeout)
	key := keyHash(a)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		w := p.waiters.NewWaiter(t.StartTS, key, remaining)
		if try() {
			p.waiters.CleanUp(w)
			return true
		}
		if w.Wait().Position == lockwaiter.WaitTimeout {
			p.waiters.CleanUp(w)
			return try()
		}
		if try() {
			return true
		}
	}
}

func (p *LockWait) AcquireInsert(t *txn.Txn[LockContent], a *txn.Access[LockContent]) {
	a.Record.Content.lock.TryLock()
	a.Held = txn.HoldExclusive
}

func (p *LockWait) Validate(t *txn.Txn[LockContent]) error {
	t.CommitTS = t.CommitTimestamp(maxObserved(t))
	return nil
}

func (p *LockWait) Apply(t *txn.Txn[LockContent]) {
	applyLocked(t)
}

func (p *LockWait) Release(t *txn.Txn[LockContent], committed bool) {
	hashes := releaseLocks(t, make([]uint64, 0, t.Accesses.Len()))
	if len(hashes) > 0 {
		p.waiters.WakeUp(hashes)
	}
}

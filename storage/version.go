package storage

import (
	"sync/atomic"

	uatomic "go.uber.org/atomic"
)

// Version is one entry of a multi-version record. TS, Data and Tombstone are
// fixed once the version is pushed; a version pushed uncommitted is a
// tentative write that only its creator may fill in and commit.
type Version struct {
	TS        uint64
	Data      []byte
	Tombstone bool

	committed uatomic.Bool
	readTS    uatomic.Uint64
	next      atomic.Pointer[Version]
}

// NewVersion creates a version. Committed versions are immediately visible
// once pushed.
func NewVersion(ts uint64, data []byte, tombstone bool, committed bool) *Version {
	v := &Version{TS: ts, Data: data, Tombstone: tombstone}
	v.committed.Store(committed)
	return v
}

// Committed reports whether the version is visible to readers.
func (v *Version) Committed() bool {
	return v.committed.Load()
}

// Commit fills in a tentative version and makes it visible.
func (v *Version) Commit(data []byte, tombstone bool) {
	v.Data = data
	v.Tombstone = tombstone
	v.committed.Store(true)
}

// ReadTS returns the largest timestamp that has read this version.
func (v *Version) ReadTS() uint64 {
	return v.readTS.Load()
}

// ObserveRead raises the read timestamp of the version to ts.
func (v *Version) ObserveRead(ts uint64) {
	for {
		cur := v.readTS.Load()
		if cur >= ts || v.readTS.CAS(cur, ts) {
			return
		}
	}
}

// Next returns the next older version.
func (v *Version) Next() *Version {
	return v.next.Load()
}

// VersionChain is the history of a record, newest first. Readers traverse it
// without locks; writers (Push, Remove, Truncate) must be serialized by the
// record's protocol.
type VersionChain struct {
	head      atomic.Pointer[Version]
	truncated uatomic.Bool
}

// Head returns the newest version, committed or not.
func (c *VersionChain) Head() *Version {
	return c.head.Load()
}

// Latest returns the newest committed version.
func (c *VersionChain) Latest() *Version {
	for v := c.head.Load(); v != nil; v = v.next.Load() {
		if v.Committed() {
			return v
		}
	}
	return nil
}

// Push prepends v. Its TS must not be lower than the current head's.
func (c *VersionChain) Push(v *Version) {
	v.next.Store(c.head.Load())
	c.head.Store(v)
}

// Remove unlinks v from the chain. It returns false if v is not in it.
func (c *VersionChain) Remove(v *Version) bool {
	head := c.head.Load()
	if head == v {
		c.head.Store(v.next.Load())
		return true
	}
	for prev := head; prev != nil; prev = prev.next.Load() {
		if prev.next.Load() == v {
			prev.next.Store(v.next.Load())
			return true
		}
	}
	return false
}

// Visible returns the newest version with TS <= ts, committed or tentative,
// or nil if there is none.
func (c *VersionChain) Visible(ts uint64) *Version {
	for v := c.head.Load(); v != nil; v = v.next.Load() {
		if v.TS <= ts {
			return v
		}
	}
	return nil
}

// VisibleCommitted returns the newest committed version with TS <= ts.
func (c *VersionChain) VisibleCommitted(ts uint64) *Version {
	for v := c.head.Load(); v != nil; v = v.next.Load() {
		if v.TS <= ts && v.Committed() {
			return v
		}
	}
	return nil
}

// Truncate drops committed versions older than the newest max ones.
func (c *VersionChain) Truncate(max int) {
	if max <= 0 {
		return
	}
	n := 0
	for v := c.head.Load(); v != nil; v = v.next.Load() {
		if !v.Committed() {
			continue
		}
		n++
		if n == max {
			if v.next.Load() != nil {
				// A reader that finds the history cut must also see the flag.
				c.truncated.Store(true)
				v.next.Store(nil)
			}
			return
		}
	}
}

// Truncated reports whether history has ever been dropped, in which case a
// missing version may mean "too old" rather than "did not exist".
func (c *VersionChain) Truncated() bool {
	return c.truncated.Load()
}

// Len counts the versions currently in the chain.
func (c *VersionChain) Len() int {
	n := 0
	for v := c.head.Load(); v != nil; v = v.next.Load() {
		n++
	}
	return n
}

package txn

import (
	"fmt"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/vishalag001/Cavalia/storage"
)

// AccessType is the intent of an access.
type AccessType uint8

const (
	Read AccessType = iota
	Write
	Insert
	Delete
)

func (t AccessType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	}
	return fmt.Sprintf("AccessType(%d)", uint8(t))
}

// IsWrite reports whether an access of this type installs something at
// commit.
func (t AccessType) IsWrite() bool {
	return t != Read
}

// HoldMode is what a protocol holds on a record on behalf of an access.
type HoldMode uint8

const (
	HoldNone HoldMode = iota
	HoldShared
	HoldExclusive
)

// Access is one entry of a transaction's access list.
type Access[C any] struct {
	Type    AccessType
	TableID storage.TableID
	Record  *storage.TableRecord[C]
	// Image is the committed row the access observed, nil if there was none.
	Image []byte
	// Local is the transaction's private row for writes and inserts.
	Local *storage.SchemaRecord
	// Timestamp is the record timestamp the access observed, for protocols
	// that validate against it.
	Timestamp uint64
	// Version is the version read, or the tentative version written, by
	// multi-version protocols.
	Version *storage.Version
	Held    HoldMode
}

// AccessList is the ordered, fixed-capacity list of a transaction's accesses.
type AccessList[C any] struct {
	accesses []Access[C]
}

func NewAccessList[C any](capacity int) AccessList[C] {
	return AccessList[C]{accesses: make([]Access[C], 0, capacity)}
}

// New appends an empty access and returns it. It panics when the list is
// full.
func (l *AccessList[C]) New() *Access[C] {
	n := len(l.accesses)
	if n == cap(l.accesses) {
		log.Panic(errors.Errorf("access list full: %d accesses", n).Error())
	}
	l.accesses = l.accesses[:n+1]
	return &l.accesses[n]
}

// Pop removes the last access, which must not hold anything.
func (l *AccessList[C]) Pop() {
	n := len(l.accesses) - 1
	l.accesses[n] = Access[C]{}
	l.accesses = l.accesses[:n]
}

func (l *AccessList[C]) Len() int {
	return len(l.accesses)
}

func (l *AccessList[C]) Cap() int {
	return cap(l.accesses)
}

// At returns the i-th access in access order.
func (l *AccessList[C]) At(i int) *Access[C] {
	return &l.accesses[i]
}

// Find returns the access to rec, or nil.
func (l *AccessList[C]) Find(rec *storage.TableRecord[C]) *Access[C] {
	for i := range l.accesses {
		if l.accesses[i].Record == rec {
			return &l.accesses[i]
		}
	}
	return nil
}

// Clear empties the list, keeping its capacity.
func (l *AccessList[C]) Clear() {
	for i := range l.accesses {
		l.accesses[i] = Access[C]{}
	}
	l.accesses = l.accesses[:0]
}

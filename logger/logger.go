// Package logger persists committed transactions before their effects are
// installed, either as the values they wrote or as the command that produced
// them.
package logger

import (
	"github.com/pingcap/errors"
)

// ErrClosed is returned by a logger used after Close.
var ErrClosed = errors.New("logger: closed")

// Value is one write of a committed transaction.
type Value struct {
	TableID int
	Key     string
	Data    []byte
	Deleted bool
}

// Entry is what a transaction hands to the logger at commit. Value loggers
// persist Values; command loggers persist CommandType and Command.
type Entry struct {
	Values      []Value
	CommandType int
	Command     []byte
}

// Reset empties the entry, keeping its capacity.
func (e *Entry) Reset() {
	for i := range e.Values {
		e.Values[i] = Value{}
	}
	e.Values = e.Values[:0]
	e.CommandType = 0
	e.Command = nil
}

// Logger is shared by all transaction managers of an engine. Calls for
// different threads may run concurrently.
type Logger interface {
	// CommitTransaction durably records a committing transaction. It is
	// called once per commit, read-only ones included, and returns only once
	// the record is persisted. An entry without Values has nothing to
	// persist.
	CommitTransaction(threadID int, epoch, commitTS uint64, e *Entry) error
	// CleanUp marks the end of a thread's log.
	CleanUp(threadID int) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) CommitTransaction(int, uint64, uint64, *Entry) error { return nil }
func (Nop) CleanUp(int) error                                   { return nil }
func (Nop) Close() error                                        { return nil }

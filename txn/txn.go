package txn

import (
	"sort"

	"github.com/vishalag001/Cavalia/timestamp"
)

// State is where a transaction is in its lifecycle.
type State int

const (
	Active State = iota
	Validating
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Validating:
		return "validating"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Txn is the running transaction of one thread, as seen by a protocol. It is
// reused for every transaction of the thread.
type Txn[C any] struct {
	ThreadID    int
	ThreadCount int
	Context     *TxnContext

	StartTS  uint64
	CommitTS uint64
	// Allocated is set by protocols whose commit timestamp was drawn from a
	// sequencer and must be published when the transaction ends.
	Allocated bool

	Accesses AccessList[C]

	clock   *timestamp.Clock
	epoch   *timestamp.Epoch
	state   State
	began   bool
	scratch []*Access[C]
}

func newTxn[C any](threadID, threadCount, maxAccessNum int, epoch *timestamp.Epoch) *Txn[C] {
	return &Txn[C]{
		ThreadID:    threadID,
		ThreadCount: threadCount,
		Accesses:    NewAccessList[C](maxAccessNum),
		clock:       timestamp.NewClock(threadID, threadCount),
		epoch:       epoch,
		scratch:     make([]*Access[C], 0, maxAccessNum),
	}
}

// State returns the lifecycle state.
func (t *Txn[C]) State() State {
	return t.state
}

// Epoch returns the current global epoch.
func (t *Txn[C]) Epoch() uint64 {
	return t.epoch.Load()
}

// CommitTimestamp draws a commit timestamp from the thread's clock that is
// larger than maxWriteTS and not older than the current epoch.
func (t *Txn[C]) CommitTimestamp(maxWriteTS uint64) uint64 {
	return t.clock.CommitTimestamp(t.epoch.Load(), maxWriteTS)
}

// WriteSet returns the accesses that install something at commit, in access
// order. The slice is reused by the next call.
func (t *Txn[C]) WriteSet() []*Access[C] {
	ws := t.scratch[:0]
	for i := 0; i < t.Accesses.Len(); i++ {
		if a := t.Accesses.At(i); a.Type.IsWrite() {
			ws = append(ws, a)
		}
	}
	t.scratch = ws
	return ws
}

// SortedWriteSet is WriteSet ordered by table and record handle, the global
// order in which protocols that wait for locks must take them.
func (t *Txn[C]) SortedWriteSet() []*Access[C] {
	ws := t.WriteSet()
	sort.Slice(ws, func(i, j int) bool {
		if ws[i].TableID != ws[j].TableID {
			return ws[i].TableID < ws[j].TableID
		}
		return ws[i].Record.Handle() < ws[j].Record.Handle()
	})
	return ws
}

func (t *Txn[C]) reset() {
	t.Accesses.Clear()
	t.Context = nil
	t.StartTS = 0
	t.CommitTS = 0
	t.Allocated = false
	t.state = Active
	t.began = false
}

package timestamp

import (
	"math"

	"github.com/cznic/mathutil"
	"github.com/pingcap/errors"
)

// Clock is the scalable commit timestamp generator of one thread. It keeps
// the thread's view of the global epoch and a local counter which always
// stays on the progression k*threadCount + threadID, so clocks of different
// threads never produce the same timestamp within an epoch.
//
// A Clock is owned by a single transaction manager and is not safe for
// concurrent use.
type Clock struct {
	threadID    uint64
	threadCount uint64
	globalTS    uint64
	localTS     uint64
}

// NewClock creates the clock of thread threadID out of threadCount.
func NewClock(threadID, threadCount int) *Clock {
	if threadCount <= 0 || threadID < 0 || threadID >= threadCount {
		panic(errors.Errorf("invalid thread id %d for thread count %d", threadID, threadCount))
	}
	return &Clock{
		threadID:    uint64(threadID),
		threadCount: uint64(threadCount),
	}
}

// GlobalTS returns the last epoch this clock has generated a timestamp in.
func (c *Clock) GlobalTS() uint64 {
	return c.globalTS
}

// GenerateTimestamp returns a commit timestamp strictly greater than
// maxWriteTS, the highest write timestamp among the records a transaction
// accessed. currTS is the epoch to commit in; it must not be lower than the
// epoch of maxWriteTS nor than the epoch of any timestamp this clock already
// returned.
func (c *Clock) GenerateTimestamp(currTS uint64, maxWriteTS uint64) uint64 {
	maxGlobalTS := maxWriteTS >> localBits
	maxLocalTS := maxWriteTS & math.MaxUint32
	if currTS < maxGlobalTS || currTS < c.globalTS || currTS > math.MaxUint32 {
		panic(errors.Errorf("epoch %d is behind write epoch %d or clock epoch %d", currTS, maxGlobalTS, c.globalTS))
	}
	if currTS > c.globalTS {
		c.globalTS = currTS
		c.localTS = c.threadID
	}
	if currTS == maxGlobalTS && c.localTS <= maxLocalTS {
		c.localTS = (maxLocalTS/c.threadCount+1)*c.threadCount + c.threadID
	}
	if c.localTS > math.MaxUint32 {
		panic(errors.Errorf("local counter overflow in epoch %d", c.globalTS))
	}
	commitTS := c.globalTS<<localBits | c.localTS
	if commitTS < maxWriteTS {
		panic(errors.Errorf("commit ts %s is behind write ts %s", FormatTS(commitTS), FormatTS(maxWriteTS)))
	}
	// The next timestamp of this epoch must not repeat this one.
	c.localTS += c.threadCount
	return commitTS
}

// CommitTimestamp folds the current global epoch into GenerateTimestamp so
// that the precondition on currTS always holds.
func (c *Clock) CommitTimestamp(epoch uint64, maxWriteTS uint64) uint64 {
	currTS := mathutil.MaxUint64(epoch, maxWriteTS>>localBits)
	currTS = mathutil.MaxUint64(currTS, c.globalTS)
	return c.GenerateTimestamp(currTS, maxWriteTS)
}

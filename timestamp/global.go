package timestamp

import (
	"runtime"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/cpu"
)

// Global is a single shared counter. Every allocation is an atomic increment
// on one cache line, which is the bottleneck Batch and Clock avoid.
type Global struct {
	_       cpu.CacheLinePad
	counter atomic.Uint64
	_       cpu.CacheLinePad
}

// NewGlobal returns a counter whose first timestamp is 1.
func NewGlobal() *Global {
	return &Global{}
}

// Allocate returns the next timestamp. threadID is ignored.
func (g *Global) Allocate(threadID int) uint64 {
	return g.counter.Inc()
}

// Load returns the last allocated timestamp.
func (g *Global) Load() uint64 {
	return g.counter.Load()
}

// allocateBatch reserves n consecutive timestamps and returns the first.
func (g *Global) allocateBatch(n uint64) uint64 {
	return g.counter.Add(n) - n + 1
}

type batchSlot struct {
	next uint64
	end  uint64
	_    cpu.CacheLinePad
}

// Batch hands each thread a private range of timestamps reserved from a
// Global counter, touching the shared counter once per range.
type Batch struct {
	global *Global
	size   uint64
	slots  []batchSlot
}

// NewBatch creates a batch allocator for threadCount threads.
func NewBatch(global *Global, threadCount int, size int) *Batch {
	if size <= 0 {
		panic(errors.Errorf("invalid timestamp batch size %d", size))
	}
	return &Batch{
		global: global,
		size:   uint64(size),
		slots:  make([]batchSlot, threadCount),
	}
}

// Allocate returns the next timestamp of threadID's range. Each slot is only
// touched by its own thread.
func (b *Batch) Allocate(threadID int) uint64 {
	slot := &b.slots[threadID]
	if slot.next == slot.end {
		slot.next = b.global.allocateBatch(b.size)
		slot.end = slot.next + b.size
	}
	ts := slot.next
	slot.next++
	return ts
}

// Sequencer allocates commit timestamps and publishes them strictly in
// allocation order. Snapshot returns the highest timestamp below which every
// allocated timestamp has been published, so a snapshot never changes once
// taken.
type Sequencer struct {
	_       cpu.CacheLinePad
	next    atomic.Uint64
	_       cpu.CacheLinePad
	visible atomic.Uint64
	_       cpu.CacheLinePad
}

// NewSequencer creates a sequencer with nothing allocated.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Allocate reserves the next commit timestamp. The caller must Publish it,
// whether its transaction commits or not.
func (s *Sequencer) Allocate() uint64 {
	return s.next.Inc()
}

// Publish makes ts visible to new snapshots once every earlier timestamp has
// been published.
func (s *Sequencer) Publish(ts uint64) {
	for !s.visible.CAS(ts-1, ts) {
		runtime.Gosched()
	}
}

// Snapshot returns the current visibility horizon.
func (s *Sequencer) Snapshot() uint64 {
	return s.visible.Load()
}

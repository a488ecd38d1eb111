package storage

import (
	"sync"
	"sync/atomic"
)

const (
	arenaChunkBits = 10
	arenaChunkSize = 1 << arenaChunkBits
)

type arenaChunk[C any] [arenaChunkSize]TableRecord[C]

// arena allocates TableRecords in fixed-size chunks that are never moved or
// freed, so slot addresses stay valid forever and a slot number is a stable
// handle. Allocation is serialized by the owning partition; lookups are
// lock-free.
type arena[C any] struct {
	partition int
	mu        sync.Mutex
	chunks    atomic.Pointer[[]*arenaChunk[C]]
	next      uint64
}

func (a *arena[C]) alloc() *TableRecord[C] {
	a.mu.Lock()
	defer a.mu.Unlock()
	slot := a.next
	chunkIdx := int(slot >> arenaChunkBits)
	var chunks []*arenaChunk[C]
	if p := a.chunks.Load(); p != nil {
		chunks = *p
	}
	if chunkIdx == len(chunks) {
		grown := make([]*arenaChunk[C], len(chunks)+1)
		copy(grown, chunks)
		grown[chunkIdx] = new(arenaChunk[C])
		a.chunks.Store(&grown)
		chunks = grown
	}
	a.next++
	rec := &chunks[chunkIdx][slot&(arenaChunkSize-1)]
	rec.handle = makeHandle(a.partition, slot)
	return rec
}

func (a *arena[C]) get(slot uint64) *TableRecord[C] {
	p := a.chunks.Load()
	if p == nil {
		return nil
	}
	chunks := *p
	chunkIdx := int(slot >> arenaChunkBits)
	if chunkIdx >= len(chunks) {
		return nil
	}
	return &chunks[chunkIdx][slot&(arenaChunkSize-1)]
}

func (a *arena[C]) len() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

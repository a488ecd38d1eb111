package storage

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Handle addresses a TableRecord within its table: the partition in the high
// 16 bits, the arena slot in the rest.
type Handle uint64

const handleSlotBits = 48

func makeHandle(partition int, slot uint64) Handle {
	return Handle(uint64(partition)<<handleSlotBits | slot)
}

func (h Handle) partition() int {
	return int(h >> handleSlotBits)
}

func (h Handle) slot() uint64 {
	return uint64(h) & (1<<handleSlotBits - 1)
}

// TableRecord pairs a tuple with the concurrency control metadata of the
// protocol compiled into the engine. It is created once at insert time and
// mutated in place afterwards.
//
// The committed row image is published through an atomic pointer to an
// immutable buffer: readers never observe a partially written row, and a nil
// image means the row is not visible (an uncommitted insert, an aborted
// insert or a committed delete).
type TableRecord[C any] struct {
	Key     string
	Schema  *Schema
	handle  Handle
	image   atomic.Pointer[[]byte]
	Content C
	// Keeps the Content of neighbouring arena slots off this cache line.
	_ cpu.CacheLinePad
}

// Handle returns the stable handle of the record.
func (r *TableRecord[C]) Handle() Handle {
	return r.handle
}

// Image returns the committed row, or nil if the row is not visible. The
// returned buffer must not be modified.
func (r *TableRecord[C]) Image() []byte {
	p := r.image.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Publish installs data as the committed row; nil hides the row. data must
// not be modified afterwards.
func (r *TableRecord[C]) Publish(data []byte) {
	if data == nil {
		r.image.Store(nil)
		return
	}
	r.image.Store(&data)
}

// View wraps a row image of this record for the application.
func (r *TableRecord[C]) View(data []byte) *SchemaRecord {
	return &SchemaRecord{Key: r.Key, Schema: r.Schema, Data: data}
}

// Clone returns a private copy of a row image of this record, or a zeroed
// row if image is nil.
func (r *TableRecord[C]) Clone(image []byte) *SchemaRecord {
	data := make([]byte, r.Schema.Size())
	copy(data, image)
	return r.View(data)
}

package storage

import (
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/google/btree"
	"github.com/pingcap/errors"
)

// NoPartition asks a table to route a key by its hash.
const NoPartition = -1

const defaultBTreeDegree = 32

var _ btree.Item = &indexItem{}

type indexItem struct {
	key    string
	handle Handle
}

// Less orders entries by key, then by record handle, so one key can map to
// many records.
func (i *indexItem) Less(other btree.Item) bool {
	o := other.(*indexItem)
	if i.key != o.key {
		return i.key < o.key
	}
	return i.handle < o.handle
}

type secondaryIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

type partition[C any] struct {
	id        int
	mu        sync.RWMutex
	primary   map[string]*TableRecord[C]
	arena     arena[C]
	secondary []*secondaryIndex
}

func newPartition[C any](id int, indexes int) *partition[C] {
	p := &partition[C]{
		id:        id,
		primary:   make(map[string]*TableRecord[C]),
		secondary: make([]*secondaryIndex, indexes),
	}
	p.arena.partition = id
	for i := range p.secondary {
		p.secondary[i] = &secondaryIndex{tree: btree.New(defaultBTreeDegree)}
	}
	return p
}

func (p *partition[C]) get(key string) *TableRecord[C] {
	p.mu.RLock()
	rec := p.primary[key]
	p.mu.RUnlock()
	return rec
}

func (p *partition[C]) index(schema *Schema, rec *TableRecord[C], image []byte) {
	for i, idx := range p.secondary {
		item := &indexItem{key: schema.IndexKey(i, image), handle: rec.handle}
		idx.mu.Lock()
		idx.tree.ReplaceOrInsert(item)
		idx.mu.Unlock()
	}
}

func (p *partition[C]) lookup(idx int, key string, fn func(rec *TableRecord[C]) bool) {
	index := p.secondary[idx]
	index.mu.RLock()
	defer index.mu.RUnlock()
	index.tree.AscendGreaterOrEqual(&indexItem{key: key}, func(i btree.Item) bool {
		item := i.(*indexItem)
		if item.key != key {
			return false
		}
		return fn(p.arena.get(item.handle.slot()))
	})
}

// Table maps primary keys and secondary index keys of one schema to
// TableRecords. Primary keys and secondary indexes are sharded into
// partitions.
type Table[C any] struct {
	schema     *Schema
	partitions []*partition[C]
}

func newTable[C any](schema *Schema, partitions int) *Table[C] {
	t := &Table[C]{
		schema:     schema,
		partitions: make([]*partition[C], partitions),
	}
	for i := range t.partitions {
		t.partitions[i] = newPartition[C](i, schema.IndexCount())
	}
	return t
}

// Schema returns the table schema.
func (t *Table[C]) Schema() *Schema {
	return t.schema
}

// PartitionCount returns the number of partitions.
func (t *Table[C]) PartitionCount() int {
	return len(t.partitions)
}

// PartitionOf returns the partition a key is routed to without a hint.
func (t *Table[C]) PartitionOf(key string) int {
	return int(farm.Fingerprint64([]byte(key)) % uint64(len(t.partitions)))
}

func (t *Table[C]) checkPartition(partitionID int) {
	if partitionID == NoPartition {
		return
	}
	if partitionID < 0 || partitionID >= len(t.partitions) {
		panic(errors.Errorf("table %s: partition %d out of range [0, %d)", t.schema.Name, partitionID, len(t.partitions)))
	}
}

// primary returns the partition owning key. A primary key always lives in
// the partition its hash picks, so a hint never changes which record a key
// resolves to.
func (t *Table[C]) primary(partitionID int, key string) *partition[C] {
	t.checkPartition(partitionID)
	return t.partitions[t.PartitionOf(key)]
}

// scope returns the partitions a secondary lookup visits.
func (t *Table[C]) scope(partitionID int) []*partition[C] {
	if partitionID == NoPartition {
		return t.partitions
	}
	t.checkPartition(partitionID)
	return t.partitions[partitionID : partitionID+1]
}

// Record resolves a handle.
func (t *Table[C]) Record(h Handle) *TableRecord[C] {
	p := h.partition()
	if p >= len(t.partitions) {
		return nil
	}
	return t.partitions[p].arena.get(h.slot())
}

// SelectKeyRecord returns the record of a primary key, or nil.
func (t *Table[C]) SelectKeyRecord(key string) *TableRecord[C] {
	return t.SelectKeyRecordInPartition(NoPartition, key)
}

// SelectKeyRecordInPartition is SelectKeyRecord with a partition hint. The
// hint is checked but the key is found wherever it lives.
func (t *Table[C]) SelectKeyRecordInPartition(partitionID int, key string) *TableRecord[C] {
	return t.primary(partitionID, key).get(key)
}

// SelectRecord returns the first record whose secondary index idx has key, or
// nil.
func (t *Table[C]) SelectRecord(idx int, key string) *TableRecord[C] {
	return t.SelectRecordInPartition(NoPartition, idx, key)
}

// SelectRecordInPartition is SelectRecord restricted to the records whose
// primary keys hash to one partition.
func (t *Table[C]) SelectRecordInPartition(partitionID int, idx int, key string) *TableRecord[C] {
	var found *TableRecord[C]
	for _, p := range t.scope(partitionID) {
		p.lookup(idx, key, func(rec *TableRecord[C]) bool {
			found = rec
			return false
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// SelectRecords appends every record whose secondary index idx has key to
// buf.
func (t *Table[C]) SelectRecords(idx int, key string, buf []*TableRecord[C]) []*TableRecord[C] {
	return t.SelectRecordsInPartition(NoPartition, idx, key, buf)
}

// SelectRecordsInPartition is SelectRecords restricted to one partition.
func (t *Table[C]) SelectRecordsInPartition(partitionID int, idx int, key string, buf []*TableRecord[C]) []*TableRecord[C] {
	for _, p := range t.scope(partitionID) {
		p.lookup(idx, key, func(rec *TableRecord[C]) bool {
			buf = append(buf, rec)
			return true
		})
	}
	return buf
}

// InsertRecord registers a new record for key, indexing it under the
// secondary keys of image. init runs before the record becomes reachable
// through the table, so a protocol can claim it first. If key is already
// mapped, the existing record is returned with inserted set to false and
// init is not called. The partition hint does not decide where key lives.
func (t *Table[C]) InsertRecord(partitionID int, key string, image []byte, init func(rec *TableRecord[C])) (rec *TableRecord[C], inserted bool) {
	p := t.primary(partitionID, key)
	p.mu.Lock()
	if existing, ok := p.primary[key]; ok {
		p.mu.Unlock()
		return existing, false
	}
	rec = p.arena.alloc()
	rec.Key = key
	rec.Schema = t.schema
	if init != nil {
		init(rec)
	}
	p.primary[key] = rec
	p.mu.Unlock()
	p.index(t.schema, rec, image)
	return rec, true
}

// Reindex adds the secondary keys of image for an existing record. Entries
// for earlier images are kept.
func (t *Table[C]) Reindex(rec *TableRecord[C], image []byte) {
	if len(t.schema.Indexes) == 0 {
		return
	}
	t.partitions[rec.handle.partition()].index(t.schema, rec, image)
}

// Len returns the number of records, visible or not.
func (t *Table[C]) Len() int {
	var n int
	for _, p := range t.partitions {
		n += int(p.arena.len())
	}
	return n
}

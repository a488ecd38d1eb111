// Package storage holds the tables the transaction layer runs against.
//
// Every logical tuple is a TableRecord allocated once in its partition's
// arena; its address never changes, so index entries and access lists can
// hold on to it for the life of the process. What a TableRecord means to
// readers is decided by the concurrency control protocol that owns its
// Content.
package storage

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

// TableID identifies a table within a Manager.
type TableID = int

// Column is a fixed-size field of a row.
type Column struct {
	Name string
	Size int
}

// Schema describes the fixed layout of the rows of one table and the columns
// its secondary indexes are built on.
type Schema struct {
	ID      TableID
	Name    string
	Columns []Column
	// Indexes lists, for every secondary index, the positions of the columns
	// whose concatenation forms the index key.
	Indexes [][]int

	offsets []int
	size    int
}

// NewSchema builds a schema. It panics on an index naming an unknown column.
func NewSchema(name string, columns []Column, indexes ...[]int) *Schema {
	s := &Schema{
		Name:    name,
		Columns: columns,
		Indexes: indexes,
		offsets: make([]int, len(columns)),
	}
	for i, col := range columns {
		s.offsets[i] = s.size
		s.size += col.Size
	}
	for _, idx := range indexes {
		for _, col := range idx {
			if col < 0 || col >= len(columns) {
				panic(errors.Errorf("schema %s: index column %d out of range", name, col))
			}
		}
	}
	return s
}

// Size returns the row size in bytes.
func (s *Schema) Size() int {
	return s.size
}

// IndexCount returns the number of secondary indexes.
func (s *Schema) IndexCount() int {
	return len(s.Indexes)
}

// Column returns the bytes of column i within data.
func (s *Schema) Column(data []byte, i int) []byte {
	off := s.offsets[i]
	return data[off : off+s.Columns[i].Size]
}

// IndexKey extracts the key of secondary index idx from a row.
func (s *Schema) IndexKey(idx int, data []byte) string {
	cols := s.Indexes[idx]
	if len(cols) == 1 {
		return string(s.Column(data, cols[0]))
	}
	var n int
	for _, col := range cols {
		n += s.Columns[col].Size
	}
	key := make([]byte, 0, n)
	for _, col := range cols {
		key = append(key, s.Column(data, col)...)
	}
	return string(key)
}

// NewRecord allocates a zeroed row for key.
func (s *Schema) NewRecord(key string) *SchemaRecord {
	return &SchemaRecord{
		Key:    key,
		Schema: s,
		Data:   make([]byte, s.size),
	}
}

// SchemaRecord is the application-visible tuple: a primary key, the row
// buffer and the schema describing it.
//
// Rows returned for reads are shared snapshots and must not be modified.
// Rows returned for writes and inserts are private to the transaction until
// it commits.
type SchemaRecord struct {
	Key    string
	Schema *Schema
	Data   []byte
}

// Column returns the bytes of column i.
func (r *SchemaRecord) Column(i int) []byte {
	return r.Schema.Column(r.Data, i)
}

// SetColumn copies value into column i, truncating or zero-padding it to the
// column size.
func (r *SchemaRecord) SetColumn(i int, value []byte) {
	col := r.Schema.Column(r.Data, i)
	n := copy(col, value)
	for ; n < len(col); n++ {
		col[n] = 0
	}
}

// Uint64 reads column i, which must be 8 bytes wide, as a big-endian integer.
func (r *SchemaRecord) Uint64(i int) uint64 {
	return binary.BigEndian.Uint64(r.Column(i))
}

// SetUint64 writes v into column i, which must be 8 bytes wide.
func (r *SchemaRecord) SetUint64(i int, v uint64) {
	binary.BigEndian.PutUint64(r.Column(i), v)
}

// SchemaRecords is a reusable result buffer for multi-row selects.
type SchemaRecords struct {
	Records []*SchemaRecord
}

// Reset empties the buffer, keeping its capacity.
func (rs *SchemaRecords) Reset() {
	for i := range rs.Records {
		rs.Records[i] = nil
	}
	rs.Records = rs.Records[:0]
}

// Len returns the number of rows in the buffer.
func (rs *SchemaRecords) Len() int {
	return len(rs.Records)
}

package storage

import "github.com/pingcap/errors"

// Manager owns the tables of an engine. Tables are created during setup,
// before any transaction runs, and never dropped.
type Manager[C any] struct {
	partitions int
	tables     []*Table[C]
}

// NewManager creates a manager whose tables have the given number of
// partitions.
func NewManager[C any](partitions int) *Manager[C] {
	if partitions <= 0 {
		partitions = 1
	}
	return &Manager[C]{partitions: partitions}
}

// CreateTable adds a table for schema and assigns the schema its id.
func (m *Manager[C]) CreateTable(schema *Schema) *Table[C] {
	schema.ID = len(m.tables)
	t := newTable[C](schema, m.partitions)
	m.tables = append(m.tables, t)
	return t
}

// Table returns table id. It panics on an unknown id.
func (m *Manager[C]) Table(id TableID) *Table[C] {
	if id < 0 || id >= len(m.tables) {
		panic(errors.Errorf("unknown table %d", id))
	}
	return m.tables[id]
}

// TableCount returns the number of tables.
func (m *Manager[C]) TableCount() int {
	return len(m.tables)
}

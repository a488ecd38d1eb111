package txn_test

import (
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/logger"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/timestamp"
	"github.com/vishalag001/Cavalia/txn"
	"github.com/vishalag001/Cavalia/txn/cc"
)

type recordingLogger struct {
	logger.Nop
	fail    error
	entries []logger.Entry
	ts      []uint64
}

func (l *recordingLogger) CommitTransaction(threadID int, epoch, commitTS uint64, e *logger.Entry) error {
	if l.fail != nil {
		return l.fail
	}
	cp := logger.Entry{CommandType: e.CommandType, Command: e.Command}
	cp.Values = append(cp.Values, e.Values...)
	l.entries = append(l.entries, cp)
	l.ts = append(l.ts, commitTS)
	return nil
}

type transferParam struct{}

func (transferParam) Type() int                { return 3 }
func (transferParam) Marshal() ([]byte, error) { return []byte("from to 10"), nil }

type fixture struct {
	cfg    *config.Config
	store  *storage.Manager[cc.LockContent]
	schema *storage.Schema
	log    *recordingLogger
	epoch  *timestamp.Epoch
	proto  *cc.Lock
	ctx    *txn.TxnContext
}

func newFixture() *fixture {
	cfg := config.NewTestConfig()
	cfg.MaxAccessNum = 4
	store := storage.NewManager[cc.LockContent](2)
	schema := storage.NewSchema("item", []storage.Column{{Name: "key", Size: 4}, {Name: "tag", Size: 2}, {Name: "qty", Size: 8}}, []int{1})
	store.CreateTable(schema)
	return &fixture{
		cfg:    cfg,
		store:  store,
		schema: schema,
		log:    &recordingLogger{},
		epoch:  timestamp.NewEpoch(),
		proto:  cc.NewLock(),
		ctx:    &txn.TxnContext{TxnType: 1},
	}
}

func (f *fixture) manager(threadID int) *txn.Manager[cc.LockContent, *cc.Lock] {
	return txn.NewManager(f.cfg, threadID, f.store, f.log, f.epoch, f.proto)
}

func (f *fixture) row(key, tag string, qty uint64) *storage.SchemaRecord {
	r := f.schema.NewRecord(key)
	r.SetColumn(0, []byte(key))
	r.SetColumn(1, []byte(tag))
	r.SetUint64(2, qty)
	return r
}

func TestCommitLogsWrites(t *testing.T) {
	f := newFixture()
	m := f.manager(0)
	require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row("a", "x", 1)))
	require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row("b", "x", 2)))
	ts, err := m.CommitTransaction(f.ctx, transferParam{})
	require.NoError(t, err)
	assert.Equal(t, txn.Active, m.Txn().State())

	require.Len(t, f.log.entries, 1)
	e := f.log.entries[0]
	assert.Len(t, e.Values, 2)
	assert.Equal(t, "a", e.Values[0].Key)
	assert.Equal(t, 3, e.CommandType)
	assert.Equal(t, []byte("from to 10"), e.Command)
	assert.Equal(t, ts, f.log.ts[0])
	epoch, _ := timestamp.ParseTS(ts)
	assert.Equal(t, uint32(1), epoch)

	// Read-only commits reach the logger too, with nothing to persist.
	row, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Read)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.Uint64(2))
	ts2, err := m.CommitTransaction(f.ctx, nil)
	require.NoError(t, err)
	assert.True(t, ts2 > ts)
	require.Len(t, f.log.entries, 2)
	assert.Empty(t, f.log.entries[1].Values)
	assert.Equal(t, ts2, f.log.ts[1])

	// An aborted transaction is not logged.
	other := f.manager(1)
	_, err = other.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Write)
	require.NoError(t, err)
	_, err = m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Read)
	require.Error(t, err)
	m.AbortTransaction()
	other.AbortTransaction()
	assert.Len(t, f.log.entries, 2)
}

func TestLoggerFailureRollsBack(t *testing.T) {
	f := newFixture()
	m := f.manager(0)
	require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row("a", "x", 1)))
	_, err := m.CommitTransaction(f.ctx, nil)
	require.NoError(t, err)

	f.log.fail = errors.New("disk full")
	row, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Write)
	require.NoError(t, err)
	row.SetUint64(2, 99)
	require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row("b", "x", 2)))
	_, err = m.CommitTransaction(f.ctx, nil)
	require.Error(t, err)
	assert.Equal(t, "disk full", errors.Cause(err).Error())
	assert.False(t, txn.IsRetryable(err))

	f.log.fail = nil
	other := f.manager(1)
	row, err = other.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Write)
	require.NoError(t, err, "locks must be released")
	assert.Equal(t, uint64(1), row.Uint64(2))
	row, err = other.SelectKeyRecord(f.ctx, f.schema.ID, "b", txn.Read)
	require.NoError(t, err)
	assert.Nil(t, row)
	other.AbortTransaction()
}

func TestAccessListFull(t *testing.T) {
	f := newFixture()
	m := f.manager(0)
	for i := 0; i < f.cfg.MaxAccessNum; i++ {
		require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row(string(rune('a'+i)), "x", 0)))
	}
	assert.Panics(t, func() {
		m.InsertRecord(f.ctx, f.schema.ID, f.row("z", "x", 0))
	})
}

func TestAbsenceAndConflict(t *testing.T) {
	f := newFixture()
	m0, m1 := f.manager(0), f.manager(1)
	row, err := m0.SelectKeyRecord(f.ctx, f.schema.ID, "nope", txn.Read)
	assert.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, m0.InsertRecord(f.ctx, f.schema.ID, f.row("a", "x", 1)))
	row, err = m1.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Read)
	assert.Nil(t, row)
	assert.Equal(t, txn.ErrConflict, err)
	assert.True(t, txn.IsRetryable(err))
	m1.AbortTransaction()
	m0.AbortTransaction()
}

func TestSelectRecordsFailFast(t *testing.T) {
	f := newFixture()
	m0, m1 := f.manager(0), f.manager(1)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, m0.InsertRecord(f.ctx, f.schema.ID, f.row(k, "t", 1)))
	}
	_, err := m0.CommitTransaction(f.ctx, nil)
	require.NoError(t, err)

	_, err = m0.SelectKeyRecord(f.ctx, f.schema.ID, "b", txn.Write)
	require.NoError(t, err)

	var out storage.SchemaRecords
	err = m1.SelectRecords(f.ctx, f.schema.ID, 0, "t\x00", txn.Read, &out)
	assert.Equal(t, txn.ErrConflict, err)
	assert.True(t, out.Len() < 3)
	m1.AbortTransaction()
	m0.AbortTransaction()

	require.NoError(t, m1.SelectRecords(f.ctx, f.schema.ID, 0, "t\x00", txn.Read, &out))
	assert.Equal(t, 3, out.Len())
	_, err = m1.CommitTransaction(f.ctx, nil)
	require.NoError(t, err)
}

func TestUpgradeAndReadOwnWrites(t *testing.T) {
	f := newFixture()
	m := f.manager(0)
	require.NoError(t, m.InsertRecord(f.ctx, f.schema.ID, f.row("a", "x", 1)))
	_, err := m.CommitTransaction(f.ctx, nil)
	require.NoError(t, err)

	r, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Read)
	require.NoError(t, err)
	w, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Write)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Txn().Accesses.Len())
	assert.Equal(t, txn.Write, m.Txn().Accesses.At(0).Type)
	w.SetUint64(2, 5)
	assert.Equal(t, uint64(1), r.Uint64(2), "read snapshots are not affected by private writes")
	again, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Read)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), again.Uint64(2))
	_, err = m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Delete)
	require.NoError(t, err)
	gone, err := m.SelectKeyRecord(f.ctx, f.schema.ID, "a", txn.Write)
	require.NoError(t, err)
	assert.Nil(t, gone)
	m.AbortTransaction()
	require.NoError(t, m.CleanUp())
}

func TestAccessList(t *testing.T) {
	l := txn.NewAccessList[cc.LockContent](2)
	a := l.New()
	a.Type = txn.Write
	l.New()
	assert.Equal(t, 2, l.Len())
	assert.Panics(t, func() { l.New() })
	l.Pop()
	assert.Equal(t, 1, l.Len())
	l.Clear()
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 2, l.Cap())
	assert.Equal(t, "delete", txn.Delete.String())
	assert.False(t, txn.Read.IsWrite())
}

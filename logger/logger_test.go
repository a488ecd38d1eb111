package logger

import (
	"fmt"
	"io/ioutil"
	"os"
	"sync"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "cavalia-log")
	require.NoError(t, err)
	return dir
}

func readAll(t *testing.T, dir string) ([]Record, map[int]uint64) {
	r, err := OpenReader(dir)
	require.NoError(t, err)
	defer r.Close()
	var recs []Record
	require.NoError(t, r.ForEach(func(rec *Record) error {
		recs = append(recs, *rec)
		return nil
	}))
	counts, err := r.ThreadCounts()
	require.NoError(t, err)
	return recs, counts
}

func TestNop(t *testing.T) {
	var l Logger = Nop{}
	assert.NoError(t, l.CommitTransaction(0, 1, 2, &Entry{}))
	assert.NoError(t, l.CleanUp(0))
	assert.NoError(t, l.Close())
}

func TestRecordEncoding(t *testing.T) {
	values := []Value{
		{TableID: 3, Key: "k1", Data: []byte{1, 2, 3}},
		{TableID: 0, Key: "k2", Deleted: true},
	}
	var rec Record
	require.NoError(t, decodeRecord(&rec, encodeValues(7, values)))
	assert.Equal(t, KindValue, rec.Kind)
	assert.Equal(t, uint64(7), rec.Epoch)
	require.Len(t, rec.Values, 2)
	assert.Equal(t, values[0], rec.Values[0])
	assert.True(t, rec.Values[1].Deleted)
	assert.Equal(t, "k2", rec.Values[1].Key)

	rec = Record{}
	require.NoError(t, decodeRecord(&rec, encodeCommand(9, 4, []byte("transfer 1 2 10"))))
	assert.Equal(t, KindCommand, rec.Kind)
	assert.Equal(t, 4, rec.CommandType)
	assert.Equal(t, []byte("transfer 1 2 10"), rec.Command)

	assert.Error(t, decodeRecord(&rec, []byte{'x', 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.Error(t, decodeRecord(&rec, nil))

	ts, tid, err := parseRecordKey(recordKey(1<<33|5, 3))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<33|5), ts)
	assert.Equal(t, 3, tid)
}

func TestValueLogger(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	l, err := NewValueLogger(Options{Dir: dir})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for tid := 0; tid < 4; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				e := &Entry{Values: []Value{{TableID: 1, Key: fmt.Sprintf("t%d-%d", tid, i), Data: []byte{byte(i)}}}}
				assert.NoError(t, l.CommitTransaction(tid, 1, uint64(i*4+tid+1), e))
			}
			assert.NoError(t, l.CleanUp(tid))
		}(tid)
	}
	wg.Wait()
	// Read-only transactions are not logged.
	require.NoError(t, l.CommitTransaction(0, 1, 1000, &Entry{}))
	require.NoError(t, l.Close())
	assert.Equal(t, ErrClosed, errors.Cause(l.CommitTransaction(0, 1, 1001, &Entry{Values: []Value{{Key: "x"}}})))

	recs, counts := readAll(t, dir)
	require.Len(t, recs, 100)
	for i := 1; i < len(recs); i++ {
		assert.True(t, recs[i-1].CommitTS < recs[i].CommitTS)
	}
	assert.Equal(t, uint64(1), recs[0].CommitTS)
	assert.Equal(t, "t0-0", recs[0].Values[0].Key)
	assert.Equal(t, map[int]uint64{0: 25, 1: 25, 2: 25, 3: 25}, counts)
}

func TestCommandLogger(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	l, err := NewCommandLogger(Options{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	e := &Entry{Values: []Value{{Key: "a"}}, CommandType: 2, Command: []byte("payload")}
	require.NoError(t, l.CommitTransaction(1, 3, 42, e))
	e.Reset()
	assert.Empty(t, e.Values)
	require.NoError(t, l.CommitTransaction(1, 3, 43, e))
	require.NoError(t, l.CleanUp(1))
	require.NoError(t, l.Close())

	recs, counts := readAll(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(42), recs[0].CommitTS)
	assert.Equal(t, uint64(3), recs[0].Epoch)
	assert.Equal(t, 1, recs[0].ThreadID)
	assert.Equal(t, 2, recs[0].CommandType)
	assert.Equal(t, []byte("payload"), recs[0].Command)
	assert.Equal(t, uint64(1), counts[1])
}

func TestCompression(t *testing.T) {
	values := []Value{{TableID: 1, Key: "k", Data: make([]byte, 4096)}}
	raw := encodeValues(3, values)
	packed := compress(raw)
	assert.Equal(t, byte(kindCompressed), packed[0])
	assert.True(t, len(packed) < len(raw)/2)
	var rec Record
	require.NoError(t, decodeRecord(&rec, packed))
	assert.Equal(t, KindValue, rec.Kind)
	assert.Equal(t, values, rec.Values)

	// Small bodies are not worth compressing.
	small := encodeValues(3, []Value{{Key: "a", Data: []byte{1}}})
	assert.Equal(t, small, compress(small))

	assert.Error(t, decodeRecord(&rec, packed[:len(packed)-4]))
	assert.Error(t, decodeRecord(&rec, packed[:len(packed)-1]))
	flipped := append([]byte(nil), packed...)
	flipped[len(flipped)/2] ^= 0xff
	assert.Error(t, decodeRecord(&rec, flipped))

	dir := tempDir(t)
	defer os.RemoveAll(dir)
	l, err := NewValueLogger(Options{Dir: dir, Compress: true})
	require.NoError(t, err)
	require.NoError(t, l.CommitTransaction(0, 1, 10, &Entry{Values: values}))
	require.NoError(t, l.CleanUp(0))
	require.NoError(t, l.Close())
	recs, counts := readAll(t, dir)
	require.Len(t, recs, 1)
	assert.Equal(t, values, recs[0].Values)
	assert.Equal(t, uint64(1), counts[0])
}

func TestMinFreeSpace(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	_, err := NewValueLogger(Options{Dir: dir, MinFreeSpace: 1 << 62})
	assert.True(t, errors.Cause(err) == ErrNoSpace, "%v", err)
}

func TestReadOnlyEntriesSkipped(t *testing.T) {
	for _, open := range []func(Options) (Logger, error){
		func(o Options) (Logger, error) { return NewValueLogger(o) },
		func(o Options) (Logger, error) { return NewCommandLogger(o) },
	} {
		dir := tempDir(t)
		l, err := open(Options{Dir: dir})
		require.NoError(t, err)
		require.NoError(t, l.CommitTransaction(0, 1, 5, &Entry{}))
		require.NoError(t, l.CommitTransaction(0, 1, 6, &Entry{CommandType: 2, Command: []byte("noop")}))
		require.NoError(t, l.CleanUp(0))
		require.NoError(t, l.Close())
		recs, counts := readAll(t, dir)
		assert.Empty(t, recs)
		assert.Equal(t, uint64(0), counts[0])
		os.RemoveAll(dir)
	}
}

package logger

import (
	"github.com/coocood/badger"
	"github.com/pingcap/errors"
	"github.com/vishalag001/Cavalia/util/codec"
)

// Reader walks a closed log store.
type Reader struct {
	db *badger.DB
}

func OpenReader(dir string) (*Reader, error) {
	db, err := openDB(Options{Dir: dir})
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

// ForEach calls fn for every record in commit timestamp order. The record is
// reused between calls.
func (r *Reader) ForEach(fn func(rec *Record) error) error {
	prefix := codec.EncodeBytes(recordPrefix)
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var rec Record
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			commitTS, threadID, err := parseRecordKey(item.Key())
			if err != nil {
				return errors.Annotatef(err, "log record key %x", item.Key())
			}
			body, err := item.Value()
			if err != nil {
				return errors.Trace(err)
			}
			rec = Record{ThreadID: threadID, CommitTS: commitTS}
			if err := decodeRecord(&rec, body); err != nil {
				return errors.Annotatef(err, "log record %d of thread %d", commitTS, threadID)
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ThreadCounts returns, for every thread that ran CleanUp, the number of
// records it logged.
func (r *Reader) ThreadCounts() (map[int]uint64, error) {
	counts := make(map[int]uint64)
	prefix := codec.EncodeBytes(threadPrefix)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			_, threadID, err := codec.DecodeKey(item.Key())
			if err != nil {
				return err
			}
			val, err := item.Value()
			if err != nil {
				return errors.Trace(err)
			}
			_, n, err := codec.DecodeUint64(val)
			if err != nil {
				return err
			}
			counts[int(threadID)] = n
		}
		return nil
	})
	return counts, err
}

func (r *Reader) Close() error {
	return errors.Trace(r.db.Close())
}

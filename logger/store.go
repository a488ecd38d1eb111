package logger

import (
	"os"
	"sync"

	"github.com/coocood/badger"
	"github.com/docker/go-units"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/disk"
	"go.uber.org/zap"
)

// Options configure the badger store behind value and command loggers.
type Options struct {
	Dir        string
	SyncWrites bool
	// Compress compresses value records with lz4.
	Compress bool
	// MinFreeSpace is the free space in bytes the log disk must have when the
	// store opens. 0 disables the check.
	MinFreeSpace int64
}

// ErrNoSpace is returned when the log disk has less free space than required.
var ErrNoSpace = errors.New("logger: not enough free space")

// checkSpace creates the log directory and checks the disk it lives on.
func checkSpace(opt Options) error {
	if err := os.MkdirAll(opt.Dir, 0755); err != nil {
		return errors.Trace(err)
	}
	usage, err := disk.Usage(opt.Dir)
	if err != nil {
		return errors.Annotatef(err, "stat log disk %s", opt.Dir)
	}
	log.Info("log disk",
		zap.String("dir", opt.Dir),
		zap.String("free", units.BytesSize(float64(usage.Free))),
		zap.String("total", units.BytesSize(float64(usage.Total))))
	if opt.MinFreeSpace > 0 && usage.Free < uint64(opt.MinFreeSpace) {
		return errors.Annotatef(ErrNoSpace, "%s free on %s, need %s",
			units.BytesSize(float64(usage.Free)), opt.Dir, units.BytesSize(float64(opt.MinFreeSpace)))
	}
	return nil
}

func openDB(opt Options) (*badger.DB, error) {
	opts := badger.DefaultOptions
	opts.Dir = opt.Dir
	opts.ValueDir = opt.Dir
	opts.SyncWrites = opt.SyncWrites
	opts.NumCompactors = 1
	db, err := badger.Open(opts)
	return db, errors.Annotatef(err, "open log store %s", opt.Dir)
}

type logEntry struct {
	key, value []byte
}

type writeBatch struct {
	entries []logEntry
	err     error
	wg      sync.WaitGroup
}

// writeWorker group commits the batches of concurrent committers into one
// badger transaction.
type writeWorker struct {
	mu struct {
		sync.Mutex
		batches []*writeBatch
		closed  bool
	}
	wakeUp  chan struct{}
	closeCh chan struct{}
	done    chan struct{}
	db      *badger.DB
}

func newWriteWorker(db *badger.DB) *writeWorker {
	w := &writeWorker{
		wakeUp:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		db:      db,
	}
	go w.run()
	return w
}

func (w *writeWorker) write(batch *writeBatch) error {
	if len(batch.entries) == 0 {
		return nil
	}
	w.mu.Lock()
	if w.mu.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	batch.wg.Add(1)
	w.mu.batches = append(w.mu.batches, batch)
	w.mu.Unlock()
	select {
	case w.wakeUp <- struct{}{}:
	default:
	}
	batch.wg.Wait()
	return batch.err
}

func (w *writeWorker) run() {
	defer close(w.done)
	var batches []*writeBatch
	for {
		closed := false
		select {
		case <-w.wakeUp:
		case <-w.closeCh:
			closed = true
		}
		batches = batches[:0]
		w.mu.Lock()
		batches, w.mu.batches = w.mu.batches, batches
		w.mu.Unlock()
		if len(batches) > 0 {
			w.flush(batches)
		}
		if closed {
			return
		}
	}
}

func (w *writeWorker) flush(batches []*writeBatch) {
	err := w.db.Update(func(txn *badger.Txn) error {
		for _, batch := range batches {
			for _, entry := range batch.entries {
				if err := txn.Set(entry.key, entry.value); err != nil {
					return errors.Trace(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Error("log group commit failed", zap.Int("batches", len(batches)), zap.Error(err))
	}
	for _, batch := range batches {
		batch.err = err
		batch.wg.Done()
	}
}

func (w *writeWorker) close() {
	w.mu.Lock()
	if w.mu.closed {
		w.mu.Unlock()
		return
	}
	w.mu.closed = true
	w.mu.Unlock()
	close(w.closeCh)
	<-w.done
}

// store is the part shared by value and command loggers.
type store struct {
	db     *badger.DB
	worker *writeWorker
	dir    string
	// counts holds records written per thread, persisted by CleanUp.
	countsMu sync.Mutex
	counts   map[int]uint64
}

func openStore(opt Options) (*store, error) {
	if err := checkSpace(opt); err != nil {
		return nil, err
	}
	db, err := openDB(opt)
	if err != nil {
		return nil, err
	}
	log.Info("log store opened", zap.String("dir", opt.Dir), zap.Bool("sync-writes", opt.SyncWrites))
	return &store{
		db:     db,
		worker: newWriteWorker(db),
		dir:    opt.Dir,
		counts: make(map[int]uint64),
	}, nil
}

func (s *store) append(threadID int, commitTS uint64, body []byte) error {
	batch := &writeBatch{entries: []logEntry{{key: recordKey(commitTS, threadID), value: body}}}
	if err := s.worker.write(batch); err != nil {
		return errors.Annotatef(err, "log commit %d of thread %d", commitTS, threadID)
	}
	s.countsMu.Lock()
	s.counts[threadID]++
	s.countsMu.Unlock()
	return nil
}

func (s *store) CleanUp(threadID int) error {
	s.countsMu.Lock()
	n := s.counts[threadID]
	s.countsMu.Unlock()
	var val [8]byte
	batch := &writeBatch{entries: []logEntry{{key: threadKey(threadID), value: appendCount(val[:0], n)}}}
	return errors.Trace(s.worker.write(batch))
}

func (s *store) Close() error {
	s.worker.close()
	log.Info("log store closed", zap.String("dir", s.dir))
	return errors.Trace(s.db.Close())
}

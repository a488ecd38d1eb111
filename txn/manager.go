package txn

import (
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/logger"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/timestamp"
	"go.uber.org/zap"
)

// Manager runs the transactions of one thread under protocol P. It is not
// safe for concurrent use; every worker thread owns its own Manager.
type Manager[C any, P Protocol[C]] struct {
	proto   P
	storage *storage.Manager[C]
	logger  logger.Logger
	txn     *Txn[C]

	entry   logger.Entry
	records []*storage.TableRecord[C]
	// failed is set once an access of the running transaction conflicted.
	failed bool

	commits, conflicts, logErrors, userAborts prometheus.Counter
	commitDuration                            prometheus.Observer
}

// NewManager creates the manager of thread threadID. epoch is shared by all
// managers of an engine.
func NewManager[C any, P Protocol[C]](cfg *config.Config, threadID int, store *storage.Manager[C], lg logger.Logger, epoch *timestamp.Epoch, proto P) *Manager[C, P] {
	name := proto.Name()
	return &Manager[C, P]{
		proto:          proto,
		storage:        store,
		logger:         lg,
		txn:            newTxn[C](threadID, cfg.ThreadCount, cfg.MaxAccessNum, epoch),
		entry:          logger.Entry{Values: make([]logger.Value, 0, cfg.MaxAccessNum)},
		commits:        txnCounter.WithLabelValues(name, "commit"),
		conflicts:      txnCounter.WithLabelValues(name, "conflict"),
		logErrors:      txnCounter.WithLabelValues(name, "log_error"),
		userAborts:     txnCounter.WithLabelValues(name, "user_abort"),
		commitDuration: commitDuration.WithLabelValues(name),
	}
}

// Txn returns the transaction state of the thread.
func (m *Manager[C, P]) Txn() *Txn[C] {
	return m.txn
}

// ThreadID returns the thread the manager belongs to.
func (m *Manager[C, P]) ThreadID() int {
	return m.txn.ThreadID
}

func (m *Manager[C, P]) begin(ctx *TxnContext) {
	t := m.txn
	if !t.began {
		t.began = true
		t.Context = ctx
		m.proto.Begin(t)
	}
}

// SelectKeyRecord selects the row with primary key key. It returns a nil row
// and a nil error if there is no visible row, and ErrConflict if the protocol
// refused the access. typ is Read, Write or Delete; a Write returns a private
// copy to modify.
func (m *Manager[C, P]) SelectKeyRecord(ctx *TxnContext, tableID storage.TableID, key string, typ AccessType) (*storage.SchemaRecord, error) {
	return m.SelectKeyRecordInPartition(ctx, tableID, storage.NoPartition, key, typ)
}

// SelectKeyRecordInPartition is SelectKeyRecord with the key's partition
// given by the caller.
func (m *Manager[C, P]) SelectKeyRecordInPartition(ctx *TxnContext, tableID storage.TableID, partitionID int, key string, typ AccessType) (*storage.SchemaRecord, error) {
	m.begin(ctx)
	rec := m.storage.Table(tableID).SelectKeyRecordInPartition(partitionID, key)
	if rec == nil {
		return nil, nil
	}
	return m.access(tableID, rec, typ)
}

// SelectRecord selects one row whose secondary index idx has key skey.
func (m *Manager[C, P]) SelectRecord(ctx *TxnContext, tableID storage.TableID, idx int, skey string, typ AccessType) (*storage.SchemaRecord, error) {
	return m.SelectRecordInPartition(ctx, tableID, storage.NoPartition, idx, skey, typ)
}

// SelectRecordInPartition is SelectRecord restricted to one partition, or to
// none with storage.NoPartition.
func (m *Manager[C, P]) SelectRecordInPartition(ctx *TxnContext, tableID storage.TableID, partitionID int, idx int, skey string, typ AccessType) (*storage.SchemaRecord, error) {
	m.begin(ctx)
	table := m.storage.Table(tableID)
	m.records = m.lookup(table, partitionID, idx, skey)
	for _, rec := range m.records {
		row, err := m.accessIndexed(table, tableID, rec, idx, skey, typ)
		if err != nil || row != nil {
			return row, err
		}
	}
	return nil, nil
}

// SelectRecords selects every row whose secondary index idx has key skey into
// out. It stops at the first refused access and returns ErrConflict.
func (m *Manager[C, P]) SelectRecords(ctx *TxnContext, tableID storage.TableID, idx int, skey string, typ AccessType, out *storage.SchemaRecords) error {
	return m.SelectRecordsInPartition(ctx, tableID, storage.NoPartition, idx, skey, typ, out)
}

// SelectRecordsInPartition is SelectRecords restricted to one partition, or
// to none with storage.NoPartition.
func (m *Manager[C, P]) SelectRecordsInPartition(ctx *TxnContext, tableID storage.TableID, partitionID int, idx int, skey string, typ AccessType, out *storage.SchemaRecords) error {
	m.begin(ctx)
	out.Reset()
	table := m.storage.Table(tableID)
	m.records = m.lookup(table, partitionID, idx, skey)
	for _, rec := range m.records {
		row, err := m.accessIndexed(table, tableID, rec, idx, skey, typ)
		if err != nil {
			return err
		}
		if row != nil {
			out.Records = append(out.Records, row)
		}
	}
	return nil
}

func (m *Manager[C, P]) lookup(table *storage.Table[C], partitionID int, idx int, skey string) []*storage.TableRecord[C] {
	return table.SelectRecordsInPartition(partitionID, idx, skey, m.records[:0])
}

// accessIndexed reads rec first and checks the row it sees still carries
// skey, since index entries of earlier images are never removed. Only a
// matching row is then upgraded to typ.
func (m *Manager[C, P]) accessIndexed(table *storage.Table[C], tableID storage.TableID, rec *storage.TableRecord[C], idx int, skey string, typ AccessType) (*storage.SchemaRecord, error) {
	row, err := m.access(tableID, rec, Read)
	if err != nil || row == nil {
		return nil, err
	}
	if table.Schema().IndexKey(idx, row.Data) != skey {
		return nil, nil
	}
	if typ == Read {
		return row, nil
	}
	return m.reaccess(m.txn.Accesses.Find(rec), typ)
}

func (m *Manager[C, P]) access(tableID storage.TableID, rec *storage.TableRecord[C], typ AccessType) (*storage.SchemaRecord, error) {
	if typ == Insert {
		panic(errors.New("insert is not a select type"))
	}
	t := m.txn
	if a := t.Accesses.Find(rec); a != nil {
		return m.reaccess(a, typ)
	}
	a := t.Accesses.New()
	a.Type = typ
	a.TableID = tableID
	a.Record = rec
	if err := m.proto.Acquire(t, a); err != nil {
		t.Accesses.Pop()
		m.failed = true
		return nil, err
	}
	if a.Image == nil {
		// No visible row. The access stays so that whatever the protocol
		// holds is released and validated with the rest.
		a.Type = Read
		return nil, nil
	}
	if typ == Write {
		a.Local = rec.Clone(a.Image)
		return a.Local, nil
	}
	return rec.View(a.Image), nil
}

// reaccess serves an access to a record the transaction already touched.
func (m *Manager[C, P]) reaccess(a *Access[C], typ AccessType) (*storage.SchemaRecord, error) {
	switch a.Type {
	case Write, Insert:
		if typ == Delete {
			a.Type = Delete
		}
		return a.Local, nil
	case Delete:
		return nil, nil
	}
	if a.Image == nil {
		return nil, nil
	}
	if typ == Read {
		return a.Record.View(a.Image), nil
	}
	if err := m.upgrade(a); err != nil {
		return nil, err
	}
	a.Type = typ
	if typ == Write {
		a.Local = a.Record.Clone(a.Image)
		return a.Local, nil
	}
	return a.Record.View(a.Image), nil
}

// upgrade makes a a write access. A select-for-write that found no row
// keeps its exclusive hold while its type drops to Read, and the hold
// already is the write.
func (m *Manager[C, P]) upgrade(a *Access[C]) error {
	if a.Held == HoldExclusive {
		return nil
	}
	if err := m.proto.Upgrade(m.txn, a); err != nil {
		m.failed = true
		return err
	}
	return nil
}

// InsertRecord inserts rec, which belongs to the transaction from now on. It
// returns ErrKeyExists if a row with the same key is visible to the
// transaction.
func (m *Manager[C, P]) InsertRecord(ctx *TxnContext, tableID storage.TableID, rec *storage.SchemaRecord) error {
	return m.InsertRecordInPartition(ctx, tableID, storage.NoPartition, rec)
}

// InsertRecordInPartition is InsertRecord with the key's partition given by
// the caller.
func (m *Manager[C, P]) InsertRecordInPartition(ctx *TxnContext, tableID storage.TableID, partitionID int, rec *storage.SchemaRecord) error {
	m.begin(ctx)
	t := m.txn
	table := m.storage.Table(tableID)
	schema := table.Schema()
	if rec.Schema == nil {
		rec.Schema = schema
	}
	if len(rec.Data) != schema.Size() {
		panic(errors.Errorf("insert into %s: row is %d bytes, expect %d", schema.Name, len(rec.Data), schema.Size()))
	}

	a := t.Accesses.New()
	a.Type = Insert
	a.TableID = tableID
	a.Local = rec
	stored, inserted := table.InsertRecord(partitionID, rec.Key, rec.Data, func(r *storage.TableRecord[C]) {
		a.Record = r
		m.proto.AcquireInsert(t, a)
	})
	if inserted {
		return nil
	}

	// The key is mapped already: the insert becomes a write of that record,
	// allowed only if the record holds no visible row.
	if prior := t.Accesses.Find(stored); prior != nil {
		t.Accesses.Pop()
		return m.reinsert(table, prior, rec)
	}
	a.Type = Write
	a.Record = stored
	a.Local = nil
	if err := m.proto.Acquire(t, a); err != nil {
		t.Accesses.Pop()
		m.failed = true
		return err
	}
	if a.Image != nil {
		a.Type = Read
		return ErrKeyExists
	}
	a.Local = rec
	table.Reindex(stored, rec.Data)
	return nil
}

func (m *Manager[C, P]) reinsert(table *storage.Table[C], prior *Access[C], rec *storage.SchemaRecord) error {
	switch prior.Type {
	case Delete:
	case Read:
		if prior.Image != nil {
			return ErrKeyExists
		}
		if err := m.upgrade(prior); err != nil {
			return err
		}
	default:
		return ErrKeyExists
	}
	prior.Type = Write
	prior.Local = rec
	table.Reindex(prior.Record, rec.Data)
	return nil
}

// CommitTransaction validates, logs and installs the running transaction. On
// error the transaction has been aborted. param may be nil unless command
// logging is used.
func (m *Manager[C, P]) CommitTransaction(ctx *TxnContext, param TxnParam) (commitTS uint64, err error) {
	t := m.txn
	if !t.began {
		return 0, nil
	}
	start := time.Now()
	t.state = Validating
	if err = m.proto.Validate(t); err != nil {
		m.conflicts.Inc()
		m.abort(err)
		return 0, err
	}
	if err = m.log(param); err != nil {
		m.logErrors.Inc()
		m.abort(err)
		return 0, err
	}
	m.reindex()
	m.proto.Apply(t)
	m.proto.Release(t, true)
	t.state = Committed
	commitTS = t.CommitTS
	m.commits.Inc()
	m.commitDuration.Observe(time.Since(start).Seconds())
	t.reset()
	m.failed = false
	return commitTS, nil
}

// AbortTransaction rolls the running transaction back.
func (m *Manager[C, P]) AbortTransaction() {
	if !m.txn.began {
		return
	}
	if m.failed {
		m.conflicts.Inc()
	} else {
		m.userAborts.Inc()
	}
	m.abort(nil)
}

func (m *Manager[C, P]) abort(cause error) {
	t := m.txn
	m.proto.Release(t, false)
	t.state = Aborted
	if ce := log.L().Check(zap.DebugLevel, "txn aborted"); ce != nil {
		ce.Write(zap.String("protocol", m.proto.Name()), zap.Int("thread", t.ThreadID),
			zap.Int("accesses", t.Accesses.Len()), zap.Error(cause))
	}
	t.reset()
	m.failed = false
}

func (m *Manager[C, P]) log(param TxnParam) error {
	t := m.txn
	e := &m.entry
	e.Reset()
	for _, a := range t.WriteSet() {
		v := logger.Value{TableID: a.TableID, Key: a.Record.Key}
		if a.Type == Delete {
			v.Deleted = true
		} else {
			v.Data = a.Local.Data
		}
		e.Values = append(e.Values, v)
	}
	if param != nil {
		e.CommandType = param.Type()
		cmd, err := param.Marshal()
		if err != nil {
			return errors.Annotate(err, "marshal txn param")
		}
		e.Command = cmd
	}
	err := m.logger.CommitTransaction(t.ThreadID, t.Epoch(), t.CommitTS, e)
	return errors.Annotatef(err, "thread %d commit %s", t.ThreadID, timestamp.FormatTS(t.CommitTS))
}

// reindex adds index entries for writes that changed a secondary key.
func (m *Manager[C, P]) reindex() {
	t := m.txn
	for _, a := range t.WriteSet() {
		if a.Type != Write || a.Image == nil {
			continue
		}
		schema := a.Record.Schema
		for idx := 0; idx < schema.IndexCount(); idx++ {
			if schema.IndexKey(idx, a.Image) != schema.IndexKey(idx, a.Local.Data) {
				m.storage.Table(a.TableID).Reindex(a.Record, a.Local.Data)
				break
			}
		}
	}
}

// CleanUp flushes the thread's log. Call it once the thread stops running
// transactions.
func (m *Manager[C, P]) CleanUp() error {
	return errors.Trace(m.logger.CleanUp(m.txn.ThreadID))
}

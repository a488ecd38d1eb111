package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/engine"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/txn"
	"github.com/vishalag001/Cavalia/util/codec"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	colAccount = iota
	colBranch
	colBalance
)

const transferTxn = 1

// maxRetries bounds how often one transaction is retried after conflicts.
const maxRetries = 1000

type benchOptions struct {
	Accounts      int
	Branches      int
	Initial       uint64
	Duration      time.Duration
	TxnsPerThread int
	AuditPercent  int
	Seed          int64
	// Rate caps transactions per second over all threads, 0 for no cap.
	Rate float64
}

func (o *benchOptions) validate() error {
	if o.Accounts < 2 {
		return errors.New("at least 2 accounts are needed")
	}
	if o.Branches < 1 || o.Branches > o.Accounts {
		return errors.Errorf("branches must be in [1, %d]", o.Accounts)
	}
	if o.Duration <= 0 && o.TxnsPerThread <= 0 {
		return errors.New("either a duration or a transaction count is needed")
	}
	if o.AuditPercent < 0 || o.AuditPercent > 100 {
		return errors.New("audit percent must be in [0, 100]")
	}
	if o.Rate < 0 {
		return errors.New("rate must not be negative")
	}
	return nil
}

type benchResult struct {
	Protocol  string
	Commits   uint64
	Audits    uint64
	Aborts    uint64
	Elapsed   time.Duration
	Total     uint64
	Latencies []float64 // microseconds, one per committed transaction
}

// transferParam is the command logged for a transfer.
type transferParam struct {
	From, To string
	Amount   uint64
}

func (p *transferParam) Type() int { return transferTxn }

func (p *transferParam) Marshal() ([]byte, error) {
	b := codec.AppendCompactBytes(nil, []byte(p.From))
	b = codec.AppendCompactBytes(b, []byte(p.To))
	return codec.AppendUint64(b, p.Amount), nil
}

func unmarshalTransfer(b []byte) (*transferParam, error) {
	b, from, err := codec.DecodeCompactBytes(b)
	if err != nil {
		return nil, err
	}
	b, to, err := codec.DecodeCompactBytes(b)
	if err != nil {
		return nil, err
	}
	_, amount, err := codec.DecodeUint64(b)
	if err != nil {
		return nil, err
	}
	return &transferParam{From: string(from), To: string(to), Amount: amount}, nil
}

func accountSchema() *storage.Schema {
	return storage.NewSchema("account", []storage.Column{
		{Name: "id", Size: 8},
		{Name: "branch", Size: 8},
		{Name: "balance", Size: 8},
	}, []int{colBranch})
}

func accountKey(i int) string {
	return string(codec.AppendUint64(nil, uint64(i)))
}

func branchKey(b int) string {
	return string(codec.AppendUint64(nil, uint64(b)))
}

// bank runs transfers between accounts and audits of whole branches. The sum
// of all balances never changes.
type bank[C any, P txn.Protocol[C]] struct {
	opts    benchOptions
	e       *engine.Engine[C, P]
	schema  *storage.Schema
	ctx     *txn.TxnContext
	roCtx   *txn.TxnContext
	limit   *ratelimit.Bucket
	commits atomic.Uint64
	audits  atomic.Uint64
	aborts  atomic.Uint64
}

func bench[C any, P txn.Protocol[C]](ctx context.Context, cfg *config.Config, proto P, opts benchOptions) (*benchResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if perBranch := (opts.Accounts + opts.Branches - 1) / opts.Branches; perBranch > cfg.MaxAccessNum {
		return nil, errors.Errorf("%d accounts per branch exceed max-access-num %d", perBranch, cfg.MaxAccessNum)
	}
	e, err := engine.New[C](cfg, proto)
	if err != nil {
		return nil, err
	}
	b := &bank[C, P]{
		opts:   opts,
		e:      e,
		schema: accountSchema(),
		ctx:    &txn.TxnContext{TxnType: transferTxn},
		roCtx:  &txn.TxnContext{ReadOnly: true},
	}
	if opts.Rate > 0 {
		capacity := int64(opts.Rate / 10)
		if capacity < 1 {
			capacity = 1
		}
		b.limit = ratelimit.NewBucketWithRate(opts.Rate, capacity)
	}
	e.CreateTable(b.schema)
	res, err := b.run(ctx, cfg.ThreadCount)
	if cerr := e.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	res.Protocol = cfg.Protocol
	return res, nil
}

func (b *bank[C, P]) run(ctx context.Context, threadCount int) (*benchResult, error) {
	m := b.e.NewManager(0)
	if err := b.load(m); err != nil {
		return nil, errors.Annotate(err, "load accounts")
	}
	log.Info("accounts loaded", zap.Int("accounts", b.opts.Accounts), zap.Int("branches", b.opts.Branches))

	if b.opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.Duration)
		defer cancel()
	}
	var (
		wg        sync.WaitGroup
		errOnce   sync.Once
		firstErr  error
		latencies = make([][]float64, threadCount)
	)
	start := time.Now()
	for tid := 0; tid < threadCount; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			lat, err := b.worker(ctx, tid)
			latencies[tid] = lat
			if err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(tid)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if firstErr != nil {
		return nil, firstErr
	}

	total, err := b.total(m)
	if err != nil {
		return nil, errors.Annotate(err, "sum balances")
	}
	if want := uint64(b.opts.Accounts) * b.opts.Initial; total != want {
		return nil, errors.Errorf("balances sum to %d, want %d", total, want)
	}
	res := &benchResult{
		Commits: b.commits.Load(),
		Audits:  b.audits.Load(),
		Aborts:  b.aborts.Load(),
		Elapsed: elapsed,
		Total:   total,
	}
	for _, lat := range latencies {
		res.Latencies = append(res.Latencies, lat...)
	}
	return res, nil
}

// batchSize is how many accounts one loading or summing transaction touches.
func (b *bank[C, P]) batchSize() int {
	n := b.e.Config().MaxAccessNum
	if n > 64 {
		n = 64
	}
	return n
}

func (b *bank[C, P]) load(m *txn.Manager[C, P]) error {
	for i := 0; i < b.opts.Accounts; {
		end := i + b.batchSize()
		if end > b.opts.Accounts {
			end = b.opts.Accounts
		}
		for ; i < end; i++ {
			row := b.schema.NewRecord(accountKey(i))
			row.SetUint64(colAccount, uint64(i))
			row.SetUint64(colBranch, uint64(i%b.opts.Branches))
			row.SetUint64(colBalance, b.opts.Initial)
			if err := m.InsertRecord(b.ctx, b.schema.ID, row); err != nil {
				m.AbortTransaction()
				return err
			}
		}
		if _, err := m.CommitTransaction(b.ctx, nil); err != nil {
			return err
		}
	}
	return m.CleanUp()
}

// total sums all balances once the workers have stopped.
func (b *bank[C, P]) total(m *txn.Manager[C, P]) (uint64, error) {
	var total uint64
	for i := 0; i < b.opts.Accounts; {
		end := i + b.batchSize()
		if end > b.opts.Accounts {
			end = b.opts.Accounts
		}
		var sum uint64
		err := b.retry(m, func() error {
			sum = 0
			for j := i; j < end; j++ {
				row, err := m.SelectKeyRecord(b.roCtx, b.schema.ID, accountKey(j), txn.Read)
				if err != nil {
					return err
				}
				if row == nil {
					return errors.Errorf("account %d is missing", j)
				}
				sum += row.Uint64(colBalance)
			}
			_, err := m.CommitTransaction(b.roCtx, nil)
			return err
		})
		if err != nil {
			return 0, err
		}
		total += sum
		i = end
	}
	return total, nil
}

func (b *bank[C, P]) worker(ctx context.Context, tid int) ([]float64, error) {
	m := b.e.NewManager(tid)
	rnd := rand.New(rand.NewSource(b.opts.Seed + int64(tid)))
	var lat []float64
	for n := 0; b.opts.TxnsPerThread <= 0 || n < b.opts.TxnsPerThread; n++ {
		if ctx.Err() != nil {
			break
		}
		if b.limit != nil {
			b.limit.Wait(1)
		}
		start := time.Now()
		var err error
		if rnd.Intn(100) < b.opts.AuditPercent {
			err = b.audit(m, rnd.Intn(b.opts.Branches))
			b.audits.Inc()
		} else {
			from := rnd.Intn(b.opts.Accounts)
			to := (from + 1 + rnd.Intn(b.opts.Accounts-1)) % b.opts.Accounts
			err = b.transfer(m, &transferParam{
				From:   accountKey(from),
				To:     accountKey(to),
				Amount: uint64(rnd.Intn(100)),
			})
		}
		if err != nil {
			return lat, errors.Annotatef(err, "thread %d", tid)
		}
		b.commits.Inc()
		lat = append(lat, float64(time.Since(start).Microseconds()))
	}
	return lat, m.CleanUp()
}

// retry runs fn until it commits, aborting after every retryable failure.
func (b *bank[C, P]) retry(m *txn.Manager[C, P], fn func() error) error {
	for i := 0; ; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		m.AbortTransaction()
		if !txn.IsRetryable(err) || i >= maxRetries {
			return err
		}
		b.aborts.Inc()
	}
}

func (b *bank[C, P]) transfer(m *txn.Manager[C, P], p *transferParam) error {
	return b.retry(m, func() error {
		src, err := m.SelectKeyRecord(b.ctx, b.schema.ID, p.From, txn.Write)
		if err != nil {
			return err
		}
		dst, err := m.SelectKeyRecord(b.ctx, b.schema.ID, p.To, txn.Write)
		if err != nil {
			return err
		}
		if src == nil || dst == nil {
			return errors.Errorf("transfer between missing accounts %x and %x", p.From, p.To)
		}
		amount := p.Amount
		if bal := src.Uint64(colBalance); bal < amount {
			amount = bal
		}
		src.SetUint64(colBalance, src.Uint64(colBalance)-amount)
		dst.SetUint64(colBalance, dst.Uint64(colBalance)+amount)
		_, err = m.CommitTransaction(b.ctx, p)
		return err
	})
}

// audit reads a whole branch through the secondary index. No account ever
// changes branch, so the row count is fixed.
func (b *bank[C, P]) audit(m *txn.Manager[C, P], branch int) error {
	var rows storage.SchemaRecords
	want := b.opts.Accounts / b.opts.Branches
	if branch < b.opts.Accounts%b.opts.Branches {
		want++
	}
	return b.retry(m, func() error {
		if err := m.SelectRecords(b.roCtx, b.schema.ID, 0, branchKey(branch), txn.Read, &rows); err != nil {
			return err
		}
		if rows.Len() != want {
			return errors.Errorf("branch %d has %d accounts, want %d", branch, rows.Len(), want)
		}
		_, err := m.CommitTransaction(b.roCtx, nil)
		return err
	})
}

func (r *benchResult) String() string {
	return fmt.Sprintf("%s: %d commits (%d audits), %d aborts in %s", r.Protocol, r.Commits, r.Audits, r.Aborts, r.Elapsed)
}

// Package engine assembles storage, logging, the global epoch and a
// concurrency control protocol into per-thread transaction managers.
package engine

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/vishalag001/Cavalia/config"
	"github.com/vishalag001/Cavalia/logger"
	"github.com/vishalag001/Cavalia/storage"
	"github.com/vishalag001/Cavalia/timestamp"
	"github.com/vishalag001/Cavalia/txn"
	"go.uber.org/zap"
)

// Engine owns everything shared by the transaction managers of one process.
// The configuration is fixed when the engine is created.
type Engine[C any, P txn.Protocol[C]] struct {
	cfg     config.Config
	proto   P
	storage *storage.Manager[C]
	logger  logger.Logger
	epoch   *timestamp.Epoch
}

// New validates cfg and opens an engine running proto. The protocol's content
// type C must be given explicitly, e.g. New[cc.LockContent](cfg, cc.NewLock()).
func New[C any, P txn.Protocol[C]](cfg *config.Config, proto P) (*Engine[C, P], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if proto.Name() != cfg.Protocol {
		return nil, errors.Errorf("protocol %s does not match configured protocol %s", proto.Name(), cfg.Protocol)
	}
	lg, err := OpenLogger(cfg)
	if err != nil {
		return nil, err
	}
	e := &Engine[C, P]{
		cfg:     *cfg,
		proto:   proto,
		storage: storage.NewManager[C](cfg.Partitions),
		logger:  lg,
		epoch:   timestamp.NewEpoch(),
	}
	if cfg.EpochInterval.Duration > 0 {
		e.epoch.Start(cfg.EpochInterval.Duration)
	}
	log.Info("engine opened",
		zap.String("protocol", cfg.Protocol),
		zap.Int("threads", cfg.ThreadCount),
		zap.Int("partitions", cfg.Partitions),
		zap.String("logging", cfg.Logging.Mode))
	return e, nil
}

// OpenLogger opens the logger selected by cfg.Logging.
func OpenLogger(cfg *config.Config) (logger.Logger, error) {
	opt := logger.Options{
		Dir:          cfg.Logging.Dir,
		SyncWrites:   cfg.Logging.SyncWrites,
		Compress:     cfg.Logging.Compression,
		MinFreeSpace: cfg.Logging.MinFreeSpaceBytes(),
	}
	switch cfg.Logging.Mode {
	case config.LoggingValue:
		return logger.NewValueLogger(opt)
	case config.LoggingCommand:
		return logger.NewCommandLogger(opt)
	default:
		return logger.Nop{}, nil
	}
}

// NewSource returns the start timestamp generator selected by cfg.Timestamp.
func NewSource(cfg *config.Config) timestamp.Source {
	global := timestamp.NewGlobal()
	if cfg.Timestamp == config.TimestampBatch {
		return timestamp.NewBatch(global, cfg.ThreadCount, cfg.TimestampBatchSize)
	}
	return global
}

// CreateTable registers a table. Tables must be created before managers start
// running transactions.
func (e *Engine[C, P]) CreateTable(schema *storage.Schema) *storage.Table[C] {
	return e.storage.CreateTable(schema)
}

// Storage returns the tables of the engine.
func (e *Engine[C, P]) Storage() *storage.Manager[C] {
	return e.storage
}

// Protocol returns the protocol shared by all managers.
func (e *Engine[C, P]) Protocol() P {
	return e.proto
}

// Config returns a copy of the engine configuration.
func (e *Engine[C, P]) Config() config.Config {
	return e.cfg
}

// Epoch returns the global epoch.
func (e *Engine[C, P]) Epoch() *timestamp.Epoch {
	return e.epoch
}

// NewManager returns the transaction manager of thread threadID, which must
// be in [0, thread-count).
func (e *Engine[C, P]) NewManager(threadID int) *txn.Manager[C, P] {
	if threadID < 0 || threadID >= e.cfg.ThreadCount {
		panic(errors.Errorf("thread %d out of range [0, %d)", threadID, e.cfg.ThreadCount))
	}
	return txn.NewManager(&e.cfg, threadID, e.storage, e.logger, e.epoch, e.proto)
}

// Close stops the epoch advancer and closes the logger. Managers must not be
// used afterwards.
func (e *Engine[C, P]) Close() error {
	e.epoch.Stop()
	err := e.logger.Close()
	log.Info("engine closed", zap.String("protocol", e.cfg.Protocol), zap.Error(err))
	return errors.Trace(err)
}

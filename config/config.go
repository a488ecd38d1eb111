package config

import (
	"io/ioutil"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/ghodss/yaml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Concurrency control protocols.
const (
	ProtocolLock     = "lock"
	ProtocolLockWait = "lock-wait"
	ProtocolOCC      = "occ"
	ProtocolSilo     = "silo"
	ProtocolTO       = "to"
	ProtocolMVTO     = "mvto"
	ProtocolMVOCC    = "mvocc"
	ProtocolSI       = "si"
	ProtocolDBX      = "dbx"
)

// Protocols lists every protocol name accepted by the protocol option.
var Protocols = []string{
	ProtocolLock, ProtocolLockWait, ProtocolOCC, ProtocolSilo, ProtocolTO,
	ProtocolMVTO, ProtocolMVOCC, ProtocolSI, ProtocolDBX,
}

// Timestamp generators used for start timestamps.
const (
	TimestampGlobal = "global"
	TimestampBatch  = "batch"
)

// Logging modes.
const (
	LoggingNone    = "none"
	LoggingValue   = "value"
	LoggingCommand = "command"
)

type Config struct {
	Protocol     string `toml:"protocol" json:"protocol"`
	ThreadCount  int    `toml:"thread-count" json:"thread-count"`     // Number of worker threads, each owning one transaction manager.
	MaxAccessNum int    `toml:"max-access-num" json:"max-access-num"` // Capacity of a transaction's access list.
	Partitions   int    `toml:"partitions" json:"partitions"`         // Partitions per table.
	MaxVersions  int    `toml:"max-versions" json:"max-versions"`     // Committed versions kept per record by multi-version protocols.

	Timestamp          string `toml:"timestamp" json:"timestamp"`                       // Start timestamp generator for TO and MVTO.
	TimestampBatchSize int    `toml:"timestamp-batch-size" json:"timestamp-batch-size"` // Timestamps fetched at once by the batch generator.

	EpochInterval   Duration `toml:"epoch-interval" json:"epoch-interval"`       // How often the global epoch advances, 0 to never advance it.
	LockWaitTimeout Duration `toml:"lock-wait-timeout" json:"lock-wait-timeout"` // Longest a lock-wait transaction blocks on one record.
	RTMRetries      int      `toml:"rtm-retries" json:"rtm-retries"`             // Speculative attempts before a dbx section takes the fallback lock.

	Log     log.Config `toml:"log" json:"log"`
	Logging Logging    `toml:"logging" json:"logging"`

	logger   *zap.Logger
	logProps *log.ZapProperties
}

type Logging struct {
	Mode         string `toml:"mode" json:"mode"`
	Dir          string `toml:"dir" json:"dir"`                       // Directory of the badger log store, created if missing.
	SyncWrites   bool   `toml:"sync-writes" json:"sync-writes"`       // Sync every group commit to disk.
	Compression  bool   `toml:"compression" json:"compression"`       // Compress value records with lz4.
	MinFreeSpace string `toml:"min-free-space" json:"min-free-space"` // Free space the log disk needs at startup, such as "1GiB". Empty to skip the check.
}

// MinFreeSpaceBytes returns MinFreeSpace in bytes. It must be called on a
// validated config.
func (l *Logging) MinFreeSpaceBytes() int64 {
	if l.MinFreeSpace == "" {
		return 0
	}
	n, _ := units.RAMInBytes(l.MinFreeSpace)
	return n
}

var DefaultConf = Config{
	Protocol:           ProtocolSilo,
	ThreadCount:        runtime.NumCPU(),
	MaxAccessNum:       1024,
	Partitions:         16,
	MaxVersions:        8,
	Timestamp:          TimestampBatch,
	TimestampBatchSize: 64,
	EpochInterval:      NewDuration(40 * time.Millisecond),
	LockWaitTimeout:    NewDuration(10 * time.Millisecond),
	RTMRetries:         8,
	Log: log.Config{
		Level: "info",
	},
	Logging: Logging{
		Mode:       LoggingNone,
		Dir:        "/tmp/cavalia",
		SyncWrites: true,
	},
}

// NewDefaultConfig returns a copy of DefaultConf.
func NewDefaultConfig() *Config {
	c := DefaultConf
	return &c
}

// NewTestConfig returns a small configuration for tests.
func NewTestConfig() *Config {
	c := DefaultConf
	c.ThreadCount = 4
	c.MaxAccessNum = 64
	c.Partitions = 4
	c.MaxVersions = 4
	c.TimestampBatchSize = 8
	c.EpochInterval = NewDuration(5 * time.Millisecond)
	c.LockWaitTimeout = NewDuration(5 * time.Millisecond)
	c.Log.Level = "warn"
	return &c
}

func (c *Config) Validate() error {
	if !isProtocol(c.Protocol) {
		return errors.Errorf("unknown protocol %q, expect one of %s", c.Protocol, strings.Join(Protocols, ", "))
	}
	if c.ThreadCount <= 0 {
		return errors.Errorf("thread-count must be positive, got %d", c.ThreadCount)
	}
	if c.MaxAccessNum <= 0 {
		return errors.Errorf("max-access-num must be positive, got %d", c.MaxAccessNum)
	}
	if c.Partitions <= 0 || c.Partitions >= 1<<16 {
		return errors.Errorf("partitions must be in [1, 65535], got %d", c.Partitions)
	}
	if c.MaxVersions <= 0 {
		return errors.Errorf("max-versions must be positive, got %d", c.MaxVersions)
	}
	switch c.Timestamp {
	case TimestampGlobal:
	case TimestampBatch:
		if c.TimestampBatchSize <= 0 {
			return errors.Errorf("timestamp-batch-size must be positive, got %d", c.TimestampBatchSize)
		}
	default:
		return errors.Errorf("unknown timestamp generator %q", c.Timestamp)
	}
	if c.EpochInterval.Duration < 0 {
		return errors.New("epoch-interval must not be negative")
	}
	if c.Protocol == ProtocolLockWait && c.LockWaitTimeout.Duration <= 0 {
		return errors.New("lock-wait-timeout must be positive")
	}
	if c.RTMRetries < 0 {
		return errors.New("rtm-retries must not be negative")
	}
	switch c.Logging.Mode {
	case LoggingNone:
	case LoggingValue, LoggingCommand:
		if c.Logging.Dir == "" {
			return errors.New("logging.dir is required when logging is enabled")
		}
	default:
		return errors.Errorf("unknown logging mode %q", c.Logging.Mode)
	}
	if c.Logging.MinFreeSpace != "" {
		if n, err := units.RAMInBytes(c.Logging.MinFreeSpace); err != nil || n < 0 {
			return errors.Errorf("invalid logging.min-free-space %q", c.Logging.MinFreeSpace)
		}
	}
	return nil
}

func isProtocol(name string) bool {
	for _, p := range Protocols {
		if p == name {
			return true
		}
	}
	return false
}

// Load reads a toml file over DefaultConf. Keys the configuration does not
// know are an error. Files ending in .yaml or .yml are read as yaml instead.
func Load(path string) (*Config, error) {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return DecodeYAML(data)
	}
	c := NewDefaultConfig()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkUndecoded(&meta); err != nil {
		return nil, err
	}
	return c, errors.Trace(c.Validate())
}

// Decode is Load for toml text.
func Decode(data string) (*Config, error) {
	c := NewDefaultConfig()
	meta, err := toml.Decode(data, c)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := checkUndecoded(&meta); err != nil {
		return nil, err
	}
	return c, errors.Trace(c.Validate())
}

// DecodeYAML is Decode for yaml. Keys are the same as in toml.
func DecodeYAML(data []byte) (*Config, error) {
	c := NewDefaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Trace(err)
	}
	return c, errors.Trace(c.Validate())
}

func checkUndecoded(meta *toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	errInfo := "Config contains undefined item: "
	for _, key := range undecoded {
		errInfo += key.String() + ", "
	}
	return errors.New(errInfo[:len(errInfo)-2])
}

// SetupLogger setup the logger and installs it as the global one.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	log.ReplaceGlobals(lg, p)
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

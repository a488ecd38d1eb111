package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValid(t *testing.T) {
	require.NoError(t, NewDefaultConfig().Validate())
	require.NoError(t, NewTestConfig().Validate())
}

func TestDecode(t *testing.T) {
	c, err := Decode(`
protocol = "mvto"
thread-count = 2
epoch-interval = "15ms"
timestamp = "global"

[log]
level = "debug"

[logging]
mode = "command"
dir = "/tmp/x"
`)
	require.NoError(t, err)
	assert.Equal(t, ProtocolMVTO, c.Protocol)
	assert.Equal(t, 2, c.ThreadCount)
	assert.Equal(t, 15*time.Millisecond, c.EpochInterval.Duration)
	assert.Equal(t, TimestampGlobal, c.Timestamp)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, LoggingCommand, c.Logging.Mode)
	assert.Equal(t, DefaultConf.MaxAccessNum, c.MaxAccessNum)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(`
protocol = "occ"
region-size = 10
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region-size")
}

func TestValidate(t *testing.T) {
	cases := []func(c *Config){
		func(c *Config) { c.Protocol = "2pc" },
		func(c *Config) { c.ThreadCount = 0 },
		func(c *Config) { c.MaxAccessNum = -1 },
		func(c *Config) { c.Partitions = 0 },
		func(c *Config) { c.MaxVersions = 0 },
		func(c *Config) { c.Timestamp = "hlc" },
		func(c *Config) { c.Timestamp = TimestampBatch; c.TimestampBatchSize = 0 },
		func(c *Config) { c.Protocol = ProtocolLockWait; c.LockWaitTimeout = NewDuration(0) },
		func(c *Config) { c.Logging.Mode = "redo" },
		func(c *Config) { c.Logging.Mode = LoggingValue; c.Logging.Dir = "" },
	}
	for i, mutate := range cases {
		c := NewTestConfig()
		mutate(c)
		assert.Error(t, c.Validate(), "case %d", i)
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "cavalia-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "cavalia.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`protocol = "si"`), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProtocolSI, c.Protocol)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	c := NewTestConfig()
	require.NoError(t, c.SetupLogger())
	assert.NotNil(t, c.GetZapLogger())
}

func TestDecodeYAML(t *testing.T) {
	c, err := DecodeYAML([]byte(`
protocol: si
max-versions: 3
lock-wait-timeout: 2ms
logging:
  mode: value
  dir: /tmp/y
  compression: true
  min-free-space: 512MiB
`))
	require.NoError(t, err)
	assert.Equal(t, ProtocolSI, c.Protocol)
	assert.Equal(t, 3, c.MaxVersions)
	assert.Equal(t, 2*time.Millisecond, c.LockWaitTimeout.Duration)
	assert.True(t, c.Logging.Compression)
	assert.Equal(t, int64(512<<20), c.Logging.MinFreeSpaceBytes())
	assert.Equal(t, DefaultConf.Partitions, c.Partitions)

	_, err = DecodeYAML([]byte("protocol: [1"))
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	dir, err := ioutil.TempDir("", "cavalia-config")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "cavalia.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("protocol: dbx\nrtm-retries: 2\n"), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProtocolDBX, c.Protocol)
	assert.Equal(t, 2, c.RTMRetries)
}

func TestMinFreeSpace(t *testing.T) {
	c := NewTestConfig()
	assert.Equal(t, int64(0), c.Logging.MinFreeSpaceBytes())
	c.Logging.MinFreeSpace = "1GiB"
	require.NoError(t, c.Validate())
	assert.Equal(t, int64(1<<30), c.Logging.MinFreeSpaceBytes())
	c.Logging.MinFreeSpace = "lots"
	assert.Error(t, c.Validate())
}

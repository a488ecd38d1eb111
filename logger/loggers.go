package logger

import (
	"github.com/vishalag001/Cavalia/util/codec"
)

// ValueLogger persists the values every transaction wrote.
type ValueLogger struct {
	*store
	compress bool
}

func NewValueLogger(opt Options) (*ValueLogger, error) {
	s, err := openStore(opt)
	if err != nil {
		return nil, err
	}
	return &ValueLogger{store: s, compress: opt.Compress}, nil
}

func (l *ValueLogger) CommitTransaction(threadID int, epoch, commitTS uint64, e *Entry) error {
	if len(e.Values) == 0 {
		return nil
	}
	body := encodeValues(epoch, e.Values)
	if l.compress {
		body = compress(body)
	}
	return l.append(threadID, commitTS, body)
}

// CommandLogger persists the command that produced every transaction, so
// recovery replays the transaction logic instead of installing values.
type CommandLogger struct {
	*store
}

func NewCommandLogger(opt Options) (*CommandLogger, error) {
	s, err := openStore(opt)
	if err != nil {
		return nil, err
	}
	return &CommandLogger{store: s}, nil
}

func (l *CommandLogger) CommitTransaction(threadID int, epoch, commitTS uint64, e *Entry) error {
	if len(e.Values) == 0 {
		// Read-only transactions need no replay.
		return nil
	}
	return l.append(threadID, commitTS, encodeCommand(epoch, e.CommandType, e.Command))
}

func appendCount(b []byte, n uint64) []byte {
	return codec.AppendUint64(b, n)
}

package logger

import (
	"github.com/golang/snappy"
	"github.com/pingcap/errors"
	"github.com/vishalag001/Cavalia/util/codec"
)

// RecordKind tells how a record body is encoded.
type RecordKind byte

const (
	KindValue   RecordKind = 'v'
	KindCommand RecordKind = 'c'
)

const valueDeleted = 1

var (
	recordPrefix = []byte("r")
	threadPrefix = []byte("t")
)

// Record is a persisted transaction.
type Record struct {
	Kind     RecordKind
	ThreadID int
	Epoch    uint64
	CommitTS uint64

	Values      []Value
	CommandType int
	Command     []byte
}

// recordKey orders records by commit timestamp, then by thread.
func recordKey(commitTS uint64, threadID int) []byte {
	return codec.AppendUint64(codec.EncodeKey(recordPrefix, commitTS), uint64(threadID))
}

func parseRecordKey(key []byte) (commitTS uint64, threadID int, err error) {
	left, _, err := codec.DecodeBytes(key)
	if err != nil {
		return 0, 0, err
	}
	left, commitTS, err = codec.DecodeUint64(left)
	if err != nil {
		return 0, 0, err
	}
	_, tid, err := codec.DecodeUint64(left)
	return commitTS, int(tid), err
}

func threadKey(threadID int) []byte {
	return codec.EncodeKey(threadPrefix, uint64(threadID))
}

func encodeValues(epoch uint64, values []Value) []byte {
	size := 1 + 8 + 2
	for i := range values {
		size += len(values[i].Key) + len(values[i].Data) + 8
	}
	b := make([]byte, 0, size)
	b = append(b, byte(KindValue))
	b = codec.AppendUint64(b, epoch)
	b = codec.AppendUvarint(b, uint64(len(values)))
	for i := range values {
		v := &values[i]
		b = codec.AppendUvarint(b, uint64(v.TableID))
		var flags byte
		if v.Deleted {
			flags |= valueDeleted
		}
		b = append(b, flags)
		b = codec.AppendCompactBytes(b, []byte(v.Key))
		b = codec.AppendCompactBytes(b, v.Data)
	}
	return b
}

func encodeCommand(epoch uint64, typ int, command []byte) []byte {
	compressed := snappy.Encode(nil, command)
	b := make([]byte, 0, 1+8+4+len(compressed)+4)
	b = append(b, byte(KindCommand))
	b = codec.AppendUint64(b, epoch)
	b = codec.AppendUvarint(b, uint64(typ))
	return codec.AppendCompactBytes(b, compressed)
}

func decodeRecord(r *Record, body []byte) error {
	if len(body) == 0 {
		return codec.ErrShortBuffer
	}
	if body[0] == kindCompressed {
		raw, err := decompress(body)
		if err != nil {
			return err
		}
		if len(raw) == 0 {
			return errDecompress
		}
		body = raw
	}
	r.Kind = RecordKind(body[0])
	b, epoch, err := codec.DecodeUint64(body[1:])
	if err != nil {
		return err
	}
	r.Epoch = epoch
	switch r.Kind {
	case KindValue:
		return decodeValues(r, b)
	case KindCommand:
		b, typ, err := codec.DecodeUvarint(b)
		if err != nil {
			return err
		}
		_, compressed, err := codec.DecodeCompactBytes(b)
		if err != nil {
			return err
		}
		r.CommandType = int(typ)
		r.Command, err = snappy.Decode(nil, compressed)
		return errors.Trace(err)
	default:
		return errors.Errorf("unknown log record kind %q", r.Kind)
	}
}

func decodeValues(r *Record, b []byte) error {
	b, n, err := codec.DecodeUvarint(b)
	if err != nil {
		return err
	}
	r.Values = make([]Value, n)
	for i := range r.Values {
		v := &r.Values[i]
		var tableID uint64
		if b, tableID, err = codec.DecodeUvarint(b); err != nil {
			return err
		}
		v.TableID = int(tableID)
		if len(b) == 0 {
			return codec.ErrShortBuffer
		}
		v.Deleted = b[0]&valueDeleted != 0
		var key []byte
		if b, key, err = codec.DecodeCompactBytes(b[1:]); err != nil {
			return err
		}
		v.Key = string(key)
		if b, v.Data, err = codec.DecodeCompactBytes(b); err != nil {
			return err
		}
	}
	return nil
}

// Package codec encodes the keys and bodies of log records.
package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)
)

var pads = make([]byte, encGroupSize)

// ErrShortBuffer is returned when a buffer ends in the middle of a value.
var ErrShortBuffer = errors.New("insufficient bytes to decode value")

// EncodeKey encodes a prefix and appends a timestamp so that keys sort first
// by prefix, then by timestamp (ascending).
// The encoding is based on
// https://github.com/facebook/mysql-5.6/wiki/MyRocks-record-format#memcomparable-format.
func EncodeKey(prefix []byte, ts uint64) []byte {
	return AppendUint64(EncodeBytes(prefix), ts)
}

// DecodeKey splits a key made by EncodeKey.
func DecodeKey(key []byte) (prefix []byte, ts uint64, err error) {
	left, prefix, err := DecodeBytes(key)
	if err != nil {
		return nil, 0, err
	}
	_, ts, err = DecodeUint64(left)
	return prefix, ts, err
}

// EncodeBytes guarantees the encoded value is in ascending order for comparison,
// encoding with the following rule:
//
//	[group1][marker1]...[groupN][markerN]
//	group is 8 bytes slice which is padding with 0.
//	marker is `0xFF - padding 0 count`
//
// For example:
//
//	[] -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//	[1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
func EncodeBytes(data []byte) []byte {
	dLen := len(data)
	result := make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1)+8) // make extra room for appending ts
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}
		result = append(result, encMarker-byte(padCount))
	}
	return result
}

// DecodeBytes decodes bytes which is encoded by EncodeBytes before,
// returns the leftover bytes and decoded value if no error.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, ErrShortBuffer
		}
		groupBytes := b[:encGroupSize+1]
		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]

		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}

		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]

		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return b, data, nil
}

// AppendUint64 appends v in big-endian order.
func AppendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// DecodeUint64 reads a value written by AppendUint64.
func DecodeUint64(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, ErrShortBuffer
	}
	return b[8:], binary.BigEndian.Uint64(b), nil
}

// AppendUvarint appends v as an unsigned varint.
func AppendUvarint(b []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(b, buf[:n]...)
}

// DecodeUvarint reads a value written by AppendUvarint.
func DecodeUvarint(b []byte) ([]byte, uint64, error) {
	v, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, 0, ErrShortBuffer
	}
	return b[n:], v, nil
}

// AppendCompactBytes appends data prefixed by its length.
func AppendCompactBytes(b []byte, data []byte) []byte {
	b = AppendUvarint(b, uint64(len(data)))
	return append(b, data...)
}

// DecodeCompactBytes reads a value written by AppendCompactBytes. The result
// is a copy.
func DecodeCompactBytes(b []byte) ([]byte, []byte, error) {
	b, n, err := DecodeUvarint(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(b)) < n {
		return nil, nil, ErrShortBuffer
	}
	data := make([]byte, n)
	copy(data, b)
	return b[n:], data, nil
}

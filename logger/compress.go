package logger

import (
	"encoding/binary"

	"github.com/dgryski/go-farm"
	"github.com/pierrec/lz4"
	"github.com/pingcap/errors"
	"github.com/vishalag001/Cavalia/util/codec"
)

// kindCompressed wraps an lz4 compressed record body. The layout is
// kind | uvarint raw length | lz4 block | farm fingerprint32 of the bytes
// before it.
const kindCompressed = 'z'

const checksumSize = 4

var errDecompress = errors.New("logger: corrupted compressed record")

// compress returns body compressed with lz4 behind a kindCompressed header.
// Bodies that do not shrink by an eighth are returned unchanged.
func compress(body []byte) []byte {
	bound := lz4.CompressBlockBound(len(body))
	dst := make([]byte, 0, 1+binary.MaxVarintLen64+bound+checksumSize)
	dst = append(dst, kindCompressed)
	dst = codec.AppendUvarint(dst, uint64(len(body)))
	hdr := len(dst)
	dst = dst[:hdr+bound]
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(body, dst[hdr:], ht[:])
	if err != nil || n == 0 || hdr+n+checksumSize >= len(body)-len(body)/8 {
		return body
	}
	dst = dst[:hdr+n]
	var sum [checksumSize]byte
	binary.BigEndian.PutUint32(sum[:], farm.Fingerprint32(dst))
	return append(dst, sum[:]...)
}

func decompress(body []byte) ([]byte, error) {
	if len(body) < 1+checksumSize {
		return nil, errDecompress
	}
	payload := body[:len(body)-checksumSize]
	if farm.Fingerprint32(payload) != binary.BigEndian.Uint32(body[len(payload):]) {
		return nil, errDecompress
	}
	b, size, err := codec.DecodeUvarint(payload[1:])
	if err != nil {
		return nil, err
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(b, dst)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if uint64(n) != size {
		return nil, errDecompress
	}
	return dst, nil
}

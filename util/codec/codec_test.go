package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBytes(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247}, EncodeBytes(nil))
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}, EncodeBytes([]byte{1, 2, 3}))
	long := []byte("0123456789abcdef")
	left, data, err := DecodeBytes(EncodeBytes(long))
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Equal(t, long, data)
}

func TestKeyOrder(t *testing.T) {
	a := EncodeKey([]byte("r"), 5)
	b := EncodeKey([]byte("r"), 1<<40)
	c := EncodeKey([]byte("s"), 1)
	assert.True(t, bytes.Compare(a, b) < 0)
	assert.True(t, bytes.Compare(b, c) < 0)

	prefix, ts, err := DecodeKey(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("r"), prefix)
	assert.Equal(t, uint64(1<<40), ts)
}

func TestCompactBytes(t *testing.T) {
	b := AppendCompactBytes(nil, []byte("hello"))
	b = AppendUvarint(b, 300)
	b = AppendCompactBytes(b, nil)

	b, data, err := DecodeCompactBytes(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	b, v, err := DecodeUvarint(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), v)
	b, data, err = DecodeCompactBytes(b)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Empty(t, b)

	_, _, err = DecodeCompactBytes([]byte{5, 'a'})
	assert.Equal(t, ErrShortBuffer, err)
	_, _, err = DecodeUint64([]byte{1})
	assert.Equal(t, ErrShortBuffer, err)
}

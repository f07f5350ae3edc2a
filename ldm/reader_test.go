package ldm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVarIntRoundTrip exercises the round-trip law from spec.md §8:
// for every length 0..8 and every value representable in that many
// bytes, encoding then decoding returns the original value.
func TestVarIntRoundTrip(t *testing.T) {
	cases := []struct {
		length int
		value  uint64
	}{
		{0, 0},
		{1, 0},
		{1, 0xff},
		{2, 0xabcd},
		{3, 0x010203},
		{4, 0xdeadbeef},
		{8, 0x0102030405060708},
		{8, 0xffffffffffffffff},
	}

	for _, tc := range cases {
		buf := putVarInt(tc.value, tc.length)
		c := newCursor(buf)
		got, err := c.varInt(8)
		require.NoError(t, err)
		assert.Equal(t, tc.value, got)
		assert.Equal(t, 0, c.remaining())
	}
}

func TestVarInt32RejectsOverWidth(t *testing.T) {
	buf := putVarInt(0x1, 5) // length byte 5 > maxBytes 4
	c := newCursor(buf)
	_, err := c.varInt32()
	require.Error(t, err)
}

func TestVarStr(t *testing.T) {
	buf := append([]byte{5}, []byte("hello")...)
	c := newCursor(buf)
	s, err := c.varStr()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 0, c.remaining())
}

func TestVarStrEmpty(t *testing.T) {
	c := newCursor([]byte{0})
	s, err := c.varStr()
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestVarSkip(t *testing.T) {
	buf := append([]byte{3}, []byte("xyz")...)
	buf = append(buf, 0xAA)
	c := newCursor(buf)
	require.NoError(t, c.varSkip())
	b, err := c.u8()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), b)
}

func TestCursorFixedWidthReads(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	c := newCursor(buf)

	u16, err := c.u16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), u16)

	u32, err := c.u32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x03040506), u32)
}

func TestCursorNeedFailsPastEnd(t *testing.T) {
	c := newCursor([]byte{0x01, 0x02})
	_, err := c.u32()
	require.Error(t, err)
}

func TestCursorSkipPastEndFails(t *testing.T) {
	c := newCursor([]byte{0x01})
	require.Error(t, c.skip(5))
}

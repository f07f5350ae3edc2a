package ldm

import (
	"encoding/binary"

	"github.com/mdbooth/libldm/ldmerr"
)

// cursor is a forward-only reader over an in-memory byte slice,
// generalizing the PARSE_VAR_INT/_parse_var_string/_parse_var_skip
// family in the original C source into methods on one type. Every
// parser using a cursor must track how many bytes it consumed so later
// absolute offsets (computed relative to some earlier position) stay
// correct — cursor itself never hides that arithmetic from callers,
// it only removes the bounds-checking boilerplate.
type cursor struct {
	buf []byte
	pos int
}

func newCursor(buf []byte) *cursor {
	return &cursor{buf: buf}
}

func (c *cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *cursor) need(n int) error {
	if n < 0 || c.remaining() < n {
		return ldmerr.New(ldmerr.Invalid, "unexpected end of record at offset %d, need %d bytes, have %d", c.pos, n, c.remaining())
	}
	return nil
}

// skip discards n bytes unconditionally.
func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// bytes returns the next n raw bytes and advances past them.
func (c *cursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// u8 reads one unsigned byte.
func (c *cursor) u8() (byte, error) {
	b, err := c.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// u16 reads a big-endian 16-bit unsigned integer.
func (c *cursor) u16() (uint16, error) {
	b, err := c.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// u32 reads a big-endian 32-bit unsigned integer.
func (c *cursor) u32() (uint32, error) {
	b, err := c.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// u64 reads a big-endian 64-bit unsigned integer.
func (c *cursor) u64() (uint64, error) {
	b, err := c.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// varInt reads a one-byte length L (0..8) followed by L big-endian
// bytes, failing with Internal if L exceeds maxBytes (4 for a 32-bit
// target, 8 for a 64-bit one) — mirroring the original's
// PARSE_VAR_INT-generated _parse_var_int32/_parse_var_int64.
func (c *cursor) varInt(maxBytes int) (uint64, error) {
	l, err := c.u8()
	if err != nil {
		return 0, err
	}
	if int(l) > maxBytes {
		return 0, ldmerr.New(ldmerr.Internal, "var int length %d exceeds max width %d bytes", l, maxBytes)
	}
	if l == 0 {
		return 0, nil
	}
	b, err := c.bytes(int(l))
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}

// varInt32 reads a VarInt whose value must fit in 32 bits.
func (c *cursor) varInt32() (uint32, error) {
	v, err := c.varInt(4)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// varInt64 reads a VarInt whose value may use the full 64 bits.
func (c *cursor) varInt64() (uint64, error) {
	return c.varInt(8)
}

// varStr reads a one-byte length L followed by L bytes of text,
// producing a string of exactly L bytes with no terminator expected.
func (c *cursor) varStr() (string, error) {
	l, err := c.u8()
	if err != nil {
		return "", err
	}
	if l == 0 {
		return "", nil
	}
	b, err := c.bytes(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// varSkip reads a one-byte length and discards that many following
// bytes.
func (c *cursor) varSkip() error {
	l, err := c.u8()
	if err != nil {
		return err
	}
	return c.skip(int(l))
}

// putVarInt encodes value into a VarInt field of exactly `length` bytes
// of payload (plus the one length-prefix byte), the inverse of varInt;
// used only by tests to exercise the round-trip law in §8.
func putVarInt(value uint64, length int) []byte {
	out := make([]byte, 1+length)
	out[0] = byte(length)
	for i := 0; i < length; i++ {
		shift := uint((length - 1 - i) * 8)
		out[1+i] = byte(value >> shift)
	}
	return out
}

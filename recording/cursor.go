package recording

import (
	"encoding/binary"
	"math"
)

// maxLen bounds a single readExact call, guarding against a corrupt or
// hostile length prefix trying to allocate gigabytes.
const maxLen = 1 << 30

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || n > maxLen {
		return nil, errf("LengthTooLarge", "length %d exceeds maximum %d", n, maxLen)
	}
	end := c.pos + n
	if end < c.pos || end > len(c.buf) {
		return nil, errf("UnexpectedEof", "need %d bytes, have %d", n, c.remaining())
	}
	out := c.buf[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *cursor) readU8() (byte, error) {
	b, err := c.readExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readU16() (uint16, error) {
	b, err := c.readExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *cursor) readU32() (uint32, error) {
	b, err := c.readExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readI64() (int64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (c *cursor) readF64() (float64, error) {
	b, err := c.readExact(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.readU32()
	if err != nil {
		return "", err
	}
	b, err := c.readExact(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func putU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func putU16(dst []byte, v uint16) []byte { return append(dst, byte(v), byte(v>>8)) }

func putString(dst []byte, s string) []byte {
	dst = putU32(dst, uint32(len(s)))
	return append(dst, s...)
}

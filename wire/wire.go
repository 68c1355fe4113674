// Package wire implements the versioned, length-prefixed wire codec for a
// value.Program (§4.2), grounded byte-for-byte on
// original_source/pd-vm/src/wire.rs: magic "VMBC", a u16 version (decoders
// accept 1..=4, encoders emit 4), a u16 flags field that must be zero, a
// constant table, a code section, an imports section gated on version>=4,
// and an optional debug section gated on version>=2 (with a locals table
// further gated on version>=3).
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

const (
	// CurrentVersion is the version every Encode call emits.
	CurrentVersion = 4
	// MinVersion is the oldest version Decode still accepts.
	MinVersion = 1

	tagInt    = 0
	tagBool   = 1
	tagString = 2
	tagFloat  = 3

	// maxLen bounds any length-prefixed field read from the wire, as
	// defense against a corrupt or hostile length claim that would
	// otherwise try to allocate gigabytes before the read even fails.
	maxLen = 64 << 20
)

var magic = [4]byte{'V', 'M', 'B', 'C'}

// Error is a structural wire-format error: malformed bytes, never a
// semantic problem with an otherwise well-formed program (see
// ValidationError for those).
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func wireErr(kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// cursor is a bounds-checked sequential reader over a wire buffer.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readExact(n int) ([]byte, error) {
	if n < 0 || n > maxLen {
		return nil, wireErr("LengthTooLarge", "length %d exceeds maximum %d", n, maxLen)
	}
	end := c.pos + n
	if end < c.pos || end > len(c.buf) {
		return nil, wireErr("UnexpectedEof", "need %d bytes, have %d", n, c.remaining())
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

// --- encode ---

func putU16(dst []byte, v uint16) []byte { return append(dst, byte(v), byte(v>>8)) }
func putU32(dst []byte, v uint32) []byte {
	return append(dst, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func putString(dst []byte, s string) []byte {
	dst = putU32(dst, uint32(len(s)))
	return append(dst, s...)
}

// Encode serializes p at CurrentVersion.
func Encode(p *value.Program) ([]byte, error) {
	out := make([]byte, 0, 64+len(p.Code))
	out = append(out, magic[:]...)
	out = putU16(out, CurrentVersion)
	out = putU16(out, 0) // flags

	out = putU32(out, uint32(len(p.Constants)))
	for _, c := range p.Constants {
		switch c.Kind {
		case value.KindInt:
			out = append(out, tagInt)
			out = append(out, make([]byte, 8)...)
			binary.LittleEndian.PutUint64(out[len(out)-8:], uint64(c.I))
		case value.KindBool:
			out = append(out, tagBool)
			if c.B {
				out = append(out, 1)
			} else {
				out = append(out, 0)
			}
		case value.KindString:
			out = append(out, tagString)
			out = putString(out, c.S)
		case value.KindFloat:
			out = append(out, tagFloat)
			out = append(out, make([]byte, 8)...)
			binary.LittleEndian.PutUint64(out[len(out)-8:], math.Float64bits(c.F))
		default:
			return nil, wireErr("UnsupportedConstantType", "constant kind %s is not wire-representable", c.Kind)
		}
	}

	out = putU32(out, uint32(len(p.Code)))
	out = append(out, p.Code...)

	out = putU32(out, uint32(len(p.Imports)))
	for _, imp := range p.Imports {
		out = putString(out, imp.Name)
		out = append(out, imp.Arity)
	}

	if p.Debug == nil {
		out = append(out, 0)
		return out, nil
	}
	out = append(out, 1)
	d := p.Debug
	out = putString(out, d.Source)
	out = putU32(out, uint32(len(d.Lines)))
	for _, l := range d.Lines {
		out = putU32(out, l.Offset)
		out = putU32(out, l.Line)
	}
	out = putU32(out, uint32(len(d.Functions)))
	for _, f := range d.Functions {
		out = putString(out, f.Name)
		out = append(out, byte(len(f.Args)))
		for _, arg := range f.Args {
			out = putString(out, arg)
		}
	}
	out = putU32(out, uint32(len(d.Locals)))
	for _, l := range d.Locals {
		out = append(out, l.Slot)
		out = putString(out, l.Name)
	}
	return out, nil
}

// Decode parses a wire blob at any version in [MinVersion, CurrentVersion].
// It rejects trailing bytes once every section for the decoded version has
// been consumed.
func Decode(buf []byte) (*value.Program, error) {
	c := &cursor{buf: buf}
	m, err := c.readExact(4)
	if err != nil {
		return nil, err
	}
	if m[0] != magic[0] || m[1] != magic[1] || m[2] != magic[2] || m[3] != magic[3] {
		return nil, wireErr("InvalidMagic", "expected VMBC, got %q", m)
	}
	version, err := c.readU16()
	if err != nil {
		return nil, err
	}
	if version < MinVersion || version > CurrentVersion {
		return nil, wireErr("UnsupportedVersion", "version %d is not in [%d, %d]", version, MinVersion, CurrentVersion)
	}
	flags, err := c.readU16()
	if err != nil {
		return nil, err
	}
	if flags != 0 {
		return nil, wireErr("UnsupportedFlags", "flags must be 0, got %d", flags)
	}

	constCount, err := c.readU32()
	if err != nil {
		return nil, err
	}
	// Every constant takes at least two bytes, so the bytes left bound the
	// capacity worth reserving for a (possibly corrupt) count.
	constCap := int(constCount)
	if constCap > c.remaining() {
		constCap = c.remaining()
	}
	constants := make([]value.Value, 0, constCap)
	for i := uint32(0); i < constCount; i++ {
		tag, err := c.readU8()
		if err != nil {
			return nil, err
		}
		switch tag {
		case tagInt:
			v, err := c.readI64()
			if err != nil {
				return nil, err
			}
			constants = append(constants, value.Int(v))
		case tagBool:
			b, err := c.readU8()
			if err != nil {
				return nil, err
			}
			if b != 0 && b != 1 {
				return nil, wireErr("InvalidBool", "bool tag must be 0 or 1, got %d", b)
			}
			constants = append(constants, value.Bool(b == 1))
		case tagString:
			s, err := c.readString()
			if err != nil {
				return nil, err
			}
			constants = append(constants, value.String(s))
		case tagFloat:
			f, err := c.readF64()
			if err != nil {
				return nil, err
			}
			constants = append(constants, value.Float(f))
		default:
			return nil, wireErr("InvalidConstantTag", "unknown constant tag %d", tag)
		}
	}

	codeLen, err := c.readU32()
	if err != nil {
		return nil, err
	}
	codeBytes, err := c.readExact(int(codeLen))
	if err != nil {
		return nil, err
	}
	code := append([]byte(nil), codeBytes...)

	var imports []value.HostImport
	if version >= 4 {
		importCount, err := c.readU32()
		if err != nil {
			return nil, err
		}
		imports = make([]value.HostImport, 0, importCount)
		for i := uint32(0); i < importCount; i++ {
			name, err := c.readString()
			if err != nil {
				return nil, err
			}
			arity, err := c.readU8()
			if err != nil {
				return nil, err
			}
			imports = append(imports, value.HostImport{Name: name, Arity: arity})
		}
	}

	var debug *value.DebugInfo
	if version >= 2 {
		flag, err := c.readU8()
		if err != nil {
			return nil, err
		}
		switch flag {
		case 0:
		case 1:
			debug, err = readDebugInfo(c, version)
			if err != nil {
				return nil, err
			}
		default:
			return nil, wireErr("InvalidDebugFlag", "debug flag must be 0 or 1, got %d", flag)
		}
	}

	if c.remaining() != 0 {
		return nil, wireErr("TrailingBytes", "%d unconsumed bytes after decode", c.remaining())
	}

	return &value.Program{Constants: constants, Code: code, Imports: imports, Debug: debug}, nil
}

func readDebugInfo(c *cursor, version uint16) (*value.DebugInfo, error) {
	source, err := c.readString()
	if err != nil {
		return nil, err
	}
	lineCount, err := c.readU32()
	if err != nil {
		return nil, err
	}
	lines := make([]value.LineMark, 0, lineCount)
	for i := uint32(0); i < lineCount; i++ {
		offset, err := c.readU32()
		if err != nil {
			return nil, err
		}
		line, err := c.readU32()
		if err != nil {
			return nil, err
		}
		lines = append(lines, value.LineMark{Offset: offset, Line: line})
	}

	funcCount, err := c.readU32()
	if err != nil {
		return nil, err
	}
	functions := make([]value.DebugFunction, 0, funcCount)
	for i := uint32(0); i < funcCount; i++ {
		name, err := c.readString()
		if err != nil {
			return nil, err
		}
		argc, err := c.readU8()
		if err != nil {
			return nil, err
		}
		args := make([]string, 0, argc)
		for j := byte(0); j < argc; j++ {
			arg, err := c.readString()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
		}
		functions = append(functions, value.DebugFunction{Name: name, Args: args})
	}

	var locals []value.DebugLocal
	if version >= 3 {
		localCount, err := c.readU32()
		if err != nil {
			return nil, err
		}
		locals = make([]value.DebugLocal, 0, localCount)
		for i := uint32(0); i < localCount; i++ {
			slot, err := c.readU8()
			if err != nil {
				return nil, err
			}
			name, err := c.readString()
			if err != nil {
				return nil, err
			}
			locals = append(locals, value.DebugLocal{Slot: slot, Name: name})
		}
	}

	return &value.DebugInfo{Source: source, Lines: lines, Functions: functions, Locals: locals}, nil
}

// opcodeOperandLen is a thin re-export so callers of this package don't
// need to import bytecode just to walk instructions; kept here rather than
// duplicated between the validator and the disassembler.
func opcodeOperandLen(op bytecode.Op) (int, bool) {
	if !op.Valid() {
		return 0, false
	}
	return op.OperandLen(), true
}

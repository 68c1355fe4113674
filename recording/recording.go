// Package recording implements §6.3's "PDR1" file format and the offline
// Replay engine of §4.9: a Recording is a self-contained sequence of
// Frames (ip, source line, locals snapshot, stack snapshot) captured at
// every instruction boundary by a debugger session, serializable without
// the original host environment and later steppable by the same command
// set as a live debugger REPL. There is no original_source/ file this
// maps to one-to-one (the Rust reference implementation's recording
// support lived in its host, not pd-vm); the wire encoding here reuses
// the tag scheme wire.Encode/Decode already use for constants, extended
// with recursive Array/Map tags per §6.3, and the frame/header layout
// follows the encoding conventions of this module's own wire package.
package recording

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/wudi/edgevm/value"
)

const magic = "PDR1"

const (
	tagInt   = 0
	tagBool  = 1
	tagStr   = 2
	tagFloat = 3
	tagNull  = 4
	tagArray = 5
	tagMap   = 6
)

// Frame is one instruction boundary's captured state.
type Frame struct {
	IP     uint32
	Line   uint32 // 0 if unknown
	Locals []LocalSlot
	Stack  []value.Value

	// CallDepth is the host-call nesting depth at capture time, used by
	// Replay's "next"/"out" stepping. It is not part of the §6.3 wire
	// format (a recording captured in-process and replayed in the same
	// run carries it; one decoded from a PDR1 blob defaults it to 0, so in
	// a replay-from-disk session "next" degrades to single-stepping and
	// "out" runs to the end of the recording, rather than erroring).
	CallDepth int
}

// LocalSlot is one named/indexed local captured in a Frame; only the
// slots actually touched since the last frame are usually worth keeping,
// but nothing here stops a caller from snapshotting every slot each time.
type LocalSlot struct {
	Slot  uint8
	Value value.Value
}

// Recording is a complete, replayable capture of one debug session.
type Recording struct {
	ID     string
	Frames []Frame
}

// New starts an empty Recording tagged with a fresh random ID.
func New() *Recording {
	return &Recording{ID: uuid.NewString()}
}

// Append adds one captured instruction boundary.
func (r *Recording) Append(f Frame) { r.Frames = append(r.Frames, f) }

// Error is recording's own §7 error taxonomy (Wire-family: header/format
// problems when decoding a PDR1 blob that isn't this recorder's own
// output).
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func errf(kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Encode serializes r as a PDR1 blob (§6.3). The recording ID is not part
// of the wire format itself (it is a store/control-plane concern, §6.4);
// callers that need to round-trip it do so alongside the blob, not inside
// it.
func Encode(r *Recording) []byte {
	out := make([]byte, 0, 64)
	out = append(out, magic...)
	out = putU32(out, uint32(len(r.Frames)))
	for _, f := range r.Frames {
		out = putU32(out, f.IP)
		out = putU32(out, f.Line)
		out = putU16(out, uint16(len(f.Locals)))
		for _, l := range f.Locals {
			out = append(out, l.Slot)
			out = putValue(out, l.Value)
		}
		out = putU16(out, uint16(len(f.Stack)))
		for _, v := range f.Stack {
			out = putValue(out, v)
		}
	}
	return out
}

// Decode parses a PDR1 blob produced by Encode.
func Decode(buf []byte) (*Recording, error) {
	c := &cursor{buf: buf}
	m, err := c.readExact(4)
	if err != nil {
		return nil, errf("Truncated", "missing header: %v", err)
	}
	if string(m) != magic {
		return nil, errf("InvalidMagic", "expected %q, got %q", magic, m)
	}
	frameCount, err := c.readU32()
	if err != nil {
		return nil, errf("Truncated", "missing frame count: %v", err)
	}
	rec := &Recording{Frames: make([]Frame, 0, frameCount)}
	for i := uint32(0); i < frameCount; i++ {
		f, err := decodeFrame(c)
		if err != nil {
			return nil, err
		}
		rec.Frames = append(rec.Frames, f)
	}
	if c.remaining() != 0 {
		return nil, errf("TrailingBytes", "%d unconsumed bytes after decode", c.remaining())
	}
	return rec, nil
}

func decodeFrame(c *cursor) (Frame, error) {
	ip, err := c.readU32()
	if err != nil {
		return Frame{}, errf("Truncated", "missing frame ip: %v", err)
	}
	line, err := c.readU32()
	if err != nil {
		return Frame{}, errf("Truncated", "missing frame line: %v", err)
	}
	localsCount, err := c.readU16()
	if err != nil {
		return Frame{}, errf("Truncated", "missing locals count: %v", err)
	}
	locals := make([]LocalSlot, 0, localsCount)
	for i := uint16(0); i < localsCount; i++ {
		slot, err := c.readU8()
		if err != nil {
			return Frame{}, errf("Truncated", "missing local slot: %v", err)
		}
		v, err := readValue(c)
		if err != nil {
			return Frame{}, err
		}
		locals = append(locals, LocalSlot{Slot: slot, Value: v})
	}
	stackDepth, err := c.readU16()
	if err != nil {
		return Frame{}, errf("Truncated", "missing stack depth: %v", err)
	}
	stack := make([]value.Value, 0, stackDepth)
	for i := uint16(0); i < stackDepth; i++ {
		v, err := readValue(c)
		if err != nil {
			return Frame{}, err
		}
		stack = append(stack, v)
	}
	return Frame{IP: ip, Line: line, Locals: locals, Stack: stack}, nil
}

func putValue(out []byte, v value.Value) []byte {
	switch v.Kind {
	case value.KindNull:
		return append(out, tagNull)
	case value.KindInt:
		out = append(out, tagInt)
		out = append(out, make([]byte, 8)...)
		binary.LittleEndian.PutUint64(out[len(out)-8:], uint64(v.I))
		return out
	case value.KindFloat:
		out = append(out, tagFloat)
		out = append(out, make([]byte, 8)...)
		binary.LittleEndian.PutUint64(out[len(out)-8:], math.Float64bits(v.F))
		return out
	case value.KindBool:
		out = append(out, tagBool)
		if v.B {
			return append(out, 1)
		}
		return append(out, 0)
	case value.KindString:
		out = append(out, tagStr)
		return putString(out, v.S)
	case value.KindArray:
		out = append(out, tagArray)
		out = putU32(out, uint32(len(v.A)))
		for _, e := range v.A {
			out = putValue(out, e)
		}
		return out
	case value.KindMap:
		out = append(out, tagMap)
		out = putU32(out, uint32(len(v.M)))
		for _, e := range v.M {
			out = putValue(out, e.Key)
			out = putValue(out, e.Value)
		}
		return out
	default:
		return append(out, tagNull)
	}
}

func readValue(c *cursor) (value.Value, error) {
	tag, err := c.readU8()
	if err != nil {
		return value.Value{}, errf("Truncated", "missing value tag: %v", err)
	}
	switch tag {
	case tagNull:
		return value.Value{}, nil
	case tagInt:
		n, err := c.readI64()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing int value: %v", err)
		}
		return value.Int(n), nil
	case tagFloat:
		f, err := c.readF64()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing float value: %v", err)
		}
		return value.Float(f), nil
	case tagBool:
		b, err := c.readU8()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing bool value: %v", err)
		}
		if b != 0 && b != 1 {
			return value.Value{}, errf("InvalidBool", "bool tag must be 0 or 1, got %d", b)
		}
		return value.Bool(b == 1), nil
	case tagStr:
		s, err := c.readString()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing string value: %v", err)
		}
		return value.String(s), nil
	case tagArray:
		n, err := c.readU32()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing array length: %v", err)
		}
		elems := make([]value.Value, 0, n)
		for i := uint32(0); i < n; i++ {
			e, err := readValue(c)
			if err != nil {
				return value.Value{}, err
			}
			elems = append(elems, e)
		}
		return value.Array(elems), nil
	case tagMap:
		n, err := c.readU32()
		if err != nil {
			return value.Value{}, errf("Truncated", "missing map length: %v", err)
		}
		entries := make([]value.MapEntry, 0, n)
		for i := uint32(0); i < n; i++ {
			k, err := readValue(c)
			if err != nil {
				return value.Value{}, err
			}
			val, err := readValue(c)
			if err != nil {
				return value.Value{}, err
			}
			entries = append(entries, value.MapEntry{Key: k, Value: val})
		}
		return value.Map(entries), nil
	default:
		return value.Value{}, errf("InvalidValueTag", "unknown value tag %d", tag)
	}
}

// Package value defines the tagged value universe and the immutable
// Program representation shared by the assembler, wire codec, VM and JIT.
package value

import "math"

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// MapEntry is one (key, value) pair of a Map, kept in insertion order.
type MapEntry struct {
	Key   Value
	Value Value
}

// Value is a tagged union over the dynamic types the surface languages
// produce. Only one of the typed fields is meaningful, selected by Kind.
type Value struct {
	Kind Kind
	I    int64
	F    float64
	B    bool
	S    string
	A    []Value
	M    []MapEntry
}

func Null() Value                 { return Value{Kind: KindNull} }
func Int(v int64) Value           { return Value{Kind: KindInt, I: v} }
func Float(v float64) Value       { return Value{Kind: KindFloat, F: v} }
func Bool(v bool) Value           { return Value{Kind: KindBool, B: v} }
func String(v string) Value       { return Value{Kind: KindString, S: v} }
func Array(v []Value) Value       { return Value{Kind: KindArray, A: v} }
func Map(v []MapEntry) Value      { return Value{Kind: KindMap, M: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal is structural value equality, per §3.1: Maps and Arrays compare by
// element order; Float equality on the stack is IEEE equality (deliberately
// distinct from the bit-pattern equality constant interning uses, see
// asm.Assembler.AddConstant).
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindInt:
		return a.I == b.I
	case KindFloat:
		return a.F == b.F
	case KindBool:
		return a.B == b.B
	case KindString:
		return a.S == b.S
	case KindArray:
		if len(a.A) != len(b.A) {
			return false
		}
		for i := range a.A {
			if !Equal(a.A[i], b.A[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.M) != len(b.M) {
			return false
		}
		for i := range a.M {
			if !Equal(a.M[i].Key, b.M[i].Key) || !Equal(a.M[i].Value, b.M[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Hash produces a canonicalized hash of v suitable for cache keys. Float is
// canonicalized by bit pattern so NaN and signed zero hash consistently,
// matching §3.1's "Hashing for caches must canonicalize Float by bit
// pattern" requirement (this is independent of Ceq's IEEE equality).
func Hash(v Value, h func(tag byte, bits uint64, s string)) {
	switch v.Kind {
	case KindNull:
		h(0, 0, "")
	case KindInt:
		h(1, uint64(v.I), "")
	case KindFloat:
		h(2, math.Float64bits(v.F), "")
	case KindBool:
		b := uint64(0)
		if v.B {
			b = 1
		}
		h(3, b, "")
	case KindString:
		h(4, 0, v.S)
	case KindArray:
		h(5, uint64(len(v.A)), "")
		for _, e := range v.A {
			Hash(e, h)
		}
	case KindMap:
		h(6, uint64(len(v.M)), "")
		for _, e := range v.M {
			Hash(e.Key, h)
			Hash(e.Value, h)
		}
	}
}

// HostImport is one named, arity-tagged import declaration; position in a
// Program's Imports slice is the call index minus BUILTIN_BASE (§4.2).
type HostImport struct {
	Name  string
	Arity uint8
}

// LineMark maps a byte offset in Code to a source line, kept sorted by
// Offset so callers can binary-search.
type LineMark struct {
	Offset uint32
	Line   uint32
}

// DebugFunction records a declared function's name and parameter names for
// debugger "funcs"/"where" reporting.
type DebugFunction struct {
	Name string
	Args []string
}

// DebugLocal names a local slot for the debugger's "print <name>" command.
type DebugLocal struct {
	Slot uint8
	Name string
}

// DebugInfo is optional, advisory program metadata: never part of the
// native-trace cache key (§9's fingerprinting note) since rebuilding the
// same program from the same source can legitimately produce a different
// (but semantically identical) line table.
type DebugInfo struct {
	Source    string
	Lines     []LineMark
	Functions []DebugFunction
	Locals    []DebugLocal
}

// LineForOffset returns the source line mapped to the instruction starting
// at offset, or 0 if unknown. Lines is assumed sorted by Offset ascending;
// the search returns the mark with the greatest Offset <= offset.
func (d *DebugInfo) LineForOffset(offset uint32) uint32 {
	if d == nil {
		return 0
	}
	var line uint32
	for _, m := range d.Lines {
		if m.Offset > offset {
			break
		}
		line = m.Line
	}
	return line
}

// LocalIndex looks up a named local's slot, for "print <name>".
func (d *DebugInfo) LocalIndex(name string) (uint8, bool) {
	if d == nil {
		return 0, false
	}
	for _, l := range d.Locals {
		if l.Name == name {
			return l.Slot, true
		}
	}
	return 0, false
}

// Program is the immutable, wire-serializable compiled unit (§3.2). It is
// shared-immutable: many Vm instances may execute the same *Program
// concurrently.
type Program struct {
	Constants []Value
	Code      []byte
	Imports   []HostImport
	Debug     *DebugInfo
}

// FunctionDecl is one function declaration surfaced to a host for binding
// and introspection (§3.3).
type FunctionDecl struct {
	Name     string
	Arity    uint8
	Index    uint16
	Args     []string
	Exported bool
}

// CompiledProgram bundles a Program with the locals-vector size and the
// function table a host needs to size a Vm and resolve call sites by name
// (§3.3).
type CompiledProgram struct {
	Program   *Program
	Locals    int
	Functions []FunctionDecl
}

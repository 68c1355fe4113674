// Package asm is the bytecode builder: a typed emit surface, symbolic
// labels resolved on Finish, and constant interning by value (§4.3),
// grounded on original_source's Assembler (pd-vm/src/assembler.rs)
// translated into Go's "methods mutate the receiver" idiom instead of the
// source's builder-returns-new-value style.
package asm

import (
	"fmt"
	"math"

	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

// Error is a hard assembler error: an unresolved label at Finish time, or
// an attempt to intern a non-wire-representable constant (Array/Map).
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

type fixup struct {
	at    int // byte offset of the 4-byte operand to patch
	label string
}

// Assembler accumulates code and constants for one compilation unit.
type Assembler struct {
	code []byte

	constants []value.Value
	ints      map[int64]uint32
	floats    map[uint64]uint32 // keyed by math.Float64bits
	bools     map[bool]uint32
	strings   map[string]uint32

	labels map[string]uint32
	fixups []fixup

	imports []value.HostImport
	debug   debugBuilder
}

type debugBuilder struct {
	source    string
	lines     []value.LineMark
	functions []value.DebugFunction
	locals    []value.DebugLocal
}

// New returns an empty Assembler.
func New() *Assembler {
	return &Assembler{
		ints:    make(map[int64]uint32),
		floats:  make(map[uint64]uint32),
		bools:   make(map[bool]uint32),
		strings: make(map[string]uint32),
		labels:  make(map[string]uint32),
	}
}

// Len returns the number of code bytes emitted so far; callers use this to
// compute instruction-start offsets for their own label/line bookkeeping.
func (a *Assembler) Len() uint32 { return uint32(len(a.code)) }

// Label defines name as pointing at the current code offset. Returns an
// error if name was already defined.
func (a *Assembler) Label(name string) error {
	if _, ok := a.labels[name]; ok {
		return &Error{Message: fmt.Sprintf("duplicate label %q", name)}
	}
	a.labels[name] = a.Len()
	return nil
}

// AddConstant interns value v by its dynamic type (Int exact, Float by bit
// pattern, Bool, String) and returns its constant-table index. Array and
// Map are compile errors (§3.2: "Array and Map constants are a compile
// error"); Null has no interning table and is always appended fresh, since
// the surface languages never produce a Null literal.
func (a *Assembler) AddConstant(v value.Value) (uint32, error) {
	switch v.Kind {
	case value.KindInt:
		if idx, ok := a.ints[v.I]; ok {
			return idx, nil
		}
		idx := uint32(len(a.constants))
		a.constants = append(a.constants, v)
		a.ints[v.I] = idx
		return idx, nil
	case value.KindFloat:
		bits := math.Float64bits(v.F)
		if idx, ok := a.floats[bits]; ok {
			return idx, nil
		}
		idx := uint32(len(a.constants))
		a.constants = append(a.constants, v)
		a.floats[bits] = idx
		return idx, nil
	case value.KindBool:
		if idx, ok := a.bools[v.B]; ok {
			return idx, nil
		}
		idx := uint32(len(a.constants))
		a.constants = append(a.constants, v)
		a.bools[v.B] = idx
		return idx, nil
	case value.KindString:
		if idx, ok := a.strings[v.S]; ok {
			return idx, nil
		}
		idx := uint32(len(a.constants))
		a.constants = append(a.constants, v)
		a.strings[v.S] = idx
		return idx, nil
	default:
		return 0, &Error{Message: fmt.Sprintf("constant of kind %s is not wire-representable", v.Kind)}
	}
}

// PushConst interns v and emits Ldc for it.
func (a *Assembler) PushConst(v value.Value) error {
	idx, err := a.AddConstant(v)
	if err != nil {
		return err
	}
	a.Ldc(idx)
	return nil
}

func (a *Assembler) emit(op bytecode.Op) { a.code = append(a.code, byte(op)) }

func (a *Assembler) emitU32(v uint32) {
	a.code = append(a.code, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (a *Assembler) emitU16(v uint16) {
	a.code = append(a.code, byte(v), byte(v>>8))
}

func (a *Assembler) Nop()     { a.emit(bytecode.OP_NOP) }
func (a *Assembler) Ret()     { a.emit(bytecode.OP_RET) }
func (a *Assembler) Add()     { a.emit(bytecode.OP_ADD) }
func (a *Assembler) Sub()     { a.emit(bytecode.OP_SUB) }
func (a *Assembler) Mul()     { a.emit(bytecode.OP_MUL) }
func (a *Assembler) Div()     { a.emit(bytecode.OP_DIV) }
func (a *Assembler) Shl()     { a.emit(bytecode.OP_SHL) }
func (a *Assembler) Shr()     { a.emit(bytecode.OP_SHR) }
func (a *Assembler) Neg()     { a.emit(bytecode.OP_NEG) }
func (a *Assembler) Ceq()     { a.emit(bytecode.OP_CEQ) }
func (a *Assembler) Clt()     { a.emit(bytecode.OP_CLT) }
func (a *Assembler) Cgt()     { a.emit(bytecode.OP_CGT) }
func (a *Assembler) Pop()     { a.emit(bytecode.OP_POP) }
func (a *Assembler) Dup()     { a.emit(bytecode.OP_DUP) }

func (a *Assembler) Ldc(index uint32) {
	a.emit(bytecode.OP_LDC)
	a.emitU32(index)
}

func (a *Assembler) Ldloc(index uint8) {
	a.emit(bytecode.OP_LDLOC)
	a.code = append(a.code, index)
}

func (a *Assembler) Stloc(index uint8) {
	a.emit(bytecode.OP_STLOC)
	a.code = append(a.code, index)
}

func (a *Assembler) Call(index uint16, argc uint8) {
	a.emit(bytecode.OP_CALL)
	a.emitU16(index)
	a.code = append(a.code, argc)
}

// Br emits an unconditional jump to a raw byte target.
func (a *Assembler) Br(target uint32) {
	a.emit(bytecode.OP_BR)
	a.emitU32(target)
}

// Brfalse emits a conditional jump to a raw byte target.
func (a *Assembler) Brfalse(target uint32) {
	a.emit(bytecode.OP_BRFALSE)
	a.emitU32(target)
}

// BrLabel emits Br with a forward- or backward-referencing label, patched
// at Finish.
func (a *Assembler) BrLabel(label string) {
	a.emit(bytecode.OP_BR)
	a.fixups = append(a.fixups, fixup{at: len(a.code), label: label})
	a.emitU32(0)
}

// BrfalseLabel emits Brfalse with a label target, patched at Finish.
func (a *Assembler) BrfalseLabel(label string) {
	a.emit(bytecode.OP_BRFALSE)
	a.fixups = append(a.fixups, fixup{at: len(a.code), label: label})
	a.emitU32(0)
}

// --- debug info hooks ---

func (a *Assembler) SetSource(src string) { a.debug.source = src }

// MarkLine records that the instruction about to be emitted at the
// current offset maps to source line `line` (§4.6 rule 1).
func (a *Assembler) MarkLine(line uint32) {
	a.debug.lines = append(a.debug.lines, value.LineMark{Offset: a.Len(), Line: line})
}

func (a *Assembler) AddFunction(name string, args []string) {
	a.debug.functions = append(a.debug.functions, value.DebugFunction{Name: name, Args: args})
}

func (a *Assembler) AddLocal(slot uint8, name string) {
	a.debug.locals = append(a.debug.locals, value.DebugLocal{Slot: slot, Name: name})
}

// Finish resolves every fixup, patching in each label's little-endian byte
// offset, and returns the assembled Program. An unresolved label is a hard
// error. withDebug selects whether the accumulated debug builder state is
// attached to the result.
func (a *Assembler) Finish(withDebug bool) (*value.Program, error) {
	for _, fx := range a.fixups {
		target, ok := a.labels[fx.label]
		if !ok {
			return nil, &Error{Message: fmt.Sprintf("unknown label %q", fx.label)}
		}
		a.code[fx.at] = byte(target)
		a.code[fx.at+1] = byte(target >> 8)
		a.code[fx.at+2] = byte(target >> 16)
		a.code[fx.at+3] = byte(target >> 24)
	}

	p := &value.Program{
		Constants: a.constants,
		Code:      a.code,
		Imports:   a.imports,
	}
	if withDebug {
		p.Debug = &value.DebugInfo{
			Source:    a.debug.source,
			Lines:     a.debug.lines,
			Functions: a.debug.functions,
			Locals:    a.debug.locals,
		}
	}
	return p, nil
}

// SetImports attaches the import table to be encoded with the program;
// callers call this before Finish once all `use vm::...` bindings are
// known.
func (a *Assembler) SetImports(imports []value.HostImport) {
	a.imports = imports
}

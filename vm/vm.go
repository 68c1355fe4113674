// Package vm is the register-less stack interpreter (§4.4), grounded on
// original_source/pd-vm/src/vm.rs: a flat Value stack, a fixed-size locals
// vector sized by the wire validator's MaxLocalIndex, and a Call opcode
// whose index space splits at bytecode.BuiltinBase between the closed
// builtin table and per-Program host imports.
package vm

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/wudi/edgevm/builtin"
	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

// IOHost is the file-handle backend for the io_* builtins (§4.7). A Vm with
// a nil IOHost still runs programs that never call them; calling one
// without a bound IOHost is a HostError, not a panic.
type IOHost interface {
	Open(path, mode string) (int64, error)
	Popen(cmd, mode string) (int64, error)
	ReadAll(handle int64) (string, error)
	ReadLine(handle int64) (string, error)
	Write(handle int64, data string) (int64, error)
	Flush(handle int64) error
	Close(handle int64) error
	Exists(path string) (bool, error)
}

// TraceHook observes loop-back branches as they execute, letting a trace
// JIT record steps and, once a trace is hot and compiled, take over
// execution entirely. OnLoopBack is called with the root ip of the loop
// (the Br target) every time control flow branches backward to it; if it
// returns handled=true the Vm treats the loop iteration as already run by
// the hook and resumes decoding at whatever ip the hook left the Vm on
// (via SetIP). A nil TraceHook disables JIT involvement entirely (§4.8).
type TraceHook interface {
	OnLoopBack(v *Vm, rootIP uint32) (handled bool, err error)
}

// DebugHook observes a Vm's execution one instruction at a time, for a
// debugger's breakpoint/step-mode bookkeeping (§4.9). OnInstruction runs
// before the instruction at v.IP() is decoded, so a breakpoint hit there
// can block (e.g. in a REPL) before any further state changes. OnStatus
// runs exactly once, when Run is about to return.
type DebugHook interface {
	OnInstruction(v *Vm)
	OnStatus(v *Vm, status RunStatus)
}

// RunStatus is what Run stopped for.
type RunStatus int

const (
	// Halted means the program ran to an OP_RET (or fell off the end of
	// its code, which is treated the same as an implicit Ret).
	Halted RunStatus = iota
	// Yielded means a host function asked to suspend (§4.4's
	// yield/resume protocol); Run can be called again to resume.
	Yielded
)

// Vm executes one Program. A Vm is not safe for concurrent use from more
// than one goroutine; the native-trace cache it feeds into is, but any one
// Vm's stack/locals/ip are not.
type Vm struct {
	program *value.Program
	ip      uint32

	stack  []value.Value
	locals []value.Value

	hostFunctions []HostFunction

	callDepth    int
	maxCallDepth int

	io     IOHost
	stdout io.Writer

	trace TraceHook
	debug DebugHook
}

// Option configures a Vm at construction time.
type Option func(*Vm)

// WithIO binds the io_* builtins to host, letting it decide what "open a
// file" or "spawn a process" means for a given embedding.
func WithIO(host IOHost) Option { return func(v *Vm) { v.io = host } }

// WithStdout redirects `print`; the default is os.Stdout.
func WithStdout(w io.Writer) Option { return func(v *Vm) { v.stdout = w } }

// WithMaxCallDepth bounds host-call reentrancy (a host function that calls
// back into v.Run). The default is 1024.
func WithMaxCallDepth(n int) Option { return func(v *Vm) { v.maxCallDepth = n } }

// WithTraceHook attaches a trace JIT (or any other loop-back observer) to
// the Vm (§4.8). Omitting it leaves Run as a plain bytecode interpreter.
func WithTraceHook(hook TraceHook) Option { return func(v *Vm) { v.trace = hook } }

// WithDebugHook attaches a debugger to the Vm (§4.9). Omitting it leaves Run
// at full speed with no per-instruction overhead.
func WithDebugHook(hook DebugHook) Option { return func(v *Vm) { v.debug = hook } }

// New returns a Vm over program with localsCount pre-zeroed locals slots
// (a host sizes this from wire.ValidateResult.MaxLocalIndex+1, or 0 if the
// program never touches a local).
func New(program *value.Program, localsCount int, opts ...Option) *Vm {
	v := &Vm{
		program:      program,
		locals:       make([]value.Value, localsCount),
		maxCallDepth: 1024,
		stdout:       os.Stdout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// BindHostFunctions installs the already-resolved per-import host function
// slice directly, bypassing a HostFunctionRegistry. Most callers should use
// HostFunctionRegistry.BindVM instead.
func (v *Vm) BindHostFunctions(fns []HostFunction) { v.hostFunctions = fns }

// IP returns the current instruction pointer, for debugger step/breakpoint
// bookkeeping.
func (v *Vm) IP() uint32 { return v.ip }

// SetIP repositions the instruction pointer. A TraceHook uses this to hand
// control back to Run after executing some number of loop iterations
// itself (via a compiled native trace or a TraceStep replay).
func (v *Vm) SetIP(ip uint32) { v.ip = ip }

// CallDepth returns the current host-call nesting depth, for a debugger's
// "next"/"finish" step modes (which compare depth against the depth a step
// command was issued at).
func (v *Vm) CallDepth() int { return v.callDepth }

// DebugInfo returns the compiled program's optional debug metadata, or nil
// if the program carries none.
func (v *Vm) DebugInfo() *value.DebugInfo {
	if v.program == nil {
		return nil
	}
	return v.program.Debug
}

// Program returns the Vm's compiled program, for a TraceHook or debugger to
// inspect constants/code/imports without exposing the rest of the Vm.
func (v *Vm) Program() *value.Program { return v.program }

// Push pushes val onto the operand stack, for a TraceHook replaying
// TraceSteps directly against this Vm instead of re-entering Run.
func (v *Vm) Push(val value.Value) { v.push(val) }

// Pop removes and returns the top of the operand stack, for a TraceHook.
func (v *Vm) Pop() (value.Value, error) { return v.pop() }

// CallBuiltinOrHost invokes callIdx with args exactly as OP_CALL would,
// returning its result values. A TraceHook uses this to replay a Call
// TraceStep without re-entering Run's dispatch loop; yielding host calls
// are reported via the returned bool so the hook can fall back to Run for
// the rest of the trace.
func (v *Vm) CallBuiltinOrHost(callIdx int, args []value.Value) (results []value.Value, yielded bool, err error) {
	if callIdx < bytecode.BuiltinBase {
		results, err = v.callBuiltin(callIdx, args)
		return results, false, err
	}
	hostIdx := callIdx - bytecode.BuiltinBase
	if hostIdx >= len(v.hostFunctions) {
		return nil, false, invalidCall(callIdx)
	}
	if v.callDepth >= v.maxCallDepth {
		return nil, false, hostError("maximum host call depth exceeded")
	}
	v.callDepth++
	outcome, err := v.hostFunctions[hostIdx].Call(v, args)
	v.callDepth--
	if err != nil {
		return nil, false, hostError(err.Error())
	}
	if outcome.Yielded {
		return nil, true, nil
	}
	return outcome.Return, false, nil
}

// Stack returns the live operand stack; callers must not retain it across a
// Run call that might reallocate it, but may read it (e.g. debugger
// "locals"/"stack" introspection) between Run calls.
func (v *Vm) Stack() []value.Value { return v.stack }

// Locals returns the live locals vector, for debugger introspection.
func (v *Vm) Locals() []value.Value { return v.locals }

func (v *Vm) push(val value.Value) { v.stack = append(v.stack, val) }

func (v *Vm) pop() (value.Value, error) {
	n := len(v.stack)
	if n == 0 {
		return value.Value{}, errStackUnderflow
	}
	val := v.stack[n-1]
	v.stack = v.stack[:n-1]
	return val, nil
}

// Run decodes and executes instructions starting at the Vm's current ip
// until an OP_RET, an exhausted code stream, or a yielding host call.
// Calling Run again after a Yielded result resumes exactly where it left
// off (§4.4).
func (v *Vm) Run() (status RunStatus, err error) {
	if v.debug != nil {
		defer func() { v.debug.OnStatus(v, status) }()
	}
	code := v.program.Code
	for int(v.ip) < len(code) {
		if v.debug != nil {
			v.debug.OnInstruction(v)
		}
		instrStart := v.ip
		op := bytecode.Op(code[v.ip])
		if !op.Valid() {
			return Halted, invalidOpcode(code[v.ip])
		}
		operandAt := v.ip + 1
		operandLen := op.OperandLen()
		if int(operandAt)+operandLen > len(code) {
			return Halted, bytecodeBounds(v.ip)
		}

		switch op {
		case bytecode.OP_NOP:
			v.ip = operandAt

		case bytecode.OP_RET:
			v.ip = operandAt
			return Halted, nil

		case bytecode.OP_LDC:
			idx := binary.LittleEndian.Uint32(code[operandAt:])
			if int(idx) >= len(v.program.Constants) {
				return Halted, invalidConstant(idx)
			}
			v.push(v.program.Constants[idx])
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_ADD, bytecode.OP_SUB, bytecode.OP_MUL, bytecode.OP_DIV:
			if err := v.binaryArith(op); err != nil {
				return Halted, err
			}
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_SHL, bytecode.OP_SHR:
			if err := v.shift(op); err != nil {
				return Halted, err
			}
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_NEG:
			if err := v.neg(); err != nil {
				return Halted, err
			}
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_CEQ, bytecode.OP_CLT, bytecode.OP_CGT:
			if err := v.compare(op); err != nil {
				return Halted, err
			}
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_BR:
			target := binary.LittleEndian.Uint32(code[operandAt:])
			if v.trace != nil && target <= instrStart {
				handled, err := v.trace.OnLoopBack(v, target)
				if err != nil {
					return Halted, err
				}
				if handled {
					continue
				}
			}
			v.ip = target

		case bytecode.OP_BRFALSE:
			cond, err := v.pop()
			if err != nil {
				return Halted, err
			}
			if cond.Kind != value.KindBool {
				return Halted, typeMismatch("bool")
			}
			if !cond.B {
				v.ip = binary.LittleEndian.Uint32(code[operandAt:])
			} else {
				v.ip = operandAt + uint32(operandLen)
			}

		case bytecode.OP_POP:
			if _, err := v.pop(); err != nil {
				return Halted, err
			}
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_DUP:
			n := len(v.stack)
			if n == 0 {
				return Halted, errStackUnderflow
			}
			v.push(v.stack[n-1])
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_LDLOC:
			idx := int(code[operandAt])
			if idx >= len(v.locals) {
				return Halted, invalidLocal(idx)
			}
			v.push(v.locals[idx])
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_STLOC:
			idx := int(code[operandAt])
			if idx >= len(v.locals) {
				return Halted, invalidLocal(idx)
			}
			val, err := v.pop()
			if err != nil {
				return Halted, err
			}
			v.locals[idx] = val
			v.ip = operandAt + uint32(operandLen)

		case bytecode.OP_CALL:
			callIdx := int(binary.LittleEndian.Uint16(code[operandAt:]))
			argc := int(code[operandAt+2])
			status, err := v.call(callIdx, argc, instrStart, operandAt+uint32(operandLen))
			if err != nil {
				return Halted, err
			}
			if status == Yielded {
				return Yielded, nil
			}

		default:
			return Halted, invalidOpcode(byte(op))
		}
	}
	return Halted, nil
}

// call pops argc arguments (restoring original left-to-right order),
// dispatches to the builtin table or a bound host function, and pushes the
// result. next is the instruction pointer to resume at on a normal return;
// on Yielded, ip is rewound to instrStart and the arguments are pushed back
// so the exact same Call re-executes on the next Run (§4.4).
func (v *Vm) call(callIdx, argc int, instrStart, next uint32) (RunStatus, error) {
	if len(v.stack) < argc {
		return Halted, errStackUnderflow
	}
	args := append([]value.Value(nil), v.stack[len(v.stack)-argc:]...)
	v.stack = v.stack[:len(v.stack)-argc]

	if callIdx < bytecode.BuiltinBase {
		results, err := v.callBuiltin(callIdx, args)
		if err != nil {
			return Halted, err
		}
		for _, r := range results {
			v.push(r)
		}
		v.ip = next
		return Halted, nil
	}

	hostIdx := callIdx - bytecode.BuiltinBase
	if hostIdx >= len(v.hostFunctions) {
		return Halted, invalidCall(callIdx)
	}
	if v.callDepth >= v.maxCallDepth {
		return Halted, hostError("maximum host call depth exceeded")
	}

	v.callDepth++
	outcome, err := v.hostFunctions[hostIdx].Call(v, args)
	v.callDepth--
	if err != nil {
		return Halted, hostError(err.Error())
	}
	if outcome.Yielded {
		for _, a := range args {
			v.push(a)
		}
		v.ip = instrStart
		return Yielded, nil
	}
	for _, r := range outcome.Return {
		v.push(r)
	}
	v.ip = next
	return Halted, nil
}

func promoteFloat(val value.Value) (float64, bool) {
	switch val.Kind {
	case value.KindInt:
		return float64(val.I), true
	case value.KindFloat:
		return val.F, true
	default:
		return 0, false
	}
}

func (v *Vm) binaryArith(op bytecode.Op) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}

	if op == bytecode.OP_ADD {
		if a.Kind == value.KindString && b.Kind == value.KindString {
			v.push(value.String(a.S + b.S))
			return nil
		}
		if a.Kind == value.KindArray && b.Kind == value.KindArray {
			out := make([]value.Value, 0, len(a.A)+len(b.A))
			out = append(out, a.A...)
			out = append(out, b.A...)
			v.push(value.Array(out))
			return nil
		}
	}

	if a.Kind == value.KindInt && b.Kind == value.KindInt {
		if op == bytecode.OP_DIV && b.I == 0 {
			return divisionByZero()
		}
		v.push(value.Int(wrappingIntOp(op, a.I, b.I)))
		return nil
	}

	af, aok := promoteFloat(a)
	bf, bok := promoteFloat(b)
	if !aok || !bok {
		return typeMismatch("int or float")
	}
	var r float64
	switch op {
	case bytecode.OP_ADD:
		r = af + bf
	case bytecode.OP_SUB:
		r = af - bf
	case bytecode.OP_MUL:
		r = af * bf
	case bytecode.OP_DIV:
		r = af / bf
	}
	v.push(value.Float(r))
	return nil
}

// wrappingIntOp mirrors two's complement wraparound for overflowing Int
// arithmetic (§3.1 "Int arithmetic wraps on overflow"), and treats the one
// division case Go would otherwise panic on (MinInt64 / -1) the same way:
// it wraps back to MinInt64 rather than trapping.
func wrappingIntOp(op bytecode.Op, a, b int64) int64 {
	switch op {
	case bytecode.OP_ADD:
		return a + b
	case bytecode.OP_SUB:
		return a - b
	case bytecode.OP_MUL:
		return a * b
	case bytecode.OP_DIV:
		if a == -1<<63 && b == -1 {
			return -1 << 63
		}
		return a / b
	}
	return 0
}

func (v *Vm) shift(op bytecode.Op) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}
	if a.Kind != value.KindInt || b.Kind != value.KindInt {
		return typeMismatch("int")
	}
	if b.I < 0 || b.I > 63 {
		return invalidShift(b.I)
	}
	shift := uint(b.I)
	if op == bytecode.OP_SHL {
		v.push(value.Int(a.I << shift))
	} else {
		v.push(value.Int(a.I >> shift))
	}
	return nil
}

func (v *Vm) neg() error {
	a, err := v.pop()
	if err != nil {
		return err
	}
	switch a.Kind {
	case value.KindInt:
		v.push(value.Int(-a.I))
	case value.KindFloat:
		v.push(value.Float(-a.F))
	default:
		return typeMismatch("int or float")
	}
	return nil
}

func (v *Vm) compare(op bytecode.Op) error {
	b, err := v.pop()
	if err != nil {
		return err
	}
	a, err := v.pop()
	if err != nil {
		return err
	}

	if op == bytecode.OP_CEQ {
		// Ceq is structural equality over any Kind (§3.1), deliberately
		// IEEE float equality rather than the bit-pattern equality the
		// constant pool interns by (see asm.Assembler.AddConstant).
		v.push(value.Bool(value.Equal(a, b)))
		return nil
	}

	af, aok := promoteFloat(a)
	bf, bok := promoteFloat(b)
	if !aok || !bok {
		return typeMismatch("int or float")
	}
	if op == bytecode.OP_CLT {
		v.push(value.Bool(af < bf))
	} else {
		v.push(value.Bool(af > bf))
	}
	return nil
}

func (v *Vm) callBuiltin(idx int, args []value.Value) ([]value.Value, error) {
	fn, ok := builtin.ByIndex(idx)
	if !ok {
		return nil, invalidCall(idx)
	}
	if len(args) != fn.Arity {
		return nil, invalidCallArity(fn.Name, fn.Arity, len(args))
	}
	switch idx {
	case builtin.Len:
		return builtinLen(args[0])
	case builtin.Slice:
		return builtinSlice(args[0], args[1], args[2])
	case builtin.Concat:
		return builtinConcat(args[0], args[1])
	case builtin.ArrayNew:
		return []value.Value{value.Array(nil)}, nil
	case builtin.ArrayPush:
		return builtinArrayPush(args[0], args[1])
	case builtin.MapNew:
		return []value.Value{value.Map(nil)}, nil
	case builtin.Get:
		return builtinGet(args[0], args[1])
	case builtin.Set:
		return builtinSet(args[0], args[1], args[2])
	case builtin.IoOpen:
		return v.builtinIoOpen(args[0], args[1])
	case builtin.IoPopen:
		return v.builtinIoPopen(args[0], args[1])
	case builtin.IoReadAll:
		return v.builtinIoReadAll(args[0])
	case builtin.IoReadLine:
		return v.builtinIoReadLine(args[0])
	case builtin.IoWrite:
		return v.builtinIoWrite(args[0], args[1])
	case builtin.IoFlush:
		return v.builtinIoFlush(args[0])
	case builtin.IoClose:
		return v.builtinIoClose(args[0])
	case builtin.IoExists:
		return v.builtinIoExists(args[0])
	case builtin.Print:
		return v.builtinPrint(args[0])
	default:
		return nil, invalidCall(idx)
	}
}

package jit

import (
	"fmt"
	"runtime"
)

// Config tunes the trace JIT (§4.8), mirroring original_source/pd-vm/src/
// jit.rs's JitConfig: a hot-loop call threshold and a hard cap on recorded
// trace length, plus an Enabled switch a host can flip off entirely.
type Config struct {
	Enabled          bool
	HotLoopThreshold uint32
	MaxTraceLen      int
}

// DefaultConfig mirrors the original's Default impl: JIT on only where
// nativeJitSupported accepts (amd64 on linux, windows or darwin), an
// 8-iteration hot-loop threshold, and a 256-step trace cap.
func DefaultConfig() Config {
	return Config{
		Enabled:          nativeJitSupported(),
		HotLoopThreshold: 8,
		MaxTraceLen:      256,
	}
}

// nativeJitSupported reports whether this process can emit and run native
// trace code at all. Unlike the original (which also lists aarch64), this
// port only ever implements an amd64 encoder (native_amd64.go, built for
// linux and darwin); on amd64/windows recorded traces run through the
// TraceStep interpreter (interp.go), and on every other GOARCH the engine
// records no trace and the Vm interprets the bytecode as usual.
func nativeJitSupported() bool {
	return runtime.GOARCH == "amd64" && (runtime.GOOS == "linux" || runtime.GOOS == "windows" || runtime.GOOS == "darwin")
}

// TraceTerminal is how a recorded trace ends.
type TraceTerminal int

const (
	TerminalLoopBack TraceTerminal = iota
	TerminalHalt
)

func (t TraceTerminal) String() string {
	if t == TerminalLoopBack {
		return "LoopBack"
	}
	return "Halt"
}

// NyiReason is why compile_trace bailed on a root ip, grounded 1:1 on the
// original's JitNyiReason.
type NyiReason struct {
	kind   nyiKind
	opcode byte
	target uint32
	imm    string
	limit  int
}

type nyiKind int

const (
	nyiUnsupportedArch nyiKind = iota
	nyiHotLoopThresholdZero
	nyiUnsupportedOpcode
	nyiJumpToNonRoot
	nyiBackwardGuard
	nyiInvalidJumpTarget
	nyiInvalidImmediate
	nyiTraceTooLong
	nyiMissingTerminal
)

func (r NyiReason) Message() string {
	switch r.kind {
	case nyiUnsupportedArch:
		return "target architecture is not amd64-linux/amd64-windows/amd64-darwin"
	case nyiHotLoopThresholdZero:
		return "hot_loop_threshold must be > 0"
	case nyiUnsupportedOpcode:
		return fmt.Sprintf("unsupported opcode 0x%02X", r.opcode)
	case nyiJumpToNonRoot:
		return fmt.Sprintf("opcode br to non-root target %d is NYI", r.target)
	case nyiBackwardGuard:
		return fmt.Sprintf("opcode brfalse with backward target %d is NYI", r.target)
	case nyiInvalidJumpTarget:
		return fmt.Sprintf("jump target %d is out of bytecode bounds", r.target)
	case nyiInvalidImmediate:
		return fmt.Sprintf("failed to decode immediate operand for %s", r.imm)
	case nyiTraceTooLong:
		return fmt.Sprintf("trace length exceeded configured limit %d", r.limit)
	case nyiMissingTerminal:
		return "trace recorder reached end without loopback/ret terminal"
	default:
		return "unknown NYI reason"
	}
}

// TraceStep is one recorded, already-decoded bytecode instruction inside a
// trace body, grounded 1:1 on the original's TraceStep enum.
type TraceStep struct {
	Op TraceOp

	// Ldc operand.
	Const uint32
	// Ldloc/Stloc operand.
	Local uint8
	// Call operands.
	CallIndex uint16
	CallArgc  uint8
	CallIP    uint32
	// GuardFalse operand: the bytecode offset to resume normal
	// interpretation at when the guard fails.
	ExitIP uint32
}

type TraceOp int

const (
	StepNop TraceOp = iota
	StepLdc
	StepAdd
	StepSub
	StepMul
	StepDiv
	StepShl
	StepShr
	StepNeg
	StepCeq
	StepClt
	StepCgt
	StepPop
	StepDup
	StepLdloc
	StepStloc
	StepCall
	StepGuardFalse
	StepJumpToRoot
	StepRet
)

func (op TraceOp) String() string {
	switch op {
	case StepNop:
		return "nop"
	case StepLdc:
		return "ldc"
	case StepAdd:
		return "add"
	case StepSub:
		return "sub"
	case StepMul:
		return "mul"
	case StepDiv:
		return "div"
	case StepShl:
		return "shl"
	case StepShr:
		return "shr"
	case StepNeg:
		return "neg"
	case StepCeq:
		return "ceq"
	case StepClt:
		return "clt"
	case StepCgt:
		return "cgt"
	case StepPop:
		return "pop"
	case StepDup:
		return "dup"
	case StepLdloc:
		return "ldloc"
	case StepStloc:
		return "stloc"
	case StepCall:
		return "call"
	case StepGuardFalse:
		return "guard_false"
	case StepJumpToRoot:
		return "jump_root"
	case StepRet:
		return "ret"
	default:
		return "?"
	}
}

// Trace is one compiled loop body, from its root ip through to its
// terminal (a loop-back jump to root, or a Ret).
type Trace struct {
	ID         int
	RootIP     uint32
	StartLine  uint32
	HasCall    bool
	Steps      []TraceStep
	Terminal   TraceTerminal
	Executions uint64
}

// Attempt records one compile_trace call's outcome, successful or not, for
// JitSnapshot/dump_text reporting.
type Attempt struct {
	RootIP uint32
	Line   uint32
	Trace  int // -1 on failure
	Reason *NyiReason
}

// NyiDoc documents one structurally-unsupported case, mirroring the
// original's nyi_reference table verbatim.
type NyiDoc struct {
	Item   string
	Reason string
}

func nyiReference() []NyiDoc {
	return []NyiDoc{
		{Item: "br (to non-root target)", Reason: "only loop-back jumps to trace root are supported"},
		{Item: "brfalse (backward target)", Reason: "only forward guard exits are supported"},
		{Item: "Oversized traces", Reason: "trace recording stops at max_trace_len"},
		{Item: "Unsupported native JIT targets", Reason: "native emission currently supports amd64 on linux/windows/darwin only"},
		{Item: "Calls inside a trace", Reason: "native codegen falls back to the TraceStep interpreter whenever a trace has_call"},
	}
}

// Snapshot is the JIT's whole observable state, for debugger/CLI reporting.
type Snapshot struct {
	Arch    string
	Config  Config
	Traces  []Trace
	Attempt []Attempt
	NyiDocs []NyiDoc
}

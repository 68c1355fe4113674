package jit

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

// Engine is the per-program trace recorder and hot-loop detector, grounded
// on original_source/pd-vm/src/jit.rs's TraceJitEngine. It owns no native
// code itself (see native_amd64.go/cache.go for that); Engine only decides
// *whether* a root ip is hot enough to attempt compiling, and if so,
// produces the TraceStep sequence to hand to a codegen backend.
type Engine struct {
	mu sync.Mutex

	config Config

	hotCounts     map[uint32]uint32
	compiledByIP  map[uint32]int
	blockedRoots  map[uint32]bool
	loopHeaders   map[uint32]bool
	haveHeaders   bool

	traces   []Trace
	attempts []Attempt
}

// NewEngine returns an Engine over config.
func NewEngine(config Config) *Engine {
	return &Engine{
		config:       config,
		hotCounts:    make(map[uint32]uint32),
		compiledByIP: make(map[uint32]int),
		blockedRoots: make(map[uint32]bool),
	}
}

func (e *Engine) Config() Config { return e.config }

// ObserveHotIP mirrors TraceJitEngine::observe_hot_ip: it bumps ip's hot
// count on every loop-back through it, and once the count reaches the
// configured threshold, attempts to compile a trace rooted there. It
// returns the trace index on success (including a previously-compiled
// trace for the same ip), or -1 if the loop isn't hot yet, isn't a real
// loop header, or compilation failed (in which case ip is blocked from
// further attempts).
func (e *Engine) ObserveHotIP(program *value.Program, ip uint32) int {
	if !e.config.Enabled || !nativeJitSupported() {
		return -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.compiledByIP[ip]; ok {
		return id
	}
	if e.blockedRoots[ip] {
		return -1
	}
	if !e.isLoopHeader(program, ip) {
		return -1
	}

	e.hotCounts[ip]++
	if e.hotCounts[ip] < e.config.HotLoopThreshold {
		return -1
	}

	line := program.Debug.LineForOffset(ip)

	var id int
	var reason *NyiReason
	if e.config.HotLoopThreshold == 0 {
		r := NyiReason{kind: nyiHotLoopThresholdZero}
		reason = &r
	} else if !nativeJitSupported() {
		r := NyiReason{kind: nyiUnsupportedArch}
		reason = &r
	} else {
		var err error
		id, err = e.compileTrace(program, ip)
		if err != nil {
			if r, ok := err.(*NyiReason); ok {
				reason = r
			} else {
				r := NyiReason{kind: nyiUnsupportedOpcode}
				reason = &r
			}
		}
	}

	if reason == nil {
		e.attempts = append(e.attempts, Attempt{RootIP: ip, Line: line, Trace: id})
		e.compiledByIP[ip] = id
		return id
	}
	e.attempts = append(e.attempts, Attempt{RootIP: ip, Line: line, Trace: -1, Reason: reason})
	e.blockedRoots[ip] = true
	return -1
}

func (e *Engine) Trace(id int) *Trace {
	if id < 0 || id >= len(e.traces) {
		return nil
	}
	return &e.traces[id]
}

func (e *Engine) MarkExecuted(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id >= 0 && id < len(e.traces) {
		e.traces[id].Executions++
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Config:  e.config,
		Traces:  append([]Trace(nil), e.traces...),
		Attempt: append([]Attempt(nil), e.attempts...),
		NyiDocs: nyiReference(),
	}
}

// DumpText renders the same report as the original's dump_text, as plain
// text.
func (e *Engine) DumpText(debug *value.DebugInfo) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	b.WriteString("trace-jit:\n")
	fmt.Fprintf(&b, "  enabled: %v\n", e.config.Enabled)
	fmt.Fprintf(&b, "  hot_loop_threshold: %d\n", e.config.HotLoopThreshold)
	fmt.Fprintf(&b, "  max_trace_len: %d\n", e.config.MaxTraceLen)
	fmt.Fprintf(&b, "  compiled traces: %d\n", len(e.traces))
	fmt.Fprintf(&b, "  compile attempts: %d\n", len(e.attempts))

	for _, t := range e.traces {
		fmt.Fprintf(&b, "  trace#%d root_ip=%d line=%d terminal=%s steps=%d executions=%d\n",
			t.ID, t.RootIP, t.StartLine, t.Terminal, len(t.Steps), t.Executions)
		b.WriteString("    ops:")
		for _, s := range t.Steps {
			b.WriteString(" ")
			b.WriteString(s.Op.String())
		}
		b.WriteString("\n")
	}

	nyi := 0
	for _, a := range e.attempts {
		if a.Reason != nil {
			nyi++
			fmt.Fprintf(&b, "  nyi root_ip=%d line=%d reason=%s\n", a.RootIP, a.Line, a.Reason.Message())
		}
	}
	fmt.Fprintf(&b, "  nyi attempts: %d\n", nyi)
	b.WriteString("  nyi reference:\n")
	for _, doc := range nyiReference() {
		fmt.Fprintf(&b, "    - %s: %s\n", doc.Item, doc.Reason)
	}
	return b.String()
}

// NyiReason itself satisfies error so compileTrace can return it directly.
func (r *NyiReason) Error() string { return r.Message() }

// compileTrace mirrors TraceJitEngine::compile_trace: it statically decodes
// the program's code starting at root_ip (never executes anything) until
// it hits a Ret (Halt terminal) or a Br back to root_ip (LoopBack
// terminal), translating every instruction 1:1 into a TraceStep. Any
// opcode outside the supported set, a forward-only-violating Brfalse, or a
// Br to anything but root_ip aborts with the matching NyiReason.
func (e *Engine) compileTrace(program *value.Program, rootIP uint32) (int, error) {
	code := program.Code
	ip := rootIP
	var steps []TraceStep

	for len(steps) < e.config.MaxTraceLen {
		instrIP := ip
		if int(ip) >= len(code) {
			return 0, &NyiReason{kind: nyiInvalidJumpTarget, target: ip}
		}
		op := bytecode.Op(code[ip])
		ip++

		switch op {
		case bytecode.OP_NOP:
			steps = append(steps, TraceStep{Op: StepNop})
			continue
		case bytecode.OP_RET:
			steps = append(steps, TraceStep{Op: StepRet})
			return e.finishTrace(program, rootIP, steps, TerminalHalt), nil
		case bytecode.OP_LDC:
			v, ok := readU32(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "ldc"}
			}
			steps = append(steps, TraceStep{Op: StepLdc, Const: v})
			continue
		case bytecode.OP_ADD:
			steps = append(steps, TraceStep{Op: StepAdd})
			continue
		case bytecode.OP_SUB:
			steps = append(steps, TraceStep{Op: StepSub})
			continue
		case bytecode.OP_MUL:
			steps = append(steps, TraceStep{Op: StepMul})
			continue
		case bytecode.OP_DIV:
			steps = append(steps, TraceStep{Op: StepDiv})
			continue
		case bytecode.OP_SHL:
			steps = append(steps, TraceStep{Op: StepShl})
			continue
		case bytecode.OP_SHR:
			steps = append(steps, TraceStep{Op: StepShr})
			continue
		case bytecode.OP_NEG:
			steps = append(steps, TraceStep{Op: StepNeg})
			continue
		case bytecode.OP_CEQ:
			steps = append(steps, TraceStep{Op: StepCeq})
			continue
		case bytecode.OP_CLT:
			steps = append(steps, TraceStep{Op: StepClt})
			continue
		case bytecode.OP_CGT:
			steps = append(steps, TraceStep{Op: StepCgt})
			continue
		case bytecode.OP_POP:
			steps = append(steps, TraceStep{Op: StepPop})
			continue
		case bytecode.OP_DUP:
			steps = append(steps, TraceStep{Op: StepDup})
			continue
		case bytecode.OP_LDLOC:
			idx, ok := readU8(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "ldloc"}
			}
			steps = append(steps, TraceStep{Op: StepLdloc, Local: idx})
			continue
		case bytecode.OP_STLOC:
			idx, ok := readU8(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "stloc"}
			}
			steps = append(steps, TraceStep{Op: StepStloc, Local: idx})
			continue
		case bytecode.OP_BRFALSE:
			target, ok := readU32(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "brfalse"}
			}
			if target <= ip {
				return 0, &NyiReason{kind: nyiBackwardGuard, target: target}
			}
			if int(target) >= len(code) {
				return 0, &NyiReason{kind: nyiInvalidJumpTarget, target: target}
			}
			steps = append(steps, TraceStep{Op: StepGuardFalse, ExitIP: target})
			continue
		case bytecode.OP_BR:
			target, ok := readU32(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "br"}
			}
			if target == rootIP {
				steps = append(steps, TraceStep{Op: StepJumpToRoot})
				return e.finishTrace(program, rootIP, steps, TerminalLoopBack), nil
			}
			return 0, &NyiReason{kind: nyiJumpToNonRoot, target: target}
		case bytecode.OP_CALL:
			idx16, ok := readU16(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "call"}
			}
			argc, ok := readU8(code, &ip)
			if !ok {
				return 0, &NyiReason{kind: nyiInvalidImmediate, imm: "call"}
			}
			steps = append(steps, TraceStep{Op: StepCall, CallIndex: idx16, CallArgc: argc, CallIP: instrIP})
			continue
		default:
			return 0, &NyiReason{kind: nyiUnsupportedOpcode, opcode: byte(op)}
		}
	}

	return 0, &NyiReason{kind: nyiTraceTooLong, limit: e.config.MaxTraceLen}
}

func (e *Engine) finishTrace(program *value.Program, rootIP uint32, steps []TraceStep, terminal TraceTerminal) int {
	id := len(e.traces)
	hasCall := false
	for _, s := range steps {
		if s.Op == StepCall {
			hasCall = true
			break
		}
	}
	e.traces = append(e.traces, Trace{
		ID:        id,
		RootIP:    rootIP,
		StartLine: program.Debug.LineForOffset(rootIP),
		HasCall:   hasCall,
		Steps:     steps,
		Terminal:  terminal,
	})
	return id
}

// isLoopHeader lazily scans the whole program once for backward-branch
// targets (mirroring scan_loop_headers), caching the result: a root ip
// that's never actually the target of a backward Br/Brfalse can never
// become hot no matter how it's reached, so there's no point attempting a
// trace there.
func (e *Engine) isLoopHeader(program *value.Program, ip uint32) bool {
	if !e.haveHeaders {
		e.loopHeaders = scanLoopHeaders(program)
		e.haveHeaders = true
	}
	return e.loopHeaders[ip]
}

func scanLoopHeaders(program *value.Program) map[uint32]bool {
	headers := make(map[uint32]bool)
	code := program.Code
	ip := uint32(0)

	for int(ip) < len(code) {
		op := bytecode.Op(code[ip])
		instrIP := ip
		ip++
		switch op {
		case bytecode.OP_LDC:
			if _, ok := readU32(code, &ip); !ok {
				return headers
			}
		case bytecode.OP_BR, bytecode.OP_BRFALSE:
			target, ok := readU32(code, &ip)
			if !ok {
				return headers
			}
			if target <= instrIP {
				headers[target] = true
			}
		case bytecode.OP_LDLOC, bytecode.OP_STLOC:
			if _, ok := readU8(code, &ip); !ok {
				return headers
			}
		case bytecode.OP_CALL:
			if _, ok := readU16(code, &ip); !ok {
				return headers
			}
			if _, ok := readU8(code, &ip); !ok {
				return headers
			}
		}
	}
	return headers
}

func readU8(code []byte, ip *uint32) (uint8, bool) {
	if int(*ip) >= len(code) {
		return 0, false
	}
	v := code[*ip]
	*ip++
	return v, true
}

func readU16(code []byte, ip *uint32) (uint16, bool) {
	if int(*ip)+2 > len(code) {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(code[*ip:])
	*ip += 2
	return v, true
}

func readU32(code []byte, ip *uint32) (uint32, bool) {
	if int(*ip)+4 > len(code) {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(code[*ip:])
	*ip += 4
	return v, true
}

// Package edgevm is the control-plane facade of §6.4: the handful of
// calls a hosting proxy makes across the core's boundary
// (apply_program, run_for_request, start_debug_session,
// stop_debug_session, debug_command, take_recording), each returning
// one of this package's plain Go structs rather than exposing any
// internal package's types directly. compiler, wire, vm, hostabi/reqctx,
// debugger, and recording do the actual work; this file only adapts
// their results to the exact shapes §6.4 names.
package edgevm

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wudi/edgevm/compiler"
	"github.com/wudi/edgevm/debugger"
	"github.com/wudi/edgevm/hostabi/reqctx"
	"github.com/wudi/edgevm/recording"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
	"github.com/wudi/edgevm/wire"
)

// ProgramApplyReport is apply_program's return value.
type ProgramApplyReport struct {
	Applied    bool
	Constants  int
	CodeBytes  int
	LocalCount int
	Message    string
}

// HumanCodeSize renders CodeBytes the way CLI output does ("1.2 kB"), for
// callers that want a friendly log line instead of a raw integer.
func (r ProgramApplyReport) HumanCodeSize() string {
	return humanize.Bytes(uint64(r.CodeBytes))
}

// RequestContext and VmExecutionOutcome are the exact §6.4 shapes;
// hostabi/reqctx owns the real implementation since it is the package
// that actually binds host functions to a request, so these are type
// aliases rather than a second copy of the same fields.
type RequestContext = reqctx.RequestContext
type VmExecutionOutcome = reqctx.VmExecutionOutcome

// DebugSessionStatus is start_debug_session's return value.
type DebugSessionStatus struct {
	Mode     string
	Attached bool
}

// DebugCommandResponse is debug_command's return value.
type DebugCommandResponse struct {
	Phase       string
	Output      string
	CurrentLine *uint32
	Attached    bool
}

// ApplyProgram implements §6.4's apply_program: decode the wire blob,
// validate it, and size its CompiledProgram's locals vector from the
// validator's MaxLocalIndex. A validation failure is reported in the
// ProgramApplyReport (Applied=false, Message set), not returned as a Go
// error, matching the contract's "it always answers" shape.
func ApplyProgram(blob []byte) (ProgramApplyReport, *value.CompiledProgram, error) {
	program, err := wire.Decode(blob)
	if err != nil {
		return ProgramApplyReport{Applied: false, Message: err.Error()}, nil, nil
	}
	result, err := wire.Validate(program)
	if err != nil {
		return ProgramApplyReport{Applied: false, Message: err.Error()}, nil, nil
	}
	localCount := result.MaxLocalIndex + 1
	if localCount < 0 {
		localCount = 0
	}
	compiled := &value.CompiledProgram{Program: program, Locals: localCount}
	return ProgramApplyReport{
		Applied:    true,
		Constants:  len(program.Constants),
		CodeBytes:  len(program.Code),
		LocalCount: localCount,
	}, compiled, nil
}

// CompileAndApply compiles source text through the matching frontend
// (§6.5's extension table) and runs the result straight through
// ApplyProgram, for a caller that has source rather than a wire blob
// (e.g. edgevmctl's own "compile and check" path).
func CompileAndApply(path, source string) (ProgramApplyReport, *value.CompiledProgram, error) {
	compiled, err := compiler.CompileSourceFile(path, source)
	if err != nil {
		return ProgramApplyReport{Applied: false, Message: err.Error()}, nil, nil
	}
	blob, err := wire.Encode(compiled.Program)
	if err != nil {
		return ProgramApplyReport{Applied: false, Message: err.Error()}, nil, nil
	}
	return ApplyProgram(blob)
}

// RunForRequest implements run_for_request by delegating to
// hostabi/reqctx, the package that owns the actual host-function
// binding.
func RunForRequest(program *value.CompiledProgram, binder *reqctx.Binder, ctx *RequestContext) (VmExecutionOutcome, error) {
	return reqctx.RunForRequest(program, binder, ctx)
}

// DebugSession adapts a debugger.Debugger + debugger.CommandBridge pair
// to the start/stop/command/take_recording call shape of §6.4, running
// the bound program on its own goroutine.
type DebugSession struct {
	mu     sync.Mutex
	bridge *debugger.CommandBridge
	dbg    *debugger.Debugger
	mode   string
	done   chan struct{}
	runErr error
}

// StartDebugSession implements start_debug_session: it builds a Debugger
// bound to a fresh CommandBridge, starts recording if mode requests it,
// and runs program on a new goroutine, stopping on the first instruction.
func StartDebugSession(program *value.CompiledProgram, mode string) (*DebugSession, DebugSessionStatus, error) {
	bridge := debugger.NewCommandBridge()
	dbg := debugger.NewWithBridge(bridge)
	dbg.StopOnEntry()
	if mode == "record" {
		dbg.StartRecording()
	}

	s := &DebugSession{bridge: bridge, dbg: dbg, mode: mode, done: make(chan struct{})}

	machine := vm.New(program.Program, program.Locals, vm.WithDebugHook(dbg))
	go func() {
		defer close(s.done)
		_, err := machine.Run()
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
	}()

	// Give the Vm's goroutine a moment to hit the entry breakpoint and
	// attach to the bridge before reporting status; a real caller would
	// instead poll bridge.Status() on its own schedule.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if bridge.Status().Attached {
			break
		}
		time.Sleep(time.Millisecond)
	}

	status := bridge.Status()
	return s, DebugSessionStatus{Mode: mode, Attached: status.Attached}, nil
}

// DebugCommand implements debug_command: issue one REPL command to the
// attached session and translate its BridgeResponse into a
// DebugCommandResponse.
func (s *DebugSession) DebugCommand(cmd string, timeout time.Duration) (DebugCommandResponse, error) {
	resp, err := s.bridge.Execute(cmd, timeout)
	if err != nil {
		return DebugCommandResponse{}, err
	}
	var line *uint32
	if resp.HasLine {
		l := resp.CurrentLine
		line = &l
	}
	phase := "stopped"
	if resp.Resumed {
		phase = "running"
	}
	return DebugCommandResponse{
		Phase:       phase,
		Output:      resp.Output,
		CurrentLine: line,
		Attached:    resp.Attached,
	}, nil
}

// StopDebugSession implements stop_debug_session: detach the bridge and
// wait for the Vm's goroutine to finish.
func (s *DebugSession) StopDebugSession() error {
	s.bridge.Close()
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// TakeRecording implements take_recording.
func (s *DebugSession) TakeRecording() *recording.Recording {
	return s.dbg.TakeRecording()
}

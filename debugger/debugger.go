// Package debugger implements the stepping engine and REPL surface of
// §4.9/§6.3: a breakpoint/line-breakpoint set, a step-mode state machine,
// and three ways to drive the resulting REPL (a blocking stdio console, a
// TCP listener for a remote client, and an in-process command bridge for
// an embedder that wants to script the debugger without a socket). The
// whole package is grounded on original_source/pd-vm/src/debugger.rs,
// translated from its mutex/condvar bridge into Go's sync primitives.
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"

	"github.com/wudi/edgevm/recording"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

// StepMode is the debugger's current single-step disposition, checked by
// OnInstruction on every instruction the Vm is about to decode.
type StepMode struct {
	kind stepKind
	// depth and ip are only meaningful for StepOver/StepOut, mirroring
	// the original's StepOver{depth,ip}/StepOut{depth} variants.
	depth int
	ip    uint32
}

type stepKind int

const (
	stepRunning stepKind = iota
	stepStep
	stepOver
	stepOut
)

// Running is the default mode: only breakpoints stop execution.
var Running = StepMode{kind: stepRunning}

// Step breaks on the very next instruction.
var Step = StepMode{kind: stepStep}

// StepOver breaks once call_depth returns to depth at an ip other than the
// one the step command was issued at, i.e. it steps over any call made
// from the current frame.
func StepOver(depth int, ip uint32) StepMode { return StepMode{kind: stepOver, depth: depth, ip: ip} }

// StepOut breaks once call_depth drops below depth, i.e. returns from the
// current frame.
func StepOut(depth int) StepMode { return StepMode{kind: stepOut, depth: depth} }

// replTarget is whatever concrete transport drives command input/output
// for a breakpoint hit: stdio, a TCP client, or a CommandBridge.
type replTarget interface {
	repl(v *vm.Vm, state *replState) (detached bool)
}

// replState is the breakpoint/step-mode bookkeeping handle_command mutates;
// kept in one struct so every transport's repl loop can pass it around
// without exposing Debugger's other fields.
type replState struct {
	breakpoints     map[uint32]struct{}
	lineBreakpoints map[uint32]struct{}
	step            StepMode
}

// Debugger holds breakpoints and step mode, and dispatches to whichever
// transport on_instruction should use once a breakpoint is hit.
type Debugger struct {
	state          replState
	target         replTarget
	clientDetached bool

	recorder *recording.Recording
}

// New returns a Debugger with no attached transport: a breakpoint hit
// drives a blocking console REPL on stdin/stdout.
func New() *Debugger {
	return &Debugger{
		state: replState{
			breakpoints:     make(map[uint32]struct{}),
			lineBreakpoints: make(map[uint32]struct{}),
			step:            Running,
		},
	}
}

// NewTCP binds addr and returns a Debugger whose breakpoint hits drive a
// REPL over the first client that connects.
func NewTCP(addr string) (*Debugger, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d := New()
	d.target = &tcpServer{listener: listener}
	return d, nil
}

// NewWithBridge returns a Debugger whose breakpoint hits are driven by an
// in-process CommandBridge instead of any socket.
func NewWithBridge(bridge *CommandBridge) *Debugger {
	d := New()
	d.target = bridge
	return d
}

// StopOnEntry arranges for the very first instruction executed to break.
func (d *Debugger) StopOnEntry() { d.state.step = Step }

// AddBreakpoint sets an instruction-offset breakpoint.
func (d *Debugger) AddBreakpoint(offset uint32) { d.state.breakpoints[offset] = struct{}{} }

// RemoveBreakpoint clears an instruction-offset breakpoint.
func (d *Debugger) RemoveBreakpoint(offset uint32) { delete(d.state.breakpoints, offset) }

// AddLineBreakpoint sets a source-line breakpoint, resolved via the Vm's
// DebugInfo on every instruction.
func (d *Debugger) AddLineBreakpoint(line uint32) { d.state.lineBreakpoints[line] = struct{}{} }

// RemoveLineBreakpoint clears a source-line breakpoint.
func (d *Debugger) RemoveLineBreakpoint(line uint32) { delete(d.state.lineBreakpoints, line) }

// TakeDetachEvent reports (and clears) whether the last REPL session ended
// because its client disconnected rather than issuing "continue".
func (d *Debugger) TakeDetachEvent() bool {
	v := d.clientDetached
	d.clientDetached = false
	return v
}

// StartRecording begins capturing a Frame on every subsequent instruction
// (§4.9/§6.3), independent of breakpoints or step mode. Calling it again
// discards whatever was captured so far.
func (d *Debugger) StartRecording() { d.recorder = recording.New() }

// TakeRecording returns (and clears) whatever has been captured since the
// last StartRecording, satisfying §6.4's take_recording() contract. It
// returns nil if no recording is in progress.
func (d *Debugger) TakeRecording() *recording.Recording {
	r := d.recorder
	d.recorder = nil
	return r
}

// OnInstruction implements vm.DebugHook. It decides whether the
// instruction the Vm is about to execute should break into a REPL, and if
// so, runs one.
func (d *Debugger) OnInstruction(v *vm.Vm) {
	if d.recorder != nil {
		d.captureFrame(v)
	}

	ip := v.IP()
	_, shouldBreak := d.state.breakpoints[ip]

	if !shouldBreak {
		if line, ok := currentLine(v); ok {
			if _, hit := d.state.lineBreakpoints[line]; hit {
				shouldBreak = true
			}
		}
	}

	if !shouldBreak {
		switch d.state.step.kind {
		case stepStep:
			shouldBreak = true
		case stepOver:
			if v.CallDepth() <= d.state.step.depth && ip != d.state.step.ip {
				shouldBreak = true
			}
		case stepOut:
			if v.CallDepth() < d.state.step.depth {
				shouldBreak = true
			}
		}
	}

	if shouldBreak {
		d.state.step = Running
		d.clientDetached = d.repl(v)
	}
}

// OnStatus implements vm.DebugHook. A bridge-driven session has no further
// use for an attached state once the program has actually finished.
func (d *Debugger) OnStatus(v *vm.Vm, status vm.RunStatus) {
	if bridge, ok := d.target.(*CommandBridge); ok && status == vm.Halted {
		bridge.close()
	}
}

func (d *Debugger) captureFrame(v *vm.Vm) {
	line, _ := currentLine(v)
	locals := v.Locals()
	localSlots := make([]recording.LocalSlot, len(locals))
	for i, l := range locals {
		localSlots[i] = recording.LocalSlot{Slot: uint8(i), Value: l}
	}
	stack := append([]value.Value(nil), v.Stack()...)
	d.recorder.Append(recording.Frame{
		IP:        v.IP(),
		Line:      line,
		Locals:    localSlots,
		Stack:     stack,
		CallDepth: v.CallDepth(),
	})
}

func (d *Debugger) repl(v *vm.Vm) bool {
	if d.target != nil {
		return d.target.repl(v, &d.state)
	}
	replStdio(v, &d.state)
	return false
}

// tcpServer accepts exactly one client at a time, matching the original's
// single-stream DebugServer: a debugger is meant for one attached
// developer, not a pool of them.
type tcpServer struct {
	listener net.Listener
	conn     net.Conn
}

func (s *tcpServer) repl(v *vm.Vm, state *replState) bool {
	if s.conn == nil {
		conn, err := s.listener.Accept()
		if err != nil {
			return false
		}
		s.conn = conn
	}
	fmt.Fprintln(s.conn, "debugger attached. type 'help' for commands")
	reader := bufio.NewReader(s.conn)
	for {
		if _, err := io.WriteString(s.conn, "(pdb) "); err != nil {
			s.conn.Close()
			s.conn = nil
			return true
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			s.conn.Close()
			s.conn = nil
			return true
		}
		if handleCommand(line, v, state, s.conn).isBreak() {
			return false
		}
	}
}

// replStdio drives a blocking console session on stdin/stdout. When stdin
// is a real terminal it uses a chzyer/readline editor for history and
// line editing; otherwise (piped input, a test harness) it falls back to
// a plain line scanner, since readline's raw-mode setup requires an
// actual tty.
func replStdio(v *vm.Vm, state *replState) {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		replStdioInteractive(v, state)
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("(pdb) ")
		if !scanner.Scan() {
			return
		}
		if handleCommand(scanner.Text(), v, state, os.Stdout).isBreak() {
			return
		}
	}
}

func replStdioInteractive(v *vm.Vm, state *replState) {
	rl, err := readline.New("(pdb) ")
	if err != nil {
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("(pdb) ")
			if !scanner.Scan() {
				return
			}
			if handleCommand(scanner.Text(), v, state, os.Stdout).isBreak() {
				return
			}
		}
	}
	defer rl.Close()
	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}
		if handleCommand(line, v, state, os.Stdout).isBreak() {
			return
		}
	}
}

func currentLine(v *vm.Vm) (uint32, bool) {
	info := v.DebugInfo()
	if info == nil {
		return 0, false
	}
	line := info.LineForOffset(v.IP())
	return line, line != 0
}

func parseUint32(tok string) (uint32, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

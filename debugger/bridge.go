package debugger

import (
	"bytes"
	"sync"
	"time"

	"github.com/wudi/edgevm/vm"
)

// BridgeError is the typed error taxonomy for CommandBridge.Execute (§7's
// Debug error family), mirroring the original's DebugCommandBridgeError.
type BridgeError struct {
	Kind string
}

func (e *BridgeError) Error() string {
	switch e.Kind {
	case "not_attached":
		return "debugger is not attached"
	case "timeout":
		return "timed out waiting for debugger"
	case "closed":
		return "debugger bridge is closed"
	default:
		return "debug bridge error"
	}
}

var (
	ErrNotAttached = &BridgeError{Kind: "not_attached"}
	ErrTimeout     = &BridgeError{Kind: "timeout"}
	ErrClosed      = &BridgeError{Kind: "closed"}
)

// BridgeStatus is a snapshot of whether a CommandBridge currently has a
// breakpoint-hit session waiting on it, and what source line it stopped at.
type BridgeStatus struct {
	Attached    bool
	CurrentLine uint32
	HasLine     bool
}

// BridgeResponse is what Execute returns for one command.
type BridgeResponse struct {
	Output      string
	CurrentLine uint32
	HasLine     bool
	Attached    bool
	Resumed bool
}

type bridgeRequest struct {
	requestID uint64
	command   string
}

type bridgeResponse struct {
	requestID   uint64
	output      string
	currentLine uint32
	hasLine     bool
	attached    bool
	resumed     bool
}

// CommandBridge lets an embedder drive a Debugger's REPL programmatically
// (e.g. a web UI, or an `edgevmctl debug` session over a control-plane
// RPC) instead of over a raw socket. One goroutine runs the Vm and blocks
// in Debugger's OnInstruction -> repl whenever a breakpoint is hit; a
// second goroutine calls Execute to issue commands and read back their
// output, synchronizing through a sync.Cond exactly as the original's
// Condvar-backed DebugCommandBridgeInner does.
type CommandBridge struct {
	mu      sync.Mutex
	changed *sync.Cond

	attached    bool
	currentLine uint32
	hasLine     bool
	closed      bool

	nextRequestID uint64
	pendingReq    *bridgeRequest
	pendingResp   *bridgeResponse
}

// NewCommandBridge returns a ready-to-use bridge; pass it to NewWithBridge
// to build the Debugger side.
func NewCommandBridge() *CommandBridge {
	b := &CommandBridge{}
	b.changed = sync.NewCond(&b.mu)
	return b
}

// Status reports whether a breakpoint session is currently waiting on
// this bridge.
func (b *CommandBridge) Status() BridgeStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BridgeStatus{Attached: b.attached, CurrentLine: b.currentLine, HasLine: b.hasLine}
}

// Close tears down any waiting session; repl() (running on the Vm's
// goroutine) observes closed and returns as if the client detached.
func (b *CommandBridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.attached = false
	b.hasLine = false
	b.pendingReq = nil
	b.pendingResp = nil
	b.mu.Unlock()
	b.changed.Broadcast()
}

func (b *CommandBridge) close() { b.Close() }

// Execute submits command to the currently-attached breakpoint session and
// blocks until it responds or timeout elapses.
func (b *CommandBridge) Execute(command string, timeout time.Duration) (BridgeResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return BridgeResponse{}, ErrClosed
	}
	if !b.attached {
		return BridgeResponse{}, ErrNotAttached
	}

	b.nextRequestID++
	requestID := b.nextRequestID
	b.pendingReq = &bridgeRequest{requestID: requestID, command: command}
	b.changed.Broadcast()

	deadline := time.Now().Add(timeout)
	for {
		if b.closed {
			return BridgeResponse{}, ErrClosed
		}
		if b.pendingResp != nil && b.pendingResp.requestID == requestID {
			resp := b.pendingResp
			b.pendingResp = nil
			return BridgeResponse{
				Output:      resp.output,
				CurrentLine: resp.currentLine,
				HasLine:     resp.hasLine,
				Attached:    resp.attached,
				Resumed:     resp.resumed,
			}, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return BridgeResponse{}, ErrTimeout
		}
		waitOnCondWithTimeout(b.changed, remaining)
		if time.Now().After(deadline) && b.pendingResp == nil {
			return BridgeResponse{}, ErrTimeout
		}
	}
}

// repl implements replTarget: it is called on the Vm's own goroutine
// whenever a breakpoint is hit, and blocks (waiting on commands submitted
// via Execute from another goroutine) until one resumes execution.
func (b *CommandBridge) repl(v *vm.Vm, state *replState) bool {
	b.mu.Lock()
	b.closed = false
	b.attached = true
	b.currentLine, b.hasLine = currentLine(v)
	b.pendingReq = nil
	b.pendingResp = nil
	b.mu.Unlock()
	b.changed.Broadcast()

	for {
		b.mu.Lock()
		for !b.closed && b.pendingReq == nil {
			b.changed.Wait()
		}
		if b.closed {
			b.attached = false
			b.hasLine = false
			b.pendingReq = nil
			b.pendingResp = nil
			b.mu.Unlock()
			b.changed.Broadcast()
			return true
		}
		req := b.pendingReq
		b.pendingReq = nil
		b.mu.Unlock()

		var out bytes.Buffer
		action := handleCommand(req.command, v, state, &out)
		resumed := action.isBreak()
		var line uint32
		var hasLine bool
		if !resumed {
			line, hasLine = currentLine(v)
		}

		b.mu.Lock()
		b.attached = !resumed
		b.currentLine, b.hasLine = line, hasLine
		b.pendingResp = &bridgeResponse{
			requestID:   req.requestID,
			output:      out.String(),
			currentLine: line,
			hasLine:     hasLine,
			attached:    !resumed,
			resumed:     resumed,
		}
		b.mu.Unlock()
		b.changed.Broadcast()

		if resumed {
			return false
		}
	}
}

// waitOnCondWithTimeout wakes c.Wait after d even with no signal, since
// sync.Cond has no built-in timed wait (unlike Rust's Condvar::wait_timeout).
// The caller must hold c.L on entry and will hold it again on return.
func waitOnCondWithTimeout(c *sync.Cond, d time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		c.Broadcast()
	})
	go func() {
		<-done
		timer.Stop()
	}()
	c.Wait()
	close(done)
}

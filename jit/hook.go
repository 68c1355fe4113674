package jit

import (
	"sync"

	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

// Hook adapts an Engine (and the process-wide native cache) to vm.TraceHook,
// so a Vm constructed with vm.WithTraceHook(jit.NewHook(cfg)) gets trace
// JIT support transparently. One Hook is meant to live for as long as one
// compiled Program does — ApplyProgram-style reload flows should build a
// fresh Hook alongside a fresh Vm, since the program fingerprint a Hook
// computes for cache lookups is memoized on first use (§9 Open Question 4).
type Hook struct {
	engine *Engine

	fpOnce sync.Once
	fp     fingerprint
}

// NewHook returns a Hook over config, ready to pass to vm.WithTraceHook.
func NewHook(config Config) *Hook {
	return &Hook{engine: NewEngine(config)}
}

// Engine exposes the underlying trace recorder, for a debugger or CLI to
// snapshot/dump.
func (h *Hook) Engine() *Engine { return h.engine }

// OnLoopBack implements vm.TraceHook.
func (h *Hook) OnLoopBack(v *vm.Vm, rootIP uint32) (bool, error) {
	program := v.Program()
	id := h.engine.ObserveHotIP(program, rootIP)
	if id < 0 {
		return false, nil
	}
	trace := h.engine.Trace(id)
	if trace == nil {
		return false, nil
	}

	h.fpOnce.Do(func() { h.fp = computeProgramFingerprint(program) })

	if nativeEntry := lookupOrCompileNative(h.fp, trace); nativeEntry != nil && nativeEntry.fn != nil {
		if handled, err := h.runNative(v, trace, nativeEntry); handled {
			h.engine.MarkExecuted(id)
			return true, err
		}
	}

	nextIP, halted, err := runInterpreted(v, trace)
	if err != nil {
		return false, err
	}
	h.engine.MarkExecuted(id)
	if halted {
		// The trace replayed all the way through its Ret step: position ip
		// past the end of code so Run's dispatch loop falls out and
		// returns Halted, exactly as if it had decoded OP_RET itself.
		v.SetIP(uint32(len(program.Code)))
		return true, nil
	}
	v.SetIP(nextIP)
	return true, nil
}

// runNative attempts to run trace natively over v's current stack/locals.
// It only proceeds if every stack/local value touched is currently an Int
// (a runtime type guard: the trace was compiled assuming pure-integer
// arithmetic, so anything else must deopt to the interpreter rather than
// reinterpret non-Int bits as integers).
func (h *Hook) runNative(v *vm.Vm, trace *Trace, entry *nativeEntry) (handled bool, err error) {
	stackVals := v.Stack()
	stackInts, ok := intsFromValues(stackVals)
	if !ok {
		return false, nil
	}
	localVals := v.Locals()
	localInts, ok := intsFromValues(localVals)
	if !ok {
		return false, nil
	}

	headroom := h.engine.config.MaxTraceLen
	buf := make([]int64, len(stackInts), len(stackInts)+headroom)
	copy(buf, stackInts)

	terminal, exitIP, outSP, callErr := callNative(entry.fn, buf, len(stackInts), localInts)
	if callErr != nil {
		return false, nil
	}

	for i := 0; i < len(localInts); i++ {
		localVals[i] = value.Int(localInts[i])
	}
	for range stackVals {
		if _, err := v.Pop(); err != nil {
			return false, err
		}
	}
	for i := 0; i < outSP && i < cap(buf); i++ {
		v.Push(value.Int(buf[i]))
	}

	switch terminal {
	case 1: // guard exit
		v.SetIP(exitIP)
		return true, nil
	case 2: // ret: fall off the end of code, exactly like decoding OP_RET
		v.SetIP(uint32(len(v.Program().Code)))
		return true, nil
	default:
		return false, nil
	}
}

func intsFromValues(vals []value.Value) ([]int64, bool) {
	out := make([]int64, len(vals))
	for i, val := range vals {
		if val.Kind != value.KindInt {
			return nil, false
		}
		out[i] = val.I
	}
	return out, true
}

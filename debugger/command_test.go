package debugger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

func vmWithNamedLocal(t *testing.T, name string, v value.Value) *vm.Vm {
	t.Helper()
	a := asm.New()
	require.NoError(t, a.PushConst(v))
	a.Stloc(0)
	a.Ret()
	a.AddLocal(0, name)
	p, err := a.Finish(true)
	require.NoError(t, err)
	machine := vm.New(p, 1)
	status, err := machine.Run()
	require.NoError(t, err)
	require.Equal(t, vm.Halted, status)
	return machine
}

func newReplState() *replState {
	return &replState{
		breakpoints:     make(map[uint32]struct{}),
		lineBreakpoints: make(map[uint32]struct{}),
		step:            Running,
	}
}

func TestPrintLocalByNameUsesDebugName(t *testing.T) {
	machine := vmWithNamedLocal(t, "counter", value.Int(42))
	var out bytes.Buffer
	state := newReplState()

	action := handleCommand("print counter", machine, state, &out)
	require.Equal(t, actionContinue, action)
	require.Contains(t, out.String(), "counter = Int(42)")
}

func TestPrintLocalByNameReportsUnknownLocal(t *testing.T) {
	machine := vmWithNamedLocal(t, "counter", value.Int(42))
	var out bytes.Buffer
	state := newReplState()

	handleCommand("p missing", machine, state, &out)
	require.Contains(t, out.String(), "unknown local 'missing'")
}

func TestContinueBreaksReplLoop(t *testing.T) {
	machine := vmWithNamedLocal(t, "x", value.Int(1))
	var out bytes.Buffer
	state := newReplState()

	require.True(t, handleCommand("continue", machine, state, &out).isBreak())
	require.True(t, handleCommand("c", machine, state, &out).isBreak())
}

func TestBreakSetsOffsetBreakpoint(t *testing.T) {
	machine := vmWithNamedLocal(t, "x", value.Int(1))
	var out bytes.Buffer
	state := newReplState()

	handleCommand("break 5", machine, state, &out)
	_, ok := state.breakpoints[5]
	require.True(t, ok)
	require.Contains(t, out.String(), "breakpoint set at 5")
}

func TestBreakLineSetsLineBreakpoint(t *testing.T) {
	machine := vmWithNamedLocal(t, "x", value.Int(1))
	var out bytes.Buffer
	state := newReplState()

	handleCommand("break line 10", machine, state, &out)
	_, ok := state.lineBreakpoints[10]
	require.True(t, ok)
}

func TestStepAndNextSetStepMode(t *testing.T) {
	machine := vmWithNamedLocal(t, "x", value.Int(1))
	var out bytes.Buffer
	state := newReplState()

	handleCommand("step", machine, state, &out)
	require.Equal(t, stepStep, state.step.kind)

	state.step = Running
	handleCommand("next", machine, state, &out)
	require.Equal(t, stepOver, state.step.kind)
}

func TestUnknownCommandReportsError(t *testing.T) {
	machine := vmWithNamedLocal(t, "x", value.Int(1))
	var out bytes.Buffer
	state := newReplState()

	handleCommand("frobnicate", machine, state, &out)
	require.Contains(t, out.String(), "unknown command")
}

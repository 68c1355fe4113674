package vm_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

func mustRun(t *testing.T, a *asm.Assembler) *vm.Vm {
	t.Helper()
	p, err := a.Finish(false)
	require.NoError(t, err)
	v := vm.New(p, 4)
	status, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, vm.Halted, status)
	return v
}

func TestAddWrapsOnOverflow(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(1<<63-1)))
	require.NoError(t, a.PushConst(value.Int(1)))
	a.Add()
	a.Ret()
	v := mustRun(t, a)
	require.Equal(t, value.Int(-1<<63), v.Stack()[len(v.Stack())-1])
}

func TestAddPromotesToFloat(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(2)))
	require.NoError(t, a.PushConst(value.Float(0.5)))
	a.Add()
	a.Ret()
	v := mustRun(t, a)
	require.Equal(t, value.Float(2.5), v.Stack()[len(v.Stack())-1])
}

func TestAddConcatenatesStrings(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.String("foo")))
	require.NoError(t, a.PushConst(value.String("bar")))
	a.Add()
	a.Ret()
	v := mustRun(t, a)
	require.Equal(t, value.String("foobar"), v.Stack()[len(v.Stack())-1])
}

func TestIntDivisionByZero(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(10)))
	require.NoError(t, a.PushConst(value.Int(0)))
	a.Div()
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)
	v := vm.New(p, 0)
	_, err = v.Run()
	require.Error(t, err)
	var ve *vm.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "DivisionByZero", ve.Kind)
}

func TestShiftRejectsOutOfRangeAmount(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(1)))
	require.NoError(t, a.PushConst(value.Int(64)))
	a.Shl()
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)
	v := vm.New(p, 0)
	_, err = v.Run()
	require.Error(t, err)
	var ve *vm.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "InvalidShift", ve.Kind)
}

func TestCeqIsStructuralEquality(t *testing.T) {
	av := asm.New()
	require.NoError(t, av.PushConst(value.Array([]value.Value{value.Int(1), value.Int(2)})))
	require.NoError(t, av.PushConst(value.Array([]value.Value{value.Int(1), value.Int(2)})))
	av.Ceq()
	av.Ret()
	v := mustRun(t, av)
	require.Equal(t, value.Bool(true), v.Stack()[len(v.Stack())-1])
}

func TestLdlocStlocRoundTrip(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(42)))
	a.Stloc(2)
	a.Ldloc(2)
	a.Ret()
	v := mustRun(t, a)
	require.Equal(t, value.Int(42), v.Stack()[len(v.Stack())-1])
	require.Equal(t, value.Int(42), v.Locals()[2])
}

func TestBrfalseSkipsBranch(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Bool(false)))
	a.BrfalseLabel("skip")
	require.NoError(t, a.PushConst(value.Int(1)))
	a.Label("skip")
	require.NoError(t, a.PushConst(value.Int(2)))
	a.Ret()
	v := mustRun(t, a)
	require.Equal(t, value.Int(2), v.Stack()[len(v.Stack())-1])
}

func TestBuiltinLenAndPrint(t *testing.T) {
	var out bytes.Buffer
	a := asm.New()
	require.NoError(t, a.PushConst(value.String("hello")))
	a.Dup()                // ["hello", "hello"]
	a.Call(bLen(t), 1)      // pop one "hello", push 5 -> ["hello", 5]
	a.Stloc(0)              // pop 5 into local 0 -> ["hello"]
	a.Call(bPrint(t), 1)    // pop "hello", print it -> []
	a.Ldloc(0)              // push 5 back
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)
	v := vm.New(p, 1, vm.WithStdout(&out))
	status, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, vm.Halted, status)
	require.Equal(t, value.Int(5), v.Stack()[len(v.Stack())-1])
	require.Equal(t, "hello\n", out.String())
}

func bLen(t *testing.T) uint16 {
	t.Helper()
	return 0 // builtin.Len ordinal
}

func bPrint(t *testing.T) uint16 {
	t.Helper()
	return 16 // builtin.Print ordinal
}

type stubHost struct {
	calls  int
	yield  bool
	result []value.Value
}

func (s *stubHost) Call(v *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
	s.calls++
	if s.yield && s.calls == 1 {
		return vm.Yield, nil
	}
	return vm.Returned(s.result...), nil
}

func TestHostCallYieldResume(t *testing.T) {
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(7)))
	a.SetImports([]value.HostImport{{Name: "wait_for", Arity: 1}})
	a.Call(0x8000, 1)
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)

	host := &stubHost{yield: true, result: []value.Value{value.Int(99)}}
	registry := vm.NewHostFunctionRegistry()
	registry.Register("wait_for", 1, host)

	v := vm.New(p, 0)
	require.NoError(t, registry.BindVM(v))

	status, err := v.Run()
	require.NoError(t, err)
	require.Equal(t, vm.Yielded, status)
	require.Equal(t, 1, host.calls)

	status, err = v.Run()
	require.NoError(t, err)
	require.Equal(t, vm.Halted, status)
	require.Equal(t, 2, host.calls)
	require.Equal(t, value.Int(99), v.Stack()[len(v.Stack())-1])
}

func TestHostFunctionRegistryRejectsArityMismatch(t *testing.T) {
	a := asm.New()
	a.SetImports([]value.HostImport{{Name: "foo", Arity: 2}})
	a.Call(0x8000, 2)
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)

	registry := vm.NewHostFunctionRegistry()
	registry.Register("foo", 1, &stubHost{})

	v := vm.New(p, 0)
	err = registry.BindVM(v)
	require.Error(t, err)
	var ve *vm.Error
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "InvalidCallArity", ve.Kind)
}

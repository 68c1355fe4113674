package jit

import (
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

// runInterpreted replays trace's steps directly against v's real tagged
// Value stack/locals, one step at a time, without going back through
// Run's opcode dispatch. It is the fallback for any trace native codegen
// couldn't handle (calls, or any step outside native_amd64.go's restricted
// set) — every TraceStep the recorder can produce is supported here, so
// falling back never loses correctness, only the native speedup.
//
// It returns the bytecode ip execution should resume at: a GuardFalse
// exit_ip, the trace's own root_ip after a loop-back, or a Call step's own
// ip when that call yields; the caller sets the Vm's ip there and returns
// to Run's dispatch. When the trace reaches its Ret step, halted is true
// and nextIP is 0.
func runInterpreted(v *vm.Vm, trace *Trace) (nextIP uint32, halted bool, err error) {
	for _, step := range trace.Steps {
		switch step.Op {
		case StepNop:
			// no-op
		case StepLdc:
			program := v.Program()
			if int(step.Const) >= len(program.Constants) {
				return 0, true, errf("invalid constant index %d", step.Const)
			}
			v.Push(program.Constants[step.Const])
		case StepAdd, StepSub, StepMul, StepDiv:
			if err := binArith(v, step.Op); err != nil {
				return 0, true, err
			}
		case StepShl, StepShr:
			if err := shiftOp(v, step.Op); err != nil {
				return 0, true, err
			}
		case StepNeg:
			a, err := v.Pop()
			if err != nil {
				return 0, true, err
			}
			switch a.Kind {
			case value.KindInt:
				v.Push(value.Int(-a.I))
			case value.KindFloat:
				v.Push(value.Float(-a.F))
			default:
				return 0, true, errf("type mismatch: expected int or float")
			}
		case StepCeq, StepClt, StepCgt:
			if err := compareOp(v, step.Op); err != nil {
				return 0, true, err
			}
		case StepPop:
			if _, err := v.Pop(); err != nil {
				return 0, true, err
			}
		case StepDup:
			top, err := v.Pop()
			if err != nil {
				return 0, true, err
			}
			v.Push(top)
			v.Push(top)
		case StepLdloc:
			locals := v.Locals()
			if int(step.Local) >= len(locals) {
				return 0, true, errf("invalid local index %d", step.Local)
			}
			v.Push(locals[step.Local])
		case StepStloc:
			val, err := v.Pop()
			if err != nil {
				return 0, true, err
			}
			locals := v.Locals()
			if int(step.Local) >= len(locals) {
				return 0, true, errf("invalid local index %d", step.Local)
			}
			locals[step.Local] = val
		case StepCall:
			args := make([]value.Value, step.CallArgc)
			for i := int(step.CallArgc) - 1; i >= 0; i-- {
				a, err := v.Pop()
				if err != nil {
					return 0, true, err
				}
				args[i] = a
			}
			results, yielded, err := v.CallBuiltinOrHost(int(step.CallIndex), args)
			if err != nil {
				return 0, true, err
			}
			if yielded {
				// Resume the Call opcode itself on the next Run; the
				// trace can't continue mid-yield.
				return step.CallIP, false, nil
			}
			for _, r := range results {
				v.Push(r)
			}
		case StepGuardFalse:
			cond, err := v.Pop()
			if err != nil {
				return 0, true, err
			}
			if cond.Kind != value.KindBool {
				return 0, true, errf("type mismatch: expected bool")
			}
			if !cond.B {
				return step.ExitIP, false, nil
			}
		case StepJumpToRoot:
			return trace.RootIP, false, nil
		case StepRet:
			return 0, true, nil
		}
	}
	return trace.RootIP, false, nil
}

func binArith(v *vm.Vm, op TraceOp) error {
	b, err := v.Pop()
	if err != nil {
		return err
	}
	a, err := v.Pop()
	if err != nil {
		return err
	}
	if op == StepAdd {
		if a.Kind == value.KindString && b.Kind == value.KindString {
			v.Push(value.String(a.S + b.S))
			return nil
		}
		if a.Kind == value.KindArray && b.Kind == value.KindArray {
			out := append(append([]value.Value(nil), a.A...), b.A...)
			v.Push(value.Array(out))
			return nil
		}
	}
	if a.Kind == value.KindInt && b.Kind == value.KindInt {
		if op == StepDiv && b.I == 0 {
			return errf("division by zero")
		}
		v.Push(value.Int(intOp(op, a.I, b.I)))
		return nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return errf("type mismatch: expected int or float")
	}
	var r float64
	switch op {
	case StepAdd:
		r = af + bf
	case StepSub:
		r = af - bf
	case StepMul:
		r = af * bf
	case StepDiv:
		r = af / bf
	}
	v.Push(value.Float(r))
	return nil
}

func intOp(op TraceOp, a, b int64) int64 {
	switch op {
	case StepAdd:
		return a + b
	case StepSub:
		return a - b
	case StepMul:
		return a * b
	case StepDiv:
		if a == -1<<63 && b == -1 {
			return -1 << 63
		}
		return a / b
	}
	return 0
}

func shiftOp(v *vm.Vm, op TraceOp) error {
	b, err := v.Pop()
	if err != nil {
		return err
	}
	a, err := v.Pop()
	if err != nil {
		return err
	}
	if a.Kind != value.KindInt || b.Kind != value.KindInt {
		return errf("type mismatch: expected int")
	}
	if b.I < 0 || b.I > 63 {
		return errf("invalid shift amount %d", b.I)
	}
	shift := uint(b.I)
	if op == StepShl {
		v.Push(value.Int(a.I << shift))
	} else {
		v.Push(value.Int(a.I >> shift))
	}
	return nil
}

func compareOp(v *vm.Vm, op TraceOp) error {
	b, err := v.Pop()
	if err != nil {
		return err
	}
	a, err := v.Pop()
	if err != nil {
		return err
	}
	if op == StepCeq {
		v.Push(value.Bool(value.Equal(a, b)))
		return nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return errf("type mismatch: expected int or float")
	}
	if op == StepClt {
		v.Push(value.Bool(af < bf))
	} else {
		v.Push(value.Bool(af > bf))
	}
	return nil
}

func toFloat(v value.Value) (float64, bool) {
	switch v.Kind {
	case value.KindInt:
		return float64(v.I), true
	case value.KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

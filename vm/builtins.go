package vm

import (
	"fmt"

	"github.com/wudi/edgevm/value"
)

// The functions in this file implement the pure (non-IO) half of the
// closed builtin table (§4.7); Values are immutable, so every "mutating"
// builtin (array_push, set) returns a new Value rather than aliasing its
// argument.

func builtinLen(v value.Value) ([]value.Value, error) {
	switch v.Kind {
	case value.KindString:
		return []value.Value{value.Int(int64(len(v.S)))}, nil
	case value.KindArray:
		return []value.Value{value.Int(int64(len(v.A)))}, nil
	case value.KindMap:
		return []value.Value{value.Int(int64(len(v.M)))}, nil
	default:
		return nil, typeMismatch("string, array or map")
	}
}

func builtinSlice(v, start, end value.Value) ([]value.Value, error) {
	if start.Kind != value.KindInt || end.Kind != value.KindInt {
		return nil, typeMismatch("int")
	}
	lo, hi := start.I, end.I
	switch v.Kind {
	case value.KindString:
		if lo < 0 || hi < lo || hi > int64(len(v.S)) {
			return nil, hostError(fmt.Sprintf("slice bounds [%d:%d] out of range for length %d", lo, hi, len(v.S)))
		}
		return []value.Value{value.String(v.S[lo:hi])}, nil
	case value.KindArray:
		if lo < 0 || hi < lo || hi > int64(len(v.A)) {
			return nil, hostError(fmt.Sprintf("slice bounds [%d:%d] out of range for length %d", lo, hi, len(v.A)))
		}
		out := make([]value.Value, hi-lo)
		copy(out, v.A[lo:hi])
		return []value.Value{value.Array(out)}, nil
	default:
		return nil, typeMismatch("string or array")
	}
}

func builtinConcat(a, b value.Value) ([]value.Value, error) {
	if a.Kind == value.KindString && b.Kind == value.KindString {
		return []value.Value{value.String(a.S + b.S)}, nil
	}
	if a.Kind == value.KindArray && b.Kind == value.KindArray {
		out := make([]value.Value, 0, len(a.A)+len(b.A))
		out = append(out, a.A...)
		out = append(out, b.A...)
		return []value.Value{value.Array(out)}, nil
	}
	return nil, typeMismatch("matching string or array operands")
}

func builtinArrayPush(arr, elem value.Value) ([]value.Value, error) {
	if arr.Kind != value.KindArray {
		return nil, typeMismatch("array")
	}
	out := make([]value.Value, len(arr.A)+1)
	copy(out, arr.A)
	out[len(arr.A)] = elem
	return []value.Value{value.Array(out)}, nil
}

func builtinGet(container, key value.Value) ([]value.Value, error) {
	switch container.Kind {
	case value.KindArray:
		if key.Kind != value.KindInt {
			return nil, typeMismatch("int")
		}
		if key.I < 0 || key.I >= int64(len(container.A)) {
			return nil, hostError(fmt.Sprintf("array index %d out of range for length %d", key.I, len(container.A)))
		}
		return []value.Value{container.A[key.I]}, nil
	case value.KindMap:
		for _, e := range container.M {
			if value.Equal(e.Key, key) {
				return []value.Value{e.Value}, nil
			}
		}
		return []value.Value{value.Null()}, nil
	default:
		return nil, typeMismatch("array or map")
	}
}

func builtinSet(container, key, val value.Value) ([]value.Value, error) {
	switch container.Kind {
	case value.KindArray:
		if key.Kind != value.KindInt {
			return nil, typeMismatch("int")
		}
		if key.I < 0 || key.I >= int64(len(container.A)) {
			return nil, hostError(fmt.Sprintf("array index %d out of range for length %d", key.I, len(container.A)))
		}
		out := append([]value.Value(nil), container.A...)
		out[key.I] = val
		return []value.Value{value.Array(out)}, nil
	case value.KindMap:
		out := make([]value.MapEntry, len(container.M))
		copy(out, container.M)
		for i, e := range out {
			if value.Equal(e.Key, key) {
				out[i].Value = val
				return []value.Value{value.Map(out)}, nil
			}
		}
		out = append(out, value.MapEntry{Key: key, Value: val})
		return []value.Value{value.Map(out)}, nil
	default:
		return nil, typeMismatch("array or map")
	}
}

func (v *Vm) builtinPrint(val value.Value) ([]value.Value, error) {
	fmt.Fprintln(v.stdout, formatValue(val))
	return nil, nil
}

func formatValue(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "null"
	case value.KindInt:
		return fmt.Sprintf("%d", v.I)
	case value.KindFloat:
		return fmt.Sprintf("%g", v.F)
	case value.KindBool:
		return fmt.Sprintf("%t", v.B)
	case value.KindString:
		return v.S
	case value.KindArray:
		out := "["
		for i, e := range v.A {
			if i > 0 {
				out += ", "
			}
			out += formatValue(e)
		}
		return out + "]"
	case value.KindMap:
		out := "{"
		for i, e := range v.M {
			if i > 0 {
				out += ", "
			}
			out += formatValue(e.Key) + ": " + formatValue(e.Value)
		}
		return out + "}"
	default:
		return "?"
	}
}

func (v *Vm) requireIO() (IOHost, error) {
	if v.io == nil {
		return nil, hostError("no IOHost bound to this vm")
	}
	return v.io, nil
}

func (v *Vm) builtinIoOpen(path, mode value.Value) ([]value.Value, error) {
	if path.Kind != value.KindString || mode.Kind != value.KindString {
		return nil, typeMismatch("string")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	handle, err := io.Open(path.S, mode.S)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.Int(handle)}, nil
}

func (v *Vm) builtinIoPopen(cmd, mode value.Value) ([]value.Value, error) {
	if cmd.Kind != value.KindString || mode.Kind != value.KindString {
		return nil, typeMismatch("string")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	handle, err := io.Popen(cmd.S, mode.S)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.Int(handle)}, nil
}

func (v *Vm) builtinIoReadAll(handle value.Value) ([]value.Value, error) {
	if handle.Kind != value.KindInt {
		return nil, typeMismatch("int")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(handle.I)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.String(data)}, nil
}

func (v *Vm) builtinIoReadLine(handle value.Value) ([]value.Value, error) {
	if handle.Kind != value.KindInt {
		return nil, typeMismatch("int")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	line, err := io.ReadLine(handle.I)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.String(line)}, nil
}

func (v *Vm) builtinIoWrite(handle, data value.Value) ([]value.Value, error) {
	if handle.Kind != value.KindInt || data.Kind != value.KindString {
		return nil, typeMismatch("int handle and string data")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	n, err := io.Write(handle.I, data.S)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.Int(n)}, nil
}

func (v *Vm) builtinIoFlush(handle value.Value) ([]value.Value, error) {
	if handle.Kind != value.KindInt {
		return nil, typeMismatch("int")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	if err := io.Flush(handle.I); err != nil {
		return nil, hostError(err.Error())
	}
	return nil, nil
}

func (v *Vm) builtinIoClose(handle value.Value) ([]value.Value, error) {
	if handle.Kind != value.KindInt {
		return nil, typeMismatch("int")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	if err := io.Close(handle.I); err != nil {
		return nil, hostError(err.Error())
	}
	return nil, nil
}

func (v *Vm) builtinIoExists(path value.Value) ([]value.Value, error) {
	if path.Kind != value.KindString {
		return nil, typeMismatch("string")
	}
	io, err := v.requireIO()
	if err != nil {
		return nil, err
	}
	exists, err := io.Exists(path.S)
	if err != nil {
		return nil, hostError(err.Error())
	}
	return []value.Value{value.Bool(exists)}, nil
}

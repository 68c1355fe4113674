package recording

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/value"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := New()
	rec.Append(Frame{
		IP:   0,
		Line: 1,
		Locals: []LocalSlot{
			{Slot: 0, Value: value.Int(42)},
			{Slot: 1, Value: value.String("hi")},
		},
		Stack: []value.Value{value.Bool(true), value.Float(1.5)},
	})
	rec.Append(Frame{
		IP:   12,
		Line: 0,
		Stack: []value.Value{
			value.Array([]value.Value{value.Int(1), value.Int(2)}),
			value.Map([]value.MapEntry{{Key: value.String("k"), Value: value.Int(9)}}),
		},
	})

	blob := Encode(rec)
	require.Equal(t, "PDR1", string(blob[:4]))

	decoded, err := Decode(blob)
	require.NoError(t, err)
	require.Len(t, decoded.Frames, 2)
	require.Equal(t, uint32(0), decoded.Frames[0].IP)
	require.Equal(t, uint32(1), decoded.Frames[0].Line)
	require.Equal(t, value.Int(42), decoded.Frames[0].Locals[0].Value)
	require.Equal(t, value.String("hi"), decoded.Frames[0].Locals[1].Value)
	require.Equal(t, value.Bool(true), decoded.Frames[0].Stack[0])
	require.Equal(t, value.Float(1.5), decoded.Frames[0].Stack[1])

	arr := decoded.Frames[1].Stack[0]
	require.Equal(t, value.KindArray, arr.Kind)
	require.Equal(t, value.Int(1), arr.A[0])
	require.Equal(t, value.Int(2), arr.A[1])

	m := decoded.Frames[1].Stack[1]
	require.Equal(t, value.KindMap, m.Kind)
	require.Equal(t, value.String("k"), m.M[0].Key)
	require.Equal(t, value.Int(9), m.M[0].Value)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("XXXX\x00\x00\x00\x00"))
	require.Error(t, err)
	var recErr *Error
	require.ErrorAs(t, err, &recErr)
	require.Equal(t, "InvalidMagic", recErr.Kind)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	rec := New()
	rec.Append(Frame{IP: 0, Line: 1})
	blob := append(Encode(rec), 0xFF)
	_, err := Decode(blob)
	require.Error(t, err)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	rec := New()
	rec.Append(Frame{IP: 0, Line: 1, Stack: []value.Value{value.Int(5)}})
	blob := Encode(rec)
	_, err := Decode(blob[:len(blob)-2])
	require.Error(t, err)
}

func TestReplayStepsThroughFrames(t *testing.T) {
	rec := New()
	rec.Append(Frame{IP: 0, Line: 1, CallDepth: 0})
	rec.Append(Frame{IP: 5, Line: 2, CallDepth: 1})
	rec.Append(Frame{IP: 9, Line: 3, CallDepth: 0})

	r := NewReplay(rec, nil)
	var out strings8Buf
	r.Command("step", &out)
	require.Contains(t, out.String(), "line 2")

	r.Command("next", &out)
	require.Contains(t, out.String(), "line 3")
}

func TestReplayLineBreakpointStopsContinue(t *testing.T) {
	rec := New()
	rec.Append(Frame{IP: 0, Line: 1})
	rec.Append(Frame{IP: 5, Line: 2})
	rec.Append(Frame{IP: 9, Line: 3})

	r := NewReplay(rec, nil)
	var out strings8Buf
	r.Command("break line 3", &out)
	r.Command("continue", &out)
	require.Contains(t, out.String(), "line 3")
}

// strings8Buf is a tiny io.Writer accumulating everything written to it,
// avoiding a bytes.Buffer import purely for test plumbing.
type strings8Buf struct{ s string }

func (b *strings8Buf) Write(p []byte) (int, error) {
	b.s += string(p)
	return len(p), nil
}

func (b *strings8Buf) String() string { return b.s }

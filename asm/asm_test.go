package asm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/value"
)

func TestConstantInterningDedupes(t *testing.T) {
	a := asm.New()
	i1, err := a.AddConstant(value.Int(5))
	require.NoError(t, err)
	i2, err := a.AddConstant(value.Int(5))
	require.NoError(t, err)
	require.Equal(t, i1, i2)

	f1, err := a.AddConstant(value.Float(1.5))
	require.NoError(t, err)
	f2, err := a.AddConstant(value.Float(1.5))
	require.NoError(t, err)
	require.Equal(t, f1, f2)
	require.NotEqual(t, i1, f1)
}

func TestArrayConstantIsCompileError(t *testing.T) {
	a := asm.New()
	_, err := a.AddConstant(value.Array(nil))
	require.Error(t, err)
}

func TestLabelFixupRoundTrip(t *testing.T) {
	a := asm.New()
	a.PushConst(value.Int(1))
	a.BrLabel("end")
	a.PushConst(value.Int(99))
	require.NoError(t, a.Label("end"))
	a.Ret()

	prog, err := a.Finish(false)
	require.NoError(t, err)
	require.Len(t, prog.Constants, 2)
	// br target (4 LE bytes starting right after the br opcode at offset 5)
	// should equal the code length at the point Label("end") was called:
	// ldc(5) + br-opcode-and-operand(5) + ldc(5) = 15.
	require.Equal(t, byte(15), prog.Code[6])
}

func TestUnresolvedLabelIsHardError(t *testing.T) {
	a := asm.New()
	a.BrLabel("nowhere")
	_, err := a.Finish(false)
	require.Error(t, err)
}

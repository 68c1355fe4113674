package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/wire"
)

func buildAddProgram(t *testing.T) *value.Program {
	t.Helper()
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(2)))
	require.NoError(t, a.PushConst(value.Int(3)))
	a.Add()
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)
	return p
}

func TestRoundTrip(t *testing.T) {
	p := buildAddProgram(t)
	encoded, err := wire.Encode(p)
	require.NoError(t, err)

	decoded, err := wire.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, p.Constants, decoded.Constants)
	require.Equal(t, p.Code, decoded.Code)

	reencoded, err := wire.Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := wire.Decode([]byte("XXXX"))
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedConstantLength(t *testing.T) {
	p := buildAddProgram(t)
	encoded, err := wire.Encode(p)
	require.NoError(t, err)

	// Flip the constant-count field to an absurd value; decode must fail
	// cleanly (UnexpectedEof or LengthTooLarge), never panic (scenario 6).
	corrupt := append([]byte(nil), encoded...)
	corrupt[4+2+2] = 0xff
	corrupt[4+2+2+1] = 0xff
	corrupt[4+2+2+2] = 0xff
	corrupt[4+2+2+3] = 0x7f

	_, err = wire.Decode(corrupt)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedProgram(t *testing.T) {
	p := buildAddProgram(t)
	result, err := wire.Validate(p)
	require.NoError(t, err)
	require.Equal(t, -1, result.MaxLocalIndex)
}

func TestValidateRejectsOutOfRangeConstant(t *testing.T) {
	a := asm.New()
	a.Ldc(7)
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)

	_, err = wire.Validate(p)
	require.Error(t, err)
	var ve *wire.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "InvalidConstant", ve.Kind)
}

func TestValidateRejectsMidInstructionJumpTarget(t *testing.T) {
	a := asm.New()
	a.Br(2) // targets the middle of its own 5-byte instruction
	p, err := a.Finish(false)
	require.NoError(t, err)

	_, err = wire.Validate(p)
	require.Error(t, err)
	var ve *wire.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "InvalidJumpTarget", ve.Kind)
}

func TestValidateReportsMaxLocalIndex(t *testing.T) {
	a := asm.New()
	a.PushConst(value.Int(1))
	a.Stloc(3)
	a.Ldloc(3)
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)

	result, err := wire.Validate(p)
	require.NoError(t, err)
	require.Equal(t, 3, result.MaxLocalIndex)
}

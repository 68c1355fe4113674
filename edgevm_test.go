package edgevm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/wire"
)

func assembleConstProgram(t *testing.T) []byte {
	t.Helper()
	a := asm.New()
	require.NoError(t, a.PushConst(value.Int(7)))
	a.Stloc(0)
	a.Ret()
	a.AddLocal(0, "x")
	p, err := a.Finish(true)
	require.NoError(t, err)
	blob, err := wire.Encode(p)
	require.NoError(t, err)
	return blob
}

func TestApplyProgramAcceptsValidBlob(t *testing.T) {
	report, compiled, err := ApplyProgram(assembleConstProgram(t))
	require.NoError(t, err)
	require.True(t, report.Applied)
	require.Equal(t, 1, report.Constants)
	require.Equal(t, 1, report.LocalCount)
	require.NotEmpty(t, report.HumanCodeSize())
	require.NotNil(t, compiled)
	require.Equal(t, 1, compiled.Locals)
}

func TestApplyProgramRejectsGarbage(t *testing.T) {
	report, compiled, err := ApplyProgram([]byte("not a program"))
	require.NoError(t, err)
	require.False(t, report.Applied)
	require.NotEmpty(t, report.Message)
	require.Nil(t, compiled)
}

func TestCompileAndApplyRejectsBadSource(t *testing.T) {
	report, compiled, err := CompileAndApply("broken.rss", "let x = & ;")
	require.NoError(t, err)
	require.False(t, report.Applied)
	require.NotEmpty(t, report.Message)
	require.Nil(t, compiled)
}

func TestDebugSessionLifecycle(t *testing.T) {
	blob := assembleConstProgram(t)
	_, compiled, err := ApplyProgram(blob)
	require.NoError(t, err)

	session, status, err := StartDebugSession(compiled, "attach")
	require.NoError(t, err)
	require.True(t, status.Attached)

	resp, err := session.DebugCommand("continue", time.Second)
	require.NoError(t, err)
	require.Equal(t, "running", resp.Phase)

	require.NoError(t, session.StopDebugSession())
}

package reqctx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/hostabi/ratelimit"
	"github.com/wudi/edgevm/value"
)

// buildRateLimitProgram assembles a program equivalent to:
//
//	if rate_limit_allow(client_id) { body_set("ok") } else { body_set("blocked") }
//
// matching Testable-Properties scenario 5's rate-limit gate.
func buildRateLimitProgram(t *testing.T, clientID string) *value.CompiledProgram {
	t.Helper()
	a := asm.New()
	a.SetImports([]value.HostImport{
		{Name: "rate_limit_allow", Arity: 1},
		{Name: "body_set", Arity: 1},
	})

	require.NoError(t, a.PushConst(value.String(clientID)))
	a.Call(bytecode.BuiltinBase, 1)
	a.BrfalseLabel("blocked")

	require.NoError(t, a.PushConst(value.String("ok")))
	a.Call(bytecode.BuiltinBase+1, 1)
	a.BrLabel("end")

	require.NoError(t, a.Label("blocked"))
	require.NoError(t, a.PushConst(value.String("blocked")))
	a.Call(bytecode.BuiltinBase+1, 1)

	require.NoError(t, a.Label("end"))
	a.Ret()

	p, err := a.Finish(false)
	require.NoError(t, err)
	return &value.CompiledProgram{Program: p, Locals: 0}
}

func TestRunForRequestAppliesRateLimit(t *testing.T) {
	program := buildRateLimitProgram(t, "client-1")
	binder := NewBinder(Limiters{Default: ratelimit.New(2, time.Minute)})

	for i, want := range []string{"ok", "ok", "blocked"} {
		ctx := &RequestContext{Method: "GET", Path: "/", ClientID: "client-1"}
		out, err := RunForRequest(program, binder, ctx)
		require.NoError(t, err)
		require.NotNil(t, out.ResponseContent, "call %d", i)
		require.Equal(t, want, *out.ResponseContent, "call %d", i)
	}
}

func TestRunForRequestTracksHeadersAndUpstream(t *testing.T) {
	a := asm.New()
	a.SetImports([]value.HostImport{
		{Name: "header_set", Arity: 2},
		{Name: "upstream_set", Arity: 1},
	})
	require.NoError(t, a.PushConst(value.String("x-proxied-by")))
	require.NoError(t, a.PushConst(value.String("edgevm")))
	a.Call(bytecode.BuiltinBase, 2)
	require.NoError(t, a.PushConst(value.String("origin-a")))
	a.Call(bytecode.BuiltinBase+1, 1)
	a.Ret()
	p, err := a.Finish(false)
	require.NoError(t, err)

	binder := NewBinder(Limiters{})
	ctx := &RequestContext{Method: "GET", Path: "/x"}
	out, err := RunForRequest(&value.CompiledProgram{Program: p}, binder, ctx)
	require.NoError(t, err)
	require.Equal(t, "edgevm", out.ResponseHeaders["x-proxied-by"])
	require.NotNil(t, out.Upstream)
	require.Equal(t, "origin-a", *out.Upstream)
}

func TestRunForRequestWithoutLimiterErrors(t *testing.T) {
	program := buildRateLimitProgram(t, "client-1")
	binder := NewBinder(Limiters{})
	ctx := &RequestContext{ClientID: "client-1"}
	_, err := RunForRequest(program, binder, ctx)
	require.Error(t, err)
}

// Package reqctx implements the run_for_request contract of §6.4: binding
// a compiled Program's host imports to one HTTP request's data (headers,
// body, client identity) and collecting the VmExecutionOutcome the
// program produced, entirely through vm.HostFunctionRegistry.Register /
// HostFunction.Call — it never touches VM internals directly.
package reqctx

import (
	"github.com/wudi/edgevm/hostabi/ratelimit"
	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

// RequestContext is the inbound request data a program may read and the
// accumulator its host calls write into.
type RequestContext struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    string

	// ClientID identifies the calling client (edgevmctl run fills it from
	// --client-id). rate_limit_allow does not read it: it keys its window
	// on the string the program passes as its argument.
	ClientID string

	responseHeaders map[string]string
	responseContent *string
	responseStatus  *int64
	upstream        *string
}

// VmExecutionOutcome is §6.4's run_for_request return value.
type VmExecutionOutcome struct {
	ResponseHeaders map[string]string
	ResponseContent *string
	ResponseStatus  *int64
	Upstream        *string

	RequestMethod string
	RequestPath   string
	RequestBody   string
}

// Limiters lets a caller plug in a ratelimit.Limiter; a program invokes
// rate_limit_allow(key) against the Default Limiter the binder was
// constructed with.
type Limiters struct {
	Default *ratelimit.Limiter
}

// Binder builds a fresh vm.HostFunctionRegistry bound to one
// RequestContext, registering the host ABI functions a compiled program
// may import: header_get/header_set, body_get/body_set, status_set,
// upstream_set, and rate_limit_allow.
type Binder struct {
	limiters Limiters
}

// NewBinder returns a Binder that resolves rate_limit_allow against
// limiters.Default. A nil Default causes any rate_limit_allow call to
// fail with a HostError, mirroring requireIO's "no host bound" shape.
func NewBinder(limiters Limiters) *Binder {
	return &Binder{limiters: limiters}
}

// Registry returns a new registry with every host function bound to ctx,
// ready for HostFunctionRegistry.BindVM.
func (b *Binder) Registry(ctx *RequestContext) *vm.HostFunctionRegistry {
	if ctx.responseHeaders == nil {
		ctx.responseHeaders = make(map[string]string)
	}
	r := vm.NewHostFunctionRegistry()

	r.Register("header_get", 1, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		name := args[0].S
		if v, ok := ctx.Headers[name]; ok {
			return vm.Returned(value.String(v)), nil
		}
		return vm.Returned(value.String("")), nil
	}))

	r.Register("header_set", 2, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		ctx.responseHeaders[args[0].S] = args[1].S
		return vm.Returned(), nil
	}))

	r.Register("body_get", 0, vm.HostFunc(func(_ *vm.Vm, _ []value.Value) (vm.CallOutcome, error) {
		return vm.Returned(value.String(ctx.Body)), nil
	}))

	r.Register("body_set", 1, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		content := args[0].S
		ctx.responseContent = &content
		return vm.Returned(), nil
	}))

	r.Register("status_set", 1, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		status := args[0].I
		ctx.responseStatus = &status
		return vm.Returned(), nil
	}))

	r.Register("upstream_set", 1, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		name := args[0].S
		ctx.upstream = &name
		return vm.Returned(), nil
	}))

	r.Register("rate_limit_allow", 1, vm.HostFunc(func(_ *vm.Vm, args []value.Value) (vm.CallOutcome, error) {
		if b.limiters.Default == nil {
			return vm.CallOutcome{}, hostError("no rate limiter bound to this host")
		}
		key := args[0].S
		return vm.Returned(value.Bool(b.limiters.Default.Allow(key))), nil
	}))

	return r
}

type reqctxError struct{ msg string }

func (e *reqctxError) Error() string { return e.msg }

func hostError(msg string) error { return &reqctxError{msg: msg} }

// RunForRequest implements §6.4's run_for_request: it binds program's
// imports against a fresh per-request registry, runs the Vm to
// completion (resuming on every Yield, since request handling has no
// actual async boundary at this layer), and returns the accumulated
// outcome. program.Locals sizes the Vm's locals vector, matching
// wire.ValidateResult.MaxLocalIndex+1 the way edgevm.ApplyProgram
// records it.
func RunForRequest(program *value.CompiledProgram, binder *Binder, ctx *RequestContext) (VmExecutionOutcome, error) {
	registry := binder.Registry(ctx)
	machine := vm.New(program.Program, program.Locals)
	if err := registry.BindVM(machine); err != nil {
		return VmExecutionOutcome{}, err
	}

	for {
		status, err := machine.Run()
		if err != nil {
			return VmExecutionOutcome{}, err
		}
		if status == vm.Halted {
			break
		}
	}

	return VmExecutionOutcome{
		ResponseHeaders: ctx.responseHeaders,
		ResponseContent: ctx.responseContent,
		ResponseStatus:  ctx.responseStatus,
		Upstream:        ctx.upstream,
		RequestMethod:   ctx.Method,
		RequestPath:     ctx.Path,
		RequestBody:     ctx.Body,
	}, nil
}

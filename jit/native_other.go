//go:build !(amd64 && (linux || darwin))

package jit

import "errors"

// nativeTraceFn mirrors native_amd64.go's signature so cache.go and hook.go
// compile identically regardless of target; on this build there is simply
// no encoder behind it.
type nativeTraceFn func(stack *int64, sp int64, locals *int64, exitIPOut *int64, outSPOut *int64) int64

var errNativeUnsupported = errors.New("native codegen is only implemented for amd64 linux/darwin")

// compileNative always fails here. On amd64/windows, the one target of this
// build that nativeJitSupported accepts, traces therefore fall back to the
// TraceStep interpreter (interp.go); other targets never record a trace
// (see nyiReference's "Unsupported native JIT targets" entry).
func compileNative(trace *Trace) (*ExecutableMemory, nativeTraceFn, error) {
	return nil, nil, errNativeUnsupported
}

func callNative(fn nativeTraceFn, stack []int64, sp int, locals []int64) (terminal int64, exitIP uint32, outSP int, err error) {
	return 0, 0, 0, errNativeUnsupported
}

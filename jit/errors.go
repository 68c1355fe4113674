package jit

import "fmt"

// interpError is a runtime fault hit while replaying a TraceStep sequence
// (interp.go): type mismatch, division by zero, or an invalid
// shift/local/constant (§7). These include ordinary program faults, the
// same ones the interpreter reports, but they surface as this local type
// rather than as a vm.Error.
type interpError struct{ msg string }

func (e *interpError) Error() string { return e.msg }

func errf(format string, args ...any) error {
	return &interpError{msg: fmt.Sprintf(format, args...)}
}

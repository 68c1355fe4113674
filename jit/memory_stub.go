//go:build !(amd64 && (linux || darwin))

package jit

import "errors"

// ExecutableMemory has no backing implementation outside amd64
// linux/darwin; AllocateExecutableMemory always errors so compileNative's
// (already-unreachable, since it's stubbed in native_other.go too) call
// site has a consistent type to hand back.
type ExecutableMemory struct{}

func AllocateExecutableMemory(size int) (*ExecutableMemory, error) {
	return nil, errors.New("executable trace memory is only implemented for amd64 linux/darwin")
}

func (m *ExecutableMemory) WriteBytes(offset int, data []byte) error {
	return errors.New("executable trace memory is only implemented for amd64 linux/darwin")
}

func (m *ExecutableMemory) GetFunctionPointer(offset int) uintptr { return 0 }

func (m *ExecutableMemory) Free() error { return nil }

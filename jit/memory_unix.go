//go:build amd64 && (linux || darwin)

package jit

import (
	"fmt"
	"syscall"
	"unsafe"
)

// ExecutableMemory is a single mmap'd, read+write+exec page range holding
// one compiled trace's machine code, grounded on the teacher's
// AllocateExecutableMemory (compiler/jit/memory.go) but amd64/linux+darwin
// only — this port never implements the Windows VirtualAlloc path the
// teacher stubbed out, since native_amd64.go's encoder is already amd64
// System V only.
type ExecutableMemory struct {
	data []byte
	ptr  uintptr
}

// AllocateExecutableMemory reserves size bytes (rounded up to a page) with
// PROT_READ|PROT_WRITE|PROT_EXEC via mmap.
func AllocateExecutableMemory(size int) (*ExecutableMemory, error) {
	pageSize := syscall.Getpagesize()
	aligned := ((size + pageSize - 1) / pageSize) * pageSize
	if aligned == 0 {
		aligned = pageSize
	}

	ptr, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP,
		0,
		uintptr(aligned),
		syscall.PROT_READ|syscall.PROT_WRITE|syscall.PROT_EXEC,
		syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS,
		0,
		0,
	)
	if ptr == ^uintptr(0) || errno != 0 {
		return nil, fmt.Errorf("mmap executable trace buffer: %v", errno)
	}

	data := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), aligned)
	return &ExecutableMemory{data: data, ptr: ptr}, nil
}

// WriteBytes copies data into the buffer at offset.
func (m *ExecutableMemory) WriteBytes(offset int, data []byte) error {
	if offset+len(data) > len(m.data) {
		return fmt.Errorf("trace buffer write exceeds bounds")
	}
	copy(m.data[offset:], data)
	return nil
}

// GetFunctionPointer returns the callable address of offset within the
// buffer.
func (m *ExecutableMemory) GetFunctionPointer(offset int) uintptr { return m.ptr + uintptr(offset) }

// Free releases the mapping via munmap.
func (m *ExecutableMemory) Free() error {
	if m.ptr == 0 {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, m.ptr, uintptr(len(m.data)), 0)
	if errno != 0 {
		return fmt.Errorf("munmap trace buffer: %v", errno)
	}
	m.ptr = 0
	m.data = nil
	return nil
}

//go:build amd64 && (linux || darwin)

package jit

import (
	"encoding/binary"
	"errors"
	"unsafe"
)

// nativeTraceFn is the calling convention a compiled trace blob is entered
// with: System V AMD64 (rdi, rsi, rdx, rcx, r8 -> the five int64 args,
// return in rax), grounded on the teacher's native_call.go technique of
// reinterpreting a raw code pointer as a Go func value via unsafe.Pointer.
// stack/locals are flat int64 arrays the hook copies Int values into
// before the call and back out of afterward; sp is the initial stack
// pointer (index of the next free slot); exitIPOut receives the bytecode
// offset to resume interpretation at when a GuardFalse step fails;
// outSPOut receives the final stack pointer. The return value is the
// terminal reached: 1 for a guard exit, 2 for a Ret.
type nativeTraceFn func(stack *int64, sp int64, locals *int64, exitIPOut *int64, outSPOut *int64) int64

var errNativeUnsupported = errors.New("native codegen does not support this trace")

// compileNative assembles trace into a small blob of hand-encoded x86-64
// machine code and returns it ready to call. Only a restricted step subset
// is supported (integer Ldc/Add/Sub/Neg/Dup/Pop/Ldloc/Stloc/GuardFalse plus
// the JumpToRoot/Ret terminal); Mul/Div/Shl/Shr/Ceq/Clt/Cgt/Call bail with
// errNativeUnsupported so the hook falls back to the TraceStep interpreter
// for that trace — a deliberate, documented narrowing of what the trace
// recorder itself allows (engine.go), chosen because those steps need
// either a flags-register dance (idiv's zero check, shift count masking)
// or the host-call ABI that isn't worth hand-assembling by a careful
// reader who can't execute and verify the bytes.
func compileNative(trace *Trace) (*ExecutableMemory, nativeTraceFn, error) {
	if trace.HasCall {
		return nil, nil, errNativeUnsupported
	}

	var asm assembler
	asm.prologue()
	rootOffset := len(asm.buf)

	for _, step := range trace.Steps {
		switch step.Op {
		case StepNop:
			// no native instructions required
		case StepLdc:
			asm.pushImm64(int64(step.Const))
		case StepAdd:
			asm.binOp(opAdd)
		case StepSub:
			asm.binOp(opSub)
		case StepNeg:
			asm.negTop()
		case StepDup:
			asm.dupTop()
		case StepPop:
			asm.decSP()
		case StepLdloc:
			asm.loadLocal(step.Local)
		case StepStloc:
			asm.storeLocal(step.Local)
		case StepGuardFalse:
			asm.guardFalse(step.ExitIP)
		case StepJumpToRoot:
			asm.jumpToOffset(rootOffset)
		case StepRet:
			asm.ret2()
		default:
			return nil, nil, errNativeUnsupported
		}
	}

	asm.exitStub()

	mem, err := AllocateExecutableMemory(len(asm.buf))
	if err != nil {
		return nil, nil, err
	}
	if err := mem.WriteBytes(0, asm.buf); err != nil {
		mem.Free()
		return nil, nil, err
	}

	entry := mem.GetFunctionPointer(0)
	fn := *(*nativeTraceFn)(unsafe.Pointer(&entry))
	return mem, fn, nil
}

// callNative invokes a compiled trace against stack/locals, returning the
// terminal code (1=guard exit with exitIP set, 2=ret) and the final stack
// pointer.
func callNative(fn nativeTraceFn, stack []int64, sp int, locals []int64) (terminal int64, exitIP uint32, outSP int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errNativeUnsupported
		}
	}()
	var exitIP64, outSP64 int64
	var stackPtr, localsPtr *int64
	if len(stack) > 0 {
		stackPtr = &stack[0]
	}
	if len(locals) > 0 {
		localsPtr = &locals[0]
	}
	code := fn(stackPtr, int64(sp), localsPtr, &exitIP64, &outSP64)
	return code, uint32(exitIP64), int(outSP64), nil
}

type binOpKind int

const (
	opAdd binOpKind = iota
	opSub
)

// assembler is a linear x86-64 byte emitter. Every emit* method appends a
// self-contained instruction (or short fixed sequence) and documents the
// mnemonic it encodes, so the generated bytes can be checked by hand
// against the System V AMD64 ABI and the Intel encoding tables without
// ever running them. Register assignment is fixed for the whole blob:
//
//	r9  = stack base pointer   (copied from incoming rdi)
//	rsi = current stack pointer (index of next free slot; the incoming arg)
//	r10 = locals base pointer  (copied from incoming rdx)
//	rcx = exitIPOut pointer    (incoming arg, untouched)
//	r8  = outSPOut pointer     (incoming arg, untouched)
//
// rax, rdx, r11 are free scratch for the whole body.
type assembler struct {
	buf          []byte
	guardFixups  []int // offsets of rel32 fields patched to exitStub at the end
}

func (a *assembler) emit(bs ...byte) { a.buf = append(a.buf, bs...) }

func (a *assembler) emitRel32Placeholder() int {
	off := len(a.buf)
	a.emit(0, 0, 0, 0)
	return off
}

func (a *assembler) patchRel32(fixupOffset, targetOffset int) {
	rel := int32(targetOffset - (fixupOffset + 4))
	binary.LittleEndian.PutUint32(a.buf[fixupOffset:], uint32(rel))
}

// prologue: mov r9, rdi ; mov r10, rdx
func (a *assembler) prologue() {
	a.emit(0x49, 0x89, 0xF9) // mov r9, rdi
	a.emit(0x49, 0x89, 0xD2) // mov r10, rdx
}

// pushImm64 v: movabs rax, v ; mov [r9+rsi*8], rax ; add rsi, 1
func (a *assembler) pushImm64(v int64) {
	a.emit(0x48, 0xB8)
	var imm [8]byte
	binary.LittleEndian.PutUint64(imm[:], uint64(v))
	a.emit(imm[:]...)
	a.storeTopAndInc()
}

// storeTopAndInc: mov [r9+rsi*8], rax ; add rsi, 1
func (a *assembler) storeTopAndInc() {
	a.emit(0x49, 0x89, 0x04, 0xF1) // mov [r9+rsi*8], rax
	a.emit(0x48, 0x83, 0xC6, 0x01) // add rsi, 1
}

// decSP: sub rsi, 1
func (a *assembler) decSP() {
	a.emit(0x48, 0x83, 0xEE, 0x01)
}

// popTo loads the top of stack into rax (dst=0) or rdx (dst=2) and
// decrements sp first: sub rsi,1 ; mov dst, [r9+rsi*8]
func (a *assembler) popTo(reg byte) {
	a.decSP()
	if reg == 0 { // rax
		a.emit(0x49, 0x8B, 0x04, 0xF1)
	} else { // rdx
		a.emit(0x49, 0x8B, 0x14, 0xF1)
	}
}

// binOp pops b into rdx, a into rax, combines, pushes rax.
func (a *assembler) binOp(kind binOpKind) {
	a.popTo(2) // rdx = b
	a.popTo(0) // rax = a
	switch kind {
	case opAdd:
		a.emit(0x48, 0x01, 0xD0) // add rax, rdx
	case opSub:
		a.emit(0x48, 0x29, 0xD0) // sub rax, rdx
	}
	a.storeTopAndInc()
}

// negTop: pop rax ; neg rax ; push rax
func (a *assembler) negTop() {
	a.popTo(0)
	a.emit(0x48, 0xF7, 0xD8) // neg rax
	a.storeTopAndInc()
}

// dupTop: lea r11, [rsi-1] ; mov rax, [r9+r11*8] ; push rax
func (a *assembler) dupTop() {
	a.emit(0x4C, 0x8D, 0x5E, 0xFF) // lea r11, [rsi-1]
	a.emit(0x4B, 0x8B, 0x04, 0xD9) // mov rax, [r9+r11*8]
	a.storeTopAndInc()
}

// loadLocal idx: mov rax, [r10+idx*8] ; push rax
func (a *assembler) loadLocal(idx uint8) {
	a.emit(0x49, 0x8B, 0x82) // mov rax, [r10+disp32]
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], uint32(idx)*8)
	a.emit(disp[:]...)
	a.storeTopAndInc()
}

// storeLocal idx: pop rax ; mov [r10+idx*8], rax
func (a *assembler) storeLocal(idx uint8) {
	a.popTo(0)
	a.emit(0x49, 0x89, 0x82) // mov [r10+disp32], rax
	var disp [4]byte
	binary.LittleEndian.PutUint32(disp[:], uint32(idx)*8)
	a.emit(disp[:]...)
}

// guardFalse exitIP: pop rax ; test rax,rax ; movabs r11, exitIP ; jz exitStub
func (a *assembler) guardFalse(exitIP uint32) {
	a.popTo(0)
	a.emit(0x48, 0x85, 0xC0) // test rax, rax
	a.emit(0x49, 0xBB)       // movabs r11, imm64
	var imm [8]byte
	binary.LittleEndian.PutUint64(imm[:], uint64(exitIP))
	a.emit(imm[:]...)
	a.emit(0x0F, 0x84) // jz rel32
	a.guardFixups = append(a.guardFixups, a.emitRel32Placeholder())
}

// jumpToOffset target: jmp rel32
func (a *assembler) jumpToOffset(target int) {
	a.emit(0xE9)
	fixup := a.emitRel32Placeholder()
	a.patchRel32(fixup, target)
}

// ret2: mov [r8], rsi ; mov eax, 2 ; ret
func (a *assembler) ret2() {
	a.emit(0x49, 0x89, 0x30)       // mov [r8], rsi
	a.emit(0xB8, 0x02, 0x00, 0x00, 0x00)
	a.emit(0xC3)
}

// exitStub is the shared guard-failure tail every GuardFalse jz targets:
// mov [rcx], r11 ; mov [r8], rsi ; mov eax, 1 ; ret
func (a *assembler) exitStub() {
	stubOffset := len(a.buf)
	a.emit(0x4C, 0x89, 0x19)             // mov [rcx], r11
	a.emit(0x49, 0x89, 0x30)             // mov [r8], rsi
	a.emit(0xB8, 0x01, 0x00, 0x00, 0x00) // mov eax, 1
	a.emit(0xC3)                         // ret
	for _, fixup := range a.guardFixups {
		a.patchRel32(fixup, stubOffset)
	}
}

package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/wudi/edgevm/builtin"
	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

// ValidationError reports a semantic problem with an otherwise
// structurally decodable program: an out-of-range index, a malformed
// operand, or a jump that doesn't land on an instruction boundary.
// Grounded on original_source's analyze_program (pd-vm/src/wire.rs).
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func validationErr(kind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ValidateResult carries the validator's side output: the maximum local
// slot index referenced by the program, used by a host to size the locals
// vector (§3.2's "the validator also reports the max local slot used").
type ValidateResult struct {
	MaxLocalIndex int // -1 if no Ldloc/Stloc was ever emitted
}

// Validate walks p.Code exactly like the interpreter's decode loop,
// recording every instruction-start offset, checking every constant/call
// index and Call arity against p.Constants/p.Imports, then verifies every
// branch target lands on a recorded instruction start. This two-pass shape
// (first pass collects starts, second pass checks jumps) matches
// analyze_program precisely: a forward jump's target cannot be validated
// against "is this an instruction start" until every instruction start in
// the whole program is known.
func Validate(p *value.Program) (*ValidateResult, error) {
	starts := make(map[uint32]bool)
	type pendingJump struct {
		at     uint32
		target uint32
		kind   bytecode.Op
	}
	var jumps []pendingJump
	maxLocal := -1

	code := p.Code
	ip := uint32(0)
	for int(ip) < len(code) {
		starts[ip] = true
		op := bytecode.Op(code[ip])
		if !op.Valid() {
			return nil, validationErr("InvalidOpcode", "invalid opcode %d at offset %d", code[ip], ip)
		}
		operandLen, _ := opcodeOperandLen(op)
		instrStart := ip
		operandAt := ip + 1
		if int(operandAt)+operandLen > len(code) {
			return nil, validationErr("TruncatedOperand", "opcode %s at offset %d is missing its operand", op, instrStart)
		}

		switch op {
		case bytecode.OP_LDC:
			idx := binary.LittleEndian.Uint32(code[operandAt:])
			if int(idx) >= len(p.Constants) {
				return nil, validationErr("InvalidConstant", "ldc index %d out of range (%d constants) at offset %d", idx, len(p.Constants), instrStart)
			}
		case bytecode.OP_BR, bytecode.OP_BRFALSE:
			target := binary.LittleEndian.Uint32(code[operandAt:])
			jumps = append(jumps, pendingJump{at: instrStart, target: target, kind: op})
		case bytecode.OP_LDLOC, bytecode.OP_STLOC:
			idx := int(code[operandAt])
			if idx > maxLocal {
				maxLocal = idx
			}
		case bytecode.OP_CALL:
			callIdx := int(binary.LittleEndian.Uint16(code[operandAt:]))
			argc := code[operandAt+2]
			if err := validateCallTarget(p, callIdx, argc, instrStart); err != nil {
				return nil, err
			}
		}

		ip = operandAt + uint32(operandLen)
	}

	for _, j := range jumps {
		if int(j.target) >= len(code) || !starts[j.target] {
			return nil, validationErr("InvalidJumpTarget", "%s at offset %d targets %d, not an instruction start", j.kind, j.at, j.target)
		}
	}

	return &ValidateResult{MaxLocalIndex: maxLocal}, nil
}

func validateCallTarget(p *value.Program, callIdx int, argc byte, instrStart uint32) error {
	if callIdx < bytecode.BuiltinBase {
		b, ok := builtin.ByIndex(callIdx)
		if !ok {
			return validationErr("InvalidCall", "call index %d at offset %d is not a known builtin", callIdx, instrStart)
		}
		if b.Arity != int(argc) {
			return validationErr("InvalidCallArity", "builtin %s expects %d args, call at offset %d passes %d", b.Name, b.Arity, instrStart, argc)
		}
		return nil
	}
	importIdx := callIdx - bytecode.BuiltinBase
	if importIdx >= len(p.Imports) {
		return validationErr("InvalidCall", "import index %d at offset %d out of range (%d imports)", importIdx, instrStart, len(p.Imports))
	}
	imp := p.Imports[importIdx]
	if imp.Arity != argc {
		return validationErr("InvalidCallArity", "import %s expects %d args, call at offset %d passes %d", imp.Name, imp.Arity, instrStart, argc)
	}
	return nil
}

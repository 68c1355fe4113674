package wire

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/value"
)

// Disassemble renders p as human-readable text, one instruction per line,
// annotated with source lines from p.Debug when present.
func Disassemble(p *value.Program) string {
	var b strings.Builder
	code := p.Code
	ip := uint32(0)
	for int(ip) < len(code) {
		op := bytecode.Op(code[ip])
		if !op.Valid() {
			fmt.Fprintf(&b, "%6d: <invalid opcode %d>\n", ip, code[ip])
			ip++
			continue
		}
		operandLen, _ := opcodeOperandLen(op)
		operandAt := ip + 1
		line := p.Debug.LineForOffset(ip)
		prefix := fmt.Sprintf("%6d:", ip)
		if line != 0 {
			prefix = fmt.Sprintf("%s [line %d]", prefix, line)
		}

		switch op {
		case bytecode.OP_LDC:
			idx := binary.LittleEndian.Uint32(code[operandAt:])
			cv := "?"
			if int(idx) < len(p.Constants) {
				cv = formatConst(p.Constants[idx])
			}
			fmt.Fprintf(&b, "%s ldc %d ; %s\n", prefix, idx, cv)
		case bytecode.OP_BR, bytecode.OP_BRFALSE:
			target := binary.LittleEndian.Uint32(code[operandAt:])
			fmt.Fprintf(&b, "%s %s %d\n", prefix, op, target)
		case bytecode.OP_LDLOC, bytecode.OP_STLOC:
			idx := code[operandAt]
			fmt.Fprintf(&b, "%s %s %d\n", prefix, op, idx)
		case bytecode.OP_CALL:
			idx := binary.LittleEndian.Uint16(code[operandAt:])
			argc := code[operandAt+2]
			fmt.Fprintf(&b, "%s call %d, %d\n", prefix, idx, argc)
		default:
			fmt.Fprintf(&b, "%s %s\n", prefix, op)
		}

		ip = operandAt + uint32(operandLen)
	}
	return b.String()
}

func formatConst(v value.Value) string {
	switch v.Kind {
	case value.KindInt:
		return fmt.Sprintf("%d", v.I)
	case value.KindFloat:
		return fmt.Sprintf("%g", v.F)
	case value.KindBool:
		return fmt.Sprintf("%t", v.B)
	case value.KindString:
		return fmt.Sprintf("%q", v.S)
	default:
		return v.Kind.String()
	}
}

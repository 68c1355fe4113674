package debugger

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wudi/edgevm/value"
	"github.com/wudi/edgevm/vm"
)

// replAction is what handleCommand tells its caller to do next: keep
// reading commands, or resume the Vm.
type replAction int

const (
	actionContinue replAction = iota
	actionBreak
)

func (a replAction) isBreak() bool { return a == actionBreak }

// handleCommand parses and executes one REPL command line against v and
// state, writing any textual response to out. It never mutates the Vm
// itself (the debugger only observes); it only mutates the breakpoint
// set and step mode state drives.
func handleCommand(line string, v *vm.Vm, state *replState, out io.Writer) replAction {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return actionContinue
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "c", "continue":
		return actionBreak

	case "s", "step", "stepi":
		state.step = Step
		return actionBreak

	case "n", "next":
		state.step = StepOver(v.CallDepth(), v.IP())
		return actionBreak

	case "finish", "out":
		state.step = StepOut(v.CallDepth())
		return actionBreak

	case "b", "break":
		cmdBreak(args, state, out)

	case "bl":
		cmdLineBreak(args, state, out)

	case "clear":
		cmdClear(args, state, out)

	case "cl":
		cmdLineClear(args, state, out)

	case "breaks":
		fmt.Fprintf(out, "breakpoints: %s\n", formatOffsetSet(state.breakpoints))
		fmt.Fprintf(out, "line breakpoints: %s\n", formatLineSet(state.lineBreakpoints))

	case "stack":
		fmt.Fprintf(out, "stack: %s\n", formatValues(v.Stack()))

	case "locals":
		printLocals(v, out)

	case "p", "print":
		if len(args) == 0 {
			fmt.Fprintln(out, "usage: print <local_name>")
			break
		}
		printLocalByName(v, args[0], out)

	case "ip":
		fmt.Fprintf(out, "ip: %d\n", v.IP())

	case "where":
		cmdWhere(v, out)

	case "funcs":
		cmdFuncs(v, out)

	case "help":
		fmt.Fprintln(out, "commands: break, break line, bl, clear, clear line, cl, breaks, continue, step, next, out, stack, locals, print, ip, where, funcs, help")

	default:
		fmt.Fprintln(out, "unknown command")
	}
	return actionContinue
}

func cmdBreak(args []string, state *replState, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: break <offset>")
		return
	}
	if args[0] == "line" {
		if len(args) < 2 {
			fmt.Fprintln(out, "usage: break line <number>")
			return
		}
		line, ok := parseUint32(args[1])
		if !ok {
			fmt.Fprintln(out, "usage: break line <number>")
			return
		}
		state.lineBreakpoints[line] = struct{}{}
		fmt.Fprintf(out, "line breakpoint set at %d\n", line)
		return
	}
	offset, ok := parseUint32(args[0])
	if !ok {
		fmt.Fprintln(out, "expected instruction offset")
		return
	}
	state.breakpoints[offset] = struct{}{}
	fmt.Fprintf(out, "breakpoint set at %d\n", offset)
}

func cmdLineBreak(args []string, state *replState, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: bl <line>")
		return
	}
	line, ok := parseUint32(args[0])
	if !ok {
		fmt.Fprintln(out, "usage: bl <line>")
		return
	}
	state.lineBreakpoints[line] = struct{}{}
	fmt.Fprintf(out, "line breakpoint set at %d\n", line)
}

func cmdClear(args []string, state *replState, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: clear <offset>")
		return
	}
	if args[0] == "line" {
		if len(args) < 2 {
			fmt.Fprintln(out, "usage: clear line <number>")
			return
		}
		line, ok := parseUint32(args[1])
		if !ok {
			fmt.Fprintln(out, "usage: clear line <number>")
			return
		}
		delete(state.lineBreakpoints, line)
		fmt.Fprintf(out, "line breakpoint cleared at %d\n", line)
		return
	}
	offset, ok := parseUint32(args[0])
	if !ok {
		fmt.Fprintln(out, "expected instruction offset")
		return
	}
	delete(state.breakpoints, offset)
	fmt.Fprintf(out, "breakpoint cleared at %d\n", offset)
}

func cmdLineClear(args []string, state *replState, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: cl <line>")
		return
	}
	line, ok := parseUint32(args[0])
	if !ok {
		fmt.Fprintln(out, "usage: cl <line>")
		return
	}
	delete(state.lineBreakpoints, line)
	fmt.Fprintf(out, "line breakpoint cleared at %d\n", line)
}

func cmdWhere(v *vm.Vm, out io.Writer) {
	info := v.DebugInfo()
	if info == nil {
		fmt.Fprintln(out, "no debug info")
		return
	}
	line := info.LineForOffset(v.IP())
	if line == 0 {
		fmt.Fprintln(out, "line: unknown")
		return
	}
	fmt.Fprintf(out, "line: %d\n", line)
}

func cmdFuncs(v *vm.Vm, out io.Writer) {
	info := v.DebugInfo()
	if info == nil {
		fmt.Fprintln(out, "no debug info")
		return
	}
	for _, fn := range info.Functions {
		fmt.Fprintf(out, "fn %s(%s)\n", fn.Name, strings.Join(fn.Args, ", "))
	}
}

func printLocals(v *vm.Vm, out io.Writer) {
	info := v.DebugInfo()
	if info == nil || len(info.Locals) == 0 {
		fmt.Fprintf(out, "locals: %s\n", formatValues(v.Locals()))
		return
	}
	locals := v.Locals()
	for _, l := range info.Locals {
		if int(l.Slot) < len(locals) {
			fmt.Fprintf(out, "%s = %s\n", l.Name, formatValue(locals[l.Slot]))
		} else {
			fmt.Fprintf(out, "%s = <unavailable>\n", l.Name)
		}
	}
}

func printLocalByName(v *vm.Vm, name string, out io.Writer) {
	info := v.DebugInfo()
	if info == nil {
		fmt.Fprintln(out, "no debug info")
		return
	}
	slot, ok := info.LocalIndex(name)
	if !ok {
		fmt.Fprintf(out, "unknown local '%s'\n", name)
		return
	}
	locals := v.Locals()
	if int(slot) >= len(locals) {
		fmt.Fprintf(out, "local '%s' is out of range for this vm instance\n", name)
		return
	}
	fmt.Fprintf(out, "%s = %s\n", name, formatValue(locals[slot]))
}

func formatValue(v value.Value) string {
	switch v.Kind {
	case value.KindNull:
		return "null"
	case value.KindInt:
		return fmt.Sprintf("Int(%d)", v.I)
	case value.KindFloat:
		return fmt.Sprintf("Float(%g)", v.F)
	case value.KindBool:
		return fmt.Sprintf("Bool(%t)", v.B)
	case value.KindString:
		return fmt.Sprintf("Str(%q)", v.S)
	case value.KindArray:
		return fmt.Sprintf("Array%s", formatValues(v.A))
	case value.KindMap:
		return fmt.Sprintf("Map%s", formatMap(v.M))
	default:
		return v.Kind.String()
	}
}

func formatValues(vs []value.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = formatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatMap(entries []value.MapEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = formatValue(e.Key) + ": " + formatValue(e.Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatOffsetSet(set map[uint32]struct{}) string {
	offsets := make([]uint32, 0, len(set))
	for k := range set {
		offsets = append(offsets, k)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = fmt.Sprintf("%d", o)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func formatLineSet(set map[uint32]struct{}) string {
	return formatOffsetSet(set)
}

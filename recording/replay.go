package recording

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wudi/edgevm/value"
)

// Replay is the offline engine of §4.9's Replay bullet: it drives the same
// command surface as a live debugger REPL (debugger.handleCommand) but
// over a Recording's frames instead of a running Vm, so a recording can be
// inspected without the edge proxy or network that produced it.
type Replay struct {
	rec             *Recording
	debug           *value.DebugInfo
	cursor          int
	lineBreakpoints map[uint32]struct{}
}

// NewReplay starts a Replay at the first frame. debug is optional; when
// present it lets "print <name>" resolve local slots by name the way a
// live session does.
func NewReplay(rec *Recording, debug *value.DebugInfo) *Replay {
	return &Replay{rec: rec, debug: debug, lineBreakpoints: make(map[uint32]struct{})}
}

// Done reports whether the cursor has advanced past the last frame.
func (r *Replay) Done() bool { return r.cursor >= len(r.rec.Frames) }

func (r *Replay) current() (Frame, bool) {
	if r.Done() {
		return Frame{}, false
	}
	return r.rec.Frames[r.cursor], true
}

// Command runs one debugger-style command against the replay cursor,
// writing its textual response to out.
func (r *Replay) Command(line string, out io.Writer) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "c", "continue":
		r.runContinue(out)
	case "s", "step", "stepi":
		r.advance(1)
		r.reportStop(out)
	case "n", "next":
		r.runNext(out)
	case "finish", "out":
		r.runOut(out)
	case "b", "break", "bl":
		if cmd == "bl" {
			r.addLineBreak(args, out)
			return
		}
		if len(args) > 0 && args[0] == "line" {
			r.addLineBreak(args[1:], out)
			return
		}
		fmt.Fprintln(out, "replay only supports line breakpoints: break line <number>")
	case "clear", "cl":
		if cmd == "cl" {
			r.clearLineBreak(args, out)
			return
		}
		if len(args) > 0 && args[0] == "line" {
			r.clearLineBreak(args[1:], out)
			return
		}
		fmt.Fprintln(out, "replay only supports line breakpoints: clear line <number>")
	case "stack":
		f, ok := r.current()
		if !ok {
			fmt.Fprintln(out, "replay finished")
			return
		}
		fmt.Fprintf(out, "stack: %s\n", formatValues(f.Stack))
	case "locals":
		r.printLocals(out)
	case "p", "print":
		if len(args) == 0 {
			fmt.Fprintln(out, "usage: print <local_name>")
			return
		}
		r.printLocalByName(args[0], out)
	case "ip":
		f, ok := r.current()
		if !ok {
			fmt.Fprintln(out, "replay finished")
			return
		}
		fmt.Fprintf(out, "ip: %d\n", f.IP)
	case "where":
		r.reportStop(out)
	case "help":
		fmt.Fprintln(out, "commands: break line, bl, clear line, cl, continue, step, next, out, stack, locals, print, ip, where, help")
	default:
		fmt.Fprintln(out, "unknown command")
	}
}

func (r *Replay) advance(n int) {
	r.cursor += n
	if r.cursor > len(r.rec.Frames) {
		r.cursor = len(r.rec.Frames)
	}
}

func (r *Replay) runContinue(out io.Writer) {
	for {
		r.advance(1)
		f, ok := r.current()
		if !ok {
			fmt.Fprintln(out, "replay finished")
			return
		}
		if _, hit := r.lineBreakpoints[f.Line]; hit {
			r.reportStop(out)
			return
		}
	}
}

func (r *Replay) runNext(out io.Writer) {
	start, ok := r.current()
	if !ok {
		fmt.Fprintln(out, "replay finished")
		return
	}
	for {
		r.advance(1)
		f, ok := r.current()
		if !ok {
			fmt.Fprintln(out, "replay finished")
			return
		}
		if f.CallDepth <= start.CallDepth && f.IP != start.IP {
			r.reportStop(out)
			return
		}
	}
}

func (r *Replay) runOut(out io.Writer) {
	start, ok := r.current()
	if !ok {
		fmt.Fprintln(out, "replay finished")
		return
	}
	for {
		r.advance(1)
		f, ok := r.current()
		if !ok {
			fmt.Fprintln(out, "replay finished")
			return
		}
		if f.CallDepth < start.CallDepth {
			r.reportStop(out)
			return
		}
	}
}

func (r *Replay) reportStop(out io.Writer) {
	f, ok := r.current()
	if !ok {
		fmt.Fprintln(out, "replay finished")
		return
	}
	if f.Line == 0 {
		fmt.Fprintln(out, "line: unknown")
		return
	}
	fmt.Fprintf(out, "line %d\n", f.Line)
}

func (r *Replay) addLineBreak(args []string, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: break line <number>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintln(out, "usage: break line <number>")
		return
	}
	r.lineBreakpoints[uint32(n)] = struct{}{}
	fmt.Fprintf(out, "line breakpoint set at %d\n", n)
}

func (r *Replay) clearLineBreak(args []string, out io.Writer) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: clear line <number>")
		return
	}
	n, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		fmt.Fprintln(out, "usage: clear line <number>")
		return
	}
	delete(r.lineBreakpoints, uint32(n))
	fmt.Fprintf(out, "line breakpoint cleared at %d\n", n)
}

func (r *Replay) printLocals(out io.Writer) {
	f, ok := r.current()
	if !ok {
		fmt.Fprintln(out, "replay finished")
		return
	}
	if r.debug == nil || len(r.debug.Locals) == 0 {
		fmt.Fprintf(out, "locals: %s\n", formatLocalSlots(f.Locals))
		return
	}
	for _, l := range r.debug.Locals {
		if v, ok := lookupSlot(f.Locals, l.Slot); ok {
			fmt.Fprintf(out, "%s = %s\n", l.Name, formatValue(v))
		} else {
			fmt.Fprintf(out, "%s = <unavailable>\n", l.Name)
		}
	}
}

func (r *Replay) printLocalByName(name string, out io.Writer) {
	f, ok := r.current()
	if !ok {
		fmt.Fprintln(out, "replay finished")
		return
	}
	if r.debug == nil {
		fmt.Fprintln(out, "no debug info")
		return
	}
	slot, ok := r.debug.LocalIndex(name)
	if !ok {
		fmt.Fprintf(out, "unknown local '%s'\n", name)
		return
	}
	if v, ok := lookupSlot(f.Locals, slot); ok {
		fmt.Fprintf(out, "%s = %s\n", name, formatValue(v))
		return
	}
	fmt.Fprintf(out, "local '%s' was not captured in this frame\n", name)
}

func lookupSlot(locals []LocalSlot, slot uint8) (value.Value, bool) {
	for _, l := range locals {
		if l.Slot == slot {
			return l.Value, true
		}
	}
	return value.Value{}, false
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
		parts := make([]string, len(v.M))
		for i, e := range v.M {
			parts[i] = formatValue(e.Key) + ": " + formatValue(e.Value)
		}
		return "Map{" + strings.Join(parts, ", ") + "}"
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

func formatLocalSlots(locals []LocalSlot) string {
	parts := make([]string, len(locals))
	for i, l := range locals {
		parts[i] = fmt.Sprintf("%d: %s", l.Slot, formatValue(l.Value))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

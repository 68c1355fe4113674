// Package codegen lowers a merged ast.Unit into bytecode, grounded on
// original_source/pd-vm/src/compiler.rs's compile_stmt/compile_expr shape:
// one Assembler driving emission, a loop-context stack of
// (continueLabel, breakLabel) pairs for break/continue, and a fresh-label
// counter for every synthetic branch target.
//
// The VM's locals vector is flat and process-wide (the linker already
// gives every unit, function, and closure a disjoint slot range, §4.5) and
// the opcode set has no dynamic-target jump or function-value Kind, so a
// user-defined function call cannot be a true call/return pair with a
// return address on a stack the VM doesn't have. Function calls are
// therefore compiled by inlining the callee's body at the call site (macro
// expansion, not a CPU-level call), and recursive calls are rejected as a
// compile error rather than silently looping forever during codegen.
package codegen

import (
	"fmt"

	"github.com/wudi/edgevm/asm"
	"github.com/wudi/edgevm/builtin"
	"github.com/wudi/edgevm/bytecode"
	"github.com/wudi/edgevm/compiler/ast"
	"github.com/wudi/edgevm/compiler/linker"
	"github.com/wudi/edgevm/value"
)

// Error is a hard compile-time error: an unknown identifier, a recursive
// call, break/continue outside a loop, too many locals for a u8 slot, or a
// closure used somewhere other than immediate invocation.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

func errf(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

type loopCtx struct {
	continueLabel string
	breakLabel    string
}

type compiler struct {
	a            *asm.Assembler
	functions    map[int]*ast.FunctionDecl
	loopStack    []loopCtx
	labelCounter int
	inlining     map[int]bool
	returnStack  []string

	importIndex map[string]int
	importArity map[string]int
}

// noValueBuiltins never push a result, so an expression statement calling
// one of them must not emit a trailing Pop.
var noValueBuiltins = map[string]bool{
	"print":    true,
	"io_flush": true,
	"io_close": true,
}

// Compile lowers m into a ready-to-run CompiledProgram.
func Compile(m *linker.Merged) (*value.CompiledProgram, error) {
	c := &compiler{
		a:         asm.New(),
		functions: make(map[int]*ast.FunctionDecl),
		inlining:  make(map[int]bool),

		importIndex: make(map[string]int),
		importArity: make(map[string]int),
	}
	for _, fn := range m.Functions {
		c.functions[fn.Index] = fn
	}
	c.a.SetSource(m.Source)

	if err := c.compileStmts(m.Stmts); err != nil {
		return nil, err
	}
	c.a.Ret()

	imports := make([]value.HostImport, len(c.importIndex))
	for name, idx := range c.importIndex {
		imports[idx] = value.HostImport{Name: name, Arity: uint8(c.importArity[name])}
	}
	c.a.SetImports(imports)

	prog, err := c.a.Finish(true)
	if err != nil {
		return nil, err
	}

	decls := make([]value.FunctionDecl, len(m.Functions))
	for i, fn := range m.Functions {
		decls[i] = value.FunctionDecl{Name: fn.Name, Arity: uint8(fn.Arity), Index: uint16(fn.Index), Args: fn.Args, Exported: fn.Exported}
	}

	return &value.CompiledProgram{Program: prog, Locals: m.Locals, Functions: decls}, nil
}

func (c *compiler) freshLabel(prefix string) string {
	c.labelCounter++
	return fmt.Sprintf("%s_%d", prefix, c.labelCounter)
}

func (c *compiler) compileStmts(stmts []ast.Stmt) error {
	for _, s := range stmts {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileStmt(stmt ast.Stmt) error {
	c.a.MarkLine(uint32(stmt.Pos()))
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		produces, err := c.compileExpr(s.X)
		if err != nil {
			return err
		}
		if produces {
			c.a.Pop()
		}
		return nil

	case *ast.LetStmt:
		if _, err := c.compileExprValue(s.Value); err != nil {
			return err
		}
		return c.storeLocal(s.Slot)

	case *ast.AssignStmt:
		if _, err := c.compileExprValue(s.Value); err != nil {
			return err
		}
		return c.storeLocal(s.Slot)

	case *ast.IndexAssignStmt:
		if _, err := c.compileExprValue(s.Container); err != nil {
			return err
		}
		if _, err := c.compileExprValue(s.Key); err != nil {
			return err
		}
		if _, err := c.compileExprValue(s.Value); err != nil {
			return err
		}
		c.a.Call(builtinCallIndex(builtin.Set), 3)
		return c.storeLocal(s.Slot)

	case *ast.IfStmt:
		elseLabel := c.freshLabel("if_else")
		endLabel := c.freshLabel("if_end")
		if _, err := c.compileExprValue(s.Cond); err != nil {
			return err
		}
		c.a.BrfalseLabel(elseLabel)
		if err := c.compileStmts(s.Then); err != nil {
			return err
		}
		c.a.BrLabel(endLabel)
		if err := c.a.Label(elseLabel); err != nil {
			return err
		}
		if err := c.compileStmts(s.Else); err != nil {
			return err
		}
		return c.a.Label(endLabel)

	case *ast.WhileStmt:
		start := c.freshLabel("while_start")
		end := c.freshLabel("while_end")
		if err := c.a.Label(start); err != nil {
			return err
		}
		if _, err := c.compileExprValue(s.Cond); err != nil {
			return err
		}
		c.a.BrfalseLabel(end)
		c.loopStack = append(c.loopStack, loopCtx{continueLabel: start, breakLabel: end})
		err := c.compileStmts(s.Body)
		c.loopStack = c.loopStack[:len(c.loopStack)-1]
		if err != nil {
			return err
		}
		c.a.BrLabel(start)
		return c.a.Label(end)

	case *ast.ForStmt:
		start := c.freshLabel("for_start")
		post := c.freshLabel("for_post")
		end := c.freshLabel("for_end")
		if s.Init != nil {
			if err := c.compileStmt(s.Init); err != nil {
				return err
			}
		}
		if err := c.a.Label(start); err != nil {
			return err
		}
		if s.Cond != nil {
			if _, err := c.compileExprValue(s.Cond); err != nil {
				return err
			}
			c.a.BrfalseLabel(end)
		}
		c.loopStack = append(c.loopStack, loopCtx{continueLabel: post, breakLabel: end})
		err := c.compileStmts(s.Body)
		c.loopStack = c.loopStack[:len(c.loopStack)-1]
		if err != nil {
			return err
		}
		if err := c.a.Label(post); err != nil {
			return err
		}
		if s.Post != nil {
			if err := c.compileStmt(s.Post); err != nil {
				return err
			}
		}
		c.a.BrLabel(start)
		return c.a.Label(end)

	case *ast.ReturnStmt:
		if s.Value != nil {
			if _, err := c.compileExprValue(s.Value); err != nil {
				return err
			}
		} else if err := c.a.PushConst(value.Null()); err != nil {
			return err
		}
		if len(c.returnStack) == 0 {
			c.a.Ret()
			return nil
		}
		c.a.BrLabel(c.returnStack[len(c.returnStack)-1])
		return nil

	case *ast.BreakStmt:
		if len(c.loopStack) == 0 {
			return errf("break outside a loop")
		}
		c.a.BrLabel(c.loopStack[len(c.loopStack)-1].breakLabel)
		return nil

	case *ast.ContinueStmt:
		if len(c.loopStack) == 0 {
			return errf("continue outside a loop")
		}
		c.a.BrLabel(c.loopStack[len(c.loopStack)-1].continueLabel)
		return nil

	case *ast.MatchStmt:
		return c.compileMatch(s)

	default:
		return errf("codegen: unhandled statement %T", stmt)
	}
}

func (c *compiler) compileMatch(s *ast.MatchStmt) error {
	if _, err := c.compileExprValue(s.Value); err != nil {
		return err
	}
	if err := c.storeLocal(s.ValueSlot); err != nil {
		return err
	}

	end := c.freshLabel("match_end")
	for _, arm := range s.Arms {
		next := c.freshLabel("match_arm")
		if err := c.loadLocal(s.ValueSlot); err != nil {
			return err
		}
		if _, err := c.compileExprValue(arm.Pattern); err != nil {
			return err
		}
		c.a.Ceq()
		c.a.BrfalseLabel(next)
		if err := c.compileStmts(arm.Body); err != nil {
			return err
		}
		c.a.BrLabel(end)
		if err := c.a.Label(next); err != nil {
			return err
		}
	}
	if err := c.compileStmts(s.Default); err != nil {
		return err
	}
	return c.a.Label(end)
}

// compileExprValue compiles e and asserts it leaves exactly one value on
// the stack, which is true for every expression except a call to a
// zero-result builtin used where a value is required — a compile error.
func (c *compiler) compileExprValue(e ast.Expr) (bool, error) {
	produces, err := c.compileExpr(e)
	if err != nil {
		return false, err
	}
	if !produces {
		return false, errf("expression does not produce a value")
	}
	return true, nil
}

func (c *compiler) storeLocal(slot int) error {
	if slot < 0 || slot > 255 {
		return errf("local slot %d out of range for a u8 operand", slot)
	}
	c.a.Stloc(uint8(slot))
	return nil
}

func (c *compiler) loadLocal(slot int) error {
	if slot < 0 || slot > 255 {
		return errf("local slot %d out of range for a u8 operand", slot)
	}
	c.a.Ldloc(uint8(slot))
	return nil
}

func builtinCallIndex(ordinal int) uint16 { return uint16(ordinal) }

// compileExpr compiles e, returning whether it left a value on the stack.
func (c *compiler) compileExpr(expr ast.Expr) (bool, error) {
	switch e := expr.(type) {
	case *ast.IntLit:
		return true, c.a.PushConst(value.Int(e.Value))
	case *ast.FloatLit:
		return true, c.a.PushConst(value.Float(e.Value))
	case *ast.BoolLit:
		return true, c.a.PushConst(value.Bool(e.Value))
	case *ast.StringLit:
		return true, c.a.PushConst(value.String(e.Value))
	case *ast.NullLit:
		return true, c.a.PushConst(value.Null())
	case *ast.LocalGet:
		return true, c.loadLocal(e.Slot)
	case *ast.Unary:
		return c.compileUnary(e)
	case *ast.Binary:
		return c.compileBinary(e)
	case *ast.Index:
		if _, err := c.compileExprValue(e.Container); err != nil {
			return false, err
		}
		if _, err := c.compileExprValue(e.Key); err != nil {
			return false, err
		}
		c.a.Call(builtinCallIndex(builtin.Get), 2)
		return true, nil
	case *ast.ArrayLit:
		c.a.Call(builtinCallIndex(builtin.ArrayNew), 0)
		for _, el := range e.Elements {
			if _, err := c.compileExprValue(el); err != nil {
				return false, err
			}
			c.a.Call(builtinCallIndex(builtin.ArrayPush), 2)
		}
		return true, nil
	case *ast.MapLit:
		c.a.Call(builtinCallIndex(builtin.MapNew), 0)
		for _, entry := range e.Entries {
			if _, err := c.compileExprValue(entry.Key); err != nil {
				return false, err
			}
			if _, err := c.compileExprValue(entry.Value); err != nil {
				return false, err
			}
			c.a.Call(builtinCallIndex(builtin.Set), 3)
		}
		return true, nil
	case *ast.Call:
		return c.compileCall(e.Callee, e.Args)
	case *ast.IIFE:
		return c.compileIIFE(e)
	case *ast.Closure:
		return false, errf("closures are not first-class values in this vm; only immediately-invoked closures are supported")
	default:
		return false, errf("codegen: unhandled expression %T", expr)
	}
}

func (c *compiler) compileUnary(e *ast.Unary) (bool, error) {
	if _, err := c.compileExprValue(e.Operand); err != nil {
		return false, err
	}
	switch e.Op {
	case "-":
		c.a.Neg()
	case "!":
		if err := c.a.PushConst(value.Bool(false)); err != nil {
			return false, err
		}
		c.a.Ceq()
	default:
		return false, errf("codegen: unknown unary operator %q", e.Op)
	}
	return true, nil
}

func (c *compiler) compileBinary(e *ast.Binary) (bool, error) {
	switch e.Op {
	case "&&":
		return c.compileAnd(e)
	case "||":
		return c.compileOr(e)
	}

	if _, err := c.compileExprValue(e.Left); err != nil {
		return false, err
	}
	if _, err := c.compileExprValue(e.Right); err != nil {
		return false, err
	}
	switch e.Op {
	case "+":
		c.a.Add()
	case "-":
		c.a.Sub()
	case "*":
		c.a.Mul()
	case "/":
		c.a.Div()
	case "<<":
		c.a.Shl()
	case ">>":
		c.a.Shr()
	case "==":
		c.a.Ceq()
	case "!=":
		c.a.Ceq()
		if err := c.a.PushConst(value.Bool(false)); err != nil {
			return false, err
		}
		c.a.Ceq()
	case "<":
		c.a.Clt()
	case ">":
		c.a.Cgt()
	case "<=":
		c.a.Cgt()
		if err := c.a.PushConst(value.Bool(false)); err != nil {
			return false, err
		}
		c.a.Ceq()
	case ">=":
		c.a.Clt()
		if err := c.a.PushConst(value.Bool(false)); err != nil {
			return false, err
		}
		c.a.Ceq()
	default:
		return false, errf("codegen: unknown binary operator %q", e.Op)
	}
	return true, nil
}

// compileAnd/compileOr implement short-circuit evaluation with Dup +
// Brfalse, grounded on §4.6's short-circuit codegen rule: the left operand
// is evaluated once, duplicated so its boolean value can gate the branch
// without re-evaluating it, and discarded only on the path that falls
// through to the right operand.
func (c *compiler) compileAnd(e *ast.Binary) (bool, error) {
	short := c.freshLabel("and_short")
	end := c.freshLabel("and_end")
	if _, err := c.compileExprValue(e.Left); err != nil {
		return false, err
	}
	c.a.Dup()
	c.a.BrfalseLabel(short)
	c.a.Pop()
	if _, err := c.compileExprValue(e.Right); err != nil {
		return false, err
	}
	c.a.BrLabel(end)
	if err := c.a.Label(short); err != nil {
		return false, err
	}
	return true, c.a.Label(end)
}

func (c *compiler) compileOr(e *ast.Binary) (bool, error) {
	evalRight := c.freshLabel("or_eval_right")
	end := c.freshLabel("or_end")
	if _, err := c.compileExprValue(e.Left); err != nil {
		return false, err
	}
	c.a.Dup()
	c.a.BrfalseLabel(evalRight)
	c.a.BrLabel(end)
	if err := c.a.Label(evalRight); err != nil {
		return false, err
	}
	c.a.Pop()
	if _, err := c.compileExprValue(e.Right); err != nil {
		return false, err
	}
	return true, c.a.Label(end)
}

// compileCall resolves callee against the merged function table (linker
// rewrites a resolved in-unit call's Callee to "#<index>"), the closed
// builtin table, or a host import, in that order.
func (c *compiler) compileCall(callee string, args []ast.Expr) (bool, error) {
	if idx, ok := parseFunctionRef(callee); ok {
		return c.compileInlineCall(idx, args)
	}
	if fn, ok := builtin.ByName(callee); ok {
		if len(args) != fn.Arity {
			return false, errf("builtin %s expects %d args, got %d", fn.Name, fn.Arity, len(args))
		}
		for _, a := range args {
			if _, err := c.compileExprValue(a); err != nil {
				return false, err
			}
		}
		c.a.Call(builtinCallIndex(fn.Index), uint8(len(args)))
		return !noValueBuiltins[fn.Name], nil
	}
	return c.compileHostCall(callee, args)
}

func parseFunctionRef(callee string) (int, bool) {
	if len(callee) < 2 || callee[0] != '#' {
		return 0, false
	}
	idx := 0
	for _, ch := range callee[1:] {
		if ch < '0' || ch > '9' {
			return 0, false
		}
		idx = idx*10 + int(ch-'0')
	}
	return idx, true
}

func (c *compiler) compileHostCall(name string, args []ast.Expr) (bool, error) {
	idx, seen := c.importIndex[name]
	if seen {
		if c.importArity[name] != len(args) {
			return false, errf("import %q previously called with %d args, now called with %d", name, c.importArity[name], len(args))
		}
	} else {
		idx = len(c.importIndex)
		c.importIndex[name] = idx
		c.importArity[name] = len(args)
	}
	for _, a := range args {
		if _, err := c.compileExprValue(a); err != nil {
			return false, err
		}
	}
	c.a.Call(uint16(bytecode.BuiltinBase+idx), uint8(len(args)))
	return true, nil
}

// compileInlineCall inlines the target function's body at the call site
// (see the package doc for why): arguments bind into the callee's own
// global slots, a fresh exit label stands in for "return", and an implicit
// trailing `return null` covers fall-through with no explicit return.
func (c *compiler) compileInlineCall(idx int, args []ast.Expr) (bool, error) {
	fn, ok := c.functions[idx]
	if !ok {
		return false, errf("codegen: unknown function index %d", idx)
	}
	if len(args) != fn.Arity {
		return false, errf("function %s expects %d args, got %d", fn.Name, fn.Arity, len(args))
	}
	if c.inlining[idx] {
		return false, errf("function %s is called recursively, which the register-less vm cannot execute", fn.Name)
	}

	for i, paramSlot := range fn.ParamSlots {
		if _, err := c.compileExprValue(args[i]); err != nil {
			return false, err
		}
		if err := c.storeLocal(paramSlot); err != nil {
			return false, err
		}
	}

	exit := c.freshLabel(fmt.Sprintf("fn%d_exit", idx))
	c.inlining[idx] = true
	c.returnStack = append(c.returnStack, exit)
	err := c.compileStmts(fn.Body)
	c.returnStack = c.returnStack[:len(c.returnStack)-1]
	c.inlining[idx] = false
	if err != nil {
		return false, err
	}

	if err := c.a.PushConst(value.Null()); err != nil {
		return false, err
	}
	if err := c.a.Label(exit); err != nil {
		return false, err
	}
	return true, nil
}

// compileIIFE inlines a closure literal invoked at the point it is
// declared: each capture is copied from its outer slot into the closure's
// own inner slot, then the body runs exactly like compileInlineCall's
// function body, with its own fresh exit label.
func (c *compiler) compileIIFE(e *ast.IIFE) (bool, error) {
	cl := e.Closure
	if len(e.Args) != len(cl.ParamSlots) {
		return false, errf("closure expects %d args, got %d", len(cl.ParamSlots), len(e.Args))
	}

	for _, capture := range cl.CaptureCopies {
		if err := c.loadLocal(capture.OuterSlot); err != nil {
			return false, err
		}
		if err := c.storeLocal(capture.InnerSlot); err != nil {
			return false, err
		}
	}
	for i, paramSlot := range cl.ParamSlots {
		if _, err := c.compileExprValue(e.Args[i]); err != nil {
			return false, err
		}
		if err := c.storeLocal(paramSlot); err != nil {
			return false, err
		}
	}

	exit := c.freshLabel("closure_exit")
	c.returnStack = append(c.returnStack, exit)
	err := c.compileStmts(cl.Body)
	c.returnStack = c.returnStack[:len(c.returnStack)-1]
	if err != nil {
		return false, err
	}

	if err := c.a.PushConst(value.Null()); err != nil {
		return false, err
	}
	if err := c.a.Label(exit); err != nil {
		return false, err
	}
	return true, nil
}

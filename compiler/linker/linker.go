// Package linker merges several parsed compiler units into one, grounded
// field-for-field on original_source/pd-vm/src/compiler/linker.rs:
// disjoint local-slot ranges per unit via a running local base, function
// re-indexing through a name -> merged-index map (arity agreement is
// checked separately by ValidateArities), full statement/expression index
// remapping, and scope-prefixed exported local names ("prefix::name").
package linker

import (
	"fmt"

	"github.com/wudi/edgevm/compiler/ast"
)

// Error is a hard link-time error: an arity conflict between two units'
// same-named function. It is not raised for a wildcard-import argc
// mismatch (§9 Open Question 3); codegen rejects that case instead.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

// ParsedUnit is one frontend's output plus the scope prefix its exported
// locals are renamed under when merged (sanitized from the unit's source
// name: non [A-Za-z0-9_] bytes become '_').
type ParsedUnit struct {
	Unit        *ast.Unit
	ScopePrefix string
}

// SanitizeScopePrefix mirrors sanitize_scope_prefix: keep ASCII
// alphanumerics and underscore, replace everything else with '_'.
func SanitizeScopePrefix(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// Merged is the linker's output: one flat statement list, one locals
// count, and one function table with stable indices.
type Merged struct {
	Source    string
	Stmts     []ast.Stmt
	Locals    int
	Functions []*ast.FunctionDecl
	Imports   []ast.Import
}

// MergeUnits merges units in order, the earliest unit's functions winning
// index assignment; a later unit redeclaring the same function name is
// mapped to the earliest declaration's index. MergeUnits does not report an
// arity conflict between the two: ValidateArities does, and
// compiler.CompileUnits calls it before MergeUnits.
func MergeUnits(units []ParsedUnit) (*Merged, error) {
	merged := &Merged{}
	functionIndex := make(map[string]int)

	for _, pu := range units {
		localBase := merged.Locals
		funcRemap := remapFunctions(pu.Unit.Functions, functionIndex, merged, localBase, pu.ScopePrefix)

		for _, stmt := range pu.Unit.Stmts {
			remapStmt(stmt, localBase, funcRemap)
		}
		merged.Stmts = append(merged.Stmts, pu.Unit.Stmts...)
		merged.Locals += pu.Unit.Locals

		merged.Imports = append(merged.Imports, pu.Unit.Imports...)
		merged.Source += pu.Unit.Source
	}

	return merged, nil
}

// remapFunctions assigns each of fns a merged index: reusing an existing
// index if the name was already declared by an earlier unit (whatever its
// arity), otherwise appending a new entry. It also remaps each
// function body's own local indices and nested calls before appending, and
// exports a prefixed alias ("prefix::name") alongside the bare name so a
// later unit can reference either.
func remapFunctions(fns []*ast.FunctionDecl, functionIndex map[string]int, merged *Merged, localBase int, scopePrefix string) map[string]int {
	remap := make(map[string]int, len(fns))
	for _, fn := range fns {
		for i, body := range fn.Body {
			remapStmt(body, localBase, remap)
			fn.Body[i] = body
		}
		for i := range fn.ParamSlots {
			fn.ParamSlots[i] += localBase
		}

		if existingIdx, ok := functionIndex[fn.Name]; ok {
			existing := merged.Functions[existingIdx]
			if existing.Arity != fn.Arity {
				// An arity conflict is not reported here: the earliest
				// declaration is kept and the name is remapped to it.
				// ValidateArities reports the conflict as an Error.
			}
			remap[fn.Name] = existingIdx
			continue
		}

		newIdx := len(merged.Functions)
		fn.Index = newIdx
		functionIndex[fn.Name] = newIdx
		merged.Functions = append(merged.Functions, fn)
		remap[fn.Name] = newIdx

		if scopePrefix != "" && fn.Exported {
			prefixed := scopePrefix + "::" + fn.Name
			functionIndex[prefixed] = newIdx
			remap[prefixed] = newIdx
		}
	}
	return remap
}

// ValidateArities re-checks every function name appearing more than once
// across the merged unit list agrees on arity, returning a hard Error on
// the first mismatch. Call this before MergeUnits if strict link-time
// arity checking is required; MergeUnits itself prefers the first
// declaration rather than failing outright.
func ValidateArities(units []ParsedUnit) error {
	arity := make(map[string]int)
	for _, pu := range units {
		for _, fn := range pu.Unit.Functions {
			if want, ok := arity[fn.Name]; ok && want != fn.Arity {
				return &Error{Message: fmt.Sprintf("function %q redeclared with arity %d, previously %d", fn.Name, fn.Arity, want)}
			}
			arity[fn.Name] = fn.Arity
		}
	}
	return nil
}

// remapStmt walks stmt in place, shifting every local slot reference by
// localBase and rewriting Call nodes through funcRemap.
func remapStmt(stmt ast.Stmt, localBase int, funcRemap map[string]int) {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		remapExpr(s.X, localBase, funcRemap)
	case *ast.LetStmt:
		s.Slot += localBase
		remapExpr(s.Value, localBase, funcRemap)
	case *ast.AssignStmt:
		s.Slot += localBase
		remapExpr(s.Value, localBase, funcRemap)
	case *ast.IndexAssignStmt:
		s.Slot += localBase
		remapExpr(s.Container, localBase, funcRemap)
		remapExpr(s.Key, localBase, funcRemap)
		remapExpr(s.Value, localBase, funcRemap)
	case *ast.IfStmt:
		remapExpr(s.Cond, localBase, funcRemap)
		remapStmts(s.Then, localBase, funcRemap)
		remapStmts(s.Else, localBase, funcRemap)
	case *ast.WhileStmt:
		remapExpr(s.Cond, localBase, funcRemap)
		remapStmts(s.Body, localBase, funcRemap)
	case *ast.ForStmt:
		if s.Init != nil {
			remapStmt(s.Init, localBase, funcRemap)
		}
		if s.Cond != nil {
			remapExpr(s.Cond, localBase, funcRemap)
		}
		if s.Post != nil {
			remapStmt(s.Post, localBase, funcRemap)
		}
		remapStmts(s.Body, localBase, funcRemap)
	case *ast.ReturnStmt:
		if s.Value != nil {
			remapExpr(s.Value, localBase, funcRemap)
		}
	case *ast.MatchStmt:
		s.ValueSlot += localBase
		s.ResultSlot += localBase
		remapExpr(s.Value, localBase, funcRemap)
		for i := range s.Arms {
			remapExpr(s.Arms[i].Pattern, localBase, funcRemap)
			remapStmts(s.Arms[i].Body, localBase, funcRemap)
		}
		remapStmts(s.Default, localBase, funcRemap)
	case *ast.BreakStmt, *ast.ContinueStmt:
		// no slots or calls to remap
	}
}

func remapStmts(stmts []ast.Stmt, localBase int, funcRemap map[string]int) {
	for _, s := range stmts {
		remapStmt(s, localBase, funcRemap)
	}
}

func remapExpr(expr ast.Expr, localBase int, funcRemap map[string]int) {
	switch e := expr.(type) {
	case *ast.LocalGet:
		e.Slot += localBase
	case *ast.Binary:
		remapExpr(e.Left, localBase, funcRemap)
		remapExpr(e.Right, localBase, funcRemap)
	case *ast.Unary:
		remapExpr(e.Operand, localBase, funcRemap)
	case *ast.Call:
		if newIdx, ok := funcRemap[e.Callee]; ok {
			e.Callee = fmt.Sprintf("#%d", newIdx)
		}
		for _, a := range e.Args {
			remapExpr(a, localBase, funcRemap)
		}
	case *ast.ArrayLit:
		for _, el := range e.Elements {
			remapExpr(el, localBase, funcRemap)
		}
	case *ast.MapLit:
		for _, entry := range e.Entries {
			remapExpr(entry.Key, localBase, funcRemap)
			remapExpr(entry.Value, localBase, funcRemap)
		}
	case *ast.Index:
		remapExpr(e.Container, localBase, funcRemap)
		remapExpr(e.Key, localBase, funcRemap)
	case *ast.Closure:
		remapClosure(e, localBase, funcRemap)
	case *ast.IIFE:
		remapClosure(e.Closure, localBase, funcRemap)
		for _, a := range e.Args {
			remapExpr(a, localBase, funcRemap)
		}
	}
}

func remapClosure(cl *ast.Closure, localBase int, funcRemap map[string]int) {
	for i := range cl.ParamSlots {
		cl.ParamSlots[i] += localBase
	}
	for i := range cl.CaptureCopies {
		cl.CaptureCopies[i].OuterSlot += localBase
		cl.CaptureCopies[i].InnerSlot += localBase
	}
	remapStmts(cl.Body, localBase, funcRemap)
}

// Package shared is the scope-tracking plumbing every compiler/frontend
// parser builds on: local-slot allocation, top-level function registration,
// and the closure-capture-context stack used to turn a free variable
// reference inside a closure body into an ast.CaptureCopy. Each surface
// frontend owns its own lexer and recursive-descent parser; they all call
// into one Builder so locals, functions and captures are assigned the same
// way regardless of which concrete syntax produced them.
package shared

import "github.com/wudi/edgevm/compiler/ast"

// ClosureScope is one nested closure's own local namespace plus the
// capture copies it has accumulated so far.
type ClosureScope struct {
	locals   map[string]int
	captures []ast.CaptureCopy
	seen     map[string]bool
}

// Builder accumulates locals, functions and closure scopes for one parsed
// unit. A frontend parser constructs one Builder per source file.
type Builder struct {
	locals    map[string]int
	nextLocal int

	functions    map[string]*ast.FunctionDecl
	functionList []*ast.FunctionDecl
	nextFunction int

	closures []*ClosureScope
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		locals:    make(map[string]int),
		functions: make(map[string]*ast.FunctionDecl),
	}
}

// DeclareLocal allocates a fresh slot for name in the innermost active
// scope (a closure scope if one is open, else the unit's top-level scope)
// and returns it. Redeclaring a name shadows its previous slot within that
// scope, matching `let` re-binding in the surface languages.
func (b *Builder) DeclareLocal(name string) int {
	if cs := b.currentClosure(); cs != nil {
		slot := b.allocSlot()
		cs.locals[name] = slot
		cs.seen[name] = true
		return slot
	}
	slot := b.allocSlot()
	b.locals[name] = slot
	return slot
}

func (b *Builder) allocSlot() int {
	slot := b.nextLocal
	b.nextLocal++
	return slot
}

// ResolveLocal looks up name, innermost scope first. If name is found in
// an outer scope while one or more closure scopes are open between here
// and there, a CaptureCopy is recorded in every intervening closure scope
// (innermost last) so codegen can copy the value in at closure-invocation
// time, and the slot returned is the innermost scope's own copy.
func (b *Builder) ResolveLocal(name string) (int, bool) {
	for i := len(b.closures) - 1; i >= 0; i-- {
		if slot, ok := b.closures[i].locals[name]; ok {
			return b.threadCapture(i, name, slot)
		}
	}
	if slot, ok := b.locals[name]; ok {
		return b.threadCapture(-1, name, slot)
	}
	return 0, false
}

// threadCapture propagates a resolution found at foundDepth (-1 for the
// unit's own top-level scope) outward through every closure scope above
// it, inserting one CaptureCopy per intervening scope the first time that
// scope observes the name.
func (b *Builder) threadCapture(foundDepth int, name string, outerSlot int) (int, bool) {
	slot := outerSlot
	for i := foundDepth + 1; i < len(b.closures); i++ {
		cs := b.closures[i]
		if inner, ok := cs.locals[name]; ok {
			slot = inner
			continue
		}
		inner := b.allocSlot()
		cs.locals[name] = inner
		cs.captures = append(cs.captures, ast.CaptureCopy{OuterSlot: slot, InnerSlot: inner, Name: name})
		slot = inner
	}
	return slot, true
}

func (b *Builder) currentClosure() *ClosureScope {
	if len(b.closures) == 0 {
		return nil
	}
	return b.closures[len(b.closures)-1]
}

// OpenClosure pushes a new closure scope, returning the param slots
// allocated for params (declared directly in the new scope).
func (b *Builder) OpenClosure(params []string) []int {
	cs := &ClosureScope{locals: make(map[string]int), seen: make(map[string]bool)}
	b.closures = append(b.closures, cs)
	slots := make([]int, len(params))
	for i, p := range params {
		slots[i] = b.DeclareLocal(p)
	}
	return slots
}

// CloseClosure pops the innermost closure scope and returns the capture
// copies it accumulated, in the order they were first observed.
func (b *Builder) CloseClosure() []ast.CaptureCopy {
	n := len(b.closures)
	cs := b.closures[n-1]
	b.closures = b.closures[:n-1]
	return cs.captures
}

// DeclareFunction registers a named top-level function and returns its
// index. Redeclaring the same name returns the existing declaration
// (callers should treat this as a hard redeclaration error if arities
// differ; the linker also re-validates this across merged units).
func (b *Builder) DeclareFunction(name string, arity int, args []string, line int) *ast.FunctionDecl {
	if fn, ok := b.functions[name]; ok {
		return fn
	}
	fn := &ast.FunctionDecl{Name: name, Arity: arity, Index: b.nextFunction, Args: args, Line: line}
	b.nextFunction++
	b.functions[name] = fn
	b.functionList = append(b.functionList, fn)
	return fn
}

// DeclareFunctionParams allocates fresh top-level-scope local slots for a
// function's parameters (function bodies do not nest inside a closure
// scope, since a FunctionDecl is never itself a capturing closure).
func (b *Builder) DeclareFunctionParams(params []string) []int {
	slots := make([]int, len(params))
	for i, p := range params {
		slots[i] = b.DeclareLocal(p)
	}
	return slots
}

// Locals returns the total number of local slots allocated so far.
func (b *Builder) Locals() int { return b.nextLocal }

// Functions returns every declared top-level function, in declaration
// order.
func (b *Builder) Functions() []*ast.FunctionDecl { return b.functionList }

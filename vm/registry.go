package vm

import (
	"strconv"
	"strings"
	"sync"

	"github.com/wudi/edgevm/value"
)

// CallOutcome is what a HostFunction returns: either a result to push
// (left-to-right, §6.2) or a request to suspend the call (§4.4's
// yield/resume protocol).
type CallOutcome struct {
	Yielded bool
	Return  []value.Value
}

// Returned wraps vals as a non-yielding outcome.
func Returned(vals ...value.Value) CallOutcome { return CallOutcome{Return: vals} }

// Yield is the sentinel outcome a host function returns to suspend.
var Yield = CallOutcome{Yielded: true}

// HostFunction is the host-call ABI (§6.2): it receives the VM handle and
// the already-ordered argument slice (args[0] is the earliest pushed) and
// returns a CallOutcome or a HostError.
type HostFunction interface {
	Call(v *Vm, args []value.Value) (CallOutcome, error)
}

// HostFunc adapts a plain function to the HostFunction interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type HostFunc func(v *Vm, args []value.Value) (CallOutcome, error)

func (f HostFunc) Call(v *Vm, args []value.Value) (CallOutcome, error) { return f(v, args) }

type registryEntry struct {
	name  string
	arity uint8
	fn    HostFunction
}

// HostBindingPlan is a per-Program binding plan: which registry slot each
// import position resolves to. Plans are cached by their exact import
// signature so binding a new Vm to an already-seen Program never re-walks
// name resolution (§4.4 "binding a new VM copies the plan without
// re-resolving names").
type HostBindingPlan struct {
	signature     []value.HostImport
	resolvedCalls []int // parallel to signature; registry slot index
}

// HostFunctionRegistry is a name -> host function table with a
// binding-plan cache keyed by import signature (§4.4).
type HostFunctionRegistry struct {
	mu        sync.Mutex
	entries   []registryEntry
	byName    map[string]int
	planCache map[string]*HostBindingPlan
}

// NewHostFunctionRegistry returns an empty registry.
func NewHostFunctionRegistry() *HostFunctionRegistry {
	return &HostFunctionRegistry{
		byName:    make(map[string]int),
		planCache: make(map[string]*HostBindingPlan),
	}
}

// Register adds a named host function. Re-registering the same name
// overwrites the slot in place (so a later `use vm::*` first-use
// arity, per §9 Open Question 3, can still be served by the same name).
func (r *HostFunctionRegistry) Register(name string, arity uint8, fn HostFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.byName[name]; ok {
		r.entries[idx] = registryEntry{name: name, arity: arity, fn: fn}
		return
	}
	idx := len(r.entries)
	r.entries = append(r.entries, registryEntry{name: name, arity: arity, fn: fn})
	r.byName[name] = idx
}

func signatureKey(imports []value.HostImport) string {
	var b strings.Builder
	for _, imp := range imports {
		b.WriteString(imp.Name)
		b.WriteByte(0)
		b.WriteString(strconv.Itoa(int(imp.Arity)))
		b.WriteByte(0)
	}
	return b.String()
}

// PlanFor returns the cached binding plan for imports, building and
// caching one on first use. Name resolution happens here, once per
// distinct import signature; "legacy order" binding (when the registry
// has never had anything registered by name, i.e. it is empty) binds
// positionally instead, matching the source's dual binding mode.
func (r *HostFunctionRegistry) PlanFor(imports []value.HostImport) (*HostBindingPlan, error) {
	key := signatureKey(imports)

	r.mu.Lock()
	if plan, ok := r.planCache[key]; ok {
		r.mu.Unlock()
		return plan, nil
	}
	entries := append([]registryEntry(nil), r.entries...)
	byName := make(map[string]int, len(r.byName))
	for k, v := range r.byName {
		byName[k] = v
	}
	r.mu.Unlock()

	resolved := make([]int, len(imports))
	legacyOrder := len(byName) == 0
	for i, imp := range imports {
		if legacyOrder {
			if i >= len(entries) {
				return nil, unboundImport(imp.Name)
			}
			if entries[i].arity != imp.Arity {
				return nil, invalidCallArity(imp.Name, int(entries[i].arity), int(imp.Arity))
			}
			resolved[i] = i
			continue
		}
		idx, ok := byName[imp.Name]
		if !ok {
			return nil, unboundImport(imp.Name)
		}
		if entries[idx].arity != imp.Arity {
			return nil, invalidCallArity(imp.Name, int(entries[idx].arity), int(imp.Arity))
		}
		resolved[i] = idx
	}

	plan := &HostBindingPlan{signature: append([]value.HostImport(nil), imports...), resolvedCalls: resolved}

	r.mu.Lock()
	r.planCache[key] = plan
	r.mu.Unlock()
	return plan, nil
}

// BindVM resolves v.program.Imports against r (building/caching a plan)
// and installs the resulting host-function slice on v. It is an error to
// bind a Vm that already has host functions bound.
func (r *HostFunctionRegistry) BindVM(v *Vm) error {
	if v.hostFunctions != nil {
		return errf("AlreadyBound", "vm already has host functions bound")
	}
	plan, err := r.PlanFor(v.program.Imports)
	if err != nil {
		return err
	}
	return r.bindWithPlan(v, plan)
}

func (r *HostFunctionRegistry) bindWithPlan(v *Vm, plan *HostBindingPlan) error {
	r.mu.Lock()
	entries := r.entries
	r.mu.Unlock()

	fns := make([]HostFunction, len(plan.resolvedCalls))
	for i, slot := range plan.resolvedCalls {
		fns[i] = entries[slot].fn
	}
	v.hostFunctions = fns
	return nil
}

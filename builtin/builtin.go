// Package builtin defines the closed, numerically indexed set of
// functions reachable from every compiler frontend without an import
// (§4.7). The table is its own package, independent of both the VM and
// the wire codec, since both need to agree on name/arity/ordinal without
// importing each other.
package builtin

// Function describes one builtin's fixed calling convention.
type Function struct {
	Index int
	Name  string
	Arity int
}

// The ordinals below are part of the wire format's call-index space (any
// index below bytecode.BuiltinBase addresses this table by position) and
// must never be reordered once shipped.
const (
	Len = iota
	Slice
	Concat
	ArrayNew
	ArrayPush
	MapNew
	Get
	Set
	IoOpen
	IoPopen
	IoReadAll
	IoReadLine
	IoWrite
	IoFlush
	IoClose
	IoExists
	Print
)

var table = []Function{
	Len:        {Index: Len, Name: "len", Arity: 1},
	Slice:      {Index: Slice, Name: "slice", Arity: 3},
	Concat:     {Index: Concat, Name: "concat", Arity: 2},
	ArrayNew:   {Index: ArrayNew, Name: "array_new", Arity: 0},
	ArrayPush:  {Index: ArrayPush, Name: "array_push", Arity: 2},
	MapNew:     {Index: MapNew, Name: "map_new", Arity: 0},
	Get:        {Index: Get, Name: "get", Arity: 2},
	Set:        {Index: Set, Name: "set", Arity: 3},
	IoOpen:     {Index: IoOpen, Name: "io_open", Arity: 2},
	IoPopen:    {Index: IoPopen, Name: "io_popen", Arity: 2},
	IoReadAll:  {Index: IoReadAll, Name: "io_read_all", Arity: 1},
	IoReadLine: {Index: IoReadLine, Name: "io_read_line", Arity: 1},
	IoWrite:    {Index: IoWrite, Name: "io_write", Arity: 2},
	IoFlush:    {Index: IoFlush, Name: "io_flush", Arity: 1},
	IoClose:    {Index: IoClose, Name: "io_close", Arity: 1},
	IoExists:   {Index: IoExists, Name: "io_exists", Arity: 1},
	Print:      {Index: Print, Name: "print", Arity: 1},
}

var byName = func() map[string]Function {
	m := make(map[string]Function, len(table))
	for _, f := range table {
		m[f.Name] = f
	}
	return m
}()

// ByIndex returns the builtin at call index idx, if any.
func ByIndex(idx int) (Function, bool) {
	if idx < 0 || idx >= len(table) {
		return Function{}, false
	}
	return table[idx], true
}

// ByName returns the builtin named name, if any.
func ByName(name string) (Function, bool) {
	f, ok := byName[name]
	return f, ok
}

// All returns every builtin in index order.
func All() []Function {
	out := make([]Function, len(table))
	copy(out, table)
	return out
}

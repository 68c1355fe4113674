package jit

import "sync"

// signature identifies a trace independent of which Program instance
// recorded it: two programs compiled from identical source (and therefore
// identical fingerprints) produce byte-identical traces at the same root
// ip, so the cache is keyed on (program fingerprint, trace signature)
// rather than on any particular *value.Program pointer (§9 Open Question
// 4) — letting independent Vm instances over the same compiled bytes share
// one compiled native blob.
type signature struct {
	rootIP    uint32
	terminal  TraceTerminal
	stepCount int
}

type cacheKey struct {
	fp  fingerprint
	sig signature
}

// nativeEntry is what the cache stores per hot trace: either a working
// native blob, or nil (meaning native codegen NYI'd and every hit should
// fall back to the TraceStep interpreter).
type nativeEntry struct {
	fn  nativeTraceFn
	mem *ExecutableMemory
}

var (
	cacheMu sync.Mutex
	cache   = make(map[cacheKey]*nativeEntry)
)

// lookupOrCompileNative returns the cached native entry for (fp, trace),
// compiling one on first use. A nil *nativeEntry (not an error) means
// "tried and NYI'd"; callers fall back to the TraceStep interpreter for
// that trace from then on without retrying codegen every iteration.
func lookupOrCompileNative(fp fingerprint, trace *Trace) *nativeEntry {
	sig := signature{rootIP: trace.RootIP, terminal: trace.Terminal, stepCount: len(trace.Steps)}
	key := cacheKey{fp: fp, sig: sig}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if entry, ok := cache[key]; ok {
		return entry
	}

	mem, fn, err := compileNative(trace)
	var entry *nativeEntry
	if err == nil {
		entry = &nativeEntry{fn: fn, mem: mem}
	}
	cache[key] = entry
	return entry
}

// Package compiler dispatches a source file to one of the four surface
// frontends by extension, links it against any other units it is built
// with, and lowers the merged result to bytecode (§4.5/§6.5), grounded
// on original_source/pd-vm/src/compiler.rs's SourceFlavor/from_extension
// dispatch and its ParseError/SourceError wrapping.
package compiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wudi/edgevm/compiler/ast"
	"github.com/wudi/edgevm/compiler/codegen"
	"github.com/wudi/edgevm/compiler/frontend/javascript"
	"github.com/wudi/edgevm/compiler/frontend/lua"
	"github.com/wudi/edgevm/compiler/frontend/rustscript"
	"github.com/wudi/edgevm/compiler/frontend/scheme"
	"github.com/wudi/edgevm/compiler/linker"
	"github.com/wudi/edgevm/value"
)

// SourceFlavor is which of the four surface syntaxes a source file is
// written in.
type SourceFlavor int

const (
	FlavorRustScript SourceFlavor = iota
	FlavorJavaScript
	FlavorLua
	FlavorScheme
)

func (f SourceFlavor) String() string {
	switch f {
	case FlavorRustScript:
		return "rustscript"
	case FlavorJavaScript:
		return "javascript"
	case FlavorLua:
		return "lua"
	case FlavorScheme:
		return "scheme"
	default:
		return "unknown"
	}
}

// FromExtension maps a file extension (with or without the leading dot)
// to its SourceFlavor. Unrecognized extensions default to RustScript,
// matching the original's fallback behavior for extensionless sources.
func FromExtension(ext string) SourceFlavor {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "js":
		return FlavorJavaScript
	case "lua":
		return FlavorLua
	case "scm":
		return FlavorScheme
	default:
		return FlavorRustScript
	}
}

// SourceError wraps a frontend parse failure with the source file it came
// from, grounded on the original's SourceError/SourcePathError shape.
type SourceError struct {
	Path string
	Err  error
}

func (e *SourceError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Err.Error())
}

func (e *SourceError) Unwrap() error { return e.Err }

// Source is one named unit of source text plus the flavor it should be
// parsed as.
type Source struct {
	Path   string
	Text   string
	Flavor SourceFlavor
}

// CompileSource parses, links, and lowers a single source unit into a
// runnable program.
func CompileSource(src Source) (*value.CompiledProgram, error) {
	return CompileUnits([]Source{src})
}

// CompileSourceFile infers the flavor from path's extension before
// compiling, per §6.5.
func CompileSourceFile(path, text string) (*value.CompiledProgram, error) {
	return CompileSource(Source{Path: path, Text: text, Flavor: FromExtension(filepath.Ext(path))})
}

// CompileUnits parses every source (each with its own frontend, selected
// by its own Flavor), links them into one merged unit with function-index
// remapping across unit boundaries, and lowers the result to bytecode.
func CompileUnits(sources []Source) (*value.CompiledProgram, error) {
	units := make([]linker.ParsedUnit, 0, len(sources))
	for _, src := range sources {
		unit, err := parseUnit(src)
		if err != nil {
			return nil, &SourceError{Path: src.Path, Err: err}
		}
		prefix := linker.SanitizeScopePrefix(stemOf(src.Path))
		units = append(units, linker.ParsedUnit{Unit: unit, ScopePrefix: prefix})
	}

	if err := linker.ValidateArities(units); err != nil {
		return nil, err
	}
	merged, err := linker.MergeUnits(units)
	if err != nil {
		return nil, err
	}
	return codegen.Compile(merged)
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parseUnit(src Source) (*ast.Unit, error) {
	switch src.Flavor {
	case FlavorRustScript:
		return rustscript.Parse(src.Text)
	case FlavorJavaScript:
		return javascript.Parse(src.Text)
	case FlavorLua:
		return lua.Parse(src.Text)
	case FlavorScheme:
		return scheme.Parse(src.Text)
	default:
		return nil, fmt.Errorf("unknown source flavor %v", src.Flavor)
	}
}

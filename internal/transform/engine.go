// Package transform rewrites katalist call sites in a Go source file once
// their schema modules exist. Every pass is idempotent: running the engine on
// its own output changes nothing.
package transform

import (
	"bytes"
	"context"
	"errors"
	"go/ast"
	"go/build/constraint"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"

	"github.com/mark3labs/katalist/internal/emitter/goemitter"
	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/format"
	"github.com/mark3labs/katalist/internal/locator"
)

// DefaultLibraryImport is the import path of the package declaring As.
const DefaultLibraryImport = "github.com/mark3labs/katalist"

// Options keys removed from tagged call sites. Headers survives.
var generationKeys = []string{
	"GenerateSchema",
	"InterfaceName",
	"SourceFile",
	"GenerateInputSchema",
	"InputInterfaceName",
}

// Config keys removed from legacy constructor sites.
var embeddedKeys = []string{"OutputSchema", "ForceFileTransform"}

// Engine rewrites one file per call. The zero value is usable.
type Engine struct {
	// Formatter re-emits the rewritten file; goimports in format-only mode
	// when nil.
	Formatter format.Formatter
	// SchemaDir holds the generated schema package. Defaults to
	// <module root>/schemas for the module enclosing the source file.
	SchemaDir string
	// LibraryImport is the package providing the As wrapper.
	LibraryImport string
	// TypeSuffix is appended to interface names to form the type argument.
	TypeSuffix string
	// Locator overrides the identifiers matched in the source.
	Locator locator.Config
}

func (e *Engine) libraryImport() string {
	if e.LibraryImport != "" {
		return e.LibraryImport
	}
	return DefaultLibraryImport
}

func (e *Engine) wrapper() string {
	if e.Locator.Wrapper != "" {
		return e.Locator.Wrapper
	}
	return locator.DefaultConfig().Wrapper
}

func (e *Engine) typeSuffix() string {
	if e.TypeSuffix != "" {
		return e.TypeSuffix
	}
	return goemitter.TypeSuffix
}

// Transform rewrites sourcePath and stores the result either in place or,
// when writeNewFile is set, in a <name>.transformed.go sibling. It returns
// the resulting source text. functionNames limits which constructor
// bindings are correlated with method calls; empty means all.
func (e *Engine) Transform(ctx context.Context, sourcePath string, writeNewFile bool, functionNames ...string) ([]byte, error) {
	src, err := readSource(sourcePath)
	if err != nil {
		return nil, err
	}
	out, changed, err := e.rewrite(ctx, sourcePath, src, functionNames)
	if err != nil {
		return nil, err
	}
	log := clog.FromContext(ctx).With("file", sourcePath)
	if !changed {
		log.Debugf("transform: nothing to rewrite")
		return out, nil
	}

	target := sourcePath
	if writeNewFile {
		target = SiblingPath(sourcePath)
		out = ignoreConstraint(out)
	}
	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(sourcePath); err == nil {
		mode = fi.Mode().Perm()
	}
	if err := os.WriteFile(target, out, mode); err != nil {
		return nil, errdefs.New(errdefs.IOWriteError, target, err, "transform: write source")
	}
	log.Debugf("transform: wrote %s", target)
	return out, nil
}

// Render runs the same pipeline as Transform without writing anything.
func (e *Engine) Render(ctx context.Context, sourcePath string, functionNames ...string) ([]byte, error) {
	src, err := readSource(sourcePath)
	if err != nil {
		return nil, err
	}
	out, _, err := e.rewrite(ctx, sourcePath, src, functionNames)
	return out, err
}

// SiblingPath inserts the .transformed marker before the extension.
func SiblingPath(sourcePath string) string {
	ext := filepath.Ext(sourcePath)
	return strings.TrimSuffix(sourcePath, ext) + ".transformed" + ext
}

func readSource(path string) ([]byte, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errdefs.New(errdefs.FileNotFound, path, err, "transform: source file not found")
	}
	if err != nil {
		return nil, errdefs.New(errdefs.IOReadError, path, err, "transform: read source")
	}
	return src, nil
}

// rewrite applies the passes to src. When no pass edits the tree the input is
// returned untouched, which keeps a second run byte-identical.
func (e *Engine) rewrite(ctx context.Context, path string, src []byte, functionNames []string) ([]byte, bool, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, false, errdefs.New(errdefs.ParseError, path, err, "transform: parse source")
	}
	log := clog.FromContext(ctx).With("file", path)

	sites := locator.Locate(file, e.Locator)
	filter := newFilter(functionNames)
	tagged := e.validTagged(sites.Tagged)
	ctors := e.validConstructors(sites.Constructors, filter)
	wrap := e.plan(tagged, ctors, sites.Methods)

	edits := 0
	var wrappers []*ast.CallExpr
	if len(wrap) > 0 {
		imp, err := e.resolveImports(fset, file, path)
		if err != nil {
			return nil, false, err
		}
		wrappers = injectTypeArgs(file, wrap, imp, e.wrapper(), e.typeSuffix())
		log.Debugf("transform: wrapped %d call(s)", len(wrappers))
		edits += len(wrappers)
		if imp.apply(fset, file) {
			edits++
		}
	}
	for _, c := range ctors {
		edits += stripCall(fset, file, c.Call, c.Config, embeddedKeys)
	}
	for _, t := range tagged {
		edits += stripCall(fset, file, t.Call, t.Options, generationKeys)
	}
	closeWrappers(wrappers)
	if edits == 0 {
		return src, false, nil
	}

	var buf bytes.Buffer
	if err := formatNode(&buf, fset, file); err != nil {
		return nil, false, errdefs.New(errdefs.ParseError, path, err, "transform: print source")
	}
	out, err := format.Default(e.Formatter).Format(buf.Bytes(), path)
	if err != nil {
		return nil, false, errdefs.New(errdefs.ParseError, path, err, "transform: format source")
	}
	return out, !bytes.Equal(out, src), nil
}

// validTagged drops tagged sites whose interface name cannot name a
// generated type.
func (e *Engine) validTagged(in []locator.Tagged) []locator.Tagged {
	var out []locator.Tagged
	for _, t := range in {
		if token.IsIdentifier(t.InterfaceName) && token.IsExported(t.InterfaceName) {
			out = append(out, t)
		}
	}
	return out
}

// validConstructors keeps constructors with a literal, exported schema name
// whose enclosing function passes the filter.
func (e *Engine) validConstructors(in []locator.Constructor, f filter) []locator.Constructor {
	var out []locator.Constructor
	for _, c := range in {
		if !token.IsIdentifier(c.SchemaName) || !token.IsExported(c.SchemaName) {
			continue
		}
		if !f.keep(c.Func) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// plan maps each call to wrap onto its schema title: unwrapped tagged calls
// first, then unwrapped method calls on correlated client variables.
func (e *Engine) plan(tagged []locator.Tagged, ctors []locator.Constructor, methods []locator.Method) map[*ast.CallExpr]string {
	wrap := map[*ast.CallExpr]string{}
	for _, t := range tagged {
		if !t.Typed {
			wrap[t.Call] = t.InterfaceName
		}
	}
	b := bindings(ctors)
	for _, m := range methods {
		if m.Typed {
			continue
		}
		if _, ok := wrap[m.Call]; ok {
			continue
		}
		if title, ok := b.lookup(m); ok {
			wrap[m.Call] = title
		}
	}
	return wrap
}

// ignoreConstraint replaces any build constraint in the file header with
// //go:build ignore so a sibling never joins the package build.
func ignoreConstraint(src []byte) []byte {
	lines := strings.SplitAfter(string(src), "\n")
	var b strings.Builder
	b.WriteString("//go:build ignore\n\n")
	header := true
	skipBlank := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if header {
			if strings.HasPrefix(trimmed, "package ") {
				header = false
			} else if constraint.IsGoBuild(trimmed) || constraint.IsPlusBuild(trimmed) {
				skipBlank = true
				continue
			} else if skipBlank && trimmed == "" {
				skipBlank = false
				continue
			}
		}
		skipBlank = false
		b.WriteString(line)
	}
	return []byte(b.String())
}

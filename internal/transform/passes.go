package transform

import (
	"go/ast"
	gofmt "go/format"
	"go/token"
	"io"
	"path"
	"path/filepath"
	"strconv"

	"golang.org/x/tools/go/ast/astutil"

	"github.com/mark3labs/katalist/internal/emitter/goemitter"
	"github.com/mark3labs/katalist/internal/errdefs"
	"github.com/mark3labs/katalist/internal/locator"
	"github.com/mark3labs/katalist/internal/modpath"
)

// DefaultSchemaDir is the schema directory, relative to the module root, used
// when no directory is configured.
const DefaultSchemaDir = "schemas"

func formatNode(w io.Writer, fset *token.FileSet, file *ast.File) error {
	return gofmt.Node(w, fset, file)
}

// filter holds the function names bindings are kept for. A nil filter keeps
// everything.
type filter map[string]bool

func newFilter(names []string) filter {
	if len(names) == 0 {
		return nil
	}
	f := filter{}
	for _, n := range names {
		f[n] = true
	}
	return f
}

func (f filter) keep(fn string) bool { return f == nil || f[fn] }

type scopedVar struct {
	scope ast.Node
	name  string
}

// bindingMap correlates client variables with schema titles. Bindings made
// in the same function as the method call win; otherwise var:func and then
// var:global are tried.
type bindingMap struct {
	byScope map[scopedVar]string
	byKey   map[string]string
}

func bindingKey(v, fn string) string { return v + ":" + fn }

func bindings(ctors []locator.Constructor) bindingMap {
	b := bindingMap{byScope: map[scopedVar]string{}, byKey: map[string]string{}}
	for _, c := range ctors {
		if c.Var == "" {
			continue
		}
		if c.Scope != nil {
			b.byScope[scopedVar{c.Scope, c.Var}] = c.SchemaName
		}
		b.byKey[bindingKey(c.Var, c.Func)] = c.SchemaName
	}
	return b
}

func (b bindingMap) lookup(m locator.Method) (string, bool) {
	if m.Scope != nil {
		if t, ok := b.byScope[scopedVar{m.Scope, m.Var}]; ok {
			return t, true
		}
	}
	if m.Func != locator.FuncAnonymous {
		if t, ok := b.byKey[bindingKey(m.Var, m.Func)]; ok {
			return t, true
		}
	}
	t, ok := b.byKey[bindingKey(m.Var, locator.FuncGlobal)]
	return t, ok
}

// importPlan records the local names the wrapper refers to and the imports
// still missing from the file.
type importPlan struct {
	schemaPath  string
	schemaName  string // qualifier in type arguments; empty for dot imports
	schemaAlias string // explicit import name, empty when the default works
	addSchema   bool

	libPath  string
	libName  string
	libAlias string
	addLib   bool
}

func (p *importPlan) apply(fset *token.FileSet, file *ast.File) bool {
	added := false
	if p.addSchema && astutil.AddNamedImport(fset, file, p.schemaAlias, p.schemaPath) {
		added = true
	}
	if p.addLib && astutil.AddNamedImport(fset, file, p.libAlias, p.libPath) {
		added = true
	}
	return added
}

// schemaDir returns the absolute schema directory and the module it lives in.
func (e *Engine) schemaDir(sourcePath string) (string, *modpath.Module, error) {
	if e.SchemaDir != "" {
		dir, err := filepath.Abs(e.SchemaDir)
		if err != nil {
			return "", nil, errdefs.New(errdefs.ModuleNotFound, e.SchemaDir, err, "transform: resolve schema directory")
		}
		mod, err := modpath.Find(dir)
		return dir, mod, err
	}
	mod, err := modpath.Find(filepath.Dir(sourcePath))
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(mod.Root, DefaultSchemaDir), mod, nil
}

// resolveImports decides how the rewritten file refers to the schema package
// and the library. An existing import of the schema path, or of any path
// whose last element matches the schema directory, is reused.
func (e *Engine) resolveImports(fset *token.FileSet, file *ast.File, sourcePath string) (*importPlan, error) {
	dir, mod, err := e.schemaDir(sourcePath)
	if err != nil {
		return nil, err
	}
	schemaPath, err := mod.ImportPath(dir)
	if err != nil {
		return nil, err
	}
	pkg := goemitter.PackageName(dir)
	base := path.Base(schemaPath)
	taken := usedNames(file)
	locals := localNames(file)
	// An import whose name a local declaration shadows cannot qualify the
	// wrapper.
	reuse := func(name string, ok bool) bool { return ok && !locals[name] }

	p := &importPlan{schemaPath: schemaPath, libPath: e.libraryImport()}

	if name, ok := existingImport(file, func(ip string) bool { return ip == schemaPath }, pkg); reuse(name, ok) {
		p.schemaName = name
	} else if name, ok := existingImport(file, func(ip string) bool { return path.Base(ip) == base }, base); reuse(name, ok) {
		p.schemaName = name
	} else {
		p.addSchema = true
		p.schemaName = freeName(pkg, taken)
		if p.schemaName != base {
			p.schemaAlias = p.schemaName
		}
		taken[p.schemaName] = true
	}

	libBase := path.Base(p.libPath)
	if name, ok := existingImport(file, func(ip string) bool { return ip == p.libPath }, libBase); reuse(name, ok) {
		p.libName = name
	} else {
		p.addLib = true
		p.libName = freeName(libBase, taken)
		if p.libName != libBase {
			p.libAlias = p.libName
		}
	}
	return p, nil
}

// existingImport finds an import matching match and returns its local name;
// def is the name used when the import is unnamed. Blank imports are ignored.
func existingImport(file *ast.File, match func(string) bool, def string) (string, bool) {
	for _, spec := range file.Imports {
		ip, err := strconv.Unquote(spec.Path.Value)
		if err != nil || !match(ip) {
			continue
		}
		if spec.Name == nil {
			return def, true
		}
		switch spec.Name.Name {
		case "_":
			continue
		case ".":
			return "", true
		}
		return spec.Name.Name, true
	}
	return "", false
}

// usedNames collects import names and every declaration of file, local ones
// included.
func usedNames(file *ast.File) map[string]bool {
	used := map[string]bool{}
	for _, spec := range file.Imports {
		if spec.Name != nil {
			used[spec.Name.Name] = true
			continue
		}
		if ip, err := strconv.Unquote(spec.Path.Value); err == nil {
			used[path.Base(ip)] = true
		}
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				used[d.Name.Name] = true
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					used[s.Name.Name] = true
				case *ast.ValueSpec:
					for _, n := range s.Names {
						used[n.Name] = true
					}
				}
			}
		}
	}
	for n := range localNames(file) {
		used[n] = true
	}
	return used
}

// localNames collects the names declared inside functions: parameters,
// results, receivers, short variable declarations, range variables and local
// var, const and type declarations.
func localNames(file *ast.File) map[string]bool {
	names := map[string]bool{}
	addIdent := func(e ast.Expr) {
		if id, ok := e.(*ast.Ident); ok && id.Name != "_" {
			names[id.Name] = true
		}
	}
	addFields := func(fl *ast.FieldList) {
		if fl == nil {
			return
		}
		for _, f := range fl.List {
			for _, n := range f.Names {
				addIdent(n)
			}
		}
	}
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok {
			continue
		}
		addFields(fd.Recv)
		ast.Inspect(fd, func(n ast.Node) bool {
			switch x := n.(type) {
			case *ast.FuncType:
				addFields(x.Params)
				addFields(x.Results)
			case *ast.AssignStmt:
				if x.Tok == token.DEFINE {
					for _, l := range x.Lhs {
						addIdent(l)
					}
				}
			case *ast.RangeStmt:
				if x.Tok == token.DEFINE {
					addIdent(x.Key)
					addIdent(x.Value)
				}
			case *ast.ValueSpec:
				for _, id := range x.Names {
					addIdent(id)
				}
			case *ast.TypeSpec:
				addIdent(x.Name)
			}
			return true
		})
	}
	return names
}

func freeName(name string, taken map[string]bool) string {
	if !taken[name] {
		return name
	}
	for i := 2; ; i++ {
		if c := name + strconv.Itoa(i); !taken[c] {
			return c
		}
	}
}

func qualified(pkg, name string, pos token.Pos) ast.Expr {
	sel := &ast.Ident{NamePos: pos, Name: name}
	if pkg == "" {
		return sel
	}
	return &ast.SelectorExpr{X: &ast.Ident{NamePos: pos, Name: pkg}, Sel: sel}
}

// injectTypeArgs wraps every planned call as lib.As[pkg.<Title><suffix>](call)
// and returns the wrappers.
func injectTypeArgs(file *ast.File, wrap map[*ast.CallExpr]string, imp *importPlan, wrapper, suffix string) []*ast.CallExpr {
	var out []*ast.CallExpr
	astutil.Apply(file, nil, func(c *astutil.Cursor) bool {
		call, ok := c.Node().(*ast.CallExpr)
		if !ok {
			return true
		}
		title, ok := wrap[call]
		if !ok {
			return true
		}
		// The wrapper borrows the call's position so comments ahead of the
		// call stay ahead of the wrapper.
		pos := call.Pos()
		w := &ast.CallExpr{
			Fun: &ast.IndexExpr{
				X:      qualified(imp.libName, wrapper, pos),
				Lbrack: pos,
				Index:  qualified(imp.schemaName, title+suffix, pos),
				Rbrack: pos,
			},
			Lparen: pos,
			Args:   []ast.Expr{call},
			Rparen: call.Rparen,
		}
		c.Replace(w)
		out = append(out, w)
		return true
	})
	return out
}

// closeWrappers moves each wrapper's closing paren onto its inner call's,
// which may have moved when an options literal collapsed.
func closeWrappers(wrappers []*ast.CallExpr) {
	for _, w := range wrappers {
		if inner, ok := w.Args[0].(*ast.CallExpr); ok {
			w.Rparen = inner.Rparen
		}
	}
}

// stripCall removes keys from lit, an argument of call. When lit collapses to
// T{} and is the final argument, the call's closing paren follows it so the
// printer does not keep the old line break.
func stripCall(fset *token.FileSet, file *ast.File, call *ast.CallExpr, lit *ast.CompositeLit, keys []string) int {
	n := removeKeys(fset, file, lit, keys)
	if n == 0 || len(lit.Elts) != 0 || len(call.Args) == 0 {
		return n
	}
	last := call.Args[len(call.Args)-1]
	if u, ok := last.(*ast.UnaryExpr); ok {
		last = u.X
	}
	if last == lit && call.Ellipsis == token.NoPos {
		call.Rparen = lit.Rbrace
	}
	return n
}

// removeKeys deletes the keyed elements named in keys from lit, along with
// comments inside their own span, and reports how many were removed. A
// comment after a removed element stays when a kept element shares its line.
func removeKeys(fset *token.FileSet, file *ast.File, lit *ast.CompositeLit, keys []string) int {
	drop := map[string]bool{}
	for _, k := range keys {
		drop[k] = true
	}
	elts, rbrace := lit.Elts, lit.Rbrace
	kept := make([]ast.Expr, 0, len(elts))
	for _, elt := range elts {
		if !droppedKey(elt, drop) {
			kept = append(kept, elt)
		}
	}
	removed := len(elts) - len(kept)
	if removed == 0 {
		return 0
	}
	for i, elt := range elts {
		if !droppedKey(elt, drop) {
			continue
		}
		to := rbrace
		if i+1 < len(elts) {
			to = elts[i+1].Pos()
		}
		if sharesLine(fset, elt, kept) {
			to = min(to, elt.End())
		} else {
			to = min(to, lineEnd(fset, elt.End()))
		}
		dropComments(file, elt.Pos(), to)
	}
	lit.Elts = kept
	if len(kept) == 0 {
		// Collapse to T{} instead of leaving an empty multi-line body.
		dropComments(file, lit.Lbrace, rbrace)
		joinLines(fset, lit.Lbrace, rbrace)
		lit.Rbrace = lit.Lbrace + 1
	}
	return removed
}

func droppedKey(elt ast.Expr, drop map[string]bool) bool {
	kv, ok := elt.(*ast.KeyValueExpr)
	if !ok {
		return false
	}
	id, ok := kv.Key.(*ast.Ident)
	return ok && drop[id.Name]
}

// sharesLine reports whether any of kept starts or ends on a line elt
// occupies.
func sharesLine(fset *token.FileSet, elt ast.Expr, kept []ast.Expr) bool {
	first, last := fset.Position(elt.Pos()).Line, fset.Position(elt.End()).Line
	for _, k := range kept {
		for _, l := range []int{fset.Position(k.Pos()).Line, fset.Position(k.End()).Line} {
			if l >= first && l <= last {
				return true
			}
		}
	}
	return false
}

// joinLines merges the lines holding from through to into one, so the
// statement after a collapsed literal keeps its original spacing.
func joinLines(fset *token.FileSet, from, to token.Pos) {
	tf := fset.File(from)
	if tf == nil {
		return
	}
	first, last := tf.Line(from), tf.Line(to)
	for ; last > first && first < tf.LineCount(); last-- {
		tf.MergeLine(first)
	}
}

// lineEnd returns the position of the first byte after the line holding pos.
func lineEnd(fset *token.FileSet, pos token.Pos) token.Pos {
	tf := fset.File(pos)
	if tf == nil {
		return pos
	}
	line := tf.Line(pos)
	if line < tf.LineCount() {
		return tf.LineStart(line + 1)
	}
	return token.Pos(tf.Base() + tf.Size())
}

// dropComments removes the comment groups lying entirely within [from, to].
func dropComments(file *ast.File, from, to token.Pos) {
	kept := file.Comments[:0]
	for _, cg := range file.Comments {
		if cg.Pos() >= from && cg.End() <= to {
			continue
		}
		kept = append(kept, cg)
	}
	file.Comments = kept
}

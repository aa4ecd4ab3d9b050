// Package locator finds the katalist call sites the transform engine rewrites.
// Matching compares identifier text only; nothing is type-checked and nothing
// outside the given file is consulted.
package locator

import (
	"go/ast"
	"go/token"
	"strconv"

	"golang.org/x/tools/go/ast/inspector"
)

// Sentinel function names for sites outside a named function.
const (
	FuncGlobal    = "global"
	FuncAnonymous = "anonymous"
)

// Config names the identifiers the locator matches. Zero fields take the
// katalist defaults.
type Config struct {
	Constructor   string   // NewClient
	Wrapper       string   // As
	Methods       []string // Get, Post, Put, Delete
	SchemaKey     string   // OutputSchema
	SchemaNameKey string   // SchemaName
	GenerateKey   string   // GenerateSchema
	InterfaceKey  string   // InterfaceName
}

// DefaultConfig returns the identifiers used by the katalist client API.
func DefaultConfig() Config {
	return Config{
		Constructor:   "NewClient",
		Wrapper:       "As",
		Methods:       []string{"Get", "Post", "Put", "Delete"},
		SchemaKey:     "OutputSchema",
		SchemaNameKey: "SchemaName",
		GenerateKey:   "GenerateSchema",
		InterfaceKey:  "InterfaceName",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Constructor == "" {
		c.Constructor = d.Constructor
	}
	if c.Wrapper == "" {
		c.Wrapper = d.Wrapper
	}
	if len(c.Methods) == 0 {
		c.Methods = d.Methods
	}
	if c.SchemaKey == "" {
		c.SchemaKey = d.SchemaKey
	}
	if c.SchemaNameKey == "" {
		c.SchemaNameKey = d.SchemaNameKey
	}
	if c.GenerateKey == "" {
		c.GenerateKey = d.GenerateKey
	}
	if c.InterfaceKey == "" {
		c.InterfaceKey = d.InterfaceKey
	}
	return c
}

// Constructor is a NewClient call whose config literal embeds an output
// schema. SchemaName is empty when the name is not a string literal.
type Constructor struct {
	Call       *ast.CallExpr
	Config     *ast.CompositeLit
	SchemaName string
	Var        string
	Func       string
	Scope      ast.Node // enclosing *ast.FuncDecl or *ast.FuncLit; nil at package level
}

// Tagged is a client call whose trailing options literal requests schema
// generation.
type Tagged struct {
	Call          *ast.CallExpr
	Options       *ast.CompositeLit
	InterfaceName string
	Typed         bool
	Func          string
}

// Client is a NewClient call bound to a variable.
type Client struct {
	Call *ast.CallExpr
	Var  string
	Func string
}

// Method is a verb call on a variable bound to a client.
type Method struct {
	Call   *ast.CallExpr
	Var    string
	Method string
	Func   string
	Scope  ast.Node
	Typed  bool
}

// Result lists the matches of each pattern in source order.
type Result struct {
	Constructors []Constructor
	Tagged       []Tagged
	Clients      []Client
	Methods      []Method
}

// Locate scans file for the four call-site patterns.
func Locate(file *ast.File, cfg Config) *Result {
	cfg = cfg.withDefaults()
	res := &Result{}
	if file == nil {
		return res
	}
	methods := map[string]bool{}
	for _, m := range cfg.Methods {
		methods[m] = true
	}

	in := inspector.New([]*ast.File{file})
	filter := []ast.Node{(*ast.CallExpr)(nil)}

	// Client bindings first so method calls that precede their constructor
	// in source order (package-level vars) still resolve.
	bound := map[string]bool{}
	in.WithStack(filter, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		call := n.(*ast.CallExpr)
		if calleeName(call.Fun) != cfg.Constructor {
			return true
		}
		fn, scope := enclosing(stack)
		v := boundVar(call, stack)
		if v != "" {
			res.Clients = append(res.Clients, Client{Call: call, Var: v, Func: fn})
			bound[v] = true
		}
		if lit := configLiteral(call, cfg.SchemaKey); lit != nil {
			res.Constructors = append(res.Constructors, Constructor{
				Call:       call,
				Config:     lit,
				SchemaName: schemaName(lit, cfg),
				Var:        v,
				Func:       fn,
				Scope:      scope,
			})
		}
		return true
	})

	in.WithStack(filter, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		call := n.(*ast.CallExpr)
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if lit, name, ok := taggedOptions(call, cfg); ok {
			res.Tagged = append(res.Tagged, Tagged{
				Call:          call,
				Options:       lit,
				InterfaceName: name,
				Typed:         isWrapped(call, stack, cfg.Wrapper),
				Func:          FuncName(stack),
			})
		}
		if recv, ok := sel.X.(*ast.Ident); ok && bound[recv.Name] && methods[sel.Sel.Name] {
			fn, scope := enclosing(stack)
			res.Methods = append(res.Methods, Method{
				Call:   call,
				Var:    recv.Name,
				Method: sel.Sel.Name,
				Func:   fn,
				Scope:  scope,
				Typed:  isWrapped(call, stack, cfg.Wrapper),
			})
		}
		return true
	})
	return res
}

// FuncName resolves the function enclosing the last node of stack: a
// declared function's name, the variable a function literal is assigned
// to, FuncAnonymous for any other literal, or FuncGlobal outside functions.
func FuncName(stack []ast.Node) string {
	name, _ := enclosing(stack)
	return name
}

func enclosing(stack []ast.Node) (string, ast.Node) {
	for i := len(stack) - 1; i >= 0; i-- {
		switch fn := stack[i].(type) {
		case *ast.FuncDecl:
			return fn.Name.Name, fn
		case *ast.FuncLit:
			if i > 0 {
				if name := assignedName(fn, stack[i-1]); name != "" {
					return name, fn
				}
			}
			return FuncAnonymous, fn
		}
	}
	return FuncGlobal, nil
}

// assignedName returns the variable expr is bound to when parent is the
// assignment or declaration doing the binding.
func assignedName(expr ast.Expr, parent ast.Node) string {
	switch p := parent.(type) {
	case *ast.AssignStmt:
		for i, rhs := range p.Rhs {
			if rhs != expr {
				continue
			}
			switch {
			case len(p.Lhs) == len(p.Rhs):
				return identName(p.Lhs[i])
			case len(p.Rhs) == 1:
				return identName(p.Lhs[0])
			}
		}
	case *ast.ValueSpec:
		for i, v := range p.Values {
			if v != expr {
				continue
			}
			switch {
			case len(p.Names) == len(p.Values):
				return blankless(p.Names[i].Name)
			case len(p.Values) == 1 && len(p.Names) > 0:
				return blankless(p.Names[0].Name)
			}
		}
	}
	return ""
}

// boundVar returns the variable a constructor call is assigned to. The
// multi-value form `c, err := NewClient(...)` binds the first name.
func boundVar(call *ast.CallExpr, stack []ast.Node) string {
	if len(stack) < 2 {
		return ""
	}
	return assignedName(call, stack[len(stack)-2])
}

func identName(e ast.Expr) string {
	if id, ok := e.(*ast.Ident); ok {
		return blankless(id.Name)
	}
	return ""
}

func blankless(name string) string {
	if name == "_" {
		return ""
	}
	return name
}

// calleeName returns the final identifier of a call target: NewClient for
// both NewClient(...) and pkg.NewClient(...).
func calleeName(fun ast.Expr) string {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name
	case *ast.SelectorExpr:
		return f.Sel.Name
	case *ast.IndexExpr:
		return calleeName(f.X)
	case *ast.IndexListExpr:
		return calleeName(f.X)
	}
	return ""
}

// isWrapped reports whether call is the sole argument of a wrapper[T](...)
// instantiation.
func isWrapped(call *ast.CallExpr, stack []ast.Node, wrapper string) bool {
	if len(stack) < 2 {
		return false
	}
	parent, ok := stack[len(stack)-2].(*ast.CallExpr)
	if !ok || len(parent.Args) != 1 || parent.Args[0] != call {
		return false
	}
	switch fun := parent.Fun.(type) {
	case *ast.IndexExpr:
		return calleeName(fun.X) == wrapper
	case *ast.IndexListExpr:
		return calleeName(fun.X) == wrapper
	}
	return false
}

// compositeArg unwraps T{...} and &T{...}.
func compositeArg(e ast.Expr) *ast.CompositeLit {
	if u, ok := e.(*ast.UnaryExpr); ok && u.Op == token.AND {
		e = u.X
	}
	lit, _ := e.(*ast.CompositeLit)
	return lit
}

// configLiteral returns the first composite-literal argument holding key.
func configLiteral(call *ast.CallExpr, key string) *ast.CompositeLit {
	for _, arg := range call.Args {
		lit := compositeArg(arg)
		if lit != nil && Field(lit, key) != nil {
			return lit
		}
	}
	return nil
}

func schemaName(cfg *ast.CompositeLit, c Config) string {
	kv := Field(cfg, c.SchemaKey)
	inner := compositeArg(kv.Value)
	if inner == nil {
		return ""
	}
	name := Field(inner, c.SchemaNameKey)
	if name == nil {
		return ""
	}
	s, _ := StringValue(name.Value)
	return s
}

// taggedOptions matches a trailing options literal carrying
// GenerateSchema: true and InterfaceName: "<literal>".
func taggedOptions(call *ast.CallExpr, cfg Config) (*ast.CompositeLit, string, bool) {
	if len(call.Args) == 0 {
		return nil, "", false
	}
	lit := compositeArg(call.Args[len(call.Args)-1])
	if lit == nil {
		return nil, "", false
	}
	gen := Field(lit, cfg.GenerateKey)
	if gen == nil {
		return nil, "", false
	}
	if id, ok := gen.Value.(*ast.Ident); !ok || id.Name != "true" {
		return nil, "", false
	}
	iface := Field(lit, cfg.InterfaceKey)
	if iface == nil {
		return nil, "", false
	}
	name, ok := StringValue(iface.Value)
	if !ok || name == "" {
		return nil, "", false
	}
	return lit, name, true
}

// Field returns the keyed element of lit whose key is the identifier key.
func Field(lit *ast.CompositeLit, key string) *ast.KeyValueExpr {
	for _, elt := range lit.Elts {
		kv, ok := elt.(*ast.KeyValueExpr)
		if !ok {
			continue
		}
		if id, ok := kv.Key.(*ast.Ident); ok && id.Name == key {
			return kv
		}
	}
	return nil
}

// StringValue returns the value of a string literal.
func StringValue(e ast.Expr) (string, bool) {
	lit, ok := e.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", false
	}
	s, err := strconv.Unquote(lit.Value)
	if err != nil {
		return "", false
	}
	return s, true
}

package goemitter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/mark3labs/katalist/internal/schema"
)

// DSLImport is the validation namespace generated modules build on.
const DSLImport = "github.com/reoring/goskema/dsl"

// Suffixes appended to a title for the generated declarations.
const (
	SchemaSuffix = "Schema"
	TypeSuffix   = "SchemaType"
)

type renderer struct {
	imports map[string]struct{}
}

func renderModule(pkg, title string, desc *openapi3.Schema) ([]byte, error) {
	r := &renderer{imports: map[string]struct{}{}}

	expr, ok := r.schemaExpr(desc)
	if !ok {
		return nil, fmt.Errorf("goemitter: %s: descriptor of kind %s has no schema expression", title, schema.KindOf(desc))
	}
	r.imports[DSLImport] = struct{}{}

	var b strings.Builder
	b.WriteString("// Code generated by katalist. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)

	paths := make([]string, 0, len(r.imports))
	for p := range r.imports {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	b.WriteString("import (\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "\t%s\n", strconv.Quote(p))
	}
	b.WriteString(")\n\n")

	fmt.Fprintf(&b, "// %s%s validates %s payloads.\n", title, SchemaSuffix, title)
	fmt.Fprintf(&b, "var %s%s = %s\n\n", title, SchemaSuffix, expr)
	fmt.Fprintf(&b, "// %s%s is the Go shape of %s%s.\n", title, TypeSuffix, title, SchemaSuffix)
	fmt.Fprintf(&b, "type %s%s %s\n", title, TypeSuffix, r.typeExpr(desc, false))
	return []byte(b.String()), nil
}

// schemaExpr renders a goskema.Schema[...] expression. Nodes that the DSL
// cannot express (null-only, widened unions, arrays of unknown or nested
// arrays) report false.
func (r *renderer) schemaExpr(s *openapi3.Schema) (string, bool) {
	switch schema.KindOf(s) {
	case schema.KindObject:
		return r.objectExpr(s), true
	case schema.KindArray:
		items := schema.ItemsOf(s)
		if items == nil || schema.KindOf(items) == schema.KindArray {
			return "", false
		}
		elem, ok := r.schemaExpr(items)
		if !ok {
			return "", false
		}
		if items.Type == "integer" || items.Type == "number" {
			r.imports["encoding/json"] = struct{}{}
			return "dsl.Array[json.Number](" + elem + ")", true
		}
		return "dsl.Array(" + elem + ")", true
	case schema.KindScalar:
		switch s.Type {
		case "string":
			return "dsl.String()", true
		case "boolean":
			return "dsl.Bool()", true
		case "integer", "number":
			return "dsl.NumberJSON()", true
		}
	}
	return "", false
}

// adapterExpr renders a dsl.AnyAdapter for an object field.
func (r *renderer) adapterExpr(s *openapi3.Schema) (string, bool) {
	var expr string
	switch schema.KindOf(s) {
	case schema.KindObject:
		expr = "dsl.SchemaOf(" + r.objectExpr(s) + ")"
	case schema.KindArray:
		arr, ok := r.schemaExpr(s)
		if !ok {
			return "", false
		}
		expr = "dsl.ArrayOfSchema(" + arr + ")"
	case schema.KindScalar:
		switch s.Type {
		case "string":
			expr = "dsl.StringOf[string]()"
		case "boolean":
			expr = "dsl.BoolOf[bool]()"
		case "integer":
			expr = "dsl.IntOf[int]()"
		case "number":
			expr = "dsl.FloatOf[float64]()"
		default:
			return "", false
		}
	default:
		return "", false
	}
	if s.Nullable {
		expr = "dsl.Nullable(" + expr + ")"
	}
	return expr, true
}

// objectExpr renders an object builder chain. Untyped fields are left to the
// unknown-key policy.
func (r *renderer) objectExpr(s *openapi3.Schema) string {
	var b strings.Builder
	b.WriteString("dsl.Object().\n")
	for _, name := range schema.PropertyNames(s) {
		ad, ok := r.adapterExpr(schema.Property(s, name))
		if !ok {
			continue
		}
		presence := "Optional()"
		if schema.IsRequired(s, name) {
			presence = "Required()"
		}
		fmt.Fprintf(&b, "\tField(%s, %s).%s.\n", strconv.Quote(name), ad, presence)
	}
	b.WriteString("\tUnknownStrip().\n\tMustBuild()")
	return b.String()
}

// typeExpr renders the Go type mirroring s.
func (r *renderer) typeExpr(s *openapi3.Schema, allowPointer bool) string {
	var base string
	switch schema.KindOf(s) {
	case schema.KindObject:
		base = r.structExpr(s)
	case schema.KindArray:
		items := schema.ItemsOf(s)
		if items == nil {
			return "[]any"
		}
		return "[]" + r.typeExpr(items, true)
	case schema.KindScalar:
		switch s.Type {
		case "string":
			base = "string"
		case "boolean":
			base = "bool"
		case "integer":
			base = "int"
		case "number":
			base = "float64"
		default:
			return "any"
		}
	default:
		return "any"
	}
	if allowPointer && s.Nullable {
		return "*" + base
	}
	return base
}

func (r *renderer) structExpr(s *openapi3.Schema) string {
	names := schema.PropertyNames(s)
	if len(names) == 0 {
		return "struct{}"
	}
	var b strings.Builder
	b.WriteString("struct {\n")
	used := map[string]int{}
	for _, name := range names {
		field := uniqueName(FieldName(name), used)
		typ := r.typeExpr(schema.Property(s, name), true)
		if !tagSafe(name) {
			fmt.Fprintf(&b, "%s %s `json:\"-\"` // key %s cannot be named in a struct tag\n", field, typ, strconv.Quote(name))
			continue
		}
		tag := name
		switch {
		case !schema.IsRequired(s, name):
			tag += ",omitempty"
		case name == "-":
			tag += ","
		}
		fmt.Fprintf(&b, "%s %s `json:%s`\n", field, typ, strconv.Quote(tag))
	}
	b.WriteString("}")
	return b.String()
}

// tagSafe reports whether key can be the name part of a json struct tag.
func tagSafe(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		switch {
		case strings.ContainsRune("!#$%&()*+-./:;<=>?@[]^_{|}~ ", c):
		case !unicode.IsLetter(c) && !unicode.IsDigit(c):
			return false
		}
	}
	return true
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	return name + strconv.Itoa(n+1)
}

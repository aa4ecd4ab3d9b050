package schema

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
	json "github.com/goccy/go-json"

	"github.com/mark3labs/katalist/internal/errdefs"
)

// Synthesize infers a descriptor titled title from a decoded JSON value.
// value must be an object or an array whose first element is an object.
func Synthesize(value any, title string) (*openapi3.Schema, error) {
	var root *openapi3.Schema
	switch v := value.(type) {
	case map[string]any:
		root = infer(v)
	case []any:
		if len(v) == 0 {
			return nil, errdefs.New(errdefs.UnsupportedShape, "", nil, "schema: empty array has no element shape")
		}
		if _, ok := v[0].(map[string]any); !ok {
			return nil, errdefs.New(errdefs.UnsupportedShape, "", nil, "schema: array element is %s, want object", describe(v[0]))
		}
		root = infer(v)
	default:
		return nil, errdefs.New(errdefs.UnsupportedShape, "", nil, "schema: top-level %s, want object or array of objects", describe(value))
	}

	root.Title = title
	finalize(root)
	delete(root.Extensions, dialectKey)
	if len(root.Extensions) == 0 {
		root.Extensions = nil
	}
	return root, nil
}

// SynthesizeJSON decodes data and synthesizes it. Numbers are decoded as
// json.Number so integers and floats stay distinguishable.
func SynthesizeJSON(data []byte, title string) (*openapi3.Schema, error) {
	value, err := Decode(data)
	if err != nil {
		return nil, errdefs.New(errdefs.UnsupportedShape, "", err, "schema: body is not JSON")
	}
	return Synthesize(value, title)
}

// Decode parses a JSON document keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func infer(value any) *openapi3.Schema {
	switch v := value.(type) {
	case nil:
		return &openapi3.Schema{Nullable: true}
	case bool:
		return openapi3.NewBoolSchema()
	case string:
		return openapi3.NewStringSchema()
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return openapi3.NewIntegerSchema()
		}
		return openapi3.NewFloat64Schema()
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return openapi3.NewIntegerSchema()
		}
		return openapi3.NewFloat64Schema()
	case float32:
		return infer(float64(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return openapi3.NewIntegerSchema()
	case map[string]any:
		s := openapi3.NewObjectSchema()
		for name, prop := range v {
			s.Properties[name] = openapi3.NewSchemaRef("", infer(prop))
		}
		return s
	case []any:
		s := openapi3.NewArraySchema()
		var items *openapi3.Schema
		for _, elem := range v {
			items = merge(items, infer(elem))
		}
		if items != nil {
			s.Items = openapi3.NewSchemaRef("", items)
		}
		return s
	default:
		// Arbitrary Go values (structs, typed maps) are normalized through
		// their JSON encoding.
		data, err := json.Marshal(v)
		if err != nil {
			return &openapi3.Schema{}
		}
		decoded, err := Decode(data)
		if err != nil {
			return &openapi3.Schema{}
		}
		return infer(decoded)
	}
}

// merge widens a and b into one descriptor. Either side may be nil.
func merge(a, b *openapi3.Schema) *openapi3.Schema {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	nullable := a.Nullable || b.Nullable

	switch {
	case KindOf(a) == KindNull:
		out := *b
		out.Nullable = true
		return &out
	case KindOf(b) == KindNull:
		out := *a
		out.Nullable = true
		return &out
	}

	var out *openapi3.Schema
	switch {
	case a.Type == b.Type && a.Type == typeObject:
		out = openapi3.NewObjectSchema()
		for name, ref := range a.Properties {
			out.Properties[name] = ref
		}
		for name, ref := range b.Properties {
			if prev, ok := out.Properties[name]; ok {
				out.Properties[name] = openapi3.NewSchemaRef("", merge(prev.Value, ref.Value))
				continue
			}
			out.Properties[name] = ref
		}
	case a.Type == b.Type && a.Type == typeArray:
		out = openapi3.NewArraySchema()
		if items := merge(ItemsOf(a), ItemsOf(b)); items != nil {
			out.Items = openapi3.NewSchemaRef("", items)
		}
	case a.Type == b.Type && a.Type != "":
		cp := *a
		out = &cp
	case isNumeric(a.Type) && isNumeric(b.Type):
		out = openapi3.NewFloat64Schema()
	default:
		out = union(a, b)
	}
	out.Nullable = nullable
	return out
}

func isNumeric(t string) bool { return t == typeInteger || t == typeNumber }

// union collects the distinct alternatives of a and b, keyed by type.
func union(a, b *openapi3.Schema) *openapi3.Schema {
	byType := map[string]*openapi3.Schema{}
	var add func(s *openapi3.Schema)
	add = func(s *openapi3.Schema) {
		if IsUnion(s) {
			for _, ref := range s.AnyOf {
				add(ref.Value)
			}
			return
		}
		if prev, ok := byType[s.Type]; ok {
			byType[s.Type] = merge(prev, s)
			return
		}
		byType[s.Type] = s
	}
	add(a)
	add(b)

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	out := &openapi3.Schema{}
	for _, t := range types {
		alt := *byType[t]
		alt.Nullable = false
		out.AnyOf = append(out.AnyOf, openapi3.NewSchemaRef("", &alt))
	}
	return out
}

// finalize recomputes the required set of every object node, post-order,
// so it holds exactly the properties whose kind is not null.
func finalize(s *openapi3.Schema) {
	if s == nil {
		return
	}
	for _, name := range PropertyNames(s) {
		finalize(Property(s, name))
	}
	finalize(ItemsOf(s))
	for _, ref := range s.AnyOf {
		finalize(ref.Value)
	}
	if s.Type != typeObject {
		return
	}
	required := make([]string, 0, len(s.Properties))
	for _, name := range PropertyNames(s) {
		if KindOf(Property(s, name)) != KindNull {
			required = append(required, name)
		}
	}
	if len(required) == 0 {
		required = nil
	}
	s.Required = required
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, float32, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

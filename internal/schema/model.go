// Package schema infers structural schema descriptors from decoded JSON
// values. Descriptors are kin-openapi schemas so the rest of the toolchain
// can marshal, walk and validate them with the same model.
package schema

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// Kind is the coarse discriminant of a descriptor node.
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindScalar Kind = "scalar"
	// KindNull marks a node that was only ever observed as JSON null.
	KindNull Kind = "null"
)

const (
	typeObject  = "object"
	typeArray   = "array"
	typeString  = "string"
	typeInteger = "integer"
	typeNumber  = "number"
	typeBoolean = "boolean"
)

// dialectKey is the meta field naming the schema dialect. Descriptors are
// self-contained, so it never survives synthesis.
const dialectKey = "$schema"

// KindOf reports the discriminant of s. A node without a type and without
// alternatives is a null observation; an untyped node with alternatives is a
// widened scalar.
func KindOf(s *openapi3.Schema) Kind {
	if s == nil {
		return KindNull
	}
	switch s.Type {
	case typeObject:
		return KindObject
	case typeArray:
		return KindArray
	case "":
		if len(s.AnyOf) == 0 {
			return KindNull
		}
		return KindScalar
	default:
		return KindScalar
	}
}

// IsUnion reports whether s was widened over incompatible observations.
func IsUnion(s *openapi3.Schema) bool {
	return s != nil && s.Type == "" && len(s.AnyOf) > 0
}

// PropertyNames returns the property names of s in deterministic order.
func PropertyNames(s *openapi3.Schema) []string {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property returns the resolved descriptor for a named property.
func Property(s *openapi3.Schema, name string) *openapi3.Schema {
	if s == nil {
		return nil
	}
	ref := s.Properties[name]
	if ref == nil {
		return nil
	}
	return ref.Value
}

// ItemsOf returns the element descriptor of an array node, or nil when the
// array was only observed empty.
func ItemsOf(s *openapi3.Schema) *openapi3.Schema {
	if s == nil || s.Items == nil {
		return nil
	}
	return s.Items.Value
}

// IsRequired reports whether name is in the required set of s.
func IsRequired(s *openapi3.Schema, name string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

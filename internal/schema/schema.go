// Package schema implements the declarative input-schema abstraction used
// to validate tool arguments: a tagged-variant field description with a
// single generic Parse operation, deliberately avoiding reflection-based
// "duck typing" per the design notes this gateway follows.
package schema

import (
	"fmt"
	"regexp"
	"sort"
)

// Kind tags which variant a Field is.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBoolean
	KindEnum
	KindArray
	KindObject
	KindMap
)

// Field is a tagged-variant field description. Only the members relevant
// to Kind are meaningful; the zero value of the rest is ignored.
type Field struct {
	Kind        Kind
	Description string

	// KindString
	MinLength *int
	MaxLength *int
	Pattern   *regexp.Regexp

	// KindNumber
	Min     *float64
	Max     *float64
	Integer bool

	// KindEnum
	EnumValues []string

	// KindArray
	Element  *Field
	MinItems *int
	MaxItems *int

	// KindObject
	Properties map[string]*Field
	// fieldOrder preserves declaration order for stable JSON-Schema output.
	fieldOrder []string

	// Applies when this Field is used as a property of a parent object.
	Optional     bool
	HasDefault   bool
	DefaultValue any
}

// Object constructs an object Field from an ordered list of named
// properties.
func Object(props ...NamedField) *Field {
	f := &Field{Kind: KindObject, Properties: map[string]*Field{}}
	for _, p := range props {
		f.Properties[p.Name] = p.Field
		f.fieldOrder = append(f.fieldOrder, p.Name)
	}
	return f
}

// NamedField pairs a property name with its Field for Object's argument list.
type NamedField struct {
	Name  string
	Field *Field
}

// P is shorthand for constructing a NamedField.
func P(name string, f *Field) NamedField { return NamedField{Name: name, Field: f} }

// String constructs a string Field.
func String() *Field { return &Field{Kind: KindString} }

// Number constructs a number Field.
func Number() *Field { return &Field{Kind: KindNumber} }

// Boolean constructs a boolean Field.
func Boolean() *Field { return &Field{Kind: KindBoolean} }

// Enum constructs a string-enum Field.
func Enum(values ...string) *Field { return &Field{Kind: KindEnum, EnumValues: values} }

// Array constructs an array Field with the given element schema.
func Array(element *Field) *Field { return &Field{Kind: KindArray, Element: element} }

// Map constructs a field accepting an object with arbitrary string keys,
// each validated against element. Used for free-form maps like HTTP
// headers, where the key set is not known ahead of time.
func Map(element *Field) *Field { return &Field{Kind: KindMap, Element: element} }

// OptionalField marks a field as not required and returns it for chaining.
func (f *Field) OptionalField() *Field {
	f.Optional = true
	return f
}

// WithDefault marks a field as defaulted (implies Optional) and returns it.
func (f *Field) WithDefault(v any) *Field {
	f.Optional = true
	f.HasDefault = true
	f.DefaultValue = v
	return f
}

// WithDescription attaches human-readable documentation.
func (f *Field) WithDescription(d string) *Field {
	f.Description = d
	return f
}

// ValidationError reports the JSON-pointer-like path and message for a
// schema mismatch, per spec: "validation_failed: <field-path>: <message>".
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Parse validates and coerces raw against the schema, applying defaults for
// missing optional fields. raw must already be the result of a JSON decode
// (map[string]interface{}, []interface{}, string, float64, bool, nil).
func Parse(root *Field, raw any) (any, *ValidationError) {
	return parseField(root, raw, "$")
}

func parseField(f *Field, raw any, path string) (any, *ValidationError) {
	switch f.Kind {
	case KindString:
		return parseString(f, raw, path)
	case KindNumber:
		return parseNumber(f, raw, path)
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, &ValidationError{path, "expected boolean"}
		}
		return b, nil
	case KindEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, &ValidationError{path, "expected string enum value"}
		}
		for _, v := range f.EnumValues {
			if v == s {
				return s, nil
			}
		}
		return nil, &ValidationError{path, fmt.Sprintf("must be one of %v", f.EnumValues)}
	case KindArray:
		return parseArray(f, raw, path)
	case KindObject:
		return parseObject(f, raw, path)
	case KindMap:
		return parseMap(f, raw, path)
	default:
		return nil, &ValidationError{path, "unknown field kind"}
	}
}

func parseMap(f *Field, raw any, path string) (any, *ValidationError) {
	obj, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			return map[string]any{}, nil
		}
		return nil, &ValidationError{path, "expected object"}
	}
	out := make(map[string]any, len(obj))
	for key, v := range obj {
		parsed, verr := parseField(f.Element, v, fmt.Sprintf("%s.%s", path, key))
		if verr != nil {
			return nil, verr
		}
		out[key] = parsed
	}
	return out, nil
}

func parseString(f *Field, raw any, path string) (any, *ValidationError) {
	s, ok := raw.(string)
	if !ok {
		return nil, &ValidationError{path, "expected string"}
	}
	if f.MinLength != nil && len(s) < *f.MinLength {
		return nil, &ValidationError{path, fmt.Sprintf("length must be >= %d", *f.MinLength)}
	}
	if f.MaxLength != nil && len(s) > *f.MaxLength {
		return nil, &ValidationError{path, fmt.Sprintf("length must be <= %d", *f.MaxLength)}
	}
	if f.Pattern != nil && !f.Pattern.MatchString(s) {
		return nil, &ValidationError{path, fmt.Sprintf("must match pattern %s", f.Pattern.String())}
	}
	return s, nil
}

func parseNumber(f *Field, raw any, path string) (any, *ValidationError) {
	n, ok := raw.(float64)
	if !ok {
		return nil, &ValidationError{path, "expected number"}
	}
	if f.Integer && n != float64(int64(n)) {
		return nil, &ValidationError{path, "expected integer"}
	}
	if f.Min != nil && n < *f.Min {
		return nil, &ValidationError{path, fmt.Sprintf("must be >= %v", *f.Min)}
	}
	if f.Max != nil && n > *f.Max {
		return nil, &ValidationError{path, fmt.Sprintf("must be <= %v", *f.Max)}
	}
	return n, nil
}

func parseArray(f *Field, raw any, path string) (any, *ValidationError) {
	arr, ok := raw.([]any)
	if !ok {
		return nil, &ValidationError{path, "expected array"}
	}
	if f.MinItems != nil && len(arr) < *f.MinItems {
		return nil, &ValidationError{path, fmt.Sprintf("must have at least %d items", *f.MinItems)}
	}
	if f.MaxItems != nil && len(arr) > *f.MaxItems {
		return nil, &ValidationError{path, fmt.Sprintf("must have at most %d items", *f.MaxItems)}
	}
	out := make([]any, len(arr))
	for i, elem := range arr {
		v, verr := parseField(f.Element, elem, fmt.Sprintf("%s[%d]", path, i))
		if verr != nil {
			return nil, verr
		}
		out[i] = v
	}
	return out, nil
}

func parseObject(f *Field, raw any, path string) (any, *ValidationError) {
	obj, ok := raw.(map[string]any)
	if ok == false {
		if raw == nil {
			obj = map[string]any{}
		} else {
			return nil, &ValidationError{path, "expected object"}
		}
	}

	out := make(map[string]any, len(f.Properties))
	for name, prop := range f.Properties {
		childPath := path + "." + name
		v, present := obj[name]
		if !present {
			if prop.HasDefault {
				out[name] = prop.DefaultValue
				continue
			}
			if prop.Optional {
				continue
			}
			return nil, &ValidationError{childPath, "required field missing"}
		}
		parsed, verr := parseField(prop, v, childPath)
		if verr != nil {
			return nil, verr
		}
		out[name] = parsed
	}

	for key := range obj {
		if _, known := f.Properties[key]; !known {
			return nil, &ValidationError{path + "." + key, "unrecognized field"}
		}
	}

	return out, nil
}

// JSONSchema renders the field as a JSON-Schema-shaped map for external
// discovery, per spec §4.1.
func (f *Field) JSONSchema() map[string]any {
	switch f.Kind {
	case KindString:
		m := map[string]any{"type": "string"}
		if f.MinLength != nil {
			m["minLength"] = *f.MinLength
		}
		if f.MaxLength != nil {
			m["maxLength"] = *f.MaxLength
		}
		if f.Pattern != nil {
			m["pattern"] = f.Pattern.String()
		}
		return withDescription(m, f)
	case KindNumber:
		m := map[string]any{"type": "number"}
		if f.Integer {
			m["type"] = "integer"
		}
		if f.Min != nil {
			m["minimum"] = *f.Min
		}
		if f.Max != nil {
			m["maximum"] = *f.Max
		}
		return withDescription(m, f)
	case KindBoolean:
		return withDescription(map[string]any{"type": "boolean"}, f)
	case KindEnum:
		vals := make([]any, len(f.EnumValues))
		for i, v := range f.EnumValues {
			vals[i] = v
		}
		return withDescription(map[string]any{"type": "string", "enum": vals}, f)
	case KindArray:
		return withDescription(map[string]any{
			"type":  "array",
			"items": f.Element.JSONSchema(),
		}, f)
	case KindObject:
		props := make(map[string]any, len(f.Properties))
		var required []string
		names := make([]string, 0, len(f.Properties))
		for name := range f.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop := f.Properties[name]
			props[name] = prop.JSONSchema()
			if !prop.Optional {
				required = append(required, name)
			}
		}
		m := map[string]any{
			"type":       "object",
			"properties": props,
		}
		if len(required) > 0 {
			m["required"] = required
		}
		return withDescription(m, f)
	case KindMap:
		return withDescription(map[string]any{
			"type":                 "object",
			"additionalProperties": f.Element.JSONSchema(),
		}, f)
	default:
		return map[string]any{}
	}
}

func withDescription(m map[string]any, f *Field) map[string]any {
	if f.Description != "" {
		m["description"] = f.Description
	}
	return m
}

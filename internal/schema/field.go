// Package schema builds the per-owner extraction schema: the fixed default fields plus
// the owner's custom fields nested under metadata.
package schema

import (
	"maps"
	"slices"
)

// Type is a JSON Schema primitive type name.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// FormatDate marks string fields holding YYYY-MM-DD dates.
const FormatDate = "date"

// Field is the type descriptor of one property.
type Field struct {
	Name        string
	Type        Type
	Description string
	Default     any
	Enum        []string
	Format      string
	Items       *Field  // element descriptor for arrays
	Properties  []Field // ordered, for objects
	Required    []string
}

// Property looks up a nested object property.
func (f Field) Property(name string) (Field, bool) {
	for _, p := range f.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Field{}, false
}

// IsRequired reports whether name is in the object's required list.
func (f Field) IsRequired(name string) bool {
	return slices.Contains(f.Required, name)
}

func (f Field) clone() Field {
	out := f
	out.Default = cloneValue(f.Default)
	out.Enum = slices.Clone(f.Enum)
	out.Required = slices.Clone(f.Required)
	if f.Items != nil {
		items := f.Items.clone()
		out.Items = &items
	}
	if f.Properties != nil {
		out.Properties = make([]Field, len(f.Properties))
		for i, p := range f.Properties {
			out.Properties[i] = p.clone()
		}
	}
	return out
}

// jsonSchema renders the descriptor as a JSON Schema fragment.
func (f Field) jsonSchema() map[string]any {
	out := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	if f.Default != nil {
		out["default"] = cloneValue(f.Default)
	}
	if len(f.Enum) > 0 {
		out["enum"] = slices.Clone(f.Enum)
	}
	if f.Format != "" {
		out["format"] = f.Format
	}
	if f.Items != nil {
		out["items"] = f.Items.jsonSchema()
	}
	if f.Type == TypeObject && len(f.Properties) > 0 {
		props := make(map[string]any, len(f.Properties))
		for _, p := range f.Properties {
			props[p.Name] = p.jsonSchema()
		}
		out["properties"] = props
	}
	if len(f.Required) > 0 {
		out["required"] = slices.Clone(f.Required)
	}
	return out
}

// constraintSchema keeps only enum and format assertions, so values of the wrong type
// or nulls are left to the field-by-field checks.
func (f Field) constraintSchema() map[string]any {
	out := map[string]any{}
	if len(f.Enum) > 0 {
		enum := make([]any, len(f.Enum))
		for i, e := range f.Enum {
			enum[i] = e
		}
		out["enum"] = enum
	}
	if f.Format != "" {
		out["format"] = f.Format
	}
	if f.Items != nil {
		if items := f.Items.constraintSchema(); len(items) > 0 {
			out["items"] = items
		}
	}
	if len(f.Properties) > 0 {
		props := map[string]any{}
		for _, p := range f.Properties {
			if c := p.constraintSchema(); len(c) > 0 {
				props[p.Name] = c
			}
		}
		if len(props) > 0 {
			out["properties"] = props
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]any:
		out := maps.Clone(t)
		for k, e := range out {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// CloneDefault returns an independent copy of a declared default value.
func CloneDefault(v any) any { return cloneValue(v) }

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// MetadataField is the object field that carries owner-defined custom fields.
const MetadataField = "metadata"

// Definition is an immutable, ordered set of field descriptors. Accessors return copies.
type Definition struct {
	fields []Field
}

// Fields returns a copy of the top-level descriptors in declaration order.
func (d Definition) Fields() []Field {
	out := make([]Field, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.clone()
	}
	return out
}

// Field looks up a top-level descriptor.
func (d Definition) Field(name string) (Field, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.clone(), true
		}
	}
	return Field{}, false
}

// Names lists top-level field names in declaration order.
func (d Definition) Names() []string {
	out := make([]string, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.Name
	}
	return out
}

// Has reports whether name is a top-level field.
func (d Definition) Has(name string) bool {
	return slices.ContainsFunc(d.fields, func(f Field) bool { return f.Name == name })
}

// CustomFields returns the descriptors nested under metadata.
func (d Definition) CustomFields() []Field {
	meta, ok := d.Field(MetadataField)
	if !ok {
		return nil
	}
	return meta.Properties
}

// Len is the number of top-level fields.
func (d Definition) Len() int { return len(d.fields) }

// JSONSchema renders the definition as a JSON Schema object.
func (d Definition) JSONSchema() map[string]any {
	props := make(map[string]any, len(d.fields))
	for _, f := range d.fields {
		props[f.Name] = f.jsonSchema()
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

// ConstraintSchema renders only the enum and format assertions of the definition.
func (d Definition) ConstraintSchema() map[string]any {
	props := map[string]any{}
	for _, f := range d.fields {
		if c := f.constraintSchema(); len(c) > 0 {
			props[f.Name] = c
		}
	}
	return map[string]any{"properties": props}
}

// Fingerprint is a stable digest of the rendered schema.
func (d Definition) Fingerprint() string {
	b, err := json.Marshal(d.JSONSchema())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// Builder accumulates fields for a Definition. Build copies, so a Builder can keep
// going after producing a Definition without affecting it.
type Builder struct {
	fields []Field
	custom []customEntry
	err    error
}

type customEntry struct {
	field    Field
	required bool
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// WithDefaults appends the default expense fields.
func (b *Builder) WithDefaults() *Builder {
	for _, f := range defaultFields() {
		b.Add(f)
	}
	return b
}

// Add appends a top-level field. A repeated name keeps the first definition.
func (b *Builder) Add(f Field) *Builder {
	if f.Name == "" {
		b.setErr(fmt.Errorf("schema: field without a name"))
		return b
	}
	if slices.ContainsFunc(b.fields, func(x Field) bool { return x.Name == f.Name }) {
		return b
	}
	b.fields = append(b.fields, f.clone())
	return b
}

// AddCustom appends a field nested under metadata. A repeated name keeps the first definition.
func (b *Builder) AddCustom(f Field, required bool) *Builder {
	if f.Name == "" {
		b.setErr(fmt.Errorf("schema: custom field without a name"))
		return b
	}
	if slices.ContainsFunc(b.custom, func(x customEntry) bool { return x.field.Name == f.Name }) {
		return b
	}
	b.custom = append(b.custom, customEntry{field: f.clone(), required: required})
	return b
}

// Err returns the first error recorded by Add or AddCustom.
func (b *Builder) Err() error { return b.err }

// Build produces the Definition. Custom fields are merged into the metadata object,
// which is created when absent.
func (b *Builder) Build() Definition {
	fields := make([]Field, len(b.fields))
	for i, f := range b.fields {
		fields[i] = f.clone()
	}
	if len(b.custom) == 0 {
		return Definition{fields: fields}
	}

	idx := slices.IndexFunc(fields, func(f Field) bool { return f.Name == MetadataField })
	if idx < 0 {
		fields = append(fields, Field{Name: MetadataField, Type: TypeObject, Description: "Additional custom fields"})
		idx = len(fields) - 1
	}
	meta := fields[idx]
	meta.Type = TypeObject
	for _, c := range b.custom {
		if _, exists := meta.Property(c.field.Name); exists {
			continue
		}
		meta.Properties = append(meta.Properties, c.field.clone())
		if c.required && !meta.IsRequired(c.field.Name) {
			meta.Required = append(meta.Required, c.field.Name)
		}
	}
	fields[idx] = meta
	return Definition{fields: fields}
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

package schema

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/expense-intake/internal/entity"
)

// CustomSchemaLoader returns the owner's active custom schema, or nil when there is none.
type CustomSchemaLoader interface {
	GetActive(ctx context.Context, ownerID uuid.UUID) (*entity.CustomSchema, error)
}

// Composer merges an owner's custom fields into the default schema.
type Composer struct {
	loader CustomSchemaLoader
	logger *slog.Logger
}

// NewComposer creates a Composer. A nil loader always yields the default schema.
func NewComposer(loader CustomSchemaLoader, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{loader: loader, logger: logger}
}

// Compose returns the schema for ownerID. Loader failures are logged and the default
// schema is returned instead.
func (c *Composer) Compose(ctx context.Context, ownerID uuid.UUID) Definition {
	if c.loader == nil {
		return Default()
	}
	cs, err := c.loader.GetActive(ctx, ownerID)
	if err != nil {
		c.logger.WarnContext(ctx, "schema.load_failed", "owner_id", ownerID, "err", err)
		return Default()
	}
	if cs == nil || len(cs.Fields) == 0 {
		return Default()
	}
	return c.FromCustomFields(ctx, cs.Fields)
}

// FromCustomFields builds the default schema extended with fields.
func (c *Composer) FromCustomFields(ctx context.Context, fields []entity.CustomField) Definition {
	b := NewBuilder().WithDefaults()
	for _, cf := range fields {
		f, ok := CustomFieldDescriptor(cf)
		if !ok {
			c.logger.WarnContext(ctx, "schema.custom_field_skipped", "name", cf.Name)
			continue
		}
		if !knownCustomType(cf.Type) {
			c.logger.DebugContext(ctx, "schema.custom_field_unknown_type", "name", f.Name, "type", cf.Type)
		}
		b.AddCustom(f, cf.Required)
	}
	return b.Build()
}

// NormalizeFieldName lowercases name and turns spaces and hyphens into underscores.
func NormalizeFieldName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, name)
}

// CustomFieldDescriptor maps a user-facing custom field to a descriptor. It reports
// false when the name normalizes to nothing.
func CustomFieldDescriptor(cf entity.CustomField) (Field, bool) {
	name := NormalizeFieldName(cf.Name)
	if name == "" {
		return Field{}, false
	}
	desc := cf.Description
	if desc == "" {
		desc = cf.Label
	}
	f := Field{Name: name, Description: desc, Default: CloneDefault(cf.DefaultValue)}

	switch strings.ToLower(strings.TrimSpace(cf.Type)) {
	case "number":
		f.Type = TypeNumber
	case "integer":
		f.Type = TypeInteger
	case "boolean":
		f.Type = TypeBoolean
	case "date":
		f.Type = TypeString
		f.Format = FormatDate
	case "select":
		f.Type = TypeString
		if len(cf.Options) > 0 {
			f.Enum = append([]string(nil), cf.Options...)
		}
	case "array":
		f.Type = TypeArray
		f.Items = &Field{Type: TypeString}
	default:
		f.Type = TypeString
	}
	return f, true
}

func knownCustomType(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "string", "text", "number", "integer", "date", "boolean", "select", "array":
		return true
	}
	return false
}

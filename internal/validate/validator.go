// Package validate checks extraction results against a composed schema.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

// Validator applies defaults, required-field and type checks, then enum and format
// constraints. It is safe for concurrent use.
type Validator struct {
	logger      *slog.Logger
	constraints *constraintCache
}

// New creates a Validator.
func New(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger, constraints: newConstraintCache()}
}

// Validate returns a normalized copy of record. Fields in required must resolve to a
// non-empty value. Unknown fields are logged and passed through. Every failure is
// collected into a single *Error.
func (v *Validator) Validate(ctx context.Context, record map[string]any, def schema.Definition, required []string) (map[string]any, error) {
	if record == nil {
		return nil, &Error{Issues: []Issue{{Index: -1, Message: "record is empty"}}}
	}

	var issues []Issue
	out := make(map[string]any, len(record))
	for _, f := range def.Fields() {
		val, present := resolve(record, f)
		if isEmpty(val) && hasRequiredProperties(f, val) {
			// an absent object still has to carry its required properties
			val = map[string]any{}
		} else if isEmpty(val) {
			if slices.Contains(required, f.Name) {
				issues = append(issues, Issue{Field: f.Name, Index: -1, Message: "is required"})
			} else if present && val != nil {
				out[f.Name] = val
			}
			continue
		}
		nv, errs := checkValue(f, val, f.Name)
		if len(errs) > 0 {
			issues = append(issues, errs...)
			continue
		}
		out[f.Name] = nv
	}

	for k, val := range record {
		if def.Has(k) {
			continue
		}
		v.logger.WarnContext(ctx, "validate.unknown_field", "field", k)
		out[k] = val
	}

	if len(issues) > 0 {
		return nil, &Error{Issues: issues}
	}

	violations, err := v.constraints.check(def, out)
	if err != nil {
		// The type-checked record stands on its own when the constraint schema is unusable.
		v.logger.WarnContext(ctx, "validate.constraints_skipped", "err", err)
		return out, nil
	}
	for _, vl := range violations {
		if vl.required(def, required) {
			issues = append(issues, vl.issue())
			continue
		}
		v.logger.WarnContext(ctx, "validate.dropped_value", "path", vl.issue().Path(), "reason", vl.message)
		vl.drop(out)
	}
	if len(issues) > 0 {
		return nil, &Error{Issues: issues}
	}
	return out, nil
}

// resolve returns the field value, substituting the declared default for absent or
// null values. present reports whether the key was in the record.
func resolve(record map[string]any, f schema.Field) (any, bool) {
	val, present := record[f.Name]
	if val == nil && f.Default != nil {
		return schema.CloneDefault(f.Default), present
	}
	return val, present
}

func hasRequiredProperties(f schema.Field, v any) bool {
	if f.Type != schema.TypeObject || len(f.Required) == 0 {
		return false
	}
	switch v.(type) {
	case nil, map[string]any:
		return true
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// checkValue verifies val against f and returns the normalized value. Arrays come back
// as []any and nested objects as fresh maps so later drops never touch the input.
func checkValue(f schema.Field, val any, field string) (any, []Issue) {
	mismatch := func() []Issue {
		return []Issue{{Field: field, Index: -1, Message: fmt.Sprintf("must be %s, got %s", f.Type, typeName(val))}}
	}

	switch f.Type {
	case schema.TypeString:
		s, ok := val.(string)
		if !ok {
			return nil, mismatch()
		}
		return canonicalEnum(f, s), nil
	case schema.TypeNumber:
		if !isNumber(val) {
			return nil, mismatch()
		}
		return val, nil
	case schema.TypeInteger:
		if !isInteger(val) {
			return nil, mismatch()
		}
		return val, nil
	case schema.TypeBoolean:
		if _, ok := val.(bool); !ok {
			return nil, mismatch()
		}
		return val, nil
	case schema.TypeArray:
		elems, ok := asSlice(val)
		if !ok {
			return nil, mismatch()
		}
		return checkArray(f, elems, field)
	case schema.TypeObject:
		m, ok := val.(map[string]any)
		if !ok {
			return nil, mismatch()
		}
		return checkObject(f, m, field, -1)
	}
	return val, nil
}

func checkArray(f schema.Field, elems []any, field string) (any, []Issue) {
	out := make([]any, len(elems))
	if f.Items == nil {
		copy(out, elems)
		return out, nil
	}

	var issues []Issue
	for i, e := range elems {
		switch f.Items.Type {
		case schema.TypeObject:
			m, ok := e.(map[string]any)
			if !ok {
				issues = append(issues, Issue{Field: field, Index: i, Message: "must be an object, got " + typeName(e)})
				continue
			}
			nm, errs := checkObject(*f.Items, m, field, i)
			issues = append(issues, errs...)
			out[i] = nm
		case schema.TypeString:
			s, ok := e.(string)
			if !ok {
				issues = append(issues, Issue{Field: field, Index: i, Message: "must be a string, got " + typeName(e)})
				continue
			}
			out[i] = s
		default:
			nv, errs := checkValue(*f.Items, e, field)
			for j := range errs {
				errs[j].Index = i
			}
			issues = append(issues, errs...)
			out[i] = nv
		}
	}
	return out, issues
}

// checkObject validates a nested object against its declared properties, applying their
// defaults. Undeclared properties are kept.
func checkObject(f schema.Field, m map[string]any, field string, index int) (any, []Issue) {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	var issues []Issue
	for _, p := range f.Properties {
		val, present := resolve(m, p)
		if isEmpty(val) {
			if f.IsRequired(p.Name) {
				issues = append(issues, Issue{Field: field, Index: index, Property: p.Name, Message: "is required"})
			} else if !present || val == nil {
				delete(out, p.Name)
			}
			continue
		}
		nv, errs := checkValue(p, val, field)
		for _, e := range errs {
			e.Index = index
			e.Property = p.Name
			issues = append(issues, e)
		}
		if len(errs) == 0 {
			out[p.Name] = nv
		}
	}
	return out, issues
}

func canonicalEnum(f schema.Field, s string) string {
	if len(f.Enum) == 0 || slices.Contains(f.Enum, s) {
		return s
	}
	for _, e := range f.Enum {
		if strings.EqualFold(e, strings.TrimSpace(s)) {
			return e
		}
	}
	return s
}

func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, true
	}
	return nil, false
}

func isNumber(v any) bool {
	switch t := v.(type) {
	case float64:
		return !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := t.Float64()
		return err == nil
	}
	return false
}

func isInteger(v any) bool {
	switch t := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return t == math.Trunc(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t) == math.Trunc(float64(t))
	case json.Number:
		_, err := t.Int64()
		return err == nil
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	}
	if _, ok := asSlice(v); ok {
		return "array"
	}
	if isNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

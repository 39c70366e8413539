package validate

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

var reMoneyNoise = regexp.MustCompile(`[^\d.\-]`)

// dateLayouts are tried in order; day-first layouts win over month-first ones.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2/1/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02-Jan-2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02/01/06",
}

// Sanitize coerces near-miss values into the shapes the schema declares so the record
// can still pass Validate: numeric strings become numbers, loose booleans become bools,
// dates are reformatted, strings are trimmed and "null" strings are removed. It returns
// a new map and the paths that were changed or dropped. Values it cannot repair are
// left for Validate to report.
func Sanitize(record map[string]any, def schema.Definition) (map[string]any, []string) {
	if record == nil {
		return nil, nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	var touched []string
	for _, f := range def.Fields() {
		v, ok := out[f.Name]
		if !ok {
			continue
		}
		nv, keep, changed := coerce(f, v)
		switch {
		case !keep:
			delete(out, f.Name)
			touched = append(touched, f.Name+"(dropped)")
		case changed:
			out[f.Name] = nv
			touched = append(touched, f.Name)
		}
	}
	if cur, ok := out[schema.FieldCurrency].(string); ok {
		out[schema.FieldCurrency] = strings.ToUpper(cur)
	}
	return out, touched
}

// coerce returns the repaired value, whether to keep the key, and whether it changed.
func coerce(f schema.Field, v any) (any, bool, bool) {
	trimmed := false
	if s, ok := v.(string); ok {
		t := strings.TrimSpace(s)
		if strings.EqualFold(t, "null") ||
			(f.Type != schema.TypeString && (t == "" || strings.EqualFold(t, "n/a"))) {
			return nil, false, true
		}
		trimmed = t != s
		v = t
	}

	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return v, true, false
		}
		if f.Format == schema.FormatDate {
			if d, ok := normalizeDate(s); ok {
				return d, true, trimmed || d != s
			}
		}
		return s, true, trimmed
	case schema.TypeNumber, schema.TypeInteger:
		if s, ok := v.(string); ok {
			if n, ok := parseAmount(s); ok {
				return n, true, true
			}
		}
	case schema.TypeBoolean:
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true", "yes", "y", "paid", "1":
				return true, true, true
			case "false", "no", "n", "unpaid", "0":
				return false, true, true
			}
		}
	case schema.TypeArray:
		if s, ok := v.(string); ok && f.Items != nil && f.Items.Type == schema.TypeString {
			var parts []any
			for _, p := range strings.Split(s, ",") {
				if p = strings.TrimSpace(p); p != "" {
					parts = append(parts, p)
				}
			}
			return parts, true, true
		}
		if arr, ok := v.([]any); ok && f.Items != nil && f.Items.Type == schema.TypeObject {
			out := make([]any, len(arr))
			changed := false
			for i, e := range arr {
				m, ok := e.(map[string]any)
				if !ok {
					out[i] = e
					continue
				}
				nm, c := sanitizeObject(*f.Items, m)
				out[i] = nm
				changed = changed || c
			}
			return out, true, changed
		}
	case schema.TypeObject:
		if m, ok := v.(map[string]any); ok && len(f.Properties) > 0 {
			nm, c := sanitizeObject(f, m)
			return nm, true, c
		}
	}
	return v, true, trimmed
}

func sanitizeObject(f schema.Field, m map[string]any) (map[string]any, bool) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	changed := false
	for _, p := range f.Properties {
		v, ok := out[p.Name]
		if !ok {
			continue
		}
		nv, keep, c := coerce(p, v)
		if !keep {
			delete(out, p.Name)
			changed = true
			continue
		}
		if c {
			out[p.Name] = nv
			changed = true
		}
	}
	return out, changed
}

// parseAmount accepts "1,234.50", "₹ 1,180", "Rs. 99" and similar.
func parseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	cleaned := reMoneyNoise.ReplaceAllString(strings.ReplaceAll(s, ",", ""), "")
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" || cleaned == "-" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func normalizeDate(s string) (string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/expense-intake/internal/schema"
)

// constraintCache holds compiled enum/format schemas keyed by definition fingerprint.
type constraintCache struct {
	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

func newConstraintCache() *constraintCache {
	return &constraintCache{compiled: make(map[string]*jsonschema.Schema)}
}

func (c *constraintCache) compile(def schema.Definition) (*jsonschema.Schema, error) {
	key := def.Fingerprint()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.compiled[key]; ok {
		return s, nil
	}

	b, err := json.Marshal(def.ConstraintSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal constraints: %w", err)
	}
	url := "constraints-" + key + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add constraints: %w", err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile constraints: %w", err)
	}
	c.compiled[key] = s
	return s, nil
}

// violation is one failed enum or format assertion, located by instance path segments.
type violation struct {
	path    []string
	message string
}

func (c *constraintCache) check(def schema.Definition, record map[string]any) ([]violation, error) {
	s, err := c.compile(def)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	err = s.Validate(doc)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var out []violation
	seen := map[string]bool{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			if e.InstanceLocation == "" || seen[e.InstanceLocation] {
				return
			}
			seen[e.InstanceLocation] = true
			out = append(out, violation{path: splitPointer(e.InstanceLocation), message: e.Message})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	orderBySchema(def, out)
	return out, nil
}

func splitPointer(ptr string) []string {
	parts := strings.Split(strings.TrimPrefix(ptr, "/"), "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return parts
}

func orderBySchema(def schema.Definition, vs []violation) {
	names := def.Names()
	slices.SortStableFunc(vs, func(a, b violation) int {
		return slices.Index(names, a.path[0]) - slices.Index(names, b.path[0])
	})
}

// required walks the schema along the violation path and reports whether the offending
// property is required where it is declared.
func (v violation) required(def schema.Definition, required []string) bool {
	f, ok := def.Field(v.path[0])
	if !ok {
		return false
	}
	if len(v.path) == 1 {
		return slices.Contains(required, v.path[0])
	}
	cur := f
	last := false
	for _, seg := range v.path[1:] {
		switch cur.Type {
		case schema.TypeArray:
			if cur.Items == nil {
				return false
			}
			cur = *cur.Items
			last = false
		case schema.TypeObject:
			last = cur.IsRequired(seg)
			p, ok := cur.Property(seg)
			if !ok {
				return false
			}
			cur = p
		default:
			return false
		}
	}
	return last
}

func (v violation) issue() Issue {
	is := Issue{Field: v.path[0], Index: -1, Message: v.message}
	for _, seg := range v.path[1:] {
		if n, err := strconv.Atoi(seg); err == nil && is.Index < 0 {
			is.Index = n
			continue
		}
		is.Property = seg
	}
	return is
}

// drop removes the offending value from record. Values inside arrays of scalars take the
// whole field with them.
func (v violation) drop(record map[string]any) {
	if len(v.path) == 1 {
		delete(record, v.path[0])
		return
	}
	var parent any = record
	for _, seg := range v.path[:len(v.path)-1] {
		switch p := parent.(type) {
		case map[string]any:
			parent = p[seg]
		case []any:
			n, err := strconv.Atoi(seg)
			if err != nil || n < 0 || n >= len(p) {
				return
			}
			parent = p[n]
		default:
			return
		}
		if parent == nil {
			return
		}
	}
	if m, ok := parent.(map[string]any); ok {
		delete(m, v.path[len(v.path)-1])
		return
	}
	delete(record, v.path[0])
}

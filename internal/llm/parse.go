package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// wrapperKeys are object keys models use to wrap a result array.
var wrapperKeys = []string{"documents", "results", "records"}

// ParseResponse recovers candidate records from a model answer. It strips markdown code
// fences, falls back to the outermost JSON value embedded in prose, unwraps
// {"documents": [...]}-style wrappers and turns a lone object into a one-element list.
func ParseResponse(content string) ([]map[string]any, error) {
	s := stripCodeFences(strings.TrimSpace(content))
	if s == "" {
		return nil, ErrEmptyResponse
	}

	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		inner, ok := outermostJSON(s)
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if err := json.Unmarshal([]byte(inner), &v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	switch t := v.(type) {
	case []any:
		return objects(t), nil
	case map[string]any:
		for _, k := range wrapperKeys {
			if arr, ok := t[k].([]any); ok {
				return objects(arr), nil
			}
		}
		return []map[string]any{t}, nil
	}
	return nil, fmt.Errorf("%w: top-level %T", ErrMalformedResponse, v)
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func outermostJSON(s string) (string, bool) {
	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", false
	}
	return s[start : end+1], true
}

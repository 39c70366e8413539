package validate

import (
	"encoding/json"
	"strings"
)

// UnwrapEnvelope digs the structured content out of an OCR provider envelope. Two
// nestings are recognised, result.json.content and structured_data.content; content may
// itself be a JSON string. Anything else is returned unchanged.
func UnwrapEnvelope(raw any) any {
	m, ok := raw.(map[string]any)
	if !ok {
		return raw
	}
	if sd, ok := m["structured_data"].(map[string]any); ok {
		if content, ok := sd["content"]; ok {
			return decodeContent(content)
		}
	}
	if res, ok := m["result"].(map[string]any); ok {
		if js, ok := res["json"].(map[string]any); ok {
			if content, ok := js["content"]; ok {
				return decodeContent(content)
			}
		}
	}
	return raw
}

func decodeContent(content any) any {
	s, ok := content.(string)
	if !ok {
		return content
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return content
	}
	return out
}

// Records flattens an extraction payload into candidate records: a single object becomes
// one record and arrays keep their object elements.
func Records(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

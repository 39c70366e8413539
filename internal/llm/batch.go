package llm

import "fmt"

// SplitBatch assigns results to items, returning one slice per item in item order.
// When every result carries a source_id naming a batch item, results are grouped by
// that id. Otherwise results are matched by position, and a single-item batch takes
// every result.
func SplitBatch(items []Item, results []map[string]any) [][]map[string]any {
	out := make([][]map[string]any, len(items))
	if len(items) == 0 || len(results) == 0 {
		return out
	}
	if len(items) == 1 {
		out[0] = results
		return out
	}

	index := make(map[string]int, len(items))
	for i, it := range items {
		if it.SourceID != "" {
			index[it.SourceID] = i
		}
	}
	byID := make([]int, len(results))
	keyed := true
	for j, r := range results {
		i, ok := index[sourceID(r)]
		if !ok {
			keyed = false
			break
		}
		byID[j] = i
	}
	if keyed {
		for j, r := range results {
			out[byID[j]] = append(out[byID[j]], r)
		}
		return out
	}

	for j, r := range results {
		if j >= len(items) {
			break
		}
		out[j] = []map[string]any{r}
	}
	return out
}

func sourceID(r map[string]any) string {
	switch v := r["source_id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

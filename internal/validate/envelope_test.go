package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrapEnvelope(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "result json content string",
			in: map[string]any{"result": map[string]any{"json": map[string]any{
				"content": `{"amount": 12.5}`,
			}}},
			want: map[string]any{"amount": 12.5},
		},
		{
			name: "structured data content object",
			in:   map[string]any{"structured_data": map[string]any{"content": map[string]any{"amount": 3.0}}},
			want: map[string]any{"amount": 3.0},
		},
		{
			name: "content array",
			in:   map[string]any{"structured_data": map[string]any{"content": `[{"amount": 1}]`}},
			want: []any{map[string]any{"amount": 1.0}},
		},
		{
			name: "no envelope",
			in:   map[string]any{"amount": 7.0},
			want: map[string]any{"amount": 7.0},
		},
		{
			name: "result without json",
			in:   map[string]any{"result": map[string]any{"amount": 7.0}},
			want: map[string]any{"result": map[string]any{"amount": 7.0}},
		},
		{
			name: "content is not json",
			in:   map[string]any{"structured_data": map[string]any{"content": "total 12"}},
			want: "total 12",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UnwrapEnvelope(tt.in))
		})
	}
}

func TestRecords(t *testing.T) {
	assert.Len(t, Records(map[string]any{"a": 1}), 1)
	assert.Len(t, Records([]any{map[string]any{"a": 1}, "noise", map[string]any{"b": 2}}), 2)
	assert.Nil(t, Records("text"))
}

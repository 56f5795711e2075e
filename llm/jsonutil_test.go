package llm_test

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/lisa/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "fenced block",
			content: "Here you go:\n```json\n{\"a\": 1}\n```\nDone.",
			want:    `{"a": 1}`,
		},
		{
			name:    "bare object",
			content: `prefix {"a": 1} suffix`,
			want:    `{"a": 1}`,
		},
		{
			name:    "trailing comma removed",
			content: `{"a": 1,}`,
			want:    `{"a": 1}`,
		},
		{
			name:    "line comment stripped",
			content: "{\"a\": 1 // the answer\n}",
			want:    "{\"a\": 1\n}",
		},
		{
			name:    "url survives comment stripping",
			content: `{"url": "http://example.com"}`,
			want:    `{"url": "http://example.com"}`,
		},
		{
			name:    "no object",
			content: "just prose",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, llm.ExtractJSON(tt.content))
		})
	}
}

func TestCompletePartial(t *testing.T) {
	tests := []struct {
		name    string
		partial string
		want    map[string]any
	}{
		{
			name:    "open string value",
			partial: `{"thought": "analyzing the log`,
			want:    map[string]any{"thought": "analyzing the log"},
		},
		{
			name:    "dangling key",
			partial: `{"thought": "done", "progress`,
			want:    map[string]any{"thought": "done"},
		},
		{
			name:    "key without value",
			partial: `{"thought": "done", "progress":`,
			want:    map[string]any{"thought": "done"},
		},
		{
			name:    "open nested object",
			partial: `{"a": {"b": 1`,
			want:    map[string]any{"a": map[string]any{"b": float64(1)}},
		},
		{
			name:    "open array",
			partial: `{"ids": ["x", "y"`,
			want:    map[string]any{"ids": []any{"x"}},
		},
		{
			name:    "leading prose",
			partial: "Sure:\n{\"a\": true",
			want:    map[string]any{"a": true},
		},
		{
			name:    "complete object unchanged",
			partial: `{"a": 1}`,
			want:    map[string]any{"a": float64(1)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completed := llm.CompletePartial(tt.partial)
			require.NotEmpty(t, completed)

			var got map[string]any
			require.NoError(t, json.Unmarshal([]byte(completed), &got), "completed: %s", completed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompletePartialNoObject(t *testing.T) {
	assert.Empty(t, llm.CompletePartial("no json here"))
	assert.Empty(t, llm.CompletePartial(""))
}

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json fence", "```json\n{\"name\": \"Stripe\"}\n```", `{"name": "Stripe"}`},
		{"bare fence", "```\n[1, 2]\n```", `[1, 2]`},
		{"preamble", "Here are the competitors:\n{\"competitors\": []}", `{"competitors": []}`},
		{"trailing chatter", "{\"a\": 1}\n\nHope this helps!", `{"a": 1}`},
		{"braces in strings", `Result: {"t": "Hello {name}"}`, `{"t": "Hello {name}"}`},
		{"escaped quotes", `{"m": "He said \"hi}\""} extra`, `{"m": "He said \"hi}\""}`},
		{"not json", "no data available", "no data available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractBalanced(t *testing.T) {
	assert.Equal(t, "", extractBalanced(""))
	assert.Equal(t, "", extractBalanced("x{}"))
	assert.Equal(t, "", extractBalanced(`{"open": true`))
	assert.Equal(t, `[[1],[2]]`, extractBalanced(`[[1],[2]] tail`))
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Competitors []struct {
			Name string `json:"name"`
		} `json:"competitors"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"competitors\":[{\"name\":\"Adyen\"}]}\n```", &out))
	require.Len(t, out.Competitors, 1)
	assert.Equal(t, "Adyen", out.Competitors[0].Name)

	assert.Error(t, DecodeJSON("", &out))
	assert.Error(t, DecodeJSON("{not json}", &out))
}

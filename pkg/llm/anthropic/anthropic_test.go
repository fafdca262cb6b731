package anthropic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
)

func TestNewRejectsMissingDefaults(t *testing.T) {
	_, err := New(nil, "claude-3")
	assert.Error(t, err)

	_, err = NewFromAPIKey("", "claude-3")
	assert.Error(t, err)
}

func TestBuildParamsAppliesDefaultModelAndMaxTokens(t *testing.T) {
	c := &Client{defaultModel: "claude-sonnet-4-5"}
	params, err := c.buildParams(llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Text: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", string(params.Model))
	assert.EqualValues(t, 4096, params.MaxTokens)
	require.Len(t, params.Messages, 1)
}

func TestBuildParamsRejectsUnsupportedRole(t *testing.T) {
	c := &Client{defaultModel: "claude-sonnet-4-5"}
	_, err := c.buildParams(llm.Request{
		Messages: []llm.Message{{Role: llm.RoleSystem, Text: "nope"}},
	})
	assert.Error(t, err)
}

func TestBuildParamsTranslatesToolsAndResults(t *testing.T) {
	c := &Client{defaultModel: "claude-sonnet-4-5"}
	params, err := c.buildParams(llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "t1", Name: "read_file", Input: map[string]any{"path": "a.go"}}}},
			{Role: llm.RoleUser, ToolResults: []llm.ToolResult{{ToolCallID: "t1", Content: "package main"}}},
		},
		Tools: []llm.ToolSpec{{
			Name:        "read_file",
			Description: "reads a file",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, params.Tools, 1)
	require.Len(t, params.Messages, 2)
}

func TestToolBufferDecodesAccumulatedFragments(t *testing.T) {
	tb := &toolBuffer{fragments: []string{`{"pa`, `th":"main.go"}`}}
	input, err := tb.decode()
	require.NoError(t, err)
	assert.Equal(t, "main.go", input["path"])
}

func TestToolBufferDecodeEmptyYieldsEmptyMap(t *testing.T) {
	tb := &toolBuffer{}
	input, err := tb.decode()
	require.NoError(t, err)
	assert.Empty(t, input)
}

func TestToolBufferDecodeMalformedJSONErrors(t *testing.T) {
	tb := &toolBuffer{fragments: []string{"{not json"}}
	_, err := tb.decode()
	assert.Error(t, err)
}

func TestClassifyWrapsTransportFailuresAsRetryable(t *testing.T) {
	err := classify(errors.New("connection reset by peer"))
	var re *RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Retryable())
}

func TestClassifyPassesThroughOrdinaryErrors(t *testing.T) {
	original := errors.New("bad request: missing field")
	err := classify(original)
	assert.Equal(t, original, err)
}

func TestClassifyNilIsNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
)

var fallbackCallSeq int64

// parseToolCalls implements the three-tier fallback the original
// implementation uses when a provider or a prompt-injected tool-calling
// scheme doesn't come back as structured tool_use blocks: prefer native
// calls reported by the stream; failing that, a fenced ```json block;
// failing that, every inline JSON object found anywhere in the text.
func parseToolCalls(native []llm.ToolCall, text string) []llm.ToolCall {
	if len(native) > 0 {
		return native
	}
	if calls := parseFencedJSON(text); len(calls) > 0 {
		return calls
	}
	if calls := parseInlineJSON(text); len(calls) > 0 {
		return calls
	}
	return nil
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func parseFencedJSON(text string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, m := range fencedBlockRe.FindAllStringSubmatch(text, -1) {
		if call, ok := decodeToolCallJSON(m[1]); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

var inlineObjectRe = regexp.MustCompile(`(?s)\{[^{}]*"(?:tool|name)"[^{}]*\}`)

func parseInlineJSON(text string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, m := range inlineObjectRe.FindAllString(text, -1) {
		if call, ok := decodeToolCallJSON(m); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// toolCallShape accepts either {"tool": "...", "args": {...}} or
// {"name": "...", "input": {...}} — the two spellings seen across the
// corpus's fenced-JSON tool-calling prompts.
type toolCallShape struct {
	Tool  string         `json:"tool"`
	Args  map[string]any `json:"args"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

func decodeToolCallJSON(raw string) (llm.ToolCall, bool) {
	var shape toolCallShape
	if err := json.Unmarshal([]byte(raw), &shape); err != nil {
		return llm.ToolCall{}, false
	}
	name := shape.Tool
	if name == "" {
		name = shape.Name
	}
	if name == "" {
		return llm.ToolCall{}, false
	}
	input := shape.Args
	if input == nil {
		input = shape.Input
	}
	if input == nil {
		input = map[string]any{}
	}
	return llm.ToolCall{ID: nextFallbackID(), Name: name, Input: input}, true
}

func nextFallbackID() string {
	n := atomic.AddInt64(&fallbackCallSeq, 1)
	return fmt.Sprintf("fallback-%d", n)
}

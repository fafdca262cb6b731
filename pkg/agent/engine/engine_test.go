package engine_test

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/agent/engine"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/notepad"
	"github.com/codeready-toolchain/docbot-core/pkg/scan"
	"github.com/codeready-toolchain/docbot-core/pkg/tracker"
)

type scriptedStream struct {
	chunks []llm.Chunk
	pos    int
}

func (s *scriptedStream) Recv() (llm.Chunk, error) {
	if s.pos >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}
func (s *scriptedStream) Close() error { return nil }

// stubClient dispatches every Complete call to respond, letting tests
// script behavior by call count or by inspecting the request.
type stubClient struct {
	calls       int64
	respond     func(callIndex int, req llm.Request) []llm.Chunk
	errorOnCall map[int]error
}

func (c *stubClient) Complete(ctx context.Context, req llm.Request) (llm.Stream, error) {
	idx := int(atomic.AddInt64(&c.calls, 1)) - 1
	if err, ok := c.errorOnCall[idx]; ok {
		return nil, err
	}
	return &scriptedStream{chunks: c.respond(idx, req)}, nil
}

func finishChunks(summary string) []llm.Chunk {
	return []llm.Chunk{
		{Type: llm.ChunkToolCall, ToolCall: &llm.ToolCall{ID: "t1", Name: "finish", Input: map[string]any{"summary": summary}}},
		{Type: llm.ChunkStop},
	}
}

func textChunks(text string) []llm.Chunk {
	return []llm.Chunk{
		{Type: llm.ChunkText, Text: text},
		{Type: llm.ChunkStop},
	}
}

func newSpec(agentID, repoRoot string) engine.Spec {
	return engine.Spec{
		AgentID:  agentID,
		Name:     agentID,
		NodeType: tracker.AgentTypeRoot,
		Purpose:  "Document the repository.",
		RepoRoot: repoRoot,
		Notepad:  notepad.New(nil),
		Tracker:  tracker.New(time.Now()),
	}
}

func TestRunFinishesOnNativeFinishCall(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		return finishChunks("root is documented")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2})

	outcome := e.Run(context.Background(), newSpec("root", t.TempDir()))
	assert.False(t, outcome.Failed)
	assert.Equal(t, "root is documented", outcome.Summary)
}

func TestRunParsesFencedJSONFallbackWhenNoNativeCalls(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		return textChunks("Here is my result.\n```json\n{\"tool\": \"finish\", \"args\": {\"summary\": \"done via json\"}}\n```\n")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2})

	outcome := e.Run(context.Background(), newSpec("root", t.TempDir()))
	assert.False(t, outcome.Failed)
	assert.Equal(t, "done via json", outcome.Summary)
}

func TestDelegateRejectedAtMaxDepthThenAgentStillFinishes(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		if idx == 0 {
			return []llm.Chunk{
				{Type: llm.ChunkToolCall, ToolCall: &llm.ToolCall{ID: "t1", Name: "delegate", Input: map[string]any{"target": "x", "purpose": "look"}}},
				{Type: llm.ChunkStop},
			}
		}
		return finishChunks("handled directly, no delegation available")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 1})

	spec := newSpec("root", t.TempDir())
	spec.CurrentDepth = 1 // already at the depth ceiling
	outcome := e.Run(context.Background(), spec)

	assert.False(t, outcome.Failed)
	assert.Equal(t, "handled directly, no delegation available", outcome.Summary)
}

func TestForcedConclusionAfterExhaustingSteps(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		if idx < 2 {
			return textChunks("still thinking, no tool call yet")
		}
		return finishChunks("forced summary after exhaustion")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2, MaxSteps: 2})

	outcome := e.Run(context.Background(), newSpec("root", t.TempDir()))
	assert.False(t, outcome.Failed)
	assert.Equal(t, "forced summary after exhaustion", outcome.Summary)
}

func TestForcedConclusionFailsWhenModelNeverProducesSummary(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		return []llm.Chunk{{Type: llm.ChunkStop}}
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2, MaxSteps: 1})

	outcome := e.Run(context.Background(), newSpec("root", t.TempDir()))
	assert.True(t, outcome.Failed)
	assert.NotEmpty(t, outcome.ErrorMessage)
}

func TestDeterministicDelegatesPreSeededForRootAgent(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		return finishChunks("done")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2, DeterministicChildCap: 2})

	spec := newSpec("root", t.TempDir())
	tr := spec.Tracker
	spec.ScanResult = &scan.Result{
		SourceFiles: []model.SourceFile{
			{Path: "alpha/a.go"}, {Path: "alpha/b.go"}, {Path: "alpha/c.go"},
			{Path: "beta/d.go"},
			{Path: "root.go"},
		},
	}
	spec.DeterministicChildBudget = 2

	outcome := e.Run(context.Background(), spec)
	require.False(t, outcome.Failed)

	snapshot := tr.Snapshot()
	var childNames []string
	for id, n := range snapshot {
		if id != "root" {
			childNames = append(childNames, n.Name)
		}
	}
	assert.Len(t, childNames, 2)
	assert.Contains(t, childNames, "alpha")
}

func TestRunAppliesConfiguredDeterministicBudgetWhenSpecOmitsIt(t *testing.T) {
	client := &stubClient{respond: func(idx int, req llm.Request) []llm.Chunk {
		return finishChunks("done")
	}}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2, DeterministicChildCap: 1})

	spec := newSpec("root", t.TempDir())
	tr := spec.Tracker
	spec.ScanResult = &scan.Result{
		SourceFiles: []model.SourceFile{
			{Path: "alpha/a.go"}, {Path: "beta/b.go"},
		},
	}
	// DeterministicChildBudget intentionally left unset — Run should apply
	// the engine's configured default for the root agent.

	outcome := e.Run(context.Background(), spec)
	require.False(t, outcome.Failed)

	snapshot := tr.Snapshot()
	childCount := 0
	for id := range snapshot {
		if id != "root" {
			childCount++
		}
	}
	assert.Equal(t, 1, childCount)
}

func TestTransientCompleteErrorIsRetriedWithinStepBudget(t *testing.T) {
	client := &stubClient{
		errorOnCall: map[int]error{0: errBoom{}},
		respond: func(idx int, req llm.Request) []llm.Chunk {
			return finishChunks("recovered")
		},
	}
	e := engine.New(engine.Config{Client: client, Model: "test-model", MaxDepth: 2, MaxSteps: 3})

	outcome := e.Run(context.Background(), newSpec("root", t.TempDir()))
	assert.False(t, outcome.Failed)
	assert.Equal(t, "recovered", outcome.Summary)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

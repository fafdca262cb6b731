package plan_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/plan"
	"github.com/codeready-toolchain/docbot-core/pkg/scan"
)

func sampleScan() scan.Result {
	return scan.Result{
		SourceFiles: []model.SourceFile{
			{Path: "main.go", Language: model.LangGo},
			{Path: "config/settings.go", Language: model.LangGo},
			{Path: "internal/widgets/widget.go", Language: model.LangGo},
			{Path: "internal/orders/order.go", Language: model.LangGo},
			{Path: "README.md", Language: model.LangMarkdown},
		},
		Entrypoints: []string{"main.go"},
		Packages:    []string{"."},
		Languages:   []model.Language{model.LangGo, model.LangMarkdown},
	}
}

func TestBuildSeparatesEntrypointsAndCrosscutting(t *testing.T) {
	scopes := plan.Build(sampleScan(), 20)

	byID := map[string]model.ScopePlan{}
	for _, s := range scopes {
		byID[s.ScopeID] = s
	}

	require.Contains(t, byID, "entrypoints")
	assert.Equal(t, []string{"main.go"}, byID["entrypoints"].Paths)

	require.Contains(t, byID, "crosscutting")
	assert.Contains(t, byID["crosscutting"].Paths, "config/settings.go")
}

func TestBuildGroupsByTopLevelDirectory(t *testing.T) {
	scopes := plan.Build(sampleScan(), 20)

	byID := map[string]model.ScopePlan{}
	for _, s := range scopes {
		byID[s.ScopeID] = s
	}
	assert.Contains(t, byID, "internal")
}

func TestBuildEveryFileAssignedExactlyOnce(t *testing.T) {
	s := sampleScan()
	scopes := plan.Build(s, 20)

	seen := map[string]int{}
	for _, scope := range scopes {
		for _, p := range scope.Paths {
			seen[p]++
		}
	}
	for _, sf := range s.SourceFiles {
		assert.Equal(t, 1, seen[sf.Path], "file %s should be assigned to exactly one scope", sf.Path)
	}
}

func TestBuildShrinksToMaxScopesKeepingReservedAndLargest(t *testing.T) {
	s := scan.Result{}
	for i := 0; i < 10; i++ {
		dir := "pkg" + string(rune('a'+i))
		for j := 0; j < i+1; j++ {
			s.SourceFiles = append(s.SourceFiles, model.SourceFile{Path: dir + "/file" + string(rune('0'+j)) + ".go", Language: model.LangGo})
		}
	}
	scopes := plan.Build(s, 3)
	assert.LessOrEqual(t, len(scopes), 3)
}

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Complete(ctx context.Context, req llm.Request) (llm.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stubStream{chunks: []llm.Chunk{{Type: llm.ChunkText, Text: s.text}, {Type: llm.ChunkStop}}}, nil
}

type stubStream struct {
	chunks []llm.Chunk
	i      int
}

func (s *stubStream) Recv() (llm.Chunk, error) {
	if s.i >= len(s.chunks) {
		return llm.Chunk{}, errors.New("eof")
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}
func (s *stubStream) Close() error { return nil }

func TestRefineReturnsRefinedPlanOnValidResponse(t *testing.T) {
	draft := plan.Build(sampleScan(), 20)
	refinedJSON, err := json.Marshal([]model.ScopePlan{{ScopeID: "entrypoints", Title: "Application Entrypoints", Paths: []string{"main.go"}, Notes: "where execution begins"}})
	require.NoError(t, err)

	client := stubClient{text: string(refinedJSON)}
	refined := plan.Refine(context.Background(), client, "claude-haiku", draft, sampleScan(), 20)

	require.Len(t, refined, 1)
	assert.Equal(t, "Application Entrypoints", refined[0].Title)
}

func TestRefineFallsBackToDraftOnTransportError(t *testing.T) {
	draft := plan.Build(sampleScan(), 20)
	client := stubClient{err: errors.New("network down")}

	refined := plan.Refine(context.Background(), client, "claude-haiku", draft, sampleScan(), 20)
	assert.Equal(t, draft, refined)
}

func TestRefineFallsBackToDraftOnMalformedJSON(t *testing.T) {
	draft := plan.Build(sampleScan(), 20)
	client := stubClient{text: "not json"}

	refined := plan.Refine(context.Background(), client, "claude-haiku", draft, sampleScan(), 20)
	assert.Equal(t, draft, refined)
}

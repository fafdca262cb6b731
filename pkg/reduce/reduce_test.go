package reduce_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/reduce"
)

func sampleResults() []model.ScopeResult {
	return []model.ScopeResult{
		{
			ScopePlan: model.ScopePlan{ScopeID: "api", Title: "API", Paths: []string{"api/handler.go"}},
			EnvVars:   []model.EnvVar{{Name: "API_PORT", Citation: model.Citation{File: "api/handler.go"}}},
			PublicAPI: []model.PublicSymbol{{Name: "Serve", Citation: model.Citation{File: "api/handler.go"}}},
			Imports:   []string{"widgets"},
			Languages: []model.Language{model.LangGo},
		},
		{
			ScopePlan:   model.ScopePlan{ScopeID: "widgets", Title: "Widgets", Paths: []string{"widgets/widget.go"}},
			Entrypoints: []string{"widgets/widget.go"},
			Languages:   []model.Language{model.LangGo},
		},
		{
			ScopePlan: model.ScopePlan{ScopeID: "orphan", Title: "Orphan", Paths: []string{"orphan/tool.go"}},
			Languages: []model.Language{model.LangGo},
		},
	}
}

func TestMergeDedupsEnvVarsAndAPISortedByFile(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")

	require.Len(t, index.GlobalEnvVars, 1)
	assert.Equal(t, "API_PORT", index.GlobalEnvVars[0].Name)
	require.Len(t, index.GlobalPublicAPI, 1)
	assert.Equal(t, "Serve", index.GlobalPublicAPI[0].Name)
	assert.Equal(t, []string{"widgets/widget.go"}, index.GlobalEntrypoints)
	assert.False(t, index.GeneratedAt.IsZero())
}

func TestMergeInfersEdgeFromImportMatch(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")

	found := false
	for _, e := range index.ScopeEdges {
		if e.From == "api" && e.To == "widgets" {
			found = true
		}
	}
	assert.True(t, found, "expected edge api -> widgets from import match, got %+v", index.ScopeEdges)
}

func TestMergeConnectsOrphanScopesByDirectoryPrefix(t *testing.T) {
	results := sampleResults()
	results[2].Paths = []string{"api/tools/tool.go"} // shares the "api/" prefix with the api scope
	index := reduce.Merge(results, "/repo")

	var touchesOrphan bool
	for _, e := range index.ScopeEdges {
		if e.From == "orphan" || e.To == "orphan" {
			touchesOrphan = true
		}
	}
	assert.True(t, touchesOrphan, "orphan scope should be connected to something, got %+v", index.ScopeEdges)
}

func TestMergeLanguagesAreSortedAndDeduped(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")
	assert.Equal(t, []model.Language{model.LangGo}, index.Languages)
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

func TestEnrichFillsAnalysisAndMermaidOnSuccess(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")
	client := stubClient{text: "graph TD\n  s1[\"API\"] --> s2[\"Widgets\"]\n"}

	enriched := reduce.Enrich(context.Background(), index, client, "claude-haiku")
	assert.NotEmpty(t, enriched.CrossScopeAnalysis)
	assert.Contains(t, enriched.MermaidGraph, "graph TD")
}

func TestEnrichLeavesFieldsEmptyOnTransportError(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")
	client := stubClient{err: errors.New("network down")}

	enriched := reduce.Enrich(context.Background(), index, client, "claude-haiku")
	assert.Empty(t, enriched.CrossScopeAnalysis)
	assert.Empty(t, enriched.MermaidGraph)
}

func TestEnrichRejectsMermaidThatDoesNotStartWithGraph(t *testing.T) {
	index := reduce.Merge(sampleResults(), "/repo")
	client := stubClient{text: "not a diagram"}

	enriched := reduce.Enrich(context.Background(), index, client, "claude-haiku")
	assert.Empty(t, enriched.MermaidGraph)
}

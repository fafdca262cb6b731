package explore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/explore"
	"github.com/codeready-toolchain/docbot-core/pkg/extract"
	"github.com/codeready-toolchain/docbot-core/pkg/extract/goext"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

func writeRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go": "package main\n\nimport \"os\"\n\n// Run starts the widget service.\nfunc Run() error {\n\t_ = os.Getenv(\"WIDGET_PORT\")\n\treturn nil\n}\n\nfunc main() { _ = Run() }\n",
		"README.md": "# Widgets\n",
	}
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func samplePlan() model.ScopePlan {
	return model.ScopePlan{
		ScopeID: "entrypoints",
		Title:   "Entrypoints",
		Paths:   []string{"main.go", "README.md", "missing.go"},
	}
}

func TestExploreAggregatesExtractionAcrossFiles(t *testing.T) {
	root := writeRepo(t)
	reg := extract.NewRegistry()
	reg.Register(model.LangGo, goext.New())

	result := explore.Explore(context.Background(), samplePlan(), root, reg)

	assert.Equal(t, "entrypoints", result.ScopeID)
	assert.Contains(t, result.Entrypoints, "main.go")
	assert.Contains(t, result.KeyFiles, "main.go")
	assert.NotEmpty(t, result.PublicAPI)
	assert.Contains(t, result.Summary, "Entrypoints")
}

func TestExploreRecordsCitationWhenNoExtractorRegistered(t *testing.T) {
	root := writeRepo(t)
	reg := extract.NewRegistry() // no Go extractor registered

	result := explore.Explore(context.Background(), samplePlan(), root, reg)

	var sawGoCitation bool
	for _, c := range result.Citations {
		if c.File == "main.go" {
			sawGoCitation = true
		}
	}
	assert.True(t, sawGoCitation)
}

func TestExploreSkipsMissingFilesWithoutError(t *testing.T) {
	root := writeRepo(t)
	reg := extract.NewRegistry()
	reg.Register(model.LangGo, goext.New())

	result := explore.Explore(context.Background(), samplePlan(), root, reg)

	for _, c := range result.Citations {
		assert.NotEqual(t, "missing.go", c.File)
	}
}

func TestExploreUnknownExtensionGetsPlaceholderCitation(t *testing.T) {
	root := writeRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte{0x01, 0x02}, 0o644))

	reg := extract.NewRegistry()
	plan := model.ScopePlan{ScopeID: "misc", Title: "Misc", Paths: []string{"data.bin"}}

	result := explore.Explore(context.Background(), plan, root, reg)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, "data.bin", result.Citations[0].File)
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

func TestEnrichReplacesSummaryOnSuccess(t *testing.T) {
	root := writeRepo(t)
	reg := extract.NewRegistry()
	reg.Register(model.LangGo, goext.New())
	result := explore.Explore(context.Background(), samplePlan(), root, reg)

	client := stubClient{text: "This scope implements the widget service entrypoint."}
	enriched := explore.Enrich(context.Background(), result, root, client, "claude-haiku")

	assert.Equal(t, "This scope implements the widget service entrypoint.", enriched.Summary)
	assert.Empty(t, enriched.OpenQuestions)
}

func TestEnrichFallsBackToTemplateSummaryOnTransportError(t *testing.T) {
	root := writeRepo(t)
	reg := extract.NewRegistry()
	reg.Register(model.LangGo, goext.New())
	result := explore.Explore(context.Background(), samplePlan(), root, reg)
	original := result.Summary

	client := stubClient{err: errors.New("network down")}
	enriched := explore.Enrich(context.Background(), result, root, client, "claude-haiku")

	assert.Equal(t, original, enriched.Summary)
	require.Len(t, enriched.OpenQuestions, 1)
	assert.Contains(t, enriched.OpenQuestions[0], "LLM summary generation failed")
}

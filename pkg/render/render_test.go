package render_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/render"
)

func sampleIndex() model.DocsIndex {
	return model.DocsIndex{
		RepoPath: "/repo/widgets",
		Scopes: []model.ScopeResult{
			{
				ScopePlan:   model.ScopePlan{ScopeID: "api", Title: "API", Paths: []string{"api/handler.go"}},
				Summary:     "Handles inbound HTTP requests.",
				Entrypoints: []string{"api/handler.go"},
				PublicAPI: []model.PublicSymbol{
					{Name: "Serve", Signature: "func Serve() error", Citation: model.Citation{File: "api/handler.go", LineStart: 10}},
				},
				EnvVars: []model.EnvVar{
					{Name: "API_PORT", Citation: model.Citation{File: "api/handler.go", LineStart: 3}},
				},
			},
		},
		GlobalEntrypoints: []string{"api/handler.go"},
		GlobalPublicAPI: []model.PublicSymbol{
			{Name: "Serve", Signature: "func Serve() error", Citation: model.Citation{File: "api/handler.go", LineStart: 10}},
		},
		ScopeEdges: []model.ScopeEdge{{From: "api", To: "widgets"}},
	}
}

func TestRenderWritesAllExpectedFiles(t *testing.T) {
	root := t.TempDir()
	written, err := render.Render(sampleIndex(), root)
	require.NoError(t, err)

	var paths []string
	for _, w := range written {
		paths = append(paths, w.Path)
	}
	assert.Contains(t, paths, filepath.Join(root, "README.generated.md"))
	assert.Contains(t, paths, filepath.Join(root, "docs", "architecture.generated.md"))
	assert.Contains(t, paths, filepath.Join(root, "docs", "modules", "api.generated.md"))
	assert.Contains(t, paths, filepath.Join(root, "docs", "api_reference.generated.md"))

	for _, w := range written {
		_, err := os.Stat(w.Path)
		assert.NoError(t, err)
	}
}

func TestRenderWritesHTMLPreviewSiblings(t *testing.T) {
	root := t.TempDir()
	_, err := render.Render(sampleIndex(), root)
	require.NoError(t, err)

	htmlPath := filepath.Join(root, "README.generated.html")
	data, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<html>")
}

func TestRenderModulePageIncludesPublicAPIAndEnvVars(t *testing.T) {
	root := t.TempDir()
	_, err := render.Render(sampleIndex(), root)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "docs", "modules", "api.generated.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "func Serve() error")
	assert.Contains(t, content, "API_PORT")
}

func TestMermaidFallsBackToEdgeGraphWhenNoLLMDiagram(t *testing.T) {
	index := sampleIndex()
	index.Scopes = append(index.Scopes, model.ScopeResult{
		ScopePlan: model.ScopePlan{ScopeID: "widgets", Title: "Widgets"},
	})

	graph := render.Mermaid(index)
	assert.Contains(t, graph, "graph TD")
	assert.Contains(t, graph, "-->")
}

func TestMermaidPrefersExistingLLMDiagram(t *testing.T) {
	index := sampleIndex()
	index.MermaidGraph = "graph TD\n  x1[\"Existing\"]\n"

	assert.Equal(t, index.MermaidGraph, render.Mermaid(index))
}

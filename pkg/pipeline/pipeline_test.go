package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/config"
	"github.com/codeready-toolchain/docbot-core/pkg/pipeline"
	"github.com/codeready-toolchain/docbot-core/pkg/project"
)

func writeRepo(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "core"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "core", "widget.go"), []byte(`package core

// Widget does a thing.
func Widget() string { return "ok" }
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(`package main

func main() {}
`), 0o644))
}

func TestRunFullPipelineNoLLM(t *testing.T) {
	dir := t.TempDir()
	writeRepo(t, dir)

	opts := pipeline.Options{
		RepoRoot: dir,
		Config:   config.Defaults(),
	}
	opts.Config.NoLLM = true

	result, err := pipeline.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.NotEmpty(t, result.Index.Scopes)
	assert.NotEmpty(t, result.Written)

	paths := project.NewPaths(dir)
	assert.FileExists(t, paths.IndexFile)
	assert.FileExists(t, paths.StateFile)
	assert.FileExists(t, filepath.Join(paths.HistoryDir, result.RunID+".json"))
	assert.FileExists(t, filepath.Join(paths.HistoryDir, result.RunID, "pipeline_events.json"))
}

func TestRunCompletesEveryScopeWithinTimeout(t *testing.T) {
	dir := t.TempDir()
	writeRepo(t, dir)

	opts := pipeline.Options{
		RepoRoot: dir,
		Config:   config.Defaults(),
	}
	opts.Config.NoLLM = true
	opts.Config.TimeoutSeconds = 120

	result, err := pipeline.Run(context.Background(), opts)
	require.NoError(t, err)
	for _, sr := range result.ScopeResults {
		assert.False(t, sr.Failed(), "scope %s unexpectedly failed: %v", sr.ScopeID, sr.Error)
	}
}

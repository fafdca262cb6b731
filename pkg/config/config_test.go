package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv(config.APIKeyEnvVar, "test-key")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults().Model, cfg.Model)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.False(t, cfg.NoLLM)
}

func TestLoadMergesOverrides(t *testing.T) {
	t.Setenv(config.APIKeyEnvVar, "test-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `
concurrency = 8
max_scopes = 5
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 5, cfg.MaxScopes)
	assert.Equal(t, config.Defaults().TimeoutSeconds, cfg.TimeoutSeconds) // untouched default survives
}

func TestLoadWithoutAPIKeyForcesNoLLM(t *testing.T) {
	t.Setenv(config.APIKeyEnvVar, "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	assert.True(t, cfg.NoLLM)
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	t.Setenv(config.APIKeyEnvVar, "test-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `concurrency = 0`)

	_, err := config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	t.Setenv(config.APIKeyEnvVar, "test-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, `this is not = = valid toml`)

	_, err := config.Load(path)
	assert.ErrorIs(t, err, config.ErrInvalidTOML)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

package goext_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/docbot-core/pkg/extract/goext"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

const sample = `package widgets

import (
	"fmt"
	"os"
)

// Widget is an exported thing.
type Widget struct {
	Name string
}

// NewWidget builds a Widget, reading its default name from WIDGET_NAME.
func NewWidget() (*Widget, error) {
	name := os.Getenv("WIDGET_NAME")
	if name == "" {
		return nil, fmt.Errorf("widget name is required")
	}
	return &Widget{Name: name}, nil
}

func unexportedHelper() {}
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.go")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func TestExtractFileFindsExportedSymbols(t *testing.T) {
	path := writeSample(t)
	result := goext.New().ExtractFile(context.Background(), path, "widget.go", model.LangGo)

	var names []string
	for _, s := range result.Symbols {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "Widget")
	assert.Contains(t, names, "NewWidget")
	assert.NotContains(t, names, "unexportedHelper")
}

func TestExtractFileFindsEnvVars(t *testing.T) {
	path := writeSample(t)
	result := goext.New().ExtractFile(context.Background(), path, "widget.go", model.LangGo)

	require.Len(t, result.EnvVars, 1)
	assert.Equal(t, "WIDGET_NAME", result.EnvVars[0].Name)
}

func TestExtractFileFindsImports(t *testing.T) {
	path := writeSample(t)
	result := goext.New().ExtractFile(context.Background(), path, "widget.go", model.LangGo)
	assert.Contains(t, result.Imports, "fmt")
	assert.Contains(t, result.Imports, "os")
}

func TestExtractFileFindsRaisedErrors(t *testing.T) {
	path := writeSample(t)
	result := goext.New().ExtractFile(context.Background(), path, "widget.go", model.LangGo)
	require.Len(t, result.RaisedErrors, 1)
	assert.Contains(t, result.RaisedErrors[0].Expression, "fmt.Errorf")
}

func TestExtractFileToleratesMissingFile(t *testing.T) {
	result := goext.New().ExtractFile(context.Background(), "/no/such/file.go", "file.go", model.LangGo)
	assert.Equal(t, "file.go", result.Path)
	assert.Empty(t, result.Symbols)
}

func TestExtractFileToleratesSyntaxErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.go")
	require.NoError(t, os.WriteFile(path, []byte("package widgets\nfunc ( {{{"), 0o644))

	result := goext.New().ExtractFile(context.Background(), path, "broken.go", model.LangGo)
	assert.Equal(t, "broken.go", result.Path)
	assert.Empty(t, result.Symbols)
}

package extract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/docbot-core/pkg/extract"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

type stubExtractor struct{ name string }

func (s stubExtractor) ExtractFile(context.Context, string, string, model.Language) model.FileExtraction {
	return model.FileExtraction{Path: s.name}
}

func TestRegistryGetReturnsNilForUnregisteredLanguage(t *testing.T) {
	r := extract.NewRegistry()
	assert.Nil(t, r.Get(model.LangPython))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := extract.NewRegistry()
	r.Register(model.LangGo, stubExtractor{name: "go"})

	got := r.Get(model.LangGo)
	assert := assert.New(t)
	assert.NotNil(got)

	result := got.ExtractFile(context.Background(), "", "", model.LangGo)
	assert.Equal("go", result.Path)
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	r := extract.NewRegistry()
	r.Register(model.LangPython, stubExtractor{name: "native"})
	r.Register(model.LangPython, stubExtractor{name: "llm-fallback"})

	result := r.Get(model.LangPython).ExtractFile(context.Background(), "", "", model.LangPython)
	assert.Equal(t, "llm-fallback", result.Path)
}

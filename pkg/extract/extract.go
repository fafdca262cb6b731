// Package extract defines the per-language extractor interface and a
// registry that routes a source file to the extractor for its language.
// Grounded on the original implementation's extractors/__init__.py (a
// language-keyed registry populated by register calls) and
// extractors/base.py's Extractor protocol.
package extract

import (
	"context"

	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

// Extractor pulls structured information (symbols, imports, env vars,
// raised errors, citations) out of a single source file.
type Extractor interface {
	// ExtractFile reads absPath (relPath is its path relative to the scan
	// root, used to stamp citations) and returns what it found. An
	// extractor never returns an error for malformed input — a best-effort,
	// partially empty FileExtraction is always preferable to aborting the
	// scope; ctx is only consulted when extraction may call out to an LLM.
	ExtractFile(ctx context.Context, absPath, relPath string, language model.Language) model.FileExtraction
}

// Registry routes a model.Language to the Extractor registered for it.
type Registry struct {
	byLanguage map[model.Language]Extractor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byLanguage: make(map[model.Language]Extractor)}
}

// Register associates extractor with language, overwriting any prior
// registration (later registration wins — used by config to swap in an
// LLM-backed extractor for a language that has no native one).
func (r *Registry) Register(language model.Language, extractor Extractor) {
	r.byLanguage[language] = extractor
}

// Get returns the extractor for language, or nil if none is registered.
func (r *Registry) Get(language model.Language) Extractor {
	return r.byLanguage[language]
}

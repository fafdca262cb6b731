// Package explore turns one model.ScopePlan into a model.ScopeResult: run
// every path in the scope through the extractor registered for its
// language, aggregate the findings into a deterministic template summary,
// and optionally hand that summary to an LLM for enrichment. Grounded
// directly on the original implementation's pipeline/explorer.py — same
// key-file basename set, same deterministic-summary sentence structure,
// same two-phase (template, then optional LLM enrichment) flow, and the
// same source-snippet budget used to build the enrichment prompt.
package explore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeready-toolchain/docbot-core/pkg/extract"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

var keyBasenames = map[string]bool{
	"__init__.py": true, "settings.py": true, "config.py": true, "conf.py": true,
	"main.go": true, "main.py": true, "app.py": true, "server.py": true,
	"cli.py": true, "__main__.py": true, "wsgi.py": true, "asgi.py": true,
	"index.js": true, "index.ts": true, "index.tsx": true,
	"server.js": true, "server.ts": true, "app.js": true, "app.ts": true,
}

var entrypointBasenames = map[string]bool{
	"main.go": true, "main.py": true, "app.py": true, "server.py": true,
	"cli.py": true, "__main__.py": true, "wsgi.py": true, "asgi.py": true,
	"index.js": true, "index.ts": true, "index.tsx": true,
	"server.js": true, "server.ts": true, "app.js": true, "app.ts": true,
}

var languageByExt = map[string]model.Language{
	".go": model.LangGo, ".py": model.LangPython, ".md": model.LangMarkdown, ".mdx": model.LangMarkdown,
	".js": model.LangJavaScript, ".jsx": model.LangJavaScript,
	".ts": model.LangTypeScript, ".tsx": model.LangTypeScript,
}

const (
	keyFileSnippetLimit = 3000
	llmSourceBudget     = 12000
)

// Explore runs deterministic extraction for plan over the repo rooted at
// repoRoot, using registry to pick an extractor per file.
func Explore(ctx context.Context, p model.ScopePlan, repoRoot string, registry *extract.Registry) model.ScopeResult {
	var symbols []model.PublicSymbol
	var envVars []model.EnvVar
	var raisedErrors []model.RaisedError
	var citations []model.Citation
	var imports []string
	var keyFiles, entrypointFiles []string
	seenLanguages := make(map[model.Language]bool)

	for _, relPath := range p.Paths {
		absPath := filepath.Join(repoRoot, filepath.FromSlash(relPath))
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			continue
		}

		base := filepath.Base(relPath)
		if keyBasenames[base] {
			keyFiles = append(keyFiles, relPath)
		}
		if entrypointBasenames[base] {
			entrypointFiles = append(entrypointFiles, relPath)
		}

		language, ok := languageByExt[strings.ToLower(filepath.Ext(relPath))]
		if !ok {
			citations = append(citations, model.Citation{
				File: relPath, Snippet: "No extractor for unknown file type — file listed only.",
			})
			continue
		}
		seenLanguages[language] = true

		extractor := registry.Get(language)
		if extractor == nil {
			citations = append(citations, model.Citation{
				File: relPath, Snippet: fmt.Sprintf("No extractor for %s — file listed only.", language),
			})
			continue
		}

		extraction := extractor.ExtractFile(ctx, absPath, relPath, language)
		symbols = append(symbols, extraction.Symbols...)
		envVars = append(envVars, extraction.EnvVars...)
		raisedErrors = append(raisedErrors, extraction.RaisedErrors...)
		citations = append(citations, extraction.Citations...)
		imports = append(imports, extraction.Imports...)
	}

	var languages []model.Language
	for l := range seenLanguages {
		languages = append(languages, l)
	}
	sort.Slice(languages, func(i, j int) bool { return languages[i] < languages[j] })

	return model.ScopeResult{
		ScopePlan:    p,
		Summary:      templateSummary(p, symbols, envVars, raisedErrors),
		KeyFiles:     sortedUnique(keyFiles),
		Entrypoints:  sortedUnique(entrypointFiles),
		PublicAPI:    symbols,
		EnvVars:      envVars,
		RaisedErrors: raisedErrors,
		Imports:      sortedUnique(imports),
		Languages:    languages,
		Citations:    citations,
	}
}

func templateSummary(p model.ScopePlan, symbols []model.PublicSymbol, envVars []model.EnvVar, raisedErrors []model.RaisedError) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Scope %q covers %d file(s).", p.Title, len(p.Paths)))
	if len(symbols) > 0 {
		parts = append(parts, fmt.Sprintf("Exports %d public symbol(s).", len(symbols)))
	}
	if len(envVars) > 0 {
		names := make(map[string]bool)
		for _, e := range envVars {
			names[e.Name] = true
		}
		var sorted []string
		for n := range names {
			sorted = append(sorted, n)
		}
		sort.Strings(sorted)
		parts = append(parts, fmt.Sprintf("References env var(s): %s.", strings.Join(sorted, ", ")))
	}
	if len(raisedErrors) > 0 {
		parts = append(parts, fmt.Sprintf("Contains %d raised error site(s).", len(raisedErrors)))
	}
	return strings.Join(parts, " ")
}

func sortedUnique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, i := range items {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Strings(out)
	return out
}

const explorerSystemPrompt = `You are a technical documentation assistant. You produce accurate, concise summaries of code modules. Only describe what the code actually does based on the extracted signals and source snippets provided. Never invent functionality that is not evidenced in the data. Use plain language.`

// Enrich replaces result.Summary with an LLM-authored one, built from the
// same deterministic signals plus truncated source snippets from the
// scope's key files. On failure the deterministic summary from Explore is
// left in place and a note is appended to OpenQuestions — enrichment never
// fails the scope.
func Enrich(ctx context.Context, result model.ScopeResult, repoRoot string, client llm.Client, modelID string) model.ScopeResult {
	prompt := buildEnrichPrompt(result, repoRoot)

	summary, err := ask(ctx, client, modelID, prompt)
	if err != nil {
		slog.Warn("explore: LLM summary enrichment failed", "scope", result.ScopeID, "error", err)
		result.OpenQuestions = append(result.OpenQuestions, fmt.Sprintf("LLM summary generation failed: %v", err))
		return result
	}
	result.Summary = summary
	return result
}

func buildEnrichPrompt(r model.ScopeResult, repoRoot string) string {
	const apiCap = 40
	var apiLines []string
	for i, sym := range r.PublicAPI {
		if i >= apiCap {
			break
		}
		doc := ""
		if sym.DocstringFirstLine != "" {
			doc = " -- " + sym.DocstringFirstLine
		}
		apiLines = append(apiLines, fmt.Sprintf("  %s%s  [%s:%d]", sym.Signature, doc, sym.Citation.File, sym.Citation.LineStart))
	}
	apiBlock := "(none)"
	if len(apiLines) > 0 {
		apiBlock = strings.Join(apiLines, "\n")
	}

	envNames := make([]string, 0, len(r.EnvVars))
	for _, e := range r.EnvVars {
		envNames = append(envNames, e.Name)
	}
	envBlock := "(none)"
	if len(envNames) > 0 {
		envBlock = strings.Join(envNames, ", ")
	}

	const errCap = 20
	var errLines []string
	for i, e := range r.RaisedErrors {
		if i >= errCap {
			break
		}
		errLines = append(errLines, fmt.Sprintf("  %s [%s:%d]", e.Expression, e.Citation.File, e.Citation.LineStart))
	}
	errBlock := "(none)"
	if len(errLines) > 0 {
		errBlock = strings.Join(errLines, "\n")
	}

	languages := make([]string, 0, len(r.Languages))
	for _, l := range r.Languages {
		languages = append(languages, string(l))
	}
	languageList := "unknown"
	if len(languages) > 0 {
		languageList = strings.Join(languages, ", ")
	}

	fileList := strings.Join(truncateList(r.Paths, 30), ", ")
	keyFiles := "(none)"
	if len(r.KeyFiles) > 0 {
		keyFiles = strings.Join(r.KeyFiles, ", ")
	}
	entrypoints := "(none)"
	if len(r.Entrypoints) > 0 {
		entrypoints = strings.Join(r.Entrypoints, ", ")
	}

	return strings.Join([]string{
		fmt.Sprintf("Summarize this documentation scope for a %s repository.", languageList),
		"",
		"Scope: " + r.Title,
		fmt.Sprintf("Files (%d): %s", len(r.Paths), fileList),
		"",
		"Key files: " + keyFiles,
		"Entrypoints: " + entrypoints,
		"",
		fmt.Sprintf("Public API (%d symbols):", len(r.PublicAPI)),
		apiBlock,
		"",
		"Environment variables: " + envBlock,
		fmt.Sprintf("Raised errors (%d): %s", len(r.RaisedErrors), errBlock),
		"",
		"Source snippets from key files:",
		buildSourceSnippets(r, repoRoot),
		"",
		"Write a 2-4 paragraph summary covering:",
		"1. What this scope/module does (purpose and responsibilities).",
		"2. Key public interfaces and how they relate.",
		"3. Notable patterns (env var usage, error handling, entrypoints) if present.",
		"",
		"Stay factual. Reference specific symbols and files. Do not speculate.",
	}, "\n")
}

func buildSourceSnippets(r model.ScopeResult, repoRoot string) string {
	targets := r.KeyFiles
	if len(targets) == 0 {
		targets = truncateList(r.Paths, 5)
	}

	budget := llmSourceBudget
	var snippets []string
	for _, relPath := range targets {
		if budget <= 0 {
			break
		}
		absPath := filepath.Join(repoRoot, filepath.FromSlash(relPath))
		data, err := os.ReadFile(absPath)
		if err != nil {
			continue
		}
		text := string(data)
		limit := keyFileSnippetLimit
		if limit > budget {
			limit = budget
		}
		chunk := text
		if len(text) > limit {
			chunk = text[:limit] + "\n... (truncated)"
		}
		snippets = append(snippets, fmt.Sprintf("--- %s ---\n%s", relPath, chunk))
		budget -= len(chunk)
	}
	if len(snippets) == 0 {
		return "(none available)"
	}
	return strings.Join(snippets, "\n\n")
}

func truncateList(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	out := append([]string(nil), items[:n]...)
	out = append(out, fmt.Sprintf("... and %d more", len(items)-n))
	return out
}

func ask(ctx context.Context, client llm.Client, modelID, prompt string) (string, error) {
	stream, err := client.Complete(ctx, llm.Request{
		Model:     modelID,
		System:    explorerSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		MaxTokens: 2048,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if chunk.Type == llm.ChunkText {
			sb.WriteString(chunk.Text)
		}
		if chunk.Type == llm.ChunkStop {
			break
		}
		if err != nil {
			if sb.Len() > 0 {
				break
			}
			return "", err
		}
	}
	return sb.String(), nil
}

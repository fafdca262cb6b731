// Package llmext is the fallback extractor for languages with no native
// parser (Python, JavaScript, TypeScript): it asks the configured LLM to
// extract symbols/imports/env vars/errors as JSON. Grounded verbatim in
// structure on the original implementation's extractors/llm_extractor.py —
// same prompt shape, same truncation budget, same best-effort-empty-on-
// failure contract.
package llmext

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

const maxSourceChars = 8000

const systemPrompt = `You are a code analysis assistant. Extract structured information from the source file provided. Return ONLY valid JSON — no markdown fences, no commentary.`

const promptTemplate = `Analyze this %s source file and extract structured information.

File: %s

` + "```" + `
%s
` + "```" + `

Return a JSON object with these keys:
- "symbols": array of {"name": str, "kind": "function"|"class", "signature": str, "line": int}
- "imports": array of module/package name strings
- "env_vars": array of {"name": str, "line": int}
- "errors": array of {"expression": str, "line": int}

Only include public symbols (not prefixed with _ or private). If uncertain, include it. Return ONLY the JSON object.`

// Extractor asks an llm.Client to extract structure from an otherwise
// unsupported source file.
type Extractor struct {
	client llm.Client
	model  string
}

// New creates an LLM-backed fallback extractor. model is the model
// identifier to request (e.g. the configured "fast" model).
func New(client llm.Client, model string) *Extractor {
	return &Extractor{client: client, model: model}
}

// ExtractFile implements extract.Extractor. Any failure — network,
// malformed JSON, a cancelled context — degrades to an empty
// FileExtraction rather than aborting the scope that contains this file.
func (e *Extractor) ExtractFile(ctx context.Context, absPath, relPath string, language model.Language) model.FileExtraction {
	source, err := os.ReadFile(absPath)
	if err != nil {
		return model.FileExtraction{Path: relPath}
	}
	text := string(source)
	if len(text) > maxSourceChars {
		text = text[:maxSourceChars] + "\n... (truncated)"
	}

	prompt := fmt.Sprintf(promptTemplate, language, relPath, text)

	raw, err := e.ask(ctx, prompt)
	if err != nil {
		slog.Warn("llmext: extraction failed", "file", relPath, "error", err)
		return model.FileExtraction{Path: relPath}
	}

	result, err := parseResponse(raw, relPath)
	if err != nil {
		slog.Warn("llmext: invalid LLM response", "file", relPath, "error", err)
		return model.FileExtraction{Path: relPath}
	}
	return result
}

func (e *Extractor) ask(ctx context.Context, prompt string) (string, error) {
	stream, err := e.client.Complete(ctx, llm.Request{
		Model:     e.model,
		System:    systemPrompt,
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
		if err != nil {
			if chunk.Type == llm.ChunkStop {
				break
			}
			return sb.String(), err
		}
		if chunk.Type == llm.ChunkText {
			sb.WriteString(chunk.Text)
		}
		if chunk.Type == llm.ChunkStop {
			break
		}
	}
	return sb.String(), nil
}

type llmSymbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Signature string `json:"signature"`
	Line      int    `json:"line"`
}

type llmEnvVar struct {
	Name string `json:"name"`
	Line int    `json:"line"`
}

type llmError struct {
	Expression string `json:"expression"`
	Line       int    `json:"line"`
}

type llmResponse struct {
	Symbols []llmSymbol `json:"symbols"`
	Imports []string    `json:"imports"`
	EnvVars []llmEnvVar `json:"env_vars"`
	Errors  []llmError  `json:"errors"`
}

func parseResponse(raw, relPath string) (model.FileExtraction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var decoded llmResponse
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	if err := dec.Decode(&decoded); err != nil {
		return model.FileExtraction{}, err
	}

	var symbols []model.PublicSymbol
	var citations []model.Citation
	for _, s := range decoded.Symbols {
		if s.Name == "" {
			continue
		}
		kind := model.SymbolFunction
		if s.Kind == "class" {
			kind = model.SymbolClass
		}
		cit := model.Citation{File: relPath, LineStart: s.Line, LineEnd: s.Line, Symbol: s.Name}
		sig := s.Signature
		if sig == "" {
			sig = s.Name
		}
		symbols = append(symbols, model.PublicSymbol{Name: s.Name, Kind: kind, Signature: sig, Citation: cit})
		citations = append(citations, cit)
	}

	var imports []string
	for _, imp := range decoded.Imports {
		if imp != "" {
			imports = append(imports, imp)
		}
	}

	var envVars []model.EnvVar
	for _, ev := range decoded.EnvVars {
		if ev.Name == "" {
			continue
		}
		envVars = append(envVars, model.EnvVar{
			Name:     ev.Name,
			Citation: model.Citation{File: relPath, LineStart: ev.Line, LineEnd: ev.Line},
		})
	}

	var raisedErrors []model.RaisedError
	for _, e := range decoded.Errors {
		raisedErrors = append(raisedErrors, model.RaisedError{
			Expression: e.Expression,
			Citation:   model.Citation{File: relPath, LineStart: e.Line, LineEnd: e.Line},
		})
	}

	return model.FileExtraction{
		Path:         relPath,
		Symbols:      symbols,
		Imports:      imports,
		EnvVars:      envVars,
		RaisedErrors: raisedErrors,
		Citations:    citations,
	}, nil
}

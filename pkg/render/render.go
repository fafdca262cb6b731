// Package render turns a model.DocsIndex into the on-disk Markdown report:
// a top-level README, an architecture page carrying the Mermaid diagram,
// one module page per scope, and an API reference page. Every Markdown
// file gets an HTML preview sibling rendered through goldmark. Grounded on
// the shape described by the original implementation's pipeline/renderer
// stage (README.generated.md, docs/architecture.generated.md,
// docs/modules/<scope>.generated.md, docs/api_reference.generated.md) —
// text/template is used for the Markdown bodies themselves, matching how
// the rest of this corpus's doc/report generators template text (e.g.
// goa-ai's codegen templates) rather than reaching for a third-party
// templating engine.
package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"

	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

const htmlPreviewTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
</body>
</html>
`

// Written describes one rendered output file relative to the docs root.
type Written struct {
	Path string
}

var readmeTemplate = template.Must(template.New("readme").Funcs(funcMap).Parse(readmeTemplateSrc))
var architectureTemplate = template.Must(template.New("architecture").Funcs(funcMap).Parse(architectureTemplateSrc))
var moduleTemplate = template.Must(template.New("module").Funcs(funcMap).Parse(moduleTemplateSrc))
var apiReferenceTemplate = template.Must(template.New("api_reference").Funcs(funcMap).Parse(apiReferenceTemplateSrc))

var funcMap = template.FuncMap{
	"join": strings.Join,
}

const readmeTemplateSrc = `# {{.Title}}

{{if .Analysis}}{{.Analysis}}
{{else}}Generated documentation for {{.RepoPath}}.
{{end}}
## Modules

{{range .Scopes}}- [{{.Title}}](docs/modules/{{.ScopeID}}.generated.md){{if .Summary}} -- {{.Summary}}{{end}}
{{end}}
{{if .Entrypoints}}## Entrypoints

{{range .Entrypoints}}- ` + "`{{.}}`" + `
{{end}}{{end}}
See [architecture](docs/architecture.generated.md) and [API reference](docs/api_reference.generated.md) for more detail.
`

const architectureTemplateSrc = `# Architecture

{{if .Analysis}}{{.Analysis}}
{{end}}
{{if .Mermaid}}` + "```mermaid" + `
{{.Mermaid}}
` + "```" + `
{{end}}
## Scope dependency graph

{{range .Edges}}- {{.From}} -> {{.To}}
{{end}}
`

const moduleTemplateSrc = `# {{.Title}}

{{.Summary}}

{{if .Entrypoints}}## Entrypoints

{{range .Entrypoints}}- ` + "`{{.}}`" + `
{{end}}{{end}}
{{if .PublicAPI}}## Public API

{{range .PublicAPI}}- ` + "`{{.Signature}}`" + ` ({{.Citation.File}}:{{.Citation.LineStart}}){{if .DocstringFirstLine}} -- {{.DocstringFirstLine}}{{end}}
{{end}}{{end}}
{{if .EnvVars}}## Environment variables

{{range .EnvVars}}- ` + "`{{.Name}}`" + `{{if .Default}} (default: ` + "`{{.Default}}`" + `){{end}} -- {{.Citation.File}}:{{.Citation.LineStart}}
{{end}}{{end}}
{{if .RaisedErrors}}## Error sites

{{range .RaisedErrors}}- ` + "`{{.Expression}}`" + ` ({{.Citation.File}}:{{.Citation.LineStart}})
{{end}}{{end}}
{{if .OpenQuestions}}## Open questions

{{range .OpenQuestions}}- {{.}}
{{end}}{{end}}
## Files

{{range .Paths}}- ` + "`{{.}}`" + `
{{end}}
`

const apiReferenceTemplateSrc = `# API Reference

{{range .}}## {{.Citation.File}}

### ` + "`{{.Signature}}`" + `

{{if .DocstringFirstLine}}{{.DocstringFirstLine}}{{end}}

{{end}}
`

type readmeData struct {
	Title       string
	RepoPath    string
	Analysis    string
	Scopes      []model.ScopeResult
	Entrypoints []string
}

type architectureData struct {
	Analysis string
	Mermaid  string
	Edges    []model.ScopeEdge
}

// Render writes the full Markdown report for index under docsRoot:
// README.generated.md, docs/architecture.generated.md, one
// docs/modules/<scope_id>.generated.md per scope, and
// docs/api_reference.generated.md -- plus an HTML preview sibling for
// every Markdown file written. It performs no LLM calls; CrossScopeAnalysis
// and MermaidGraph are rendered as-is, whatever reduce.Merge or
// reduce.Enrich populated.
func Render(index model.DocsIndex, docsRoot string) ([]Written, error) {
	var written []Written

	readmePath := filepath.Join(docsRoot, "README.generated.md")
	if err := renderTemplate(readmeTemplate, readmeData{
		Title:       repoTitle(index.RepoPath),
		RepoPath:    index.RepoPath,
		Analysis:    index.CrossScopeAnalysis,
		Scopes:      sortedScopes(index.Scopes),
		Entrypoints: index.GlobalEntrypoints,
	}, readmePath); err != nil {
		return nil, fmt.Errorf("render readme: %w", err)
	}
	written = append(written, Written{Path: readmePath})

	archPath := filepath.Join(docsRoot, "docs", "architecture.generated.md")
	if err := renderTemplate(architectureTemplate, architectureData{
		Analysis: index.CrossScopeAnalysis,
		Mermaid:  index.MermaidGraph,
		Edges:    index.ScopeEdges,
	}, archPath); err != nil {
		return nil, fmt.Errorf("render architecture: %w", err)
	}
	written = append(written, Written{Path: archPath})

	for _, scope := range sortedScopes(index.Scopes) {
		modPath := filepath.Join(docsRoot, "docs", "modules", scope.ScopeID+".generated.md")
		if err := renderTemplate(moduleTemplate, scope, modPath); err != nil {
			return nil, fmt.Errorf("render module %s: %w", scope.ScopeID, err)
		}
		written = append(written, Written{Path: modPath})
	}

	apiPath := filepath.Join(docsRoot, "docs", "api_reference.generated.md")
	if err := renderTemplate(apiReferenceTemplate, index.GlobalPublicAPI, apiPath); err != nil {
		return nil, fmt.Errorf("render api reference: %w", err)
	}
	written = append(written, Written{Path: apiPath})

	return written, nil
}

func renderTemplate(tmpl *template.Template, data any, outPath string) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return err
	}
	if err := writeFile(outPath, buf.Bytes()); err != nil {
		return err
	}
	return writeHTMLPreview(outPath, buf.Bytes())
}

func writeFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0o644)
}

// writeHTMLPreview converts markdown through goldmark and writes it
// alongside the source file with a .html extension, e.g.
// README.generated.md -> README.generated.html.
func writeHTMLPreview(mdPath string, markdown []byte) error {
	var body bytes.Buffer
	if err := goldmark.Convert(markdown, &body); err != nil {
		return fmt.Errorf("convert markdown preview: %w", err)
	}

	htmlPath := strings.TrimSuffix(mdPath, filepath.Ext(mdPath)) + ".html"
	title := filepath.Base(mdPath)
	page := fmt.Sprintf(htmlPreviewTemplate, title, body.String())
	return writeFile(htmlPath, []byte(page))
}

func sortedScopes(scopes []model.ScopeResult) []model.ScopeResult {
	out := append([]model.ScopeResult(nil), scopes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeID < out[j].ScopeID })
	return out
}

func repoTitle(repoPath string) string {
	base := filepath.Base(repoPath)
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "Project Documentation"
	}
	return base
}

// Mermaid renders a minimal architecture graph from scope edges when no
// LLM-authored diagram is available, and returns index.MermaidGraph
// unchanged when one is. Render does not call it: the architecture page
// shows index.MermaidGraph as it is.
func Mermaid(index model.DocsIndex) string {
	if index.MermaidGraph != "" {
		return index.MermaidGraph
	}
	if len(index.Scopes) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("graph TD\n")
	ids := make(map[string]string, len(index.Scopes))
	for i, s := range sortedScopes(index.Scopes) {
		nodeID := fmt.Sprintf("s%d", i+1)
		ids[s.ScopeID] = nodeID
		sb.WriteString(fmt.Sprintf("  %s[%q]\n", nodeID, s.Title))
	}
	for _, e := range index.ScopeEdges {
		from, ok1 := ids[e.From]
		to, ok2 := ids[e.To]
		if !ok1 || !ok2 {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s --> %s\n", from, to))
	}
	return sb.String()
}

// Package mdext extracts structure from Markdown files using goldmark's
// parser, walking the resulting AST the way nevindra-oasis's
// telegram.MarkdownToHTML walks it for rendering — here the walk collects
// headings (as PublicSymbols so they show up in cross-references) and
// "ENV_NAME=..." env var hints inside fenced code blocks instead of
// emitting HTML.
package mdext

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	gast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

func readFile(path string) ([]byte, error) { return os.ReadFile(path) }

var envLineRe = regexp.MustCompile(`^\s*([A-Z][A-Z0-9_]*)\s*=`)

// Extractor implements extract.Extractor for .md files.
type Extractor struct {
	md goldmark.Markdown
}

// New creates a Markdown extractor with goldmark's default parser.
func New() *Extractor {
	return &Extractor{md: goldmark.New()}
}

// ExtractFile implements extract.Extractor. Headings become PublicSymbols
// (kind model.SymbolType, since a heading isn't code but still a named,
// citable unit of documentation); fenced code blocks are scanned line by
// line for KEY=VALUE env var hints, a common convention in README
// "Configuration" sections.
func (e *Extractor) ExtractFile(_ context.Context, absPath, relPath string, _ model.Language) model.FileExtraction {
	source, err := readFile(absPath)
	if err != nil {
		return model.FileExtraction{Path: relPath}
	}

	doc := e.md.Parser().Parse(text.NewReader(source))

	var symbols []model.PublicSymbol
	var citations []model.Citation
	var envVars []model.EnvVar

	err = gast.Walk(doc, func(n gast.Node, entering bool) (gast.WalkStatus, error) {
		if !entering {
			return gast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *gast.Heading:
			title := headingText(node, source)
			if title == "" {
				return gast.WalkContinue, nil
			}
			line := lineForSegment(source, node)
			cit := model.Citation{File: relPath, LineStart: line, LineEnd: line, Symbol: title}
			symbols = append(symbols, model.PublicSymbol{
				Name:      title,
				Kind:      model.SymbolType,
				Signature: strings.Repeat("#", node.Level) + " " + title,
				Citation:  cit,
			})
			citations = append(citations, cit)

		case *gast.FencedCodeBlock:
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				lineText := string(seg.Value(source))
				if m := envLineRe.FindStringSubmatch(lineText); m != nil {
					lineNo := 1 + strings.Count(string(source[:seg.Start]), "\n")
					envVars = append(envVars, model.EnvVar{
						Name:     m[1],
						Citation: model.Citation{File: relPath, LineStart: lineNo, LineEnd: lineNo},
					})
				}
			}
		}
		return gast.WalkContinue, nil
	})
	if err != nil {
		return model.FileExtraction{Path: relPath}
	}

	return model.FileExtraction{
		Path:      relPath,
		Symbols:   symbols,
		EnvVars:   envVars,
		Citations: citations,
	}
}

func headingText(h *gast.Heading, source []byte) string {
	var sb strings.Builder
	for child := h.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*gast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return strings.TrimSpace(sb.String())
}

func lineForSegment(source []byte, n gast.Node) int {
	lines := n.Lines()
	if lines.Len() == 0 {
		return 1
	}
	return 1 + strings.Count(string(source[:lines.At(0).Start]), "\n")
}

// Package model defines the data types shared across the docbot pipeline:
// citations, extraction results, scope plans/results, and the final docs
// index. Types here are plain structs with JSON tags — there is no ORM or
// code-generated schema backing them, since all persistence is flat JSON
// under .docbot/ (see pkg/project).
package model

// Citation points at a location in a source file that backs a documentation
// claim. LineStart and LineEnd are 1-based and inclusive; LineStart <= LineEnd.
type Citation struct {
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Symbol    string `json:"symbol,omitempty"`
	Snippet   string `json:"snippet,omitempty"`
}

// SymbolKind enumerates the kinds of public symbols an extractor can report.
type SymbolKind string

const (
	SymbolFunction  SymbolKind = "function"
	SymbolClass     SymbolKind = "class"
	SymbolInterface SymbolKind = "interface"
	SymbolStruct    SymbolKind = "struct"
	SymbolEnum      SymbolKind = "enum"
	SymbolTrait     SymbolKind = "trait"
	SymbolMethod    SymbolKind = "method"
	SymbolType      SymbolKind = "type"
)

// PublicSymbol is an exported declaration discovered by an extractor.
type PublicSymbol struct {
	Name              string     `json:"name"`
	Kind              SymbolKind `json:"kind"`
	Signature         string     `json:"signature"`
	DocstringFirstLine string    `json:"docstring_first_line,omitempty"`
	Citation          Citation   `json:"citation"`
}

// EnvVar is an environment variable referenced by source code.
type EnvVar struct {
	Name     string   `json:"name"`
	Default  string   `json:"default,omitempty"`
	Citation Citation `json:"citation"`
}

// RaisedError is an error/exception construction site found by an extractor.
type RaisedError struct {
	Expression string   `json:"expression"`
	Citation   Citation `json:"citation"`
}

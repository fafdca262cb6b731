package model

// ScopePlan is a documentation-sized grouping of related files produced by
// the planner. ScopeID is a lowercase slug ([a-z0-9_]+), unique within a run.
type ScopePlan struct {
	ScopeID string   `json:"scope_id"`
	Title   string   `json:"title"`
	Paths   []string `json:"paths"`
	Notes   string   `json:"notes,omitempty"`
}

// ScopeResult is the outcome of exploring one ScopePlan — either a
// deterministic template summary, an LLM-enriched one, or an error.
//
// Invariant: Error != nil iff the stage failed; all other fields remain
// whatever was computed before the failure (possibly empty), never stale
// data from a prior run.
type ScopeResult struct {
	ScopePlan

	Summary        string         `json:"summary"`
	KeyFiles       []string       `json:"key_files,omitempty"`
	Entrypoints    []string       `json:"entrypoints,omitempty"`
	PublicAPI      []PublicSymbol `json:"public_api,omitempty"`
	EnvVars        []EnvVar       `json:"env_vars,omitempty"`
	RaisedErrors   []RaisedError  `json:"raised_errors,omitempty"`
	Imports        []string       `json:"imports,omitempty"` // deduped, sorted
	Languages      []Language     `json:"languages,omitempty"` // sorted set
	Citations      []Citation     `json:"citations,omitempty"` // extractor citations, extraction-error notes, and no-extractor placeholders
	OpenQuestions  []string       `json:"open_questions,omitempty"`
	Error          *string        `json:"error,omitempty"`
}

// Failed reports whether this result represents a failed scope.
func (r *ScopeResult) Failed() bool { return r.Error != nil }

// ScopeEdge is a directed reference from one scope to another (e.g. scope A
// imports a package that lives in scope B). No self-loops, no duplicates.
type ScopeEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

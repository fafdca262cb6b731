package model

import "time"

// ProjectState is the persisted `.docbot/state.json` — the anchor an
// incremental `update` run reads to decide what changed since last time.
//
// Invariant: every path appears in at most one scope's file set.
type ProjectState struct {
	LastCommit   string              `json:"last_commit,omitempty"`
	LastRunID    string              `json:"last_run_id,omitempty"`
	LastRunAt    *time.Time          `json:"last_run_at,omitempty"`
	ScopeFileMap map[string][]string `json:"scope_file_map,omitempty"` // scope_id -> paths
}

// DocSnapshot is the metadata record persisted at
// `.docbot/history/<run_id>.json` for one completed run.
type DocSnapshot struct {
	RunID          string         `json:"run_id"`
	CreatedAt      time.Time      `json:"created_at"`
	RepoPath       string         `json:"repo_path"`
	ScopeCount     int            `json:"scope_count"`
	GraphDigest    string         `json:"graph_digest"`
	ContentHashes  map[string]string `json:"content_hashes"` // scope_id -> content hash
	ScopeSummaries map[string]string `json:"scope_summaries"`
	ScopeEdges     []ScopeEdge    `json:"scope_edges,omitempty"`
}

// ScopeModification describes how one scope changed between two snapshots.
type ScopeModification struct {
	ScopeID string `json:"scope_id"`
	Kind    string `json:"kind"` // "added", "removed", "modified"
}

// DiffReport is the result of comparing two DocSnapshots.
type DiffReport struct {
	From          string              `json:"from"`
	To            string              `json:"to"`
	Added         []string            `json:"added,omitempty"`
	Removed       []string            `json:"removed,omitempty"`
	Modified      []ScopeModification `json:"modified,omitempty"`
	GraphChanged  bool                `json:"graph_changed"`
	StatsDelta    map[string]int      `json:"stats_delta,omitempty"`
}

// RunMeta records top-level bookkeeping for one pipeline run, persisted
// alongside the run's other artefacts.
type RunMeta struct {
	RunID      string     `json:"run_id"`
	RepoPath   string     `json:"repo_path"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ScopeCount int        `json:"scope_count"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
}

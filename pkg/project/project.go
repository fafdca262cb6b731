// Package project persists and queries the `.docbot/` state a run reads
// and writes: the project state anchor, the latest docs index, and the
// history of past snapshots. Grounded on the original implementation's
// git/history.py (save_snapshot/list_snapshots/prune_snapshots layout) and
// git/diff.py (compute_diff), reimplemented with Go's standard
// write-temp-then-rename idiom for every write so a crash mid-write never
// leaves a half-written JSON file behind — there is no third-party
// atomic-file library in the corpus to reach for here (see DESIGN.md).
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

// Dir is the well-known subdirectory name every repo's project state lives
// under, relative to the repo root.
const Dir = ".docbot"

// Paths resolves every well-known file/directory under repoRoot/.docbot.
type Paths struct {
	Root        string
	ConfigFile  string
	StateFile   string
	IndexFile   string
	DocsDir     string
	HistoryDir  string
}

// NewPaths resolves the .docbot layout rooted at repoRoot.
func NewPaths(repoRoot string) Paths {
	root := filepath.Join(repoRoot, Dir)
	return Paths{
		Root:       root,
		ConfigFile: filepath.Join(root, "config.toml"),
		StateFile:  filepath.Join(root, "state.json"),
		IndexFile:  filepath.Join(root, "docs_index.json"),
		DocsDir:    filepath.Join(root, "docs"),
		HistoryDir: filepath.Join(root, "history"),
	}
}

// LoadState reads state.json. A missing file returns a zero ProjectState,
// not an error — the first run in a repo has no prior state.
func LoadState(p Paths) (model.ProjectState, error) {
	var state model.ProjectState
	data, err := os.ReadFile(p.StateFile)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("read project state: %w", err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("parse project state: %w", err)
	}
	return state, nil
}

// SaveState atomically overwrites state.json.
func SaveState(p Paths, state model.ProjectState) error {
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("create .docbot dir: %w", err)
	}
	return writeJSONAtomic(p.StateFile, state)
}

// SaveIndex atomically overwrites docs_index.json.
func SaveIndex(p Paths, index model.DocsIndex) error {
	if err := os.MkdirAll(p.Root, 0o755); err != nil {
		return fmt.Errorf("create .docbot dir: %w", err)
	}
	return writeJSONAtomic(p.IndexFile, index)
}

// LoadIndex reads the previously persisted docs_index.json, used by
// incremental update runs to merge freshly recomputed scopes back in.
func LoadIndex(p Paths) (model.DocsIndex, error) {
	var index model.DocsIndex
	data, err := os.ReadFile(p.IndexFile)
	if err != nil {
		return index, fmt.Errorf("read docs index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return index, fmt.Errorf("parse docs index: %w", err)
	}
	return index, nil
}

// SaveSnapshot writes history/<run_id>.json (metadata) and
// history/<run_id>/<scope_id>.json (one file per scope), mirroring
// save_snapshot's two-tier layout. Scope files are written before the
// metadata file so a reader that observes the metadata file can always
// find its scope files already in place.
func SaveSnapshot(p Paths, index model.DocsIndex, scopes []model.ScopeResult, runID string) error {
	scopeDir := filepath.Join(p.HistoryDir, runID)
	if err := os.MkdirAll(scopeDir, 0o755); err != nil {
		return fmt.Errorf("create snapshot scope dir: %w", err)
	}

	contentHashes := make(map[string]string, len(scopes))
	scopeSummaries := make(map[string]string, len(scopes))
	for _, sr := range scopes {
		if err := writeJSONAtomic(filepath.Join(scopeDir, sr.ScopeID+".json"), sr); err != nil {
			return fmt.Errorf("write scope snapshot %s: %w", sr.ScopeID, err)
		}
		contentHashes[sr.ScopeID] = contentHash(sr)
		scopeSummaries[sr.ScopeID] = sr.Summary
	}

	snapshot := model.DocSnapshot{
		RunID:          runID,
		CreatedAt:      time.Now().UTC(),
		RepoPath:       index.RepoPath,
		ScopeCount:     len(scopes),
		GraphDigest:    index.GraphDigest(),
		ContentHashes:  contentHashes,
		ScopeSummaries: scopeSummaries,
		ScopeEdges:     index.ScopeEdges,
	}
	return writeJSONAtomic(filepath.Join(p.HistoryDir, runID+".json"), snapshot)
}

// LoadSnapshot loads one snapshot's metadata by run id. A missing snapshot
// returns (zero value, false, nil) — not found is not an error.
func LoadSnapshot(p Paths, runID string) (model.DocSnapshot, bool, error) {
	var snap model.DocSnapshot
	data, err := os.ReadFile(filepath.Join(p.HistoryDir, runID+".json"))
	if os.IsNotExist(err) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("read snapshot %s: %w", runID, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, false, fmt.Errorf("parse snapshot %s: %w", runID, err)
	}
	return snap, true, nil
}

// ListSnapshots returns every snapshot's metadata, newest first.
func ListSnapshots(p Paths) ([]model.DocSnapshot, error) {
	entries, err := os.ReadDir(p.HistoryDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list history dir: %w", err)
	}

	var snapshots []model.DocSnapshot
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		runID := e.Name()[:len(e.Name())-len(".json")]
		snap, ok, err := LoadSnapshot(p, runID)
		if err != nil || !ok {
			continue // a corrupt or disappeared snapshot file is skipped, not fatal
		}
		snapshots = append(snapshots, snap)
	}

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt) })
	return snapshots, nil
}

// PruneSnapshots deletes every snapshot beyond the newest maxCount,
// removing both its metadata file and its scope directory. Returns the
// number of snapshots removed.
func PruneSnapshots(p Paths, maxCount int) (int, error) {
	snapshots, err := ListSnapshots(p)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= maxCount {
		return 0, nil
	}

	removed := 0
	for _, snap := range snapshots[maxCount:] {
		if err := os.Remove(filepath.Join(p.HistoryDir, snap.RunID+".json")); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove snapshot metadata %s: %w", snap.RunID, err)
		}
		if err := os.RemoveAll(filepath.Join(p.HistoryDir, snap.RunID)); err != nil {
			return removed, fmt.Errorf("remove snapshot scope dir %s: %w", snap.RunID, err)
		}
		removed++
	}
	return removed, nil
}

// ComputeDiff compares two snapshots' metadata and reports added, removed,
// and modified scopes, a graph-changed flag, and a stats delta. It works
// purely off metadata (content hashes and summary text), so it never needs
// to re-read the underlying scope files.
func ComputeDiff(from, to model.DocSnapshot) model.DiffReport {
	report := model.DiffReport{
		From:         from.RunID,
		To:           to.RunID,
		GraphChanged: from.GraphDigest != to.GraphDigest,
		StatsDelta: map[string]int{
			"scope_count": to.ScopeCount - from.ScopeCount,
		},
	}

	for scopeID := range to.ScopeSummaries {
		if _, ok := from.ScopeSummaries[scopeID]; !ok {
			report.Added = append(report.Added, scopeID)
		}
	}
	for scopeID := range from.ScopeSummaries {
		if _, ok := to.ScopeSummaries[scopeID]; !ok {
			report.Removed = append(report.Removed, scopeID)
		}
	}
	for scopeID, toHash := range to.ContentHashes {
		fromHash, ok := from.ContentHashes[scopeID]
		if !ok || fromHash == toHash {
			continue
		}
		report.Modified = append(report.Modified, model.ScopeModification{ScopeID: scopeID, Kind: "modified"})
	}

	sort.Strings(report.Added)
	sort.Strings(report.Removed)
	sort.Slice(report.Modified, func(i, j int) bool { return report.Modified[i].ScopeID < report.Modified[j].ScopeID })
	return report
}

func contentHash(sr model.ScopeResult) string {
	h := sha256.New()
	h.Write([]byte(sr.ScopeID))
	h.Write([]byte{0})
	h.Write([]byte(sr.Summary))
	return hex.EncodeToString(h.Sum(nil))
}

// WriteJSONAtomic marshals v as indented JSON and writes it to path via a
// write-temp-then-rename, for callers outside this package that persist
// their own artifacts under .docbot/ (e.g. the pipeline's event log).
func WriteJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	return writeJSONAtomic(path, v)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

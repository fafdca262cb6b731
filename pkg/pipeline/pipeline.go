// Package pipeline drives the full scan -> plan -> (extract || explore
// agent) -> reduce -> render sequence for one run, and its incremental
// "update" variant. Grounded on the original implementation's
// orchestrator.py (run_async, _explore_one's timeout wrapping and
// partial-failure policy) and the teacher's pkg/queue/pool.go worker-pool
// start/drain shape, adapted from a session-queue shape to a scope
// fan-out shape. Fan-out/fan-in uses golang.org/x/sync/errgroup with a
// concurrency limit; every goroutine in the group returns nil, so
// scope-level failures are captured in the results and never propagate,
// while the fatal stages (scan, reduce, render) run outside the group and
// return their errors from Run directly.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/docbot-core/pkg/agent/engine"
	"github.com/codeready-toolchain/docbot-core/pkg/config"
	"github.com/codeready-toolchain/docbot-core/pkg/eventbus"
	"github.com/codeready-toolchain/docbot-core/pkg/explore"
	"github.com/codeready-toolchain/docbot-core/pkg/extract"
	"github.com/codeready-toolchain/docbot-core/pkg/extract/goext"
	"github.com/codeready-toolchain/docbot-core/pkg/extract/llmext"
	"github.com/codeready-toolchain/docbot-core/pkg/extract/mdext"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/notepad"
	"github.com/codeready-toolchain/docbot-core/pkg/plan"
	"github.com/codeready-toolchain/docbot-core/pkg/project"
	"github.com/codeready-toolchain/docbot-core/pkg/reduce"
	"github.com/codeready-toolchain/docbot-core/pkg/render"
	"github.com/codeready-toolchain/docbot-core/pkg/runid"
	"github.com/codeready-toolchain/docbot-core/pkg/scan"
	"github.com/codeready-toolchain/docbot-core/pkg/tracker"
)

// Options configures one pipeline invocation.
type Options struct {
	RepoRoot string
	Config   config.Config
	Client   llm.Client // nil when Config.NoLLM is true
	Update   bool       // incremental run: recompute only scopes touched since last_commit
}

// Result is everything one run produced, ready for a caller (cmd/docbot)
// to report or inspect further.
type Result struct {
	RunID        string
	Index        model.DocsIndex
	ScopeResults []model.ScopeResult
	Meta         model.RunMeta
	Written      []render.Written
	Tracker      *tracker.Tracker

	// EventBus fans out every notepad_created/notepad_write event emitted
	// during this run. It is the attachment point for an external
	// collaborator (spec.md's out-of-scope web/SSE layer) that wants to
	// observe a run live; the core itself never reads it back.
	EventBus *eventbus.Bus
}

// Run executes the full pipeline (or, with Options.Update, the incremental
// variant) against RepoRoot and persists every artifact under
// RepoRoot/.docbot before returning.
func Run(ctx context.Context, opts Options) (Result, error) {
	started := time.Now().UTC()
	runID, err := runid.New(started)
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}

	trk := tracker.New(started)
	trk.SetRunID(runID)
	paths := project.NewPaths(opts.RepoRoot)

	meta := model.RunMeta{RunID: runID, RepoPath: opts.RepoRoot, StartedAt: started}

	// 1. Scan — a fatal stage: a broken repo root aborts the run outright.
	scanResult, err := scan.Walk(ctx, os.DirFS(opts.RepoRoot), opts.RepoRoot)
	if err != nil {
		return Result{}, fmt.Errorf("scan stage: %w", err)
	}
	if len(scanResult.SourceFiles) == 0 {
		slog.Warn("pipeline: no source files found", "repo_root", opts.RepoRoot)
	}

	// 2. Plan (+ optional LLM refinement). An empty plan is not an error:
	// the run continues and produces an index with no scopes.
	plans := plan.Build(scanResult, opts.Config.MaxScopes)
	if opts.Client != nil {
		plans = plan.Refine(ctx, opts.Client, opts.Config.Model, plans, scanResult, opts.Config.MaxScopes)
	}
	meta.ScopeCount = len(plans)

	prevState, err := project.LoadState(paths)
	if err != nil {
		return Result{}, fmt.Errorf("load previous project state: %w", err)
	}

	if opts.Update {
		plans, err = restrictToChanged(opts.RepoRoot, prevState, plans)
		if err != nil {
			return Result{}, fmt.Errorf("determine changed scopes: %w", err)
		}
	}

	// 3. Extraction and whole-repo agent exploration run concurrently: the
	// deterministic per-scope extractor pipeline needs no LLM and always
	// runs; the recursive agent only runs when an LLM is configured.
	bus := eventbus.New()
	notes := notepad.New(bus)

	var scopeResults []model.ScopeResult
	var agentSummary string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		scopeResults = exploreScopes(gctx, plans, opts)
		return nil
	})
	if opts.Client != nil && !opts.Config.NoLLM {
		g.Go(func() error {
			agentSummary = runAgentExploration(gctx, opts, scanResult, notes, trk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("explore stage: %w", err)
	}

	succeeded, failed := 0, 0
	for _, sr := range scopeResults {
		if sr.Failed() {
			failed++
		} else {
			succeeded++
		}
	}
	meta.Succeeded, meta.Failed = succeeded, failed
	if failed > 0 {
		slog.Warn("pipeline: some scopes failed", "failed", failed, "total", len(scopeResults))
	}

	// 4. Reduce — fatal: a broken merge leaves no usable index to render.
	var index model.DocsIndex
	if opts.Update && len(prevState.ScopeFileMap) > 0 {
		prevIndex, loadErr := project.LoadIndex(paths)
		if loadErr != nil {
			return Result{}, fmt.Errorf("reduce stage: load previous index: %w", loadErr)
		}
		index = mergeIncremental(prevIndex, scopeResults, opts.RepoRoot)
	} else {
		index = reduce.Merge(scopeResults, opts.RepoRoot)
	}
	if agentSummary != "" {
		if index.CrossScopeAnalysis != "" {
			index.CrossScopeAnalysis += "\n\n"
		}
		index.CrossScopeAnalysis += agentSummary
	}
	if opts.Client != nil {
		index = reduce.Enrich(ctx, index, opts.Client, opts.Config.Model)
	}

	// 5. Render — fatal: a failed render leaves the run with nothing a user
	// can read. docsRoot is .docbot itself: README.generated.md lands at its
	// top level, with architecture/module/API pages under .docbot/docs/ per
	// the documented layout.
	written, err := render.Render(index, paths.Root)
	if err != nil {
		return Result{}, fmt.Errorf("render stage: %w", err)
	}

	finished := time.Now().UTC()
	meta.FinishedAt = &finished

	if err := persist(paths, runID, index, scopeResults, opts.RepoRoot, trk, notes); err != nil {
		return Result{}, fmt.Errorf("persist run artifacts: %w", err)
	}

	if err := pruneIfNeeded(paths, opts.Config.MaxSnapshots); err != nil {
		slog.Warn("pipeline: snapshot pruning failed", "error", err)
	}

	return Result{RunID: runID, Index: index, ScopeResults: scopeResults, Meta: meta, Written: written, Tracker: trk, EventBus: bus}, nil
}

// exploreScopes fans out across plans under a concurrency limit, wrapping
// each scope in a timeout so one stuck file never stalls the run. A scope
// that times out is recorded with an error, never aborting the others —
// matching _explore_one's partial-failure policy.
func exploreScopes(ctx context.Context, plans []model.ScopePlan, opts Options) []model.ScopeResult {
	results := make([]model.ScopeResult, len(plans))
	registry := extractRegistry(opts.Client, opts.Config.Model)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Config.Concurrency)

	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			results[i] = exploreOne(gctx, p, opts, registry)
			return nil
		})
	}
	_ = g.Wait() // per-scope errors are captured in results, never propagated
	return results
}

func exploreOne(ctx context.Context, p model.ScopePlan, opts Options, registry *extract.Registry) model.ScopeResult {
	timeout := time.Duration(opts.Config.TimeoutSeconds) * time.Second
	scopeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.ScopeResult, 1)
	go func() {
		result := explore.Explore(scopeCtx, p, opts.RepoRoot, registry)
		if opts.Client != nil && result.Error == nil {
			result = explore.Enrich(scopeCtx, result, opts.RepoRoot, opts.Client, opts.Config.Model)
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-scopeCtx.Done():
		msg := fmt.Sprintf("Timed out after %ds", opts.Config.TimeoutSeconds)
		return model.ScopeResult{ScopePlan: p, Error: &msg}
	}
}

// runAgentExploration runs the recursive agent engine once over the whole
// scan tree, returning its root summary for inclusion in the cross-scope
// analysis. Its own findings are also left in notes for a caller that wants
// the full notepad, not just the summary.
func runAgentExploration(ctx context.Context, opts Options, scanResult scan.Result, notes *notepad.Notepad, trk *tracker.Tracker) string {
	eng := engine.New(engine.Config{
		Client:               opts.Client,
		Model:                opts.Config.Model,
		MaxDepth:             opts.Config.AgentMaxDepth,
		MaxParallelSubagents: opts.Config.AgentMaxParallel,
	})
	outcome := eng.Run(ctx, engine.Spec{
		AgentID:    "root",
		Name:       "root",
		NodeType:   tracker.AgentTypeRoot,
		Purpose:    "Document the repository end to end: architecture, public API, entrypoints, dependencies.",
		RepoRoot:   opts.RepoRoot,
		ScanResult: &scanResult,
		Notepad:    notes,
		Tracker:    trk,
	})
	if outcome.Failed {
		slog.Warn("pipeline: agent exploration did not complete cleanly", "error", outcome.ErrorMessage)
		return ""
	}
	return outcome.Summary
}

// restrictToChanged filters plans down to the ones touching a path that
// changed since last_commit. An empty or unresolvable last_commit means
// "recompute everything" — the caller falls back to the full plan set.
func restrictToChanged(repoRoot string, prevState model.ProjectState, plans []model.ScopePlan) ([]model.ScopePlan, error) {
	if prevState.LastCommit == "" {
		return plans, nil
	}
	changed, err := project.ChangedFilesSince(repoRoot, prevState.LastCommit)
	if err != nil {
		return nil, err
	}
	if changed == nil {
		return plans, nil
	}

	changedSet := make(map[string]bool, len(changed))
	for _, c := range changed {
		changedSet[c] = true
	}

	var restricted []model.ScopePlan
	for _, p := range plans {
		for _, scopedPath := range p.Paths {
			if changedSet[scopedPath] {
				restricted = append(restricted, p)
				break
			}
		}
	}
	return restricted, nil
}

// mergeIncremental folds freshly recomputed scope results into a previous
// DocsIndex: a recomputed scope replaces its previous entry, a new one is
// added, and the merged list is sorted by scope_id before reduce.Merge.
func mergeIncremental(prevIndex model.DocsIndex, fresh []model.ScopeResult, repoPath string) model.DocsIndex {
	freshByID := make(map[string]model.ScopeResult, len(fresh))
	for _, sr := range fresh {
		freshByID[sr.ScopeID] = sr
	}

	merged := make([]model.ScopeResult, 0, len(prevIndex.Scopes)+len(fresh))
	seen := make(map[string]bool)
	for _, prev := range prevIndex.Scopes {
		if replacement, ok := freshByID[prev.ScopeID]; ok {
			merged = append(merged, replacement)
		} else {
			merged = append(merged, prev)
		}
		seen[prev.ScopeID] = true
	}
	for _, sr := range fresh {
		if !seen[sr.ScopeID] {
			merged = append(merged, sr)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ScopeID < merged[j].ScopeID })
	return reduce.Merge(merged, repoPath)
}

func persist(paths project.Paths, runID string, index model.DocsIndex, scopeResults []model.ScopeResult, repoRoot string, trk *tracker.Tracker, notes *notepad.Notepad) error {
	if err := project.SaveIndex(paths, index); err != nil {
		return err
	}
	if err := project.SaveSnapshot(paths, index, scopeResults, runID); err != nil {
		return err
	}

	scopeFileMap := make(map[string][]string, len(scopeResults))
	for _, sr := range scopeResults {
		scopeFileMap[sr.ScopeID] = sr.Paths
	}
	headCommit, err := project.HeadCommit(repoRoot)
	if err != nil {
		slog.Warn("pipeline: could not resolve HEAD commit, last_commit left unset", "error", err)
		headCommit = ""
	}
	now := time.Now().UTC()
	state := model.ProjectState{
		LastCommit:   headCommit,
		LastRunID:    runID,
		LastRunAt:    &now,
		ScopeFileMap: scopeFileMap,
	}
	if err := project.SaveState(paths, state); err != nil {
		return err
	}

	eventsPath := filepath.Join(paths.HistoryDir, runID, "pipeline_events.json")
	if err := project.WriteJSONAtomic(eventsPath, trk.ExportEvents()); err != nil {
		return err
	}

	notesPath := filepath.Join(paths.HistoryDir, runID, "agent_notes.json")
	return project.WriteJSONAtomic(notesPath, notes.Serialize())
}

func pruneIfNeeded(paths project.Paths, maxSnapshots int) error {
	_, err := project.PruneSnapshots(paths, maxSnapshots)
	return err
}

// extractRegistry builds one registry shared read-only across a run's
// concurrent scope goroutines (Registry.Get never mutates state, so this
// is safe without its own lock): go/ast-native extraction for Go, a
// goldmark-based walk for Markdown, and — only when an LLM client is
// configured — an LLM fallback extractor for every other language that has
// no native parser in this module (Python, JavaScript, TypeScript).
func extractRegistry(client llm.Client, model_ string) *extract.Registry {
	r := extract.NewRegistry()
	r.Register(model.LangGo, goext.New())
	r.Register(model.LangMarkdown, mdext.New())
	if client != nil {
		fallback := llmext.New(client, model_)
		r.Register(model.LangPython, fallback)
		r.Register(model.LangJavaScript, fallback)
		r.Register(model.LangTypeScript, fallback)
	}
	return r
}

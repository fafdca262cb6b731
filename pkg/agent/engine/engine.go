// Package engine implements the recursive ReAct-style exploration agent:
// a streaming tool-calling loop, depth-bounded delegation scheduled eagerly
// under a parent-scoped semaphore, and a deterministic delegation plan
// that guarantees repo coverage independent of model flakiness. Grounded
// on the original implementation's agents/loop.py (run_agent_loop_streaming:
// the three-tier tool-call parser, eager spawn-tool scheduling, retry-once
// on exhaustion) and the teacher's pkg/agent/controller/react.go (the
// per-iteration-timeout loop shape, a switch over parsed-response cases,
// forced conclusion on loop exhaustion) and pkg/agent/orchestrator/runner.go
// (the reserve-then-register slot pattern that makes concurrency-limit
// checks TOCTOU-safe).
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/docbot-core/pkg/agent/prompt"
	"github.com/codeready-toolchain/docbot-core/pkg/agent/tools"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/notepad"
	"github.com/codeready-toolchain/docbot-core/pkg/scan"
	"github.com/codeready-toolchain/docbot-core/pkg/tracker"
)

// Config bounds one run's worth of recursive agent execution. Zero values
// are replaced with the original implementation's defaults by New.
type Config struct {
	Client                llm.Client
	Model                 string
	MaxSteps              int           // default 15
	MaxDepth              int           // agent_max_depth, used as given (0 means no delegation); config default 2
	MaxParallelSubagents  int           // default 8
	IterationTimeout      time.Duration // default 90s
	DeterministicChildCap int           // top-level children pre-seeded at depth 0, default 3
	DeterministicGrandCap int           // grandchildren per such top-level, default 2
	DeterministicMinFiles int           // repo size threshold unlocking grandchildren, default 80
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = 15
	}
	if c.MaxParallelSubagents <= 0 {
		c.MaxParallelSubagents = 8
	}
	if c.IterationTimeout <= 0 {
		c.IterationTimeout = 90 * time.Second
	}
	if c.DeterministicChildCap <= 0 {
		c.DeterministicChildCap = 3
	}
	if c.DeterministicGrandCap <= 0 {
		c.DeterministicGrandCap = 2
	}
	if c.DeterministicMinFiles <= 0 {
		c.DeterministicMinFiles = 80
	}
	return c
}

// Spec describes one agent invocation — the root repository agent, or a
// child delegated to a file, folder, or scope.
type Spec struct {
	AgentID       string
	ParentID      string
	Name          string
	NodeType      tracker.AgentType
	Purpose       string
	ContextPacket string
	CurrentDepth  int
	RepoRoot      string

	// Scope is nil for the root agent. A non-nil Scope restricts read_file
	// and enables read_symbol.
	Scope *model.ScopeResult

	// ScanResult is set only for agents eligible to pre-seed deterministic
	// delegates (the root agent, and any top-level delegate deep enough to
	// spawn grandchildren).
	ScanResult *scan.Result

	// DeterministicChildBudget caps how many deterministic children this
	// agent pre-seeds in addition to whatever the model itself delegates.
	DeterministicChildBudget int

	Notepad *notepad.Notepad
	Tracker *tracker.Tracker
}

// Outcome is what a completed (or failed) agent run produced. The durable
// record of what an agent found lives in the shared Notepad, keyed by
// topic; Outcome only carries the final summary handed back to whichever
// caller (a parent agent, or the pipeline orchestrator) is waiting on it.
type Outcome struct {
	Summary      string
	Failed       bool
	ErrorMessage string
}

// Engine runs agents. One Engine is shared across an entire pipeline run;
// each top-level call to Run gets its own child-id counter and delegation
// semaphores scoped to that call tree.
type Engine struct {
	cfg Config
}

// New constructs an Engine, filling unset Config fields with the original
// implementation's defaults.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Run starts a fresh agent tree rooted at spec and blocks until it (and
// every descendant it spawns) has finished. For a root-level spec (one
// carrying a ScanResult, at depth 0) with no explicit
// DeterministicChildBudget, Run applies the configured default so callers
// don't have to know the engine's own deterministic-coverage defaults.
func (e *Engine) Run(ctx context.Context, spec Spec) Outcome {
	if spec.ScanResult != nil && spec.CurrentDepth == 0 && spec.DeterministicChildBudget == 0 {
		spec.DeterministicChildBudget = e.cfg.DeterministicChildCap
	}
	var counter int64
	return e.runAgent(ctx, spec, &counter)
}

// reserveGate is the TOCTOU-safe parent-scoped semaphore used to bound
// concurrently-running children of one agent, mirroring the teacher's
// SubAgentRunner reserve-then-register pattern: a slot is reserved under
// the lock before any work begins, and only folded into the active count
// once the child goroutine is actually launched, so two concurrent
// delegate calls can never both observe a free slot and both proceed.
type reserveGate struct {
	mu       sync.Mutex
	active   int
	reserved int
	limit    int
}

func newReserveGate(limit int) *reserveGate {
	return &reserveGate{limit: limit}
}

func (g *reserveGate) reserve() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active+g.reserved >= g.limit {
		return false
	}
	g.reserved++
	return true
}

func (g *reserveGate) promote() {
	g.mu.Lock()
	g.active++
	g.reserved--
	g.mu.Unlock()
}

func (g *reserveGate) release() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
}

// pendingDelivery is a finished child's summary waiting to be surfaced in
// the parent's next LLM turn.
type pendingDelivery struct {
	childID string
	target  string
	failed  bool
	summary string
}

func (e *Engine) runAgent(runCtx context.Context, spec Spec, counter *int64) Outcome {
	spec.Tracker.AddNode(spec.AgentID, spec.ParentID, spec.Name, spec.NodeType)
	spec.Tracker.SetState(spec.AgentID, tracker.StateRunning)
	spec.Tracker.RecordEvent(tracker.EventAgentSpawned, spec.AgentID, map[string]any{
		"depth": spec.CurrentDepth, "purpose": spec.Purpose,
	})

	gate := newReserveGate(e.cfg.MaxParallelSubagents)
	var childWG sync.WaitGroup
	var deliveryMu sync.Mutex
	var deliveries []pendingDelivery

	spawnChild := func(target, purpose, taskContext string) (string, error) {
		if spec.CurrentDepth >= e.cfg.MaxDepth {
			return "", fmt.Errorf("max depth (%d) reached", e.cfg.MaxDepth)
		}
		if !gate.reserve() {
			return "", fmt.Errorf("parallel delegate limit (%d) reached for this agent, try again after earlier delegates finish", e.cfg.MaxParallelSubagents)
		}

		childIdx := atomic.AddInt64(counter, 1)
		childID := fmt.Sprintf("%s.d%d", spec.AgentID, childIdx)
		childSpec := buildChildSpec(spec, childID, target, purpose, taskContext, e.cfg)

		childWG.Add(1)
		gate.promote()
		go func() {
			defer childWG.Done()
			defer gate.release()
			outcome := e.runAgent(runCtx, childSpec, counter)

			deliveryMu.Lock()
			deliveries = append(deliveries, pendingDelivery{
				childID: childID, target: target, failed: outcome.Failed, summary: outcome.Summary,
			})
			deliveryMu.Unlock()
		}()
		return fmt.Sprintf("Scheduled delegate %s covering %q. Its findings will appear in your context once it finishes.", childID, target), nil
	}

	if spec.ScanResult != nil && spec.DeterministicChildBudget > 0 {
		for _, target := range topDirectoriesByFileCount(*spec.ScanResult, spec.DeterministicChildBudget) {
			if _, err := spawnChild(target, "Document this subtree thoroughly: architecture, public API, entrypoints, and dependencies.", ""); err != nil {
				slog.Warn("engine: deterministic delegate could not be scheduled", "target", target, "error", err)
			}
		}
	}

	systemPrompt := prompt.BuildSystemPrompt(prompt.Params{
		Purpose:       spec.Purpose,
		ContextPacket: spec.ContextPacket,
		CurrentDepth:  spec.CurrentDepth,
		MaxDepth:      e.cfg.MaxDepth,
	})
	toolkit := &tools.Toolkit{
		Notepad:      spec.Notepad,
		RepoRoot:     spec.RepoRoot,
		Scope:        spec.Scope,
		AgentID:      spec.AgentID,
		CurrentDepth: spec.CurrentDepth,
		MaxDepth:     e.cfg.MaxDepth,
		Delegate: func(ctx context.Context, target, purpose, taskContext string) (string, error) {
			return spawnChild(target, purpose, taskContext)
		},
	}

	outcome := e.reactLoop(runCtx, spec, systemPrompt, toolkit, &deliveryMu, &deliveries)

	childWG.Wait()

	if outcome.Failed {
		spec.Tracker.SetState(spec.AgentID, tracker.StateError)
		spec.Tracker.RecordEvent(tracker.EventAgentError, spec.AgentID, map[string]any{"error": outcome.ErrorMessage})
	} else {
		spec.Tracker.SetState(spec.AgentID, tracker.StateDone)
		spec.Tracker.RecordEvent(tracker.EventAgentFinished, spec.AgentID, map[string]any{"summary": outcome.Summary})
	}
	return outcome
}

// reactLoop drives the streaming tool-calling loop for one agent, up to
// MaxSteps iterations, with a retry-once forced conclusion on exhaustion.
func (e *Engine) reactLoop(runCtx context.Context, spec Spec, systemPrompt string, toolkit *tools.Toolkit, deliveryMu *sync.Mutex, deliveries *[]pendingDelivery) Outcome {
	var messages []llm.Message
	toolSpecs := tools.Specs()

	for step := 0; step < e.cfg.MaxSteps; step++ {
		if err := runCtx.Err(); err != nil {
			return Outcome{Failed: true, ErrorMessage: fmt.Sprintf("cancelled: %v", err)}
		}

		messages = appendDeliveries(messages, deliveryMu, deliveries)

		iterCtx, cancel := context.WithTimeout(runCtx, e.cfg.IterationTimeout)
		text, nativeCalls, err := e.completeOnce(iterCtx, spec, systemPrompt, messages, toolSpecs)
		cancel()

		if err != nil {
			spec.Tracker.RecordEvent(tracker.EventToolError, spec.AgentID, map[string]any{"error": err.Error()})
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: fmt.Sprintf("Your last request failed: %v. Please try again.", err)})
			continue
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: text, ToolCalls: nativeCalls})

		calls := parseToolCalls(nativeCalls, text)
		if len(calls) == 0 {
			messages = append(messages, llm.Message{Role: llm.RoleUser, Text: "No tool call was recognized in your response. Call a tool, or call finish(summary) if you are done."})
			continue
		}

		var toolResults []llm.ToolResult
		finished, summary := false, ""
		for _, call := range calls {
			if tools.Name(call.Name) == tools.Finish {
				summary = finishSummary(call)
				finished = true
				continue
			}
			result := toolkit.Execute(runCtx, call)
			spec.Tracker.RecordToolCall(spec.AgentID, call.Name, call.Input, truncateForLog(result.Content), result.IsError)
			toolResults = append(toolResults, result)
		}
		if len(toolResults) > 0 {
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolResults: toolResults})
		}
		if finished {
			return Outcome{Summary: summary}
		}
	}

	return e.forceConclusion(runCtx, spec, systemPrompt, messages, toolSpecs)
}

// completeOnce issues one streaming request and accumulates it fully,
// forwarding each text delta to the tracker as it arrives.
func (e *Engine) completeOnce(ctx context.Context, spec Spec, systemPrompt string, messages []llm.Message, toolSpecs []llm.ToolSpec) (string, []llm.ToolCall, error) {
	stream, err := e.cfg.Client.Complete(ctx, llm.Request{
		Model:     e.cfg.Model,
		System:    systemPrompt,
		Messages:  messages,
		Tools:     toolSpecs,
		MaxTokens: 4096,
	})
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var sb strings.Builder
	var calls []llm.ToolCall
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return sb.String(), calls, err
		}
		switch chunk.Type {
		case llm.ChunkText:
			sb.WriteString(chunk.Text)
			spec.Tracker.AppendText(spec.AgentID, chunk.Text)
		case llm.ChunkToolCall:
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
		case llm.ChunkStop:
			return sb.String(), calls, nil
		}
	}
	return sb.String(), calls, nil
}

func (e *Engine) forceConclusion(runCtx context.Context, spec Spec, systemPrompt string, messages []llm.Message, toolSpecs []llm.ToolSpec) Outcome {
	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Text: "You have reached the step limit. Call finish(summary) now with the best final summary you can produce from everything learned so far.",
	})

	iterCtx, cancel := context.WithTimeout(runCtx, e.cfg.IterationTimeout)
	text, nativeCalls, err := e.completeOnce(iterCtx, spec, systemPrompt, messages, toolSpecs)
	cancel()
	if err != nil {
		return Outcome{Failed: true, ErrorMessage: fmt.Sprintf("forced conclusion failed: %v", err)}
	}

	for _, call := range parseToolCalls(nativeCalls, text) {
		if tools.Name(call.Name) == tools.Finish {
			return Outcome{Summary: finishSummary(call)}
		}
	}
	if strings.TrimSpace(text) != "" {
		return Outcome{Summary: text}
	}
	return Outcome{Failed: true, ErrorMessage: "agent exhausted its step budget without producing a usable summary"}
}

func finishSummary(call llm.ToolCall) string {
	if s, ok := call.Input["summary"].(string); ok && s != "" {
		return s
	}
	return "(agent called finish without a summary)"
}

func appendDeliveries(messages []llm.Message, mu *sync.Mutex, deliveries *[]pendingDelivery) []llm.Message {
	mu.Lock()
	pending := append([]pendingDelivery(nil), *deliveries...)
	*deliveries = nil
	mu.Unlock()

	sort.Slice(pending, func(i, j int) bool { return pending[i].childID < pending[j].childID })
	for _, d := range pending {
		status := "finished"
		if d.failed {
			status = "failed"
		}
		messages = append(messages, llm.Message{
			Role: llm.RoleUser,
			Text: fmt.Sprintf("Delegate %s (%s, target %q) reported:\n%s", d.childID, status, d.target, d.summary),
		})
	}
	return messages
}

func truncateForLog(s string) string {
	const limit = 500
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "... (truncated)"
}

// buildChildSpec constructs the Spec for a delegated child. A nil parent
// Scope (the root agent delegating) builds the child's scope from the
// repo-wide scan by matching target as a path prefix; a non-nil parent
// Scope (a scope agent delegating a single file within itself) restricts
// the child to that one file.
func buildChildSpec(parent Spec, childID, target, purpose, taskContext string, cfg Config) Spec {
	child := Spec{
		AgentID:       childID,
		ParentID:      parent.AgentID,
		Name:          target,
		NodeType:      tracker.AgentTypeDelegate,
		Purpose:       purpose,
		ContextPacket: taskContext,
		CurrentDepth:  parent.CurrentDepth + 1,
		RepoRoot:      parent.RepoRoot,
		Notepad:       parent.Notepad,
		Tracker:       parent.Tracker,
	}

	if parent.Scope == nil {
		child.NodeType = tracker.AgentTypeFile
		paths := pathsUnderPrefix(*parent.ScanResult, target)
		child.Scope = &model.ScopeResult{ScopePlan: model.ScopePlan{
			ScopeID: slugify(target),
			Title:   target,
			Paths:   paths,
		}}

		if cfg.MaxDepth >= 2 && len(parent.ScanResult.SourceFiles) >= cfg.DeterministicMinFiles && parent.CurrentDepth == 0 {
			subset := scan.Result{Root: parent.ScanResult.Root, SourceFiles: filterByPrefix(parent.ScanResult.SourceFiles, target)}
			child.ScanResult = &subset
			child.DeterministicChildBudget = cfg.DeterministicGrandCap
		}
	} else {
		child.NodeType = tracker.AgentTypeSymbol
		child.Scope = &model.ScopeResult{ScopePlan: model.ScopePlan{
			ScopeID: slugify(target),
			Title:   target,
			Paths:   []string{target},
		}}
		for _, sym := range parent.Scope.PublicAPI {
			if sym.Citation.File == target {
				child.Scope.PublicAPI = append(child.Scope.PublicAPI, sym)
			}
		}
	}

	return child
}

func pathsUnderPrefix(result scan.Result, target string) []string {
	var out []string
	for _, sf := range result.SourceFiles {
		if sf.Path == target || strings.HasPrefix(sf.Path, target+"/") {
			out = append(out, sf.Path)
		}
	}
	sort.Strings(out)
	return out
}

func filterByPrefix(files []model.SourceFile, target string) []model.SourceFile {
	var out []model.SourceFile
	for _, sf := range files {
		if sf.Path == target || strings.HasPrefix(sf.Path, target+"/") {
			out = append(out, sf)
		}
	}
	return out
}

func slugify(s string) string {
	r := strings.NewReplacer("/", "_", ".", "_", " ", "_")
	return strings.ToLower(r.Replace(s))
}

// topDirectoriesByFileCount returns up to n top-level directory paths
// ordered by descending file count, breaking ties alphabetically. This is
// the engine's half of the deterministic delegation plan: it runs
// independent of whatever the model itself chooses to delegate.
func topDirectoriesByFileCount(result scan.Result, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, sf := range result.SourceFiles {
		parts := strings.SplitN(sf.Path, "/", 2)
		if len(parts) < 2 {
			continue // root-level files have no top-level directory to delegate
		}
		key := parts[0]
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return order[i] < order[j]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Package reduce merges per-scope results into a single model.DocsIndex:
// a deterministic merge (Merge) plus an optional LLM cross-scope analysis
// and Mermaid architecture diagram (Enrich). Grounded directly on the
// original implementation's reducer.py — same dedup keys for env vars and
// public API symbols, same two-strategy scope-edge inference (file-path
// matching, then dotted-prefix matching) with an orphan-reconnection pass
// by shared directory prefix, and the same Mermaid-dedup pass applied to
// whatever the LLM returns.
package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
)

var sourceExts = map[string]bool{
	".py": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".go": true,
	".rs": true, ".java": true, ".kt": true, ".cs": true, ".swift": true,
	".rb": true, ".cpp": true, ".c": true, ".h": true, ".hpp": true,
}

// Merge combines scopeResults into a DocsIndex with no LLM involvement:
// scopes sorted by scope_id, deduped global env vars and public API
// symbols, sorted entrypoints, and scope dependency edges inferred from
// import statements.
func Merge(scopeResults []model.ScopeResult, repoPath string) model.DocsIndex {
	scopeResults = append([]model.ScopeResult(nil), scopeResults...)
	sort.Slice(scopeResults, func(i, j int) bool { return scopeResults[i].ScopeID < scopeResults[j].ScopeID })

	var allEnv []model.EnvVar
	var allAPI []model.PublicSymbol
	var allEntrypoints []string
	languages := make(map[model.Language]bool)
	seenEnv := make(map[string]bool)
	seenSym := make(map[string]bool)
	seenEP := make(map[string]bool)

	for _, sr := range scopeResults {
		for _, l := range sr.Languages {
			languages[l] = true
		}
		for _, ev := range sr.EnvVars {
			key := ev.Name + "::" + ev.Citation.File
			if !seenEnv[key] {
				seenEnv[key] = true
				allEnv = append(allEnv, ev)
			}
		}
		for _, sym := range sr.PublicAPI {
			key := sym.Citation.File + "::" + sym.Name
			if !seenSym[key] {
				seenSym[key] = true
				allAPI = append(allAPI, sym)
			}
		}
		for _, ep := range sr.Entrypoints {
			if !seenEP[ep] {
				seenEP[ep] = true
				allEntrypoints = append(allEntrypoints, ep)
			}
		}
	}

	sort.Slice(allEnv, func(i, j int) bool { return allEnv[i].Name < allEnv[j].Name })
	sort.Slice(allAPI, func(i, j int) bool {
		if allAPI[i].Citation.File != allAPI[j].Citation.File {
			return allAPI[i].Citation.File < allAPI[j].Citation.File
		}
		return allAPI[i].Name < allAPI[j].Name
	})
	sort.Strings(allEntrypoints)

	var sortedLanguages []model.Language
	for l := range languages {
		sortedLanguages = append(sortedLanguages, l)
	}
	sort.Slice(sortedLanguages, func(i, j int) bool { return sortedLanguages[i] < sortedLanguages[j] })

	return model.DocsIndex{
		RepoPath:          repoPath,
		GeneratedAt:       time.Now().UTC(),
		Scopes:            scopeResults,
		GlobalEnvVars:     allEnv,
		GlobalPublicAPI:   allAPI,
		GlobalEntrypoints: allEntrypoints,
		ScopeEdges:        computeScopeEdges(scopeResults),
		Languages:         sortedLanguages,
	}
}

func computeScopeEdges(scopeResults []model.ScopeResult) []model.ScopeEdge {
	pathToScope := make(map[string]string)
	prefixToScope := make(map[string]string)

	for _, sr := range scopeResults {
		for _, p := range sr.Paths {
			stem := strings.TrimSuffix(p, path.Ext(p))
			pathToScope[stem] = sr.ScopeID
			pathToScope[path.Base(stem)] = sr.ScopeID

			parts := strings.Split(p, "/")
			for i := 1; i <= len(parts); i++ {
				segment := append([]string(nil), parts[:i]...)
				last := segment[len(segment)-1]
				ext := path.Ext(last)
				if sourceExts[ext] {
					segment[len(segment)-1] = strings.TrimSuffix(last, ext)
				}
				prefixToScope[strings.Join(segment, ".")] = sr.ScopeID
			}
		}
	}

	type edge struct{ from, to string }
	edgeSet := make(map[edge]bool)

	for _, sr := range scopeResults {
		for _, imp := range sr.Imports {
			found := false

			normalised := strings.TrimLeft(imp, "./")
			normalised = strings.ReplaceAll(normalised, "\\", "/")
			if ext := path.Ext(normalised); sourceExts[ext] {
				normalised = strings.TrimSuffix(normalised, ext)
			}
			if target, ok := pathToScope[normalised]; ok && target != sr.ScopeID {
				edgeSet[edge{sr.ScopeID, target}] = true
				found = true
			}

			if !found {
				parts := strings.Split(imp, ".")
				for i := len(parts); i > 0; i-- {
					candidate := strings.Join(parts[:i], ".")
					if target, ok := prefixToScope[candidate]; ok && target != sr.ScopeID {
						edgeSet[edge{sr.ScopeID, target}] = true
						break
					}
				}
			}
		}
	}

	connected := make(map[string]bool)
	for e := range edgeSet {
		connected[e.from] = true
		connected[e.to] = true
	}

	scopeDirs := make(map[string]string)
	for _, sr := range scopeResults {
		if len(sr.Paths) == 0 {
			continue
		}
		first := strings.ReplaceAll(sr.Paths[0], "\\", "/")
		parts := strings.Split(first, "/")
		if len(parts) > 1 {
			scopeDirs[sr.ScopeID] = strings.Join(parts[:2], "/")
		} else {
			scopeDirs[sr.ScopeID] = parts[0]
		}
	}

	var connectedIDs []string
	for id := range connected {
		connectedIDs = append(connectedIDs, id)
	}
	sort.Strings(connectedIDs)

	for _, sr := range scopeResults {
		if connected[sr.ScopeID] {
			continue
		}
		orphanDir := scopeDirs[sr.ScopeID]
		var best string
		bestLen := 0
		for _, id := range connectedIDs {
			common := commonPrefix(orphanDir, scopeDirs[id])
			if len(common) > bestLen {
				bestLen = len(common)
				best = id
			}
		}
		if best != "" {
			edgeSet[edge{sr.ScopeID, best}] = true
		}
	}

	edges := make([]model.ScopeEdge, 0, len(edgeSet))
	for e := range edgeSet {
		edges = append(edges, model.ScopeEdge{From: e.from, To: e.to})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func commonPrefix(a, b string) string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

const analysisSystemPrompt = `You are a technical writer explaining how a software project works to a new developer. Write clearly and concisely. Focus on the big picture -- what the program does and how it works -- not on individual files or symbols.`

const mermaidSystemPrompt = `You are a software architect creating a clean, readable Mermaid system architecture diagram based on analyzed codebase data. Your goal is to show HOW the system works -- components, data flows, external dependencies, and interactions -- NOT the file/directory structure. Prioritize CLARITY and READABILITY over completeness. Return ONLY valid Mermaid syntax starting with "graph TD". No markdown fences. No commentary. CRITICAL: Define each node EXACTLY ONCE. Never redefine a node with a different label or shape.`

// Enrich runs cross-scope analysis and Mermaid diagram generation against
// the configured LLM, concurrently, and fills in CrossScopeAnalysis and
// MermaidGraph on success. Either (or both) can fail independently without
// affecting the other or failing the reduce stage — the deterministic
// index from Merge remains valid output regardless.
func Enrich(ctx context.Context, index model.DocsIndex, client llm.Client, modelID string) model.DocsIndex {
	var wg sync.WaitGroup
	var analysis, mermaid string

	wg.Add(2)
	go func() {
		defer wg.Done()
		out, err := askOnce(ctx, client, modelID, analysisSystemPrompt, buildAnalysisPrompt(index))
		if err != nil {
			slog.Warn("reduce: cross-scope analysis failed", "error", err)
			return
		}
		analysis = out
	}()
	go func() {
		defer wg.Done()
		out, err := askOnce(ctx, client, modelID, mermaidSystemPrompt, buildMermaidPrompt(index))
		if err != nil {
			slog.Warn("reduce: mermaid diagram generation failed", "error", err)
			return
		}
		mermaid = cleanMermaid(out)
	}()
	wg.Wait()

	if analysis != "" {
		index.CrossScopeAnalysis = analysis
	}
	if mermaid != "" {
		index.MermaidGraph = mermaid
	}
	return index
}

func buildAnalysisPrompt(index model.DocsIndex) string {
	languages := "software"
	if len(index.Languages) > 0 {
		names := make([]string, len(index.Languages))
		for i, l := range index.Languages {
			names[i] = string(l)
		}
		languages = strings.Join(names, ", ")
	}
	return strings.Join([]string{
		fmt.Sprintf("Based on the scope data below, write a high-level overview of how this %s program works.", languages),
		"",
		"Repository: " + index.RepoPath,
		"",
		"Scopes:",
		buildScopeBlock(index.Scopes),
		"",
		"Dependency edges (scope -> scope):",
		edgesBlock(index.ScopeEdges),
		"",
		"Write a clear, readable overview using markdown formatting (headings, bullets, bold). Structure it as:",
		"",
		"## What it does",
		"One paragraph: what is this program and what problem does it solve?",
		"",
		"## How it works",
		"Describe the main user/data flow from start to finish. Use a numbered list or short paragraphs.",
		"",
		"## Key components",
		"A short bullet list of the major parts and what each one is responsible for.",
		"",
		"## Tech stack",
		"One-liner or short bullet list of languages, frameworks, and key technologies.",
		"",
		"Keep the total length under 300 words. No file paths or symbol names.",
	}, "\n")
}

func buildScopeBlock(scopes []model.ScopeResult) string {
	var parts []string
	for _, sr := range scopes {
		status := ""
		if sr.Failed() {
			status = "[FAILED]"
		}
		langs := ""
		if len(sr.Languages) > 0 {
			names := make([]string, len(sr.Languages))
			for i, l := range sr.Languages {
				names[i] = string(l)
			}
			langs = " [" + strings.Join(names, ", ") + "]"
		}
		parts = append(parts, fmt.Sprintf("### %s (scope_id: %s)%s %s", sr.Title, sr.ScopeID, langs, status))
		parts = append(parts, fmt.Sprintf("  Files: %d, Public symbols: %d, Env vars: %d, Errors raised: %d",
			len(sr.Paths), len(sr.PublicAPI), len(sr.EnvVars), len(sr.RaisedErrors)))
		if len(sr.Entrypoints) > 0 {
			parts = append(parts, "  Entrypoints: "+strings.Join(sr.Entrypoints, ", "))
		}
		if sr.Summary != "" {
			parts = append(parts, "  Summary: "+truncate(sr.Summary, 500))
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

func buildMermaidPrompt(index model.DocsIndex) string {
	languages := "software"
	if len(index.Languages) > 0 {
		names := make([]string, len(index.Languages))
		for i, l := range index.Languages {
			names[i] = string(l)
		}
		languages = strings.Join(names, ", ")
	}
	entrypoints := "(none)"
	if len(index.GlobalEntrypoints) > 0 {
		entrypoints = strings.Join(index.GlobalEntrypoints, ", ")
	}
	return strings.Join([]string{
		fmt.Sprintf("Create a clean, readable Mermaid SYSTEM ARCHITECTURE diagram for this %s repository. This should look like a real architecture diagram an engineer would draw on a whiteboard.", languages),
		"",
		"DESIGN PRINCIPLES (critical for readability):",
		"- KEEP IT CLEAN: Aim for 6-12 nodes max. Merge minor components into their parent if they don't have distinct external interactions.",
		"- MINIMIZE CROSSING ARROWS: Prefer vertical flow over diagonal spaghetti.",
		"- LABEL ARROWS SPARINGLY: Only label an edge when the interaction type is non-obvious.",
		"- NO DUPLICATE LABELS: Never repeat the same label text on more than 2 edges.",
		"- SUBGRAPH DISCIPLINE: Only use a subgraph if it contains 2+ nodes. Never nest subgraphs.",
		"",
		"NODE NAMING: name nodes by their ROLE, not directory names. Include external dependencies (databases, cloud storage, third-party APIs) as their own nodes when mentioned.",
		"",
		`STRICT Mermaid syntax requirements: use "graph TD", simple alphanumeric IDs, labels wrapped in double quotes, db1[("Database")] for databases, ext1(("External API")) for external services. Return ONLY the Mermaid code. No markdown fences. No commentary.`,
		"",
		"Here is what the automated exploration discovered about each component:",
		"",
		buildArchScopeBlock(index.Scopes),
		"",
		"Detected dependency edges between components:",
		edgesBlock(index.ScopeEdges),
		"",
		"System entrypoints: " + entrypoints,
	}, "\n")
}

func buildArchScopeBlock(scopes []model.ScopeResult) string {
	var parts []string
	for _, sr := range scopes {
		if sr.Failed() {
			continue
		}
		langs := ""
		if len(sr.Languages) > 0 {
			names := make([]string, len(sr.Languages))
			for i, l := range sr.Languages {
				names[i] = string(l)
			}
			langs = " [" + strings.Join(names, ", ") + "]"
		}
		parts = append(parts, fmt.Sprintf("## %s (id: %s)%s", sr.Title, sr.ScopeID, langs))
		if sr.Summary != "" {
			parts = append(parts, "  Role: "+truncate(sr.Summary, 600))
		}
		if len(sr.Entrypoints) > 0 {
			parts = append(parts, "  Entrypoints: "+strings.Join(sr.Entrypoints, ", "))
		}
		if len(sr.PublicAPI) > 0 {
			top := sr.PublicAPI
			if len(top) > 8 {
				top = top[:8]
			}
			var strs []string
			for _, s := range top {
				strs = append(strs, string(s.Kind)+" "+s.Name)
			}
			parts = append(parts, "  Key APIs: "+strings.Join(strs, ", "))
		}
		if len(sr.EnvVars) > 0 {
			top := sr.EnvVars
			if len(top) > 10 {
				top = top[:10]
			}
			var names []string
			for _, e := range top {
				names = append(names, e.Name)
			}
			parts = append(parts, "  Env vars: "+strings.Join(names, ", "))
		}
		parts = append(parts, fmt.Sprintf("  Files: %d", len(sr.Paths)))
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

func edgesBlock(edges []model.ScopeEdge) string {
	if len(edges) == 0 {
		return "(none detected)"
	}
	var strs []string
	for _, e := range edges {
		strs = append(strs, e.From+" -> "+e.To)
	}
	return strings.Join(strs, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func cleanMermaid(raw string) string {
	mermaid := strings.TrimSpace(raw)
	if strings.HasPrefix(mermaid, "```") {
		if idx := strings.Index(mermaid, "\n"); idx >= 0 {
			mermaid = mermaid[idx+1:]
		}
	}
	mermaid = strings.TrimSuffix(strings.TrimSpace(mermaid), "```")
	mermaid = strings.TrimSpace(mermaid)
	if !strings.HasPrefix(mermaid, "graph") {
		return ""
	}
	return dedupeMermaidLines(mermaid)
}

func dedupeMermaidLines(mermaid string) string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(mermaid, "\n") {
		stripped := strings.TrimSpace(line)
		switch {
		case stripped == "" || stripped == "end" ||
			strings.HasPrefix(stripped, "graph ") ||
			strings.HasPrefix(stripped, "subgraph ") ||
			strings.HasPrefix(stripped, "classDef ") ||
			strings.HasPrefix(stripped, "class "):
			if strings.HasPrefix(stripped, "subgraph ") || strings.HasPrefix(stripped, "classDef ") || strings.HasPrefix(stripped, "class ") {
				if seen[stripped] {
					continue
				}
				seen[stripped] = true
			}
			out = append(out, line)
		default:
			if seen[stripped] {
				continue
			}
			seen[stripped] = true
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func askOnce(ctx context.Context, client llm.Client, modelID, system, prompt string) (string, error) {
	stream, err := client.Complete(ctx, llm.Request{
		Model:     modelID,
		System:    system,
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

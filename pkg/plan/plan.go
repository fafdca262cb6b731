// Package plan partitions a scan.Result into documentation scopes.
// Grounded directly on the original implementation's pipeline/planner.py:
// the same crosscutting-keyword regex, the same top-level-directory
// grouping key (with the "src/<name>" special case), reserved
// "entrypoints" and "crosscutting" scopes, and the same oversized-plan
// reduction (keep reserved scopes, keep the largest remaining groups up to
// max_scopes). The LLM-refinement pass is kept as an optional second step
// (Refine) rather than folded into Build, so a no_llm run gets an
// identical deterministic plan to a full run that happens to have the
// refinement step skipped.
package plan

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/scan"
	"github.com/codeready-toolchain/docbot-core/pkg/slug"
)

var crosscuttingRe = regexp.MustCompile(`(?i)(config|settings|conf|log|logging|auth|middleware|errors|exceptions|security|permissions|utils|helpers|common|shared|types|models)`)

const (
	scopeEntrypoints  = "entrypoints"
	scopeCrosscutting = "crosscutting"
)

// Build partitions scan into up to maxScopes model.ScopePlans without
// calling an LLM.
func Build(result scan.Result, maxScopes int) []model.ScopePlan {
	entrypointSet := make(map[string]bool, len(result.Entrypoints))
	for _, e := range result.Entrypoints {
		entrypointSet[e] = true
	}

	var entrypointFiles, crosscuttingFiles []string
	groups := make(map[string][]string)
	var groupKeys []string
	seenGroup := make(map[string]bool)

	for _, sf := range result.SourceFiles {
		p := sf.Path
		if entrypointSet[p] {
			entrypointFiles = append(entrypointFiles, p)
			continue
		}
		if isCrosscutting(p) {
			crosscuttingFiles = append(crosscuttingFiles, p)
			continue
		}
		key := topLevelKey(p)
		if !seenGroup[key] {
			seenGroup[key] = true
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], p)
	}

	var scopes []model.ScopePlan

	if len(entrypointFiles) > 0 {
		scopes = append(scopes, model.ScopePlan{
			ScopeID: scopeEntrypoints,
			Title:   "Entrypoints",
			Paths:   sortedUnique(entrypointFiles),
			Notes:   "Application entrypoint files detected by naming convention.",
		})
	}
	if len(crosscuttingFiles) > 0 {
		scopes = append(scopes, model.ScopePlan{
			ScopeID: scopeCrosscutting,
			Title:   "Cross-cutting concerns",
			Paths:   sortedUnique(crosscuttingFiles),
			Notes:   "Config, logging, auth, middleware, error-handling, and shared utility modules.",
		})
	}

	sort.Strings(groupKeys)
	for _, key := range groupKeys {
		title := key
		if key == "<root>" {
			title = "Root-level modules"
		}
		scopes = append(scopes, model.ScopePlan{
			ScopeID: groupScopeID(key),
			Title:   title,
			Paths:   sortedUnique(groups[key]),
		})
	}

	if maxScopes > 0 && len(scopes) > maxScopes {
		scopes = shrinkToBudget(scopes, maxScopes)
	}

	return scopes
}

func isCrosscutting(relPath string) bool {
	stem := strings.TrimSuffix(path.Base(relPath), path.Ext(relPath))
	return crosscuttingRe.MatchString(stem) || crosscuttingRe.MatchString(relPath)
}

func topLevelKey(relPath string) string {
	parts := strings.Split(relPath, "/")
	if len(parts) <= 1 {
		return "<root>"
	}
	if parts[0] == "src" && len(parts) > 2 {
		return "src/" + parts[1]
	}
	return parts[0]
}

func groupScopeID(key string) string {
	id := strings.NewReplacer("/", "_", "<", "", ">", "", " ", "_").Replace(key)
	return slug.From(id)
}

func sortedUnique(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func shrinkToBudget(scopes []model.ScopePlan, maxScopes int) []model.ScopePlan {
	var reserved, rest []model.ScopePlan
	for _, s := range scopes {
		if s.ScopeID == scopeEntrypoints || s.ScopeID == scopeCrosscutting {
			reserved = append(reserved, s)
		} else {
			rest = append(rest, s)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool { return len(rest[i].Paths) > len(rest[j].Paths) })

	budget := maxScopes - len(reserved)
	if budget < 0 {
		budget = 0
	}
	if budget > len(rest) {
		budget = len(rest)
	}
	return append(reserved, rest[:budget]...)
}

const refineSystemPrompt = `You are a documentation architect. You receive a draft documentation plan for a software repository and improve it. Return ONLY valid JSON -- no markdown fences, no commentary.`

// Refine asks the configured LLM to improve titles, notes, and grouping on
// top of a draft plan built by Build. On any failure — transport error,
// malformed JSON, an empty result — it logs a warning and returns draft
// unchanged, matching the original implementation's fail-open contract.
func Refine(ctx context.Context, client llm.Client, model_ string, draft []model.ScopePlan, result scan.Result, maxScopes int) []model.ScopePlan {
	prompt, err := buildRefinePrompt(draft, result, maxScopes)
	if err != nil {
		slog.Warn("plan: failed to build refinement prompt", "error", err)
		return draft
	}

	raw, err := askOnce(ctx, client, model_, prompt)
	if err != nil {
		slog.Warn("plan: LLM refinement failed, using draft plan", "error", err)
		return draft
	}

	refined, err := parseRefined(raw)
	if err != nil || len(refined) == 0 {
		slog.Warn("plan: LLM returned an unusable plan, using draft plan", "error", err)
		return draft
	}
	return refined
}

func buildRefinePrompt(draft []model.ScopePlan, result scan.Result, maxScopes int) (string, error) {
	draftJSON, err := json.MarshalIndent(draft, "", "  ")
	if err != nil {
		return "", err
	}

	var listing strings.Builder
	limit := len(result.SourceFiles)
	if limit > 200 {
		limit = 200
	}
	for _, sf := range result.SourceFiles[:limit] {
		listing.WriteString("  " + sf.Path + "\n")
	}
	if len(result.SourceFiles) > 200 {
		listing.WriteString("  ... and more\n")
	}

	var languages []string
	for _, l := range result.Languages {
		languages = append(languages, string(l))
	}

	return strings.Join([]string{
		"A tool auto-generated the following documentation plan for a repository.",
		"",
		"Languages detected: " + strings.Join(languages, ", "),
		"",
		"Repository file listing:",
		listing.String(),
		"Packages detected: " + strings.Join(result.Packages, ", "),
		"Entrypoints detected: " + strings.Join(result.Entrypoints, ", "),
		"",
		"Draft scopes:",
		string(draftJSON),
		"",
		"Improve this plan by:",
		"1. Giving each scope a clear, descriptive title (not just the directory name).",
		"2. Writing a short notes field explaining what each scope covers and why it matters.",
		"3. Merging or splitting scopes if it would produce better documentation groupings.",
		"4. Keeping scope_id values as simple slug strings (lowercase, underscores).",
		"",
		"Return a JSON array of objects, each with: scope_id, title, paths, notes.",
		"Keep every file from the original plan assigned to exactly one scope.",
		"Maximum scopes allowed: varies by run.",
	}, "\n"), nil
}

func askOnce(ctx context.Context, client llm.Client, model_, prompt string) (string, error) {
	stream, err := client.Complete(ctx, llm.Request{
		Model:     model_,
		System:    refineSystemPrompt,
		Messages:  []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		MaxTokens: 4096,
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

func parseRefined(raw string) ([]model.ScopePlan, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var refined []model.ScopePlan
	if err := json.Unmarshal([]byte(cleaned), &refined); err != nil {
		return nil, err
	}
	return refined, nil
}

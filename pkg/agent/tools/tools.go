// Package tools implements the closed set of tool calls an exploration
// agent can make. Grounded on the original implementation's
// agents/tools.py (path sandboxing, the 12000-char truncation marker, the
// noise-directory/dotfile filter) but reified as typed commands dispatched
// through a single switch, the way the teacher's pkg/mcp.ToolExecutor
// normalizes and routes a tool name before ever touching its arguments --
// there is no free-form tool_name-string keyed handler map.
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeready-toolchain/docbot-core/pkg/ignore"
	"github.com/codeready-toolchain/docbot-core/pkg/llm"
	"github.com/codeready-toolchain/docbot-core/pkg/model"
	"github.com/codeready-toolchain/docbot-core/pkg/notepad"
)

// Name identifies one of the closed set of tools an agent can call.
type Name string

const (
	ReadFile      Name = "read_file"
	ReadSymbol    Name = "read_symbol"
	ListDirectory Name = "list_directory"
	WriteNotepad  Name = "write_notepad"
	Delegate      Name = "delegate"
	Finish        Name = "finish"
)

const (
	maxFileChars   = 12000
	maxSymbolChars = 4000
)

// errPathEscape is returned (as tool-result content, never as a Go error
// surfaced to the caller) when a requested path resolves outside repoRoot.
const errPathEscape = "Error: path %q resolves outside the repository."

// DelegateFunc schedules a child agent run for target and returns the
// immediate scheduling acknowledgement shown to the calling LLM. The
// Recursive Agent Engine supplies this — the toolkit itself never spawns
// agents, since doing so would require it to import the engine package
// that already imports tools.
type DelegateFunc func(ctx context.Context, target, purpose, taskContext string) (string, error)

// Toolkit executes tool calls for one agent. A Toolkit is not safe for
// concurrent use by more than one in-flight tool call; callers serialize
// tool execution within a single agent's ReAct loop by construction.
type Toolkit struct {
	Notepad      *notepad.Notepad
	RepoRoot     string
	Scope        *model.ScopeResult // nil for the root/repo-level agent
	AgentID      string
	CurrentDepth int
	MaxDepth     int
	Delegate     DelegateFunc
}

// Execute runs one tool call and returns its result. Execute never returns
// a Go error for a malformed or out-of-bounds call — consistent with the
// rest of the pipeline's fail-open style, a bad tool call becomes an error
// string the calling agent sees and can recover from, not an aborted loop.
func (t *Toolkit) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	content, isErr := t.dispatch(ctx, call)
	return llm.ToolResult{ToolCallID: call.ID, Content: content, IsError: isErr}
}

func (t *Toolkit) dispatch(ctx context.Context, call llm.ToolCall) (string, bool) {
	switch Name(call.Name) {
	case ReadFile:
		path, ok := stringArg(call.Input, "path")
		if !ok {
			return "read_file requires a 'path' argument", true
		}
		return t.readFile(path)
	case ReadSymbol:
		file, ok1 := stringArg(call.Input, "file")
		symbol, ok2 := stringArg(call.Input, "symbol")
		if !ok1 || !ok2 {
			return "read_symbol requires 'file' and 'symbol' arguments", true
		}
		return t.readSymbol(file, symbol)
	case ListDirectory:
		path, ok := stringArg(call.Input, "path")
		if !ok {
			path = "."
		}
		return t.listDirectory(path)
	case WriteNotepad:
		topic, ok1 := stringArg(call.Input, "topic")
		content, ok2 := stringArg(call.Input, "content")
		if !ok1 || !ok2 {
			return "write_notepad requires 'topic' and 'content' arguments", true
		}
		return t.writeNotepad(topic, content), false
	case Delegate:
		target, ok1 := stringArg(call.Input, "target")
		purpose, ok2 := stringArg(call.Input, "purpose")
		if !ok1 || !ok2 {
			return "delegate requires 'target' and 'purpose' arguments", true
		}
		taskContext, _ := stringArg(call.Input, "context")
		return t.delegate(ctx, target, purpose, taskContext)
	case Finish:
		return "Finishing...", false
	default:
		return fmt.Sprintf("Unknown tool: %s", call.Name), true
	}
}

func (t *Toolkit) readFile(relPath string) (string, bool) {
	if t.Scope != nil && !containsPath(t.Scope.Paths, relPath) {
		return fmt.Sprintf("File '%s' is not in the current scope. Available files: %s",
			relPath, strings.Join(firstN(t.Scope.Paths, 10), ", ")), true
	}

	absPath, err := t.sandbox(relPath)
	if err != nil {
		return err.Error(), true
	}

	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		return fmt.Sprintf("File not found: %s", relPath), true
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err), true
	}

	content := string(data)
	if len(content) > maxFileChars {
		content = content[:maxFileChars] + "\n... (truncated)"
	}
	return fmt.Sprintf("=== %s ===\n%s", relPath, content), false
}

func (t *Toolkit) readSymbol(file, symbol string) (string, bool) {
	if t.Scope == nil {
		return "read_symbol is only available within a scope agent", true
	}

	for _, sym := range t.Scope.PublicAPI {
		if sym.Citation.File != file || sym.Name != symbol {
			continue
		}
		absPath, err := t.sandbox(file)
		if err != nil {
			return err.Error(), true
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return fmt.Sprintf("File not found: %s", file), true
		}

		lines := strings.Split(string(data), "\n")
		start := sym.Citation.LineStart - 1
		if start < 0 {
			start = 0
		}
		end := sym.Citation.LineEnd
		if end > len(lines) {
			end = len(lines)
		}
		if start > end {
			start = end
		}
		source := strings.Join(lines[start:end], "\n")
		if len(source) > maxSymbolChars {
			source = source[:maxSymbolChars] + "\n... (truncated)"
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "=== %s (%s) in %s ===\n", symbol, sym.Kind, file)
		fmt.Fprintf(&sb, "Signature: %s\n", sym.Signature)
		if sym.DocstringFirstLine != "" {
			fmt.Fprintf(&sb, "Doc: %s\n", sym.DocstringFirstLine)
		}
		sb.WriteString("\n" + source)
		return sb.String(), false
	}

	var available []string
	for _, sym := range t.Scope.PublicAPI {
		if sym.Citation.File == file {
			available = append(available, sym.Name)
		}
	}
	return fmt.Sprintf("Symbol '%s' not found in %s. Available symbols: %s", symbol, file, strings.Join(available, ", ")), true
}

func (t *Toolkit) listDirectory(relPath string) (string, bool) {
	absPath, err := t.sandbox(relPath)
	if err != nil {
		return err.Error(), true
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return fmt.Sprintf("Directory not found: %s", relPath), true
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return !entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})

	var lines []string
	for _, e := range entries {
		name := e.Name()
		if ignore.IsHidden(name) {
			continue
		}
		if e.IsDir() && ignore.IsNoiseDir(name) {
			continue
		}
		rel := filepath.ToSlash(filepath.Join(relPath, name))
		kind := "file"
		size := ""
		if e.IsDir() {
			kind = "dir"
		} else if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" (%d bytes)", info.Size())
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s%s", kind, rel, size))
	}

	if len(lines) == 0 {
		return fmt.Sprintf("Directory '%s' is empty (or all contents are filtered).", relPath), false
	}
	return fmt.Sprintf("Directory '%s' (%d items):\n%s", relPath, len(lines), strings.Join(lines, "\n")), false
}

func (t *Toolkit) writeNotepad(topic, content string) string {
	t.Notepad.Write(topic, content, t.AgentID)
	return fmt.Sprintf("Recorded note under '%s'", topic)
}

func (t *Toolkit) delegate(ctx context.Context, target, purpose, taskContext string) (string, bool) {
	if t.CurrentDepth >= t.MaxDepth {
		return fmt.Sprintf("Cannot delegate: max depth (%d) reached. Analyze directly instead.", t.MaxDepth), true
	}
	if t.Delegate == nil {
		return "Cannot delegate: delegation is not available in this context.", true
	}
	ack, err := t.Delegate(ctx, target, purpose, taskContext)
	if err != nil {
		return fmt.Sprintf("Error scheduling delegate: %v", err), true
	}
	return ack, false
}

// sandbox resolves relPath against RepoRoot and rejects any path that
// escapes it via "../" segments. An absolute relPath is joined under
// RepoRoot like a relative one rather than rejected.
func (t *Toolkit) sandbox(relPath string) (string, error) {
	absPath := filepath.Join(t.RepoRoot, filepath.FromSlash(relPath))
	rootAbs, err := filepath.Abs(t.RepoRoot)
	if err != nil {
		return "", err
	}
	candidateAbs, err := filepath.Abs(absPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, candidateAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf(errPathEscape, relPath)
	}
	return candidateAbs, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func containsPath(paths []string, target string) bool {
	for _, p := range paths {
		if p == target {
			return true
		}
	}
	return false
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// Specs returns the tool schemas advertised to the model on every request.
// The set is fixed and closed; it never varies per agent instance.
func Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        string(ReadFile),
			Description: "Read the contents of a file within the current scope, capped at 12000 characters.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        string(ReadSymbol),
			Description: "Read the source of one public symbol by name, sliced to its declaration lines.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file":   map[string]any{"type": "string"},
					"symbol": map[string]any{"type": "string"},
				},
				"required": []string{"file", "symbol"},
			},
		},
		{
			Name:        string(ListDirectory),
			Description: "List the files and subdirectories under a path, with noise directories and dotfiles filtered out.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        string(WriteNotepad),
			Description: "Record a finding under a dot-path topic in the shared notepad, e.g. architecture.overview.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"topic":   map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"topic", "content"},
			},
		},
		{
			Name:        string(Delegate),
			Description: "Delegate a focused subarea (a file or folder) to a child agent. Rejected at the depth limit.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target":  map[string]any{"type": "string"},
					"purpose": map[string]any{"type": "string"},
					"context": map[string]any{"type": "string"},
				},
				"required": []string{"target", "purpose"},
			},
		},
		{
			Name:        string(Finish),
			Description: "End this agent's loop with a final summary of what was found.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"summary": map[string]any{"type": "string"}},
				"required":   []string{"summary"},
			},
		},
	}
}

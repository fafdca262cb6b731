// Package tracker maintains the observational tree of agents and pipeline
// stages for one run: a state machine per node plus a monotonic event log.
// Grounded on the original implementation's tracker.py (node tree, derived
// elapsed, export_events) and the teacher's ent/timelineevent event-type
// enum — reimplemented by hand here since there is no SQL schema generator
// backing this core (see DESIGN.md).
package tracker

import (
	"sync"
	"time"
)

// State is a node's position in the pending -> {waiting|running} ->
// {done|error} state machine. done/error are terminal.
type State string

const (
	StatePending State = "pending"
	StateWaiting State = "waiting"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

var validTransitions = map[State]map[State]bool{
	StatePending: {StateWaiting: true, StateRunning: true},
	StateWaiting: {StateRunning: true},
	StateRunning: {StateDone: true, StateError: true},
	StateDone:    {},
	StateError:   {},
}

// AgentType classifies a tracked node.
type AgentType string

const (
	AgentTypeScope    AgentType = "scope"
	AgentTypeFile     AgentType = "file"
	AgentTypeSymbol   AgentType = "symbol"
	AgentTypeRoot     AgentType = "root"
	AgentTypeStage    AgentType = "stage"
	AgentTypeDelegate AgentType = "delegate"
)

// ToolCallRecord is one recorded tool invocation against a node.
type ToolCallRecord struct {
	Name      string
	Args      map[string]any
	Result    string // truncated echo, not the full tool output
	Timestamp time.Time
}

// Node is one entry in the agent/stage tree.
type Node struct {
	ID        string
	ParentID  string
	Name      string
	Type      AgentType
	State     State
	StartedAt *time.Time
	FinishedAt *time.Time

	children  []string
	llmText   string
	toolCalls []ToolCallRecord
}

// Elapsed returns FinishedAt-StartedAt if finished, now-StartedAt if
// started but not finished, else 0.
func (n *Node) Elapsed() time.Duration {
	if n.StartedAt == nil {
		return 0
	}
	if n.FinishedAt != nil {
		return n.FinishedAt.Sub(*n.StartedAt)
	}
	return time.Since(*n.StartedAt)
}

// Children returns the ordered list of child node ids (spawn order).
func (n *Node) Children() []string { return append([]string(nil), n.children...) }

// LLMText returns the accumulated streamed text for this node.
func (n *Node) LLMText() string { return n.llmText }

// ToolCalls returns the recorded tool calls for this node, in call order.
func (n *Node) ToolCalls() []ToolCallRecord { return append([]ToolCallRecord(nil), n.toolCalls...) }

// EventType enumerates the kinds of events appended to the run's event log.
type EventType string

const (
	EventAgentSpawned    EventType = "agent_spawned"
	EventAgentFinished   EventType = "agent_finished"
	EventAgentError      EventType = "agent_error"
	EventLLMToken        EventType = "llm_token"
	EventToolStart       EventType = "tool_start"
	EventToolEnd         EventType = "tool_end"
	EventToolError       EventType = "tool_error"
	EventNotepadCreated  EventType = "notepad_created"
	EventNotepadWrite    EventType = "notepad_write"
)

// Event is one entry in the monotonic event log, timestamped as a delta from
// run start so replay and export never depend on wall-clock comparisons
// across machines.
type Event struct {
	Type    EventType      `json:"type"`
	AgentID string         `json:"agent_id"`
	Delta   time.Duration  `json:"delta"`
	Data    map[string]any `json:"data,omitempty"`
}

// Export is the JSON-safe snapshot returned by ExportEvents.
type Export struct {
	RunID         string        `json:"run_id"`
	TotalDuration time.Duration `json:"total_duration"`
	Events        []Event       `json:"events"`
}

// Tracker is the single mutex-guarded tree of nodes plus the run's event
// log. One Tracker per run, owned exclusively by the Orchestrator.
type Tracker struct {
	mu        sync.Mutex
	runID     string
	runStart  time.Time
	nodes     map[string]*Node
	roots     []string
	events    []Event
}

// New creates a Tracker anchored at runStart (used to compute event deltas).
func New(runStart time.Time) *Tracker {
	return &Tracker{
		runStart: runStart,
		nodes:    make(map[string]*Node),
	}
}

// SetRunID records the run id this tracker belongs to (used only by Export).
func (t *Tracker) SetRunID(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runID = runID
}

// AddNode registers a new node. If parentID is non-empty and known, the
// node is appended to the parent's children in spawn order.
func (t *Tracker) AddNode(id, parentID, name string, typ AgentType) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := &Node{ID: id, ParentID: parentID, Name: name, Type: typ, State: StatePending}
	t.nodes[id] = n
	if parentID == "" {
		t.roots = append(t.roots, id)
	} else if parent, ok := t.nodes[parentID]; ok {
		parent.children = append(parent.children, id)
	}
	return n
}

// SetState transitions a node's state, recording StartedAt/FinishedAt as
// appropriate. Invalid transitions are ignored (defensive — a late/duplicate
// terminal event must not corrupt an already-terminal node).
func (t *Tracker) SetState(id string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if !validTransitions[n.State][state] {
		return
	}

	now := time.Now().UTC()
	if n.StartedAt == nil && (state == StateRunning || state == StateWaiting) {
		n.StartedAt = &now
	}
	if state == StateDone || state == StateError {
		n.FinishedAt = &now
	}
	n.State = state
}

// AppendText accumulates streamed LLM text for a node and records an
// llm_token event.
func (t *Tracker) AppendText(id, delta string) {
	t.mu.Lock()
	if n, ok := t.nodes[id]; ok {
		n.llmText += delta
	}
	t.mu.Unlock()

	t.record(Event{Type: EventLLMToken, AgentID: id, Data: map[string]any{"delta": delta}})
}

// RecordToolCall appends a tool invocation to a node's history and records
// matching tool_start/tool_end (or tool_error) events.
func (t *Tracker) RecordToolCall(id, name string, args map[string]any, result string, isError bool) {
	rec := ToolCallRecord{Name: name, Args: args, Result: result, Timestamp: time.Now().UTC()}

	t.mu.Lock()
	if n, ok := t.nodes[id]; ok {
		n.toolCalls = append(n.toolCalls, rec)
	}
	t.mu.Unlock()

	endType := EventToolEnd
	if isError {
		endType = EventToolError
	}
	t.record(Event{Type: EventToolStart, AgentID: id, Data: map[string]any{"tool": name, "args": args}})
	t.record(Event{Type: endType, AgentID: id, Data: map[string]any{"tool": name, "result": result}})
}

// record appends an event with a delta computed from run start. Acquires its
// own lock — never call while holding the node lock (leaf-first rule).
func (t *Tracker) record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.Delta = time.Since(t.runStart)
	t.events = append(t.events, e)
}

// RecordEvent is the general-purpose entry point for agent_spawned /
// agent_finished / agent_error and similar lifecycle events.
func (t *Tracker) RecordEvent(typ EventType, agentID string, data map[string]any) {
	t.record(Event{Type: typ, AgentID: agentID, Data: data})
}

// Snapshot returns a consistent point-in-time copy of every node, holding
// the lock for the duration of the copy.
func (t *Tracker) Snapshot() map[string]Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Node, len(t.nodes))
	for id, n := range t.nodes {
		cp := *n
		cp.children = append([]string(nil), n.children...)
		cp.toolCalls = append([]ToolCallRecord(nil), n.toolCalls...)
		out[id] = cp
	}
	return out
}

// ExportEvents returns the JSON-safe event log export.
func (t *Tracker) ExportEvents() Export {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Export{
		RunID:         t.runID,
		TotalDuration: time.Since(t.runStart),
		Events:        append([]Event(nil), t.events...),
	}
}

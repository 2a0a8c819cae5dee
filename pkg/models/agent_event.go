// Package models provides domain types for the Nexus agent system.
package models

import (
	"time"
)

// AgentEvent is the unified event model streamed from the control loop to
// the shell (UI, logging, plugins). It is the sole outbound channel: every
// observable thing the loop does — turn boundaries, model deltas, tool
// dispatch, fallback decisions, budget warnings — is one of these.
//
// Design principles:
//   - Versioned and forward-compatible (add fields, don't rename/remove)
//   - Single Type discriminator with optional payload pointers
//   - Monotonic Sequence for ordering guarantees across goroutines
type AgentEvent struct {
	// Version for forward compatibility. Current version: 1.
	Version int `json:"version"`

	// Type identifies the kind of event.
	Type AgentEventType `json:"type"`

	// Time is when the event occurred.
	Time time.Time `json:"time"`

	// Sequence is monotonic within a run for ordering guarantees.
	Sequence uint64 `json:"seq"`

	// RunID identifies the agent run (Process call).
	RunID string `json:"run_id,omitempty"`

	// TurnIndex is the 0-based turn number within the run.
	TurnIndex int `json:"turn_index,omitempty"`

	// IterIndex is the 0-based iteration (agentic loop iteration).
	IterIndex int `json:"iter_index,omitempty"`

	// Exactly one payload should be non-nil for a given Type.
	Message    *MessageEventPayload    `json:"message,omitempty"`
	Text       *TextEventPayload       `json:"text,omitempty"`
	Tool       *ToolEventPayload       `json:"tool,omitempty"`
	Stream     *StreamEventPayload     `json:"stream,omitempty"`
	ToolStream *ToolStreamEventPayload `json:"tool_stream,omitempty"`
	Error      *ErrorEventPayload      `json:"error,omitempty"`
	Stats      *StatsEventPayload      `json:"stats,omitempty"`
	Context    *ContextEventPayload    `json:"context,omitempty"`
	Steering   *SteeringEventPayload   `json:"steering,omitempty"`
	Progress   *TaskProgressPayload    `json:"progress,omitempty"`
	Fallback   *FallbackEventPayload   `json:"fallback,omitempty"`
	Budget     *BudgetEventPayload     `json:"budget,omitempty"`
	Compaction *CompactionEventPayload `json:"compaction,omitempty"`
	Memory     *MemoryEventPayload     `json:"memory,omitempty"`
	Diff       *DiffEventPayload       `json:"diff,omitempty"`
	Citations  *CitationsEventPayload  `json:"citations,omitempty"`
}

// AgentEventType identifies the kind of agent event. The vocabulary matches
// the outbound event stream contract exactly; the shell switches on this
// string, never on payload shape.
type AgentEventType string

const (
	// Turn lifecycle
	AgentEventTurnStart AgentEventType = "turn_start"
	AgentEventTurnEnd   AgentEventType = "turn_end"

	// A complete message was appended to history (user, assistant, or tool).
	AgentEventMessage AgentEventType = "message"

	// Model streaming
	AgentEventStreamChunk          AgentEventType = "stream_chunk"
	AgentEventStreamReasoning      AgentEventType = "stream_reasoning"
	AgentEventStreamToolCallStart  AgentEventType = "stream_tool_call_start"
	AgentEventStreamToolCallDelta  AgentEventType = "stream_tool_call_delta"

	// Tool dispatch
	AgentEventToolCallStart AgentEventType = "tool_call_start"
	AgentEventToolCallEnd   AgentEventType = "tool_call_end"

	// Task/run progress
	AgentEventTaskProgress AgentEventType = "task_progress"
	AgentEventTaskComplete AgentEventType = "task_complete"

	// Shell-facing notices
	AgentEventNotification         AgentEventType = "notification"
	AgentEventModelFallback        AgentEventType = "model_fallback"
	AgentEventAPIKeyRequired       AgentEventType = "api_key_required"
	AgentEventBudgetWarning        AgentEventType = "budget_warning"
	AgentEventBudgetExceeded       AgentEventType = "budget_exceeded"
	AgentEventContextCompressed    AgentEventType = "context_compressed"
	AgentEventMemoryLearned        AgentEventType = "memory_learned"
	AgentEventDiffComputed         AgentEventType = "diff_computed"
	AgentEventCitationsUpdated     AgentEventType = "citations_updated"
	AgentEventInterruptAcked       AgentEventType = "interrupt_acknowledged"
	AgentEventError                AgentEventType = "error"
	AgentEventAgentComplete        AgentEventType = "agent_complete"
)

// TaskProgressPhase enumerates the values of task_progress's `phase` field.
type TaskProgressPhase string

const (
	TaskPhaseThinking    TaskProgressPhase = "thinking"
	TaskPhaseGenerating  TaskProgressPhase = "generating"
	TaskPhaseToolPending TaskProgressPhase = "tool_pending"
	TaskPhaseToolRunning TaskProgressPhase = "tool_running"
	TaskPhaseCompleted   TaskProgressPhase = "completed"
	TaskPhaseFailed      TaskProgressPhase = "failed"
)

// TaskProgressPayload carries the current phase of task execution.
type TaskProgressPayload struct {
	Phase   TaskProgressPhase `json:"phase"`
	Message string            `json:"message,omitempty"`
}

// MessageEventPayload carries a complete message appended to history.
type MessageEventPayload struct {
	Message *Message `json:"message"`
}

// TextEventPayload is generic human-readable text (notifications, interrupt
// acknowledgements, logs).
type TextEventPayload struct {
	Text string `json:"text"`
}

// StreamEventPayload represents model streaming deltas (text or reasoning)
// and completion metadata.
type StreamEventPayload struct {
	// Delta is the incremental text (token-by-token or chunked).
	Delta string `json:"delta,omitempty"`

	// Final is optional final text on completion events.
	Final string `json:"final,omitempty"`

	// Provider/Model for debugging (optional).
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Token counts (optional; not all providers supply them).
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// ToolStreamEventPayload carries stream_tool_call_start/stream_tool_call_delta
// data as the model incrementally constructs a tool call's arguments.
type ToolStreamEventPayload struct {
	// Index is the tool call's position within the current model turn.
	Index int `json:"index"`

	// ID and Name are populated on stream_tool_call_start.
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`

	// ArgumentsDelta is populated on stream_tool_call_delta.
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// ToolEventPayload describes tool calls and their outputs for
// tool_call_start/tool_call_end.
type ToolEventPayload struct {
	// CallID identifies this specific tool invocation.
	CallID string `json:"call_id,omitempty"`

	// Name is the tool name.
	Name string `json:"name,omitempty"`

	// ArgsJSON is the raw JSON arguments (for start events).
	ArgsJSON []byte `json:"args_json,omitempty"`

	// For end events:
	Success    bool          `json:"success,omitempty"`
	ResultJSON []byte        `json:"result_json,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// ErrorEventPayload standardizes errors for the `error` event and for
// plugins. Code is one of the stable strings from the error taxonomy
// (CONTEXT_LENGTH_EXCEEDED, BUDGET_EXCEEDED, CIRCUIT_BREAKER_TRIPPED, ...).
type ErrorEventPayload struct {
	// Message is the error description (required).
	Message string `json:"message"`

	// Code is the stable error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Retriable indicates if the operation can be retried.
	Retriable bool `json:"retriable,omitempty"`

	// Err is the original error (runtime only, not serialized).
	// Used to preserve error types for errors.Is/errors.As.
	Err error `json:"-"`
}

// FallbackEventPayload describes a model_fallback or api_key_required event.
type FallbackEventPayload struct {
	FromModel string `json:"from_model,omitempty"`
	ToModel   string `json:"to_model,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BudgetEventPayload describes budget_warning/budget_exceeded events.
type BudgetEventPayload struct {
	UsedTokens  int     `json:"used_tokens"`
	LimitTokens int     `json:"limit_tokens"`
	Fraction    float64 `json:"fraction"`
}

// CompactionEventPayload describes a context_compressed event.
type CompactionEventPayload struct {
	MessagesCompacted int    `json:"messages_compacted"`
	TokensSaved       int    `json:"tokens_saved"`
	Summary           string `json:"summary,omitempty"`
}

// MemoryEventPayload describes a memory_learned event.
type MemoryEventPayload struct {
	Content string `json:"content"`
}

// DiffEventPayload describes a diff_computed event.
type DiffEventPayload struct {
	Path string `json:"path"`
	Diff string `json:"diff"`
}

// CitationsEventPayload describes a citations_updated event.
type CitationsEventPayload struct {
	Citations []string `json:"citations"`
}

// StatsEventPayload carries run statistics, attached to agent_complete.
type StatsEventPayload struct {
	Run *RunStats `json:"run,omitempty"`
}

// RunStats is an aggregated summary of an agent run.
// Derived from the event stream for observability.
type RunStats struct {
	// RunID identifies this run.
	RunID string `json:"run_id,omitempty"`

	// Timing
	StartedAt  time.Time     `json:"started_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	WallTime   time.Duration `json:"wall_time,omitempty"`

	// Counts
	Turns int `json:"turns,omitempty"`
	Iters int `json:"iters,omitempty"`

	// Tool metrics
	ToolCalls    int           `json:"tool_calls,omitempty"`
	ToolWallTime time.Duration `json:"tool_wall_time,omitempty"`
	ToolTimeouts int           `json:"tool_timeouts,omitempty"`

	// Model metrics
	ModelWallTime time.Duration `json:"model_wall_time,omitempty"`
	InputTokens   int           `json:"input_tokens,omitempty"`
	OutputTokens  int           `json:"output_tokens,omitempty"`

	// Context packing metrics
	ContextPacks int `json:"context_packs,omitempty"`
	DroppedItems int `json:"dropped_items,omitempty"`

	// Reliability signals
	Cancelled     bool `json:"cancelled,omitempty"`      // Run was explicitly cancelled
	TimedOut      bool `json:"timed_out,omitempty"`      // Run hit wall time limit
	DroppedEvents int  `json:"dropped_events,omitempty"` // Events dropped due to backpressure

	// Error count
	Errors int `json:"errors,omitempty"`
}

// SteeringEventPayload describes steering and follow-up message events.
type SteeringEventPayload struct {
	// Content is the text content of the steering/follow-up message.
	Content string `json:"content,omitempty"`

	// Count is the number of messages (for multi-message events).
	Count int `json:"count,omitempty"`

	// SkippedTools lists tool call IDs that were skipped due to steering.
	SkippedTools []string `json:"skipped_tools,omitempty"`

	// Priority indicates steering message priority (higher = first).
	Priority int `json:"priority,omitempty"`
}

// ContextEventPayload contains context packing diagnostics.
// It explains why certain messages were included or dropped during packing.
type ContextEventPayload struct {
	// Budget configuration
	BudgetChars    int `json:"budget_chars"`    // Max character budget
	BudgetMessages int `json:"budget_messages"` // Max message count
	UsedChars      int `json:"used_chars"`      // Characters used
	UsedMessages   int `json:"used_messages"`   // Messages included

	// Message counts by category
	Candidates int `json:"candidates"` // Total messages before packing
	Included   int `json:"included"`   // Messages included
	Dropped    int `json:"dropped"`    // Messages dropped

	// Summary info
	SummaryUsed  bool `json:"summary_used,omitempty"`  // Whether summary was included
	SummaryChars int  `json:"summary_chars,omitempty"` // Characters in summary

	// Per-item diagnostics (optional, only when verbose)
	Items []ContextPackItem `json:"items,omitempty"`
}

// ContextPackItem describes a single item in the context packing decision.
type ContextPackItem struct {
	// ID is a hash or identifier for the message (not the content itself).
	ID string `json:"id,omitempty"`

	// Kind categorizes the message type.
	Kind ContextItemKind `json:"kind"`

	// Chars is the character count.
	Chars int `json:"chars"`

	// Included indicates whether this item was included.
	Included bool `json:"included"`

	// Reason explains why the item was included or dropped.
	Reason ContextPackReason `json:"reason,omitempty"`
}

// ContextItemKind categorizes context items.
type ContextItemKind string

const (
	ContextItemSystem   ContextItemKind = "system"
	ContextItemHistory  ContextItemKind = "history"
	ContextItemTool     ContextItemKind = "tool"
	ContextItemSummary  ContextItemKind = "summary"
	ContextItemIncoming ContextItemKind = "incoming"
)

// ContextPackReason explains a packing decision.
type ContextPackReason string

const (
	// Inclusion reasons
	ContextReasonIncluded ContextPackReason = "included"
	ContextReasonReserved ContextPackReason = "reserved" // incoming/summary

	// Exclusion reasons
	ContextReasonOverBudget ContextPackReason = "over_budget"
	ContextReasonTooOld     ContextPackReason = "too_old"
	ContextReasonFiltered   ContextPackReason = "filtered"
)

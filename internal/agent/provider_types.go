package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations of this interface handle the specifics of communicating
// with different LLM APIs (Anthropic, OpenAI, etc.) while presenting a
// single streaming contract to the loop controller.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Infer() simultaneously for different requests.
type LLMProvider interface {
	// Infer sends a request and streams incremental chunks through onChunk as
	// they arrive, returning the fully assembled response once the model
	// finishes (or is cancelled via ctx/cancelToken). onChunk may be nil if
	// the caller only wants the final response.
	Infer(ctx context.Context, req *CompletionRequest, onChunk func(*StreamChunk)) (*ModelResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM inference request.
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g., "claude-sonnet-4-20250514").
	// If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt that sets the assistant's behavior.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools defines available tools the model can request to execute.
	// If empty, no tool calling is available.
	Tools []ToolSchema `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended thinking mode for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`
}

// ToolSchema is the {name, description, parameters} shape a provider needs
// to advertise a tool to the model. It is derived from a Tool at dispatch
// time; the core never hands a live Tool to the provider.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// CompletionMessage represents a single message in a conversation, with
// content as either a plain string or multi-modal parts (mirrors spec's
// `{role, content}` where content is a string or a list of parts).
type CompletionMessage struct {
	Role string `json:"role"`

	// Content is the text content; empty when Parts is used instead.
	Content string `json:"content,omitempty"`

	// Parts carries multi-modal content when present.
	Parts []models.ContentPart `json:"parts,omitempty"`

	// ToolCalls contains any tool execution requests from the assistant.
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// ToolResults contains responses from executed tools.
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// ResponseType discriminates ModelResponse's two shapes.
type ResponseType string

const (
	ResponseTypeText     ResponseType = "text"
	ResponseTypeToolUse  ResponseType = "tool_use"
)

// ModelResponse is the fully assembled result of an Infer call.
type ModelResponse struct {
	Type ResponseType `json:"type"`

	// Content is the response text (populated when Type == "text").
	Content string `json:"content,omitempty"`

	// Thinking carries the model's reasoning trace, when exposed.
	Thinking string `json:"thinking,omitempty"`

	// ToolCalls is populated when Type == "tool_use".
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`

	// Truncated is true when the provider cut the response off before
	// completion (hit MaxTokens or an internal limit) without erroring.
	Truncated bool `json:"truncated,omitempty"`

	// FinishReason is the provider's raw stop reason string, if any.
	FinishReason string `json:"finish_reason,omitempty"`

	Usage *Usage `json:"usage,omitempty"`
}

// Usage reports token accounting for a single inference call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ChunkKind discriminates the tagged variants of StreamChunk.
type ChunkKind string

const (
	ChunkKindText          ChunkKind = "text"
	ChunkKindReasoning     ChunkKind = "reasoning"
	ChunkKindToolCallStart ChunkKind = "tool_call_start"
	ChunkKindToolCallDelta ChunkKind = "tool_call_delta"
)

// StreamChunk is a single increment delivered to onChunk during Infer.
// Exactly the fields relevant to Kind are populated.
type StreamChunk struct {
	Kind ChunkKind `json:"kind"`

	// Content is populated for ChunkKindText and ChunkKindReasoning.
	Content string `json:"content,omitempty"`

	// Index, ID, Name are populated for ChunkKindToolCallStart.
	Index int    `json:"index,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`

	// ArgumentsDelta is populated for ChunkKindToolCallDelta.
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier for the model (e.g., "claude-sonnet-4-20250514").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`

	// SupportsTools indicates if the model can request tool calls.
	SupportsTools bool `json:"supports_tools"`
}

// ToolContext carries everything a Tool's Execute needs beyond its own
// arguments: identity of the run, the caller's working directory, the
// active model configuration, plan-mode state, and a handle back into the
// event stream and the set of tools the user has pre-approved.
type ToolContext struct {
	Context context.Context

	RunID      string
	TurnID     string
	SessionID  string
	ToolCallID string

	WorkingDir string
	Model      string

	// PlanMode reports whether the run is restricted to read-only/planning
	// tools; SetPlanMode lets a tool (e.g. an explicit "exit plan mode"
	// tool) flip it mid-run.
	PlanMode    func() bool
	SetPlanMode func(bool)

	// Emit publishes an AgentEvent for this tool's own progress reporting
	// (e.g. a long-running tool streaming partial output).
	Emit func(*models.AgentEvent)

	// PreApprovedTools is the set of tool names the user has approved for
	// this run without a per-call confirmation.
	PreApprovedTools map[string]bool

	// Attachments carries the current turn's user-provided attachments, for
	// tools that operate on them directly (e.g. an image-analysis tool).
	Attachments []models.Attachment
}

// Tool defines the interface for executable agent tools. The core treats
// tools as opaque collaborators: it calls Execute and only inspects the
// returned ToolResult and well-known Metadata keys
// (requiresUserConfirmation, isSkillActivation, skillResult).
type Tool interface {
	// Name returns the tool name for model function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters. The params
	// match the schema returned by Schema().
	Execute(ctx *ToolContext, params json.RawMessage) (*models.ToolResult, error)

	// ParallelSafe reports whether this tool may run concurrently with
	// other parallel-safe tool calls in the same batch. Mutating tools
	// (write_file, bash, edit_file) must return false; pure read tools
	// (read_file, glob, grep) return true.
	ParallelSafe() bool
}

// ToolEventStore persists tool calls and results for audit, replay, and
// analytics. Optional - if nil, tool events are not persisted separately
// from messages.
type ToolEventStore interface {
	AddToolCall(ctx context.Context, sessionID, messageID string, call *models.ToolCall) error
	AddToolResult(ctx context.Context, sessionID, messageID string, call *models.ToolCall, result *models.ToolResult) error
}

// ResponseChunk represents a streaming response chunk from the loop.
// Each chunk may contain text, a tool result, an agent event, or an error.
// Consumers should check each field and handle accordingly.
type ResponseChunk struct {
	Text          string             `json:"text,omitempty"`
	Thinking      string             `json:"thinking,omitempty"`
	ThinkingStart bool               `json:"thinking_start,omitempty"`
	ThinkingEnd   bool               `json:"thinking_end,omitempty"`
	ToolResult    *models.ToolResult `json:"tool_result,omitempty"`
	Event         *models.AgentEvent `json:"event,omitempty"`
	Error         error              `json:"-"`
}

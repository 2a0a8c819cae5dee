// Package models provides the core data types shared across the agent
// control loop: conversation messages, tool calls/results, and the
// observational trace/event types derived from a run.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ContentPartKind discriminates the tagged variants of ContentPart.
type ContentPartKind string

const (
	ContentKindText  ContentPartKind = "text"
	ContentKindImage ContentPartKind = "image"
)

// ContentPart is a tagged-variant entry of a multi-modal message body.
// Exactly one of Text or (MediaType, Base64) is populated, selected by Kind.
type ContentPart struct {
	Kind ContentPartKind `json:"kind"`

	// Text is populated when Kind == ContentKindText.
	Text string `json:"text,omitempty"`

	// MediaType and Base64 are populated when Kind == ContentKindImage.
	MediaType string `json:"media_type,omitempty"`
	Base64    string `json:"base64,omitempty"`
}

// TextPart constructs a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentKindText, Text: text}
}

// ImagePart constructs an image content part.
func ImagePart(mediaType, base64 string) ContentPart {
	return ContentPart{Kind: ContentKindImage, MediaType: mediaType, Base64: base64}
}

// Message is an ordered entry in conversation history.
//
// Invariant: any assistant message carrying ToolCalls must be followed in
// history by exactly one tool message whose ToolResults cover the same
// tool-call IDs as a set (order within the set does not matter). Compressed
// segments may summarize the pair but must preserve the pairing invariant as
// a single compacted entry (see Compaction).
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Content   string        `json:"content,omitempty"`
	Parts     []ContentPart `json:"parts,omitempty"`
	Timestamp time.Time     `json:"timestamp"`

	// ToolCalls is populated on assistant messages that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults is populated on tool messages; it must cover exactly the
	// tool-call IDs of the preceding assistant message's ToolCalls.
	ToolResults []ToolResult `json:"tool_results,omitempty"`

	// Attachments is populated on user messages carrying files/images.
	Attachments []Attachment `json:"attachments,omitempty"`

	// Thinking carries the model's reasoning trace, when the provider exposes one.
	Thinking string `json:"thinking,omitempty"`

	// Compaction is non-nil when this message is a compaction summary block.
	Compaction *CompactionBlock `json:"compaction,omitempty"`

	// IsMeta suppresses this message from user-facing rendering (e.g. nudges).
	IsMeta bool `json:"is_meta,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// CompactionBlock records what a history-compression pass removed, so the
// compaction remains auditable.
type CompactionBlock struct {
	MessagesCompacted int    `json:"messages_compacted"`
	TokensSaved       int    `json:"tokens_saved"`
	Summary           string `json:"summary"`
}

// Attachment represents a file or media attachment on a user message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, audio, video, document
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`

	// Content holds the raw bytes for small/previewed attachments. Large
	// attachments are read lazily by the tool collaborator, not carried here.
	Content []byte `json:"-"`
}

// ToolCall represents a model's request to execute a tool.
//
// RawParseError is set (never a panic/exception) when Arguments could not be
// decoded as JSON; the Context Manager feeds the raw string back to the
// model as an observation rather than surfacing it as an error type (§7,
// TOOL_ARGUMENTS_PARSE_ERROR).
type ToolCall struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments"`
	RawParseError string          `json:"raw_parse_error,omitempty"`
}

// ToolResult represents the observation returned from executing a ToolCall.
type ToolResult struct {
	ToolCallID string         `json:"tool_call_id"`
	Success    bool           `json:"success"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RequiresUserConfirmation reports whether the tool collaborator flagged
// this result as needing a confirmation round-trip before acting further.
func (r ToolResult) RequiresUserConfirmation() bool {
	v, _ := r.Metadata["requiresUserConfirmation"].(bool)
	return v
}

// IsSkillActivation reports whether this result represents a skill
// activation side-effect rather than a plain tool observation.
func (r ToolResult) IsSkillActivation() bool {
	v, _ := r.Metadata["isSkillActivation"].(bool)
	return v
}

// Session represents an opaque conversation thread handle. The core treats
// sessions as pluggable state external to the loop; see internal/sessions.
type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

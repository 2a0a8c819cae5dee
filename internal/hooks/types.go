// Package hooks provides an event-driven dispatcher for the control loop's
// lifecycle hooks: session-start, user-prompt, pre-tool, post-tool, stop, and
// session-end. Each handler returns a proceed/block verdict; the dispatcher
// short-circuits on the first handler that blocks.
package hooks

import (
	"context"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// EventType identifies a lifecycle point the loop fires hooks at.
type EventType string

const (
	// EventSessionStart fires once before the first turn of a run.
	EventSessionStart EventType = "session.start"

	// EventUserPrompt fires when a user message is about to be sent to the model.
	EventUserPrompt EventType = "user.prompt"

	// EventPreTool fires before a tool call is dispatched.
	EventPreTool EventType = "tool.pre"

	// EventPostTool fires after a tool call returns.
	EventPostTool EventType = "tool.post"

	// EventStop fires when the model has produced a text-only response that
	// would otherwise end the run; a handler may veto the stop.
	EventStop EventType = "loop.stop"

	// EventSessionEnd fires once when a run exits, regardless of outcome.
	EventSessionEnd EventType = "session.end"
)

// Event carries the payload for a single hook invocation.
type Event struct {
	Type EventType `json:"type"`

	SessionID string `json:"session_id,omitempty"`
	TurnID    string `json:"turn_id,omitempty"`

	// Message is set for EventUserPrompt and EventStop.
	Message *models.Message `json:"message,omitempty"`

	// ToolCall and ToolResult are set for EventPreTool/EventPostTool.
	ToolCall   *models.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`

	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`

	Error    error  `json:"-"`
	ErrorMsg string `json:"error,omitempty"`
}

// Verdict is the result a handler returns: whether the loop should proceed,
// and an optional message to inject into context when it should not.
type Verdict struct {
	ShouldProceed bool
	Message       string
}

// Proceed is the zero-friction verdict every handler defaults to.
func Proceed() Verdict { return Verdict{ShouldProceed: true} }

// Block returns a verdict that halts the dispatch chain with a reason.
func Block(message string) Verdict { return Verdict{ShouldProceed: false, Message: message} }

// Handler processes a hook event and renders a verdict. Handlers should be
// fast and non-blocking; long-running work should be dispatched elsewhere.
type Handler func(ctx context.Context, event *Event) (Verdict, error)

// Priority determines the order handlers run in; lower values run first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration is a handler bound to an event type with dispatch metadata.
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// NewEvent creates an Event with its timestamp set to now.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithSession sets the session and turn identifiers on the event.
func (e *Event) WithSession(sessionID, turnID string) *Event {
	e.SessionID = sessionID
	e.TurnID = turnID
	return e
}

// WithMessage attaches a message payload to the event.
func (e *Event) WithMessage(msg *models.Message) *Event {
	e.Message = msg
	return e
}

// WithToolCall attaches a tool call payload to the event.
func (e *Event) WithToolCall(tc *models.ToolCall) *Event {
	e.ToolCall = tc
	return e
}

// WithToolResult attaches a tool result payload to the event.
func (e *Event) WithToolResult(tr *models.ToolResult) *Event {
	e.ToolResult = tr
	return e
}

// WithContext adds a key/value pair to the event's context map.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithError records an error on the event.
func (e *Event) WithError(err error) *Event {
	e.Error = err
	if err != nil {
		e.ErrorMsg = err.Error()
	}
	return e
}

package hooks

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// NewPreToolEvent builds the event fired before a tool call is dispatched.
func NewPreToolEvent(sessionID, turnID string, tc *models.ToolCall) *Event {
	return NewEvent(EventPreTool).WithSession(sessionID, turnID).WithToolCall(tc)
}

// NewPostToolEvent builds the event fired after a tool call returns.
func NewPostToolEvent(sessionID, turnID string, tc *models.ToolCall, res *models.ToolResult) *Event {
	return NewEvent(EventPostTool).WithSession(sessionID, turnID).WithToolCall(tc).WithToolResult(res)
}

// DispatchPreTool runs pre-tool hooks and reports whether the call may proceed.
func DispatchPreTool(ctx context.Context, r *Registry, sessionID, turnID string, tc *models.ToolCall) Verdict {
	if r == nil {
		return Proceed()
	}
	return r.Dispatch(ctx, NewPreToolEvent(sessionID, turnID, tc))
}

// DispatchPostTool runs post-tool hooks. Post-tool hooks observe rather than
// block, but a Verdict is still returned so callers can surface a message.
func DispatchPostTool(ctx context.Context, r *Registry, sessionID, turnID string, tc *models.ToolCall, res *models.ToolResult) Verdict {
	if r == nil {
		return Proceed()
	}
	return r.Dispatch(ctx, NewPostToolEvent(sessionID, turnID, tc, res))
}

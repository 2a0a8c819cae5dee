// Package agent implements the agentic loop: the per-iteration controller,
// its tool scheduler, and the supporting detectors that keep a long-running
// turn from stalling or looping forever.
package agent

import (
	"context"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// SteeringMessage is injected mid-iteration by steer(). It aborts the
// in-flight inference stream, is appended to history as a new user message,
// and sets needsReinference so the controller restarts the current turn
// instead of advancing it.
type SteeringMessage struct {
	Content     string
	Attachments []models.Attachment
	Priority    int
}

// SteeringQueue buffers steering messages between the point they arrive
// (typically from an outer orchestrator handling user input concurrently
// with a running turn) and the point the loop controller drains them at the
// top of its next iteration. Safe for concurrent use.
type SteeringQueue struct {
	mu       sync.Mutex
	steering []*SteeringMessage
}

// NewSteeringQueue creates an empty queue.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{}
}

// Steer enqueues a steering message.
func (q *SteeringQueue) Steer(msg *SteeringMessage) {
	if msg == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = append(q.steering, msg)
}

// SteerText is a convenience wrapper for a plain-text steering message.
func (q *SteeringQueue) SteerText(content string) {
	q.Steer(&SteeringMessage{Content: content})
}

// Drain removes and returns every queued steering message in arrival order.
func (q *SteeringQueue) Drain() []*SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.steering) == 0 {
		return nil
	}
	msgs := q.steering
	q.steering = nil
	return msgs
}

// HasPending reports whether steering messages are queued without draining
// them, used by the controller's steer-check to decide whether to abort the
// in-flight stream.
func (q *SteeringQueue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.steering) > 0
}

// Clear discards all queued steering messages.
func (q *SteeringQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.steering = nil
}

type steeringQueueKey struct{}

// WithSteeringQueue attaches a SteeringQueue to ctx for the duration of a run.
func WithSteeringQueue(ctx context.Context, queue *SteeringQueue) context.Context {
	return context.WithValue(ctx, steeringQueueKey{}, queue)
}

// SteeringQueueFromContext retrieves the SteeringQueue attached by
// WithSteeringQueue, or nil if none is set.
func SteeringQueueFromContext(ctx context.Context) *SteeringQueue {
	queue, _ := ctx.Value(steeringQueueKey{}).(*SteeringQueue)
	return queue
}

// APIKeyResolver resolves a provider's credential at call time, letting the
// Fallback Router retry a fallback model against a freshly-resolved key
// rather than one captured at startup.
type APIKeyResolver func(ctx context.Context, provider string) (string, error)

type apiKeyResolverKey struct{}

// WithAPIKeyResolver attaches an APIKeyResolver to ctx.
func WithAPIKeyResolver(ctx context.Context, resolver APIKeyResolver) context.Context {
	return context.WithValue(ctx, apiKeyResolverKey{}, resolver)
}

// APIKeyResolverFromContext retrieves the APIKeyResolver attached by
// WithAPIKeyResolver, or nil if none is set.
func APIKeyResolverFromContext(ctx context.Context) APIKeyResolver {
	resolver, _ := ctx.Value(apiKeyResolverKey{}).(APIKeyResolver)
	return resolver
}

// ThinkingLevel selects an extended-thinking token budget for providers that
// support it.
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingMax     ThinkingLevel = "max"
)

// ThinkingBudgets maps each ThinkingLevel to its token budget.
var ThinkingBudgets = map[ThinkingLevel]int{
	ThinkingOff:     0,
	ThinkingMinimal: 1024,
	ThinkingLow:     4096,
	ThinkingMedium:  16384,
	ThinkingHigh:    65536,
	ThinkingMax:     100000,
}

// GetThinkingBudget returns the token budget for level, or 0 for an unknown level.
func GetThinkingBudget(level ThinkingLevel) int {
	return ThinkingBudgets[level]
}

// SkippedToolResult synthesizes a failed ToolResult for a tool call that a
// steer or a pre-tool hook block prevented from running.
func SkippedToolResult(toolCallID, reason string) models.ToolResult {
	if reason == "" {
		reason = "skipped"
	}
	return models.ToolResult{ToolCallID: toolCallID, Success: false, Error: reason}
}

package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/pkg/models"
)

// LoopConfig tunes the per-iteration controller.
type LoopConfig struct {
	// MaxIterations caps tool-use iterations within a single turn before the
	// controller gives up with MAX_ITERATIONS.
	MaxIterations int

	// GoalCheckpointEvery re-injects the original user goal as a system
	// reminder every N iterations, to keep long tool-use chains on track.
	GoalCheckpointEvery int

	// MaxStopHookRetries bounds how many times a vetoed stop can be retried
	// in a single turn before the controller force-accepts the response.
	MaxStopHookRetries int

	// MaxNudgeRetries bounds how many times any single nudge (read-only
	// stall, etc.) can fire in one turn.
	MaxNudgeRetries int

	Model     string
	MaxTokens int

	Logger *slog.Logger
}

// DefaultLoopConfig returns the controller's stated defaults.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:       25,
		GoalCheckpointEvery: 8,
		MaxStopHookRetries:  3,
		MaxNudgeRetries:     2,
		MaxTokens:           4096,
		Logger:              slog.Default(),
	}
}

// Controller runs the ReAct loop: it drives inference, detects and recovers
// from truncation, dispatches tool batches through the Scheduler, and
// enforces the anti-pattern and circuit-breaker guards between iterations.
type Controller struct {
	provider LLMProvider
	registry *ToolRegistry
	sched    *Scheduler
	ctxmgr   *agentctx.Manager
	breaker  *CircuitBreaker
	antip    *AntiPatternDetector
	hooks    *hooks.Registry
	router   *Router
	emitter  *EventEmitter
	steering *SteeringQueue
	config   LoopConfig
}

// NewController wires the loop's collaborators. hookRegistry and router may
// be nil to disable those concerns; steering defaults to a fresh queue when nil.
func NewController(
	provider LLMProvider,
	registry *ToolRegistry,
	sched *Scheduler,
	ctxmgr *agentctx.Manager,
	breaker *CircuitBreaker,
	antip *AntiPatternDetector,
	hookRegistry *hooks.Registry,
	router *Router,
	emitter *EventEmitter,
	steering *SteeringQueue,
	config LoopConfig,
) *Controller {
	def := DefaultLoopConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = def.MaxIterations
	}
	if config.GoalCheckpointEvery <= 0 {
		config.GoalCheckpointEvery = def.GoalCheckpointEvery
	}
	if config.MaxStopHookRetries <= 0 {
		config.MaxStopHookRetries = def.MaxStopHookRetries
	}
	if config.MaxNudgeRetries <= 0 {
		config.MaxNudgeRetries = def.MaxNudgeRetries
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = def.MaxTokens
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if steering == nil {
		steering = NewSteeringQueue()
	}
	return &Controller{
		provider: provider, registry: registry, sched: sched, ctxmgr: ctxmgr,
		breaker: breaker, antip: antip, hooks: hookRegistry, router: router,
		emitter: emitter, steering: steering, config: config,
	}
}

// Run drives the loop over history until the model produces a final text
// response, a hard limit is hit, or ctx is cancelled. history is appended to
// in place; the returned message is the final assistant message (nil if the
// run ended via circuit breaker or error).
func (c *Controller) Run(ctx context.Context, sessionID, goal string, history *[]*models.Message) (*models.Message, error) {
	maxTokens := c.config.MaxTokens
	retriedTextTruncation := false
	stopHookRetries := 0
	nudgeCounts := map[string]int{}

	defer c.emitter.AgentComplete(ctx, nil)

	for iter := 0; iter < c.config.MaxIterations; iter++ {
		// (1) interruption/cancellation check.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// (2) budget check.
		if c.breaker.Tripped() {
			c.emitter.BudgetExceeded(ctx, 0, 0)
			msg := &models.Message{
				ID: uuid.NewString(), Role: models.RoleAssistant,
				Content: c.breaker.UserMessage(), Timestamp: time.Now(),
			}
			*history = append(*history, msg)
			c.breaker.Reset()
			c.emitter.Message(ctx, msg)
			return msg, nil
		}

		// (3) turn init.
		turnID := uuid.NewString()
		c.emitter.SetIter(iter)
		c.emitter.TurnStart(ctx)
		c.emitter.TaskProgress(ctx, models.TaskPhaseThinking, "")

		// (4) goal checkpoint.
		if iter > 0 && iter%c.config.GoalCheckpointEvery == 0 && goal != "" {
			*history = append(*history, &models.Message{
				ID: uuid.NewString(), Role: models.RoleSystem, IsMeta: true,
				Content:   "Reminder of the original goal: " + goal,
				Timestamp: time.Now(),
			})
		}

		// Drain any steering messages queued since the last iteration before
		// building this one's request.
		if c.steering.HasPending() {
			for _, sm := range c.steering.Drain() {
				*history = append(*history, &models.Message{
					ID: uuid.NewString(), Role: models.RoleUser, Content: sm.Content,
					Attachments: sm.Attachments, Timestamp: time.Now(),
				})
				c.emitter.InterruptAcked(ctx, sm.Content)
			}
			c.emitter.TurnEnd(ctx)
			continue
		}

		// (5) inference.
		req := c.buildRequest(ctx, *history, maxTokens)
		resp, err := c.provider.Infer(ctx, req, func(chunk *StreamChunk) {
			c.onChunk(ctx, chunk)
		})
		if err != nil {
			c.emitter.ErrorEvent(ctx, ClassifyErrorCode(err), err.Error(), false, err)
			c.emitter.TurnEnd(ctx)
			return nil, err
		}

		// (6) steer check: a steering message arrived mid-inference.
		if c.steering.HasPending() {
			c.emitter.TurnEnd(ctx)
			continue
		}

		// (7) text-described-tool-call detection.
		if resp.Type == ResponseTypeText {
			if _, ok := DetectTextDescribedToolCall(resp.Content); ok {
				*history = append(*history, &models.Message{
					ID: uuid.NewString(), Role: models.RoleSystem, IsMeta: true,
					Content:   "Invoke the tool directly instead of describing the call in text.",
					Timestamp: time.Now(),
				})
				c.emitter.TurnEnd(ctx)
				continue
			}
		}

		if resp.Type == ResponseTypeText {
			final, done := c.handleTextResponse(ctx, sessionID, turnID, history, resp, maxTokens, &retriedTextTruncation, &stopHookRetries, nudgeCounts)
			if done {
				return final, nil
			}
			continue
		}

		// (9) tool-call response path.
		c.handleToolCallResponse(ctx, sessionID, turnID, history, resp, &maxTokens)
	}

	c.emitter.ErrorEvent(ctx, ErrorCodeMaxIterations, "iteration limit reached", false, ErrMaxIterations)
	return nil, ErrMaxIterations
}

// handleTextResponse implements step (8): the stop-hook gate, bounded
// nudges, and the truncation-retry path, returning (message, true) once the
// turn is genuinely finished.
func (c *Controller) handleTextResponse(
	ctx context.Context, sessionID, turnID string, history *[]*models.Message,
	resp *ModelResponse, maxTokens int, retriedTextTruncation *bool, stopHookRetries *int, nudgeCounts map[string]int,
) (*models.Message, bool) {
	assistantMsg := &models.Message{
		ID: uuid.NewString(), Role: models.RoleAssistant, Content: resp.Content,
		Thinking: resp.Thinking, Timestamp: time.Now(),
	}

	if c.hooks != nil {
		stopEvent := hooks.NewEvent(hooks.EventStop).WithSession(sessionID, turnID).WithMessage(assistantMsg)
		verdict := c.hooks.Dispatch(ctx, stopEvent)
		if !verdict.ShouldProceed && *stopHookRetries < c.config.MaxStopHookRetries {
			*stopHookRetries++
			*history = append(*history, &models.Message{
				ID: uuid.NewString(), Role: models.RoleSystem, IsMeta: true,
				Content: verdict.Message, Timestamp: time.Now(),
			})
			c.emitter.TurnEnd(ctx)
			return nil, false
		}
	}

	if nudge := c.evaluateNudges(nudgeCounts); nudge != "" {
		*history = append(*history, &models.Message{
			ID: uuid.NewString(), Role: models.RoleSystem, IsMeta: true,
			Content: nudge, Timestamp: time.Now(),
		})
		c.emitter.TurnEnd(ctx)
		return nil, false
	}

	if resp.Truncated {
		if _, retry := PlanTextTruncation(maxTokens, 0, *retriedTextTruncation); retry {
			*retriedTextTruncation = true
			c.emitter.TurnEnd(ctx)
			return nil, false
		}
	}

	*history = append(*history, assistantMsg)
	c.emitter.Message(ctx, assistantMsg)
	c.emitter.TaskProgress(ctx, models.TaskPhaseCompleted, "")
	c.emitter.TaskComplete(ctx)
	c.emitter.TurnEnd(ctx)
	return assistantMsg, true
}

// evaluateNudges checks the bounded anti-pattern nudges in order, returning
// the first one that should fire and hasn't exceeded its retry budget.
func (c *Controller) evaluateNudges(counts map[string]int) string {
	if msg, verdict := c.antip.RecordReadOnlyOp(); verdict == VerdictNone && msg != "" && counts["read_only"] < c.config.MaxNudgeRetries {
		counts["read_only"]++
		return msg
	}
	return ""
}

// handleToolCallResponse implements step (9): truncation recovery, message
// append, dispatch through the Scheduler, result sanitization, and the
// post-batch bookkeeping (breaker, anti-pattern, context-health check).
func (c *Controller) handleToolCallResponse(
	ctx context.Context, sessionID, turnID string, history *[]*models.Message, resp *ModelResponse, maxTokens *int,
) {
	calls := resp.ToolCalls

	if resp.Truncated {
		plan := PlanToolCallTruncation(calls, *maxTokens, 0)
		*maxTokens = plan.NewMaxTokens
		if plan.Action == TruncationAbortHeredoc {
			results := AbortedResults(calls, plan.Directive)
			c.appendTurn(ctx, history, resp, calls, results)
			return
		}
	}

	assistantMsg := &models.Message{
		ID: uuid.NewString(), Role: models.RoleAssistant, Content: resp.Content,
		Thinking: resp.Thinking, ToolCalls: calls, Timestamp: time.Now(),
	}
	*history = append(*history, assistantMsg)
	c.emitter.Message(ctx, assistantMsg)
	c.emitter.TaskProgress(ctx, models.TaskPhaseToolRunning, "")

	results := c.sched.Run(ctx, sessionID, turnID, calls)
	for i, r := range results {
		results[i] = agentctx.SanitizeToolResult(r)
		if r.Success {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordFailure(calls[i].Name, r.Error)
		}
		c.antip.RecordToolOutcome(&calls[i], &results[i])
	}

	toolMsg := &models.Message{
		ID: uuid.NewString(), Role: models.RoleTool, ToolResults: results, Timestamp: time.Now(),
	}
	*history = append(*history, toolMsg)
	c.emitter.Message(ctx, toolMsg)
	c.emitter.TurnEnd(ctx)

	if c.ctxmgr.NeedsProactiveCompaction() {
		c.emitter.Notification(ctx, "context usage is high; compaction recommended")
	}
}

func (c *Controller) appendTurn(ctx context.Context, history *[]*models.Message, resp *ModelResponse, calls []models.ToolCall, results []models.ToolResult) {
	assistantMsg := &models.Message{
		ID: uuid.NewString(), Role: models.RoleAssistant, Content: resp.Content, ToolCalls: calls, Timestamp: time.Now(),
	}
	toolMsg := &models.Message{
		ID: uuid.NewString(), Role: models.RoleTool, ToolResults: results, Timestamp: time.Now(),
	}
	*history = append(*history, assistantMsg, toolMsg)
	c.emitter.Message(ctx, assistantMsg)
	c.emitter.Message(ctx, toolMsg)
	c.emitter.TurnEnd(ctx)
}

// buildRequest synthesizes the provider-facing CompletionRequest from
// history, applying the Context Manager's per-message synthesis rules and
// the Fallback Router's capability check.
func (c *Controller) buildRequest(ctx context.Context, history []*models.Message, maxTokens int) *CompletionRequest {
	messages := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		role, content, parts := c.ctxmgr.SynthesizeMessage(m)
		messages = append(messages, CompletionMessage{
			Role: role, Content: content, Parts: parts,
			ToolCalls: m.ToolCalls, ToolResults: m.ToolResults,
		})
	}

	req := &CompletionRequest{
		Model:     c.config.Model,
		Messages:  messages,
		Tools:     c.registry.AsLLMTools(),
		MaxTokens: maxTokens,
	}

	if c.router != nil {
		active := Model{ID: c.config.Model}
		decision := c.router.Decide(ctx, active, lastUserMessageText(messages), messages)
		if decision.StripImages {
			req.Messages = StripImages(req.Messages)
		}
		if decision.Model != "" {
			c.emitter.ModelFallback(ctx, c.config.Model, decision.Model, decision.Provider, decision.Reason)
			req.Model = decision.Model
		}
		if decision.DisableTools {
			req.Tools = nil
			req.System = decision.SystemOverride
		}
	}
	return req
}

func (c *Controller) onChunk(ctx context.Context, chunk *StreamChunk) {
	switch chunk.Kind {
	case ChunkKindText:
		c.emitter.StreamChunkEvent(ctx, chunk.Content, false)
	case ChunkKindReasoning:
		c.emitter.StreamReasoningEvent(ctx, chunk.Content)
	}
}

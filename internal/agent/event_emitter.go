package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// EventEmitter is the single point through which the Loop Controller, Tool
// Scheduler, and Fallback Router publish AgentEvents. It stamps every event
// with a monotonic run-scoped sequence number and the current turn/iteration
// indices before handing it to the configured EventSink.
type EventEmitter struct {
	runID     string
	sequence  uint64
	turnIndex int
	iterIndex int
	sink      EventSink
}

// NewEventEmitter creates an emitter for runID publishing through sink.
func NewEventEmitter(runID string, sink EventSink) *EventEmitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &EventEmitter{runID: runID, sink: sink}
}

// SetTurn updates the turn index stamped on subsequent events.
func (e *EventEmitter) SetTurn(turnIndex int) { e.turnIndex = turnIndex }

// SetIter updates the iteration index stamped on subsequent events.
func (e *EventEmitter) SetIter(iterIndex int) { e.iterIndex = iterIndex }

func (e *EventEmitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *EventEmitter) base(eventType models.AgentEventType) models.AgentEvent {
	return models.AgentEvent{
		Version:   1,
		Type:      eventType,
		Time:      time.Now(),
		Sequence:  e.nextSeq(),
		RunID:     e.runID,
		TurnIndex: e.turnIndex,
		IterIndex: e.iterIndex,
	}
}

// Emit stamps and publishes ev through the sink. Callers build the
// payload-specific fields; Emit only fills the envelope.
func (e *EventEmitter) Emit(ctx context.Context, ev models.AgentEvent) {
	ev.Version = 1
	ev.Time = time.Now()
	ev.Sequence = e.nextSeq()
	ev.RunID = e.runID
	ev.TurnIndex = e.turnIndex
	ev.IterIndex = e.iterIndex
	e.sink.Emit(ctx, ev)
}

// AsFunc adapts the emitter to the func(*models.AgentEvent) shape the
// Scheduler and ToolContext expect, stamping the envelope the same way
// Emit does.
func (e *EventEmitter) AsFunc(ctx context.Context) func(*models.AgentEvent) {
	return func(ev *models.AgentEvent) {
		if ev == nil {
			return
		}
		e.Emit(ctx, *ev)
	}
}

// TurnStart emits turn_start.
func (e *EventEmitter) TurnStart(ctx context.Context) {
	e.Emit(ctx, e.base(models.AgentEventTurnStart))
}

// TurnEnd emits turn_end.
func (e *EventEmitter) TurnEnd(ctx context.Context) {
	e.Emit(ctx, e.base(models.AgentEventTurnEnd))
}

// Message emits a message event carrying the finalized Message.
func (e *EventEmitter) Message(ctx context.Context, msg *models.Message) {
	ev := e.base(models.AgentEventMessage)
	ev.Message = &models.MessageEventPayload{Message: msg}
	e.Emit(ctx, ev)
}

// StreamChunkEvent emits a stream_chunk delta during inference.
func (e *EventEmitter) StreamChunkEvent(ctx context.Context, delta string, final bool) {
	ev := e.base(models.AgentEventStreamChunk)
	ev.Stream = &models.StreamEventPayload{Delta: delta, Final: final}
	e.Emit(ctx, ev)
}

// StreamReasoningEvent emits a stream_reasoning delta during inference.
func (e *EventEmitter) StreamReasoningEvent(ctx context.Context, delta string) {
	ev := e.base(models.AgentEventStreamReasoning)
	ev.Stream = &models.StreamEventPayload{Delta: delta}
	e.Emit(ctx, ev)
}

// TaskProgress emits a task_progress event.
func (e *EventEmitter) TaskProgress(ctx context.Context, phase models.TaskProgressPhase, message string) {
	ev := e.base(models.AgentEventTaskProgress)
	ev.Progress = &models.TaskProgressPayload{Phase: phase, Message: message}
	e.Emit(ctx, ev)
}

// TaskComplete emits task_complete.
func (e *EventEmitter) TaskComplete(ctx context.Context) {
	e.Emit(ctx, e.base(models.AgentEventTaskComplete))
}

// ModelFallback emits model_fallback when the Fallback Router switches models.
func (e *EventEmitter) ModelFallback(ctx context.Context, from, to, provider, reason string) {
	ev := e.base(models.AgentEventModelFallback)
	ev.Fallback = &models.FallbackEventPayload{FromModel: from, ToModel: to, Provider: provider, Reason: reason}
	e.Emit(ctx, ev)
}

// APIKeyRequired emits api_key_required when a fallback model's credential
// could not be resolved.
func (e *EventEmitter) APIKeyRequired(ctx context.Context, provider string) {
	ev := e.base(models.AgentEventAPIKeyRequired)
	ev.Fallback = &models.FallbackEventPayload{Provider: provider}
	e.Emit(ctx, ev)
}

// BudgetWarning emits budget_warning.
func (e *EventEmitter) BudgetWarning(ctx context.Context, used, limit int, fraction float64) {
	ev := e.base(models.AgentEventBudgetWarning)
	ev.Budget = &models.BudgetEventPayload{UsedTokens: used, LimitTokens: limit, Fraction: fraction}
	e.Emit(ctx, ev)
}

// BudgetExceeded emits budget_exceeded.
func (e *EventEmitter) BudgetExceeded(ctx context.Context, used, limit int) {
	ev := e.base(models.AgentEventBudgetExceeded)
	ev.Budget = &models.BudgetEventPayload{UsedTokens: used, LimitTokens: limit, Fraction: 1}
	e.Emit(ctx, ev)
}

// ContextCompressed emits context_compressed after a compaction pass.
func (e *EventEmitter) ContextCompressed(ctx context.Context, block *models.CompactionBlock) {
	ev := e.base(models.AgentEventContextCompressed)
	if block != nil {
		ev.Compaction = &models.CompactionEventPayload{
			MessagesCompacted: block.MessagesCompacted,
			TokensSaved:       block.TokensSaved,
			Summary:           block.Summary,
		}
	}
	e.Emit(ctx, ev)
}

// InterruptAcked emits interrupt_acknowledged when a steering message
// aborts an in-flight inference.
func (e *EventEmitter) InterruptAcked(ctx context.Context, content string) {
	ev := e.base(models.AgentEventInterruptAcked)
	ev.Steering = &models.SteeringEventPayload{Content: content}
	e.Emit(ctx, ev)
}

// Notification emits notification with a free-form text payload.
func (e *EventEmitter) Notification(ctx context.Context, text string) {
	ev := e.base(models.AgentEventNotification)
	ev.Text = &models.TextEventPayload{Text: text}
	e.Emit(ctx, ev)
}

// ErrorEvent emits error with a stable error code.
func (e *EventEmitter) ErrorEvent(ctx context.Context, code ErrorCode, message string, retriable bool, err error) {
	ev := e.base(models.AgentEventError)
	ev.Error = &models.ErrorEventPayload{Message: message, Code: string(code), Retriable: retriable, Err: err}
	e.Emit(ctx, ev)
}

// AgentComplete emits agent_complete, the single event guaranteed to fire
// exactly once at the end of every run regardless of how it ended.
func (e *EventEmitter) AgentComplete(ctx context.Context, stats *models.RunStats) {
	ev := e.base(models.AgentEventAgentComplete)
	if stats != nil {
		ev.Stats = &models.StatsEventPayload{Run: stats}
	}
	e.Emit(ctx, ev)
}

// StatsCollector accumulates RunStats from the event stream, used by
// callers that want run-level metrics without re-deriving them from raw
// events themselves.
type StatsCollector struct {
	stats      models.RunStats
	modelStart time.Time
	toolStarts map[string]time.Time
}

// NewStatsCollector creates a collector seeded with runID and the current
// time as the run's start.
func NewStatsCollector(runID string) *StatsCollector {
	return &StatsCollector{
		stats:      models.RunStats{RunID: runID, StartedAt: time.Now()},
		toolStarts: make(map[string]time.Time),
	}
}

// OnEvent folds one AgentEvent into the running totals.
func (c *StatsCollector) OnEvent(_ context.Context, e models.AgentEvent) {
	switch e.Type {
	case models.AgentEventTurnStart:
		c.stats.Turns++
	case models.AgentEventStreamChunk:
		if c.modelStart.IsZero() {
			c.modelStart = time.Now()
		}
		if e.Stream != nil {
			c.stats.InputTokens += e.Stream.InputTokens
			c.stats.OutputTokens += e.Stream.OutputTokens
		}
	case models.AgentEventToolCallStart:
		c.stats.Iters++
		if e.Tool != nil {
			c.toolStarts[e.Tool.CallID] = time.Now()
		}
	case models.AgentEventToolCallEnd:
		c.stats.ToolCalls++
		if e.Tool != nil {
			if start, ok := c.toolStarts[e.Tool.CallID]; ok {
				c.stats.ToolWallTime += time.Since(start)
				delete(c.toolStarts, e.Tool.CallID)
			}
			if !e.Tool.Success {
				c.stats.Errors++
			}
		}
	case models.AgentEventError:
		c.stats.Errors++
	case models.AgentEventContextCompressed:
		c.stats.ContextPacks++
	}
}

// Emit satisfies EventSink by folding the event into stats and discarding
// it; a StatsCollector never forwards events to downstream consumers.
func (c *StatsCollector) Emit(ctx context.Context, e models.AgentEvent) {
	c.OnEvent(ctx, e)
}

// Stats returns a snapshot of accumulated run statistics with FinishedAt and
// WallTime filled in as of the call.
func (c *StatsCollector) Stats() *models.RunStats {
	snapshot := c.stats
	snapshot.FinishedAt = time.Now()
	snapshot.WallTime = snapshot.FinishedAt.Sub(snapshot.StartedAt)
	return &snapshot
}

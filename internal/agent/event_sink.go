package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/nexus/pkg/models"
)

// EventSink receives stamped AgentEvents from an EventEmitter.
// Implementations must be safe for concurrent use.
type EventSink interface {
	Emit(ctx context.Context, e models.AgentEvent)
}

// NopSink discards every event. It is the zero-value default for an
// EventEmitter constructed without an explicit sink.
type NopSink struct{}

// Emit implements EventSink by doing nothing.
func (NopSink) Emit(context.Context, models.AgentEvent) {}

// ChanSink delivers events onto a buffered channel, blocking once the
// buffer is full. Close must be called exactly once when no more events
// will be emitted.
type ChanSink struct {
	ch     chan models.AgentEvent
	closed uint32
}

// NewChanSink creates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan models.AgentEvent, buffer)}
}

// Emit sends e on the channel, silently dropping it if the sink is closed.
func (s *ChanSink) Emit(_ context.Context, e models.AgentEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	s.ch <- e
}

// Events returns the receive-only channel events are delivered on.
func (s *ChanSink) Events() <-chan models.AgentEvent { return s.ch }

// Close closes the underlying channel. Safe to call once.
func (s *ChanSink) Close() {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.ch)
	}
}

// MultiSink fans a single event out to every configured sink.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a sink that forwards to each of sinks in order.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Emit forwards e to every configured sink.
func (m *MultiSink) Emit(ctx context.Context, e models.AgentEvent) {
	for _, s := range m.sinks {
		s.Emit(ctx, e)
	}
}

// CallbackSink adapts a plain function to EventSink.
type CallbackSink struct {
	fn func(context.Context, models.AgentEvent)
}

// NewCallbackSink wraps fn as an EventSink.
func NewCallbackSink(fn func(context.Context, models.AgentEvent)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit invokes the wrapped function.
func (c *CallbackSink) Emit(ctx context.Context, e models.AgentEvent) {
	if c.fn != nil {
		c.fn(ctx, e)
	}
}

// BackpressureConfig sizes a BackpressureSink's priority buffers.
type BackpressureConfig struct {
	HighPriBuffer int
	LowPriBuffer  int
}

// DefaultBackpressureConfig returns the spec's stated defaults.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{HighPriBuffer: 32, LowPriBuffer: 256}
}

// isDroppableEvent reports whether an event type is safe to drop under
// backpressure: high-frequency streaming deltas, where losing one is
// harmless because the next delta (or the final message event) supersedes
// it. Every other event type is load-bearing and always delivered.
func isDroppableEvent(t models.AgentEventType) bool {
	switch t {
	case models.AgentEventStreamChunk, models.AgentEventStreamReasoning, models.AgentEventStreamToolCallDelta:
		return true
	default:
		return false
	}
}

// BackpressureSink routes load-bearing events through an unbounded-effort
// high-priority path and droppable streaming deltas through a bounded
// low-priority path, so a slow consumer can never block turn-critical
// events behind a backlog of text deltas.
type BackpressureSink struct {
	downstream EventSink
	highPri    chan models.AgentEvent
	lowPri     chan models.AgentEvent
	merged     chan models.AgentEvent
	dropped    uint64
	closed     uint32
	wg         sync.WaitGroup
}

// NewBackpressureSink starts a BackpressureSink forwarding to downstream.
func NewBackpressureSink(downstream EventSink, config BackpressureConfig) *BackpressureSink {
	if config.HighPriBuffer <= 0 {
		config.HighPriBuffer = 32
	}
	if config.LowPriBuffer <= 0 {
		config.LowPriBuffer = 256
	}
	s := &BackpressureSink{
		downstream: downstream,
		highPri:    make(chan models.AgentEvent, config.HighPriBuffer),
		lowPri:     make(chan models.AgentEvent, config.LowPriBuffer),
		merged:     make(chan models.AgentEvent, config.HighPriBuffer+config.LowPriBuffer),
	}
	s.wg.Add(1)
	go s.mergeLoop()
	return s
}

func (s *BackpressureSink) mergeLoop() {
	defer s.wg.Done()
	for {
		select {
		case e, ok := <-s.highPri:
			if !ok {
				s.drainLow()
				return
			}
			s.merged <- e
		case e, ok := <-s.lowPri:
			if ok {
				s.merged <- e
			}
		}
	}
}

func (s *BackpressureSink) drainLow() {
	for {
		select {
		case e, ok := <-s.lowPri:
			if !ok {
				close(s.merged)
				return
			}
			s.merged <- e
		default:
			close(s.merged)
			return
		}
	}
}

// Emit routes e to the high- or low-priority path based on droppability.
// Low-priority events are dropped (incrementing DroppedCount) rather than
// blocking when the low-priority buffer is full.
func (s *BackpressureSink) Emit(ctx context.Context, e models.AgentEvent) {
	if atomic.LoadUint32(&s.closed) == 1 {
		return
	}
	if !isDroppableEvent(e.Type) {
		s.highPri <- e
		return
	}
	select {
	case s.lowPri <- e:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// DroppedCount reports how many low-priority events have been dropped.
func (s *BackpressureSink) DroppedCount() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops accepting events and drains the merge loop, forwarding every
// buffered event to downstream before returning.
func (s *BackpressureSink) Close() {
	if !atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		return
	}
	close(s.highPri)
	for e := range s.merged {
		s.downstream.Emit(context.Background(), e)
	}
	s.wg.Wait()
}

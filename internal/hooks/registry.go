package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Registry manages hook registrations and dispatches events in priority order.
type Registry struct {
	handlers map[EventType][]*Registration
	byID     map[string]*Registration
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[EventType][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
	}
}

// Register adds a handler for an event type. Returns the registration ID.
func (r *Registry) Register(eventType EventType, handler Handler, opts ...RegisterOption) string {
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: string(eventType),
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[eventType] = append(r.handlers[eventType], reg)
	r.byID[reg.ID] = reg

	sort.SliceStable(r.handlers[eventType], func(i, j int) bool {
		return r.handlers[eventType][i].Priority < r.handlers[eventType][j].Priority
	})

	r.logger.Debug("registered hook", "id", reg.ID, "event", eventType, "name", reg.Name, "priority", reg.Priority)
	return reg.ID
}

// RegisterOption configures a registration at Register time.
type RegisterOption func(*Registration)

// WithPriority sets the handler priority.
func WithPriority(p Priority) RegisterOption {
	return func(r *Registration) { r.Priority = p }
}

// WithName sets the handler's debug name.
func WithName(name string) RegisterOption {
	return func(r *Registration) { r.Name = name }
}

// WithSource identifies where a handler was registered from.
func WithSource(source string) RegisterOption {
	return func(r *Registration) { r.Source = source }
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.byID[id]
	if !exists {
		return false
	}
	delete(r.byID, id)

	eventType := EventType(reg.EventKey)
	handlers := r.handlers[eventType]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[eventType] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[EventType][]*Registration)
	r.byID = make(map[string]*Registration)
}

// Dispatch runs handlers for event.Type in priority order and short-circuits
// on the first handler whose verdict says ShouldProceed == false. A handler
// error is logged and treated as Proceed (hook failures never abort the run).
func (r *Registry) Dispatch(ctx context.Context, event *Event) Verdict {
	if event == nil {
		return Proceed()
	}

	r.mu.RLock()
	handlers := append([]*Registration(nil), r.handlers[event.Type]...)
	r.mu.RUnlock()

	for _, reg := range handlers {
		verdict, err := r.callHandler(ctx, reg, event)
		if err != nil {
			r.logger.Warn("hook handler error",
				"event_type", event.Type, "handler_id", reg.ID, "handler_name", reg.Name, "error", err)
			continue
		}
		if !verdict.ShouldProceed {
			r.logger.Debug("hook blocked", "event_type", event.Type, "handler_name", reg.Name, "message", verdict.Message)
			return verdict
		}
	}
	return Proceed()
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *Event) (verdict Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

// DispatchAsync runs Dispatch in a goroutine and discards the verdict; useful
// for EventSessionEnd-style notifications that cannot block the caller.
func (r *Registry) DispatchAsync(ctx context.Context, event *Event) {
	go r.Dispatch(ctx, event)
}

// RegisteredEvents returns every event type with at least one handler.
func (r *Registry) RegisteredEvents() []EventType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]EventType, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// HandlerCount returns the number of handlers registered for an event type.
func (r *Registry) HandlerCount(eventType EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventType])
}

// GetRegistration looks up a registration by ID.
func (r *Registry) GetRegistration(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	return reg, ok
}

// ListRegistrations returns a copy of the registrations for an event type.
func (r *Registry) ListRegistrations(eventType EventType) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handlers := r.handlers[eventType]
	result := make([]*Registration, len(handlers))
	copy(result, handlers)
	return result
}

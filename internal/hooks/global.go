package hooks

import (
	"context"
	"log/slog"
	"sync"
)

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the global hook registry.
// The registry is created lazily on first access.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(nil)
	})
	return globalRegistry
}

// SetGlobalRegistry replaces the global registry.
// This should only be called during initialization.
func SetGlobalRegistry(r *Registry) {
	globalRegistry = r
}

// SetGlobalLogger sets the logger for the global registry.
func SetGlobalLogger(logger *slog.Logger) {
	Global().logger = logger.With("component", "hooks")
}

// Register adds a handler to the global registry.
func Register(eventType EventType, handler Handler, opts ...RegisterOption) string {
	return Global().Register(eventType, handler, opts...)
}

// Unregister removes a handler from the global registry.
func Unregister(id string) bool {
	return Global().Unregister(id)
}

// Dispatch runs the global registry's handlers for event.Type.
func Dispatch(ctx context.Context, event *Event) Verdict {
	return Global().Dispatch(ctx, event)
}

// DispatchAsync runs Dispatch on the global registry without blocking the caller.
func DispatchAsync(ctx context.Context, event *Event) {
	Global().DispatchAsync(ctx, event)
}

// On registers a handler for an event type on the global registry.
func On(eventType EventType, handler Handler, opts ...RegisterOption) string {
	return Register(eventType, handler, opts...)
}

package agent

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerConfig configures the tool-call circuit breaker.
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures is the number of consecutive tool-call failures
	// that trips the breaker.
	MaxConsecutiveFailures int

	// CooldownPeriod, if non-zero, auto-resets a tripped breaker once this
	// much time has elapsed since it tripped. Zero means the breaker stays
	// tripped until Reset is called explicitly.
	CooldownPeriod time.Duration
}

// DefaultCircuitBreakerConfig returns the spec's stated default: trip after
// 5 consecutive tool failures, no automatic cooldown.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxConsecutiveFailures: 5}
}

// CircuitBreaker counts consecutive tool-call failures across a run and
// refuses further tool dispatch once the threshold is reached. It is scoped
// to tool-call failures, not provider/transport failures (see
// FailoverOrchestrator for the latter).
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig

	consecutiveFailures int
	tripped             bool
	trippedAt           time.Time
	lastToolName        string
	lastError           string
}

// NewCircuitBreaker creates a breaker with the given config. A zero
// MaxConsecutiveFailures is replaced with the default of 5.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = DefaultCircuitBreakerConfig().MaxConsecutiveFailures
	}
	return &CircuitBreaker{config: config}
}

// RecordSuccess resets the consecutive-failure count to zero and clears any
// tripped state. A single success is enough to reset, per spec's testable
// property "breaker resets to 0 after any success".
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.tripped = false
	b.lastToolName = ""
	b.lastError = ""
}

// RecordFailure records a tool-call failure and trips the breaker if the
// consecutive-failure count reaches the configured threshold.
func (b *CircuitBreaker) RecordFailure(toolName, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++
	b.lastToolName = toolName
	b.lastError = errMsg
	if b.consecutiveFailures >= b.config.MaxConsecutiveFailures {
		b.tripped = true
		b.trippedAt = time.Now()
	}
}

// Tripped reports whether the breaker currently refuses tool dispatch. If a
// cooldown is configured and has elapsed since the trip, the breaker
// auto-resets and this returns false.
func (b *CircuitBreaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return false
	}
	if b.config.CooldownPeriod > 0 && time.Since(b.trippedAt) >= b.config.CooldownPeriod {
		b.consecutiveFailures = 0
		b.tripped = false
		return false
	}
	return true
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// Reset clears the breaker unconditionally.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.tripped = false
	b.lastToolName = ""
	b.lastError = ""
}

// ModelWarning returns a nudge suitable for injecting into the model's
// context when it is approaching the trip threshold, or "" if not close.
// "Close" means at least half the threshold has been reached.
func (b *CircuitBreaker) ModelWarning() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped || b.consecutiveFailures*2 < b.config.MaxConsecutiveFailures {
		return ""
	}
	remaining := b.config.MaxConsecutiveFailures - b.consecutiveFailures
	return fmt.Sprintf(
		"Warning: %d consecutive tool calls have failed. %d more failures will halt execution. "+
			"Consider a different approach before retrying %q.",
		b.consecutiveFailures, remaining, b.lastToolName,
	)
}

// BreakerSnapshot is a read-only view of the breaker's current status,
// published by the Event Emitter alongside circuit_breaker-adjacent events
// so consumers can show failure count/cooldown without racing the breaker's
// own mutex.
type BreakerSnapshot struct {
	ConsecutiveFailures int
	Tripped             bool
	CooldownRemaining   time.Duration
}

// Snapshot returns the breaker's current status without mutating it.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := BreakerSnapshot{ConsecutiveFailures: b.consecutiveFailures, Tripped: b.tripped}
	if b.tripped && b.config.CooldownPeriod > 0 {
		remaining := b.config.CooldownPeriod - time.Since(b.trippedAt)
		if remaining > 0 {
			snap.CooldownRemaining = remaining
		}
	}
	return snap
}

// UserMessage returns the synthetic assistant message appended to the
// conversation when the breaker trips, per spec's CIRCUIT_BREAKER_TRIPPED
// error handling (§7): execution stops with a user-visible explanation
// rather than a bare exception.
func (b *CircuitBreaker) UserMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf(
		"I've stopped after %d consecutive tool failures (most recently %q: %s). "+
			"Let me know how you'd like to proceed.",
		b.consecutiveFailures, b.lastToolName, b.lastError,
	)
}

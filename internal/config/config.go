// Package config loads the control loop's policy knobs from a YAML file,
// following the same load/apply-defaults/validate pipeline the teacher's
// gateway configuration used, narrowed to the surface this core actually
// exposes: the Loop Controller, Tool Scheduler, Anti-Pattern Detector,
// Context Manager, Fallback Router, and Circuit Breaker.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/agent"
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
)

// Config is the policy file loaded for a loop run. Every section mirrors a
// component's own Config/Options type; Load converts each section into its
// component-native form via the To*() methods below rather than the
// components depending on this package directly.
type Config struct {
	Loop        LoopConfig        `yaml:"loop"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	AntiPattern AntiPatternConfig `yaml:"anti_pattern"`
	Context     ContextConfig     `yaml:"context"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Logging     LoggingConfig     `yaml:"logging"`
	Anthropic   AnthropicConfig   `yaml:"anthropic"`
}

// LoopConfig mirrors agent.LoopConfig's non-runtime fields (Logger is wired
// in code, never loaded from a file).
type LoopConfig struct {
	MaxIterations       int    `yaml:"max_iterations"`
	GoalCheckpointEvery int    `yaml:"goal_checkpoint_every"`
	MaxStopHookRetries  int    `yaml:"max_stop_hook_retries"`
	MaxNudgeRetries     int    `yaml:"max_nudge_retries"`
	Model               string `yaml:"model"`
	MaxTokens           int    `yaml:"max_tokens"`
}

// ToAgentConfig returns the agent.LoopConfig this section describes, with
// logger attached separately by the caller.
func (c LoopConfig) ToAgentConfig(logger *slog.Logger) agent.LoopConfig {
	return agent.LoopConfig{
		MaxIterations:       c.MaxIterations,
		GoalCheckpointEvery: c.GoalCheckpointEvery,
		MaxStopHookRetries:  c.MaxStopHookRetries,
		MaxNudgeRetries:     c.MaxNudgeRetries,
		Model:               c.Model,
		MaxTokens:           c.MaxTokens,
		Logger:              logger,
	}
}

// SchedulerConfig mirrors agent.SchedulerConfig.
type SchedulerConfig struct {
	MaxParallel    int           `yaml:"max_parallel"`
	PerToolTimeout time.Duration `yaml:"per_tool_timeout"`
}

func (c SchedulerConfig) ToAgentConfig() agent.SchedulerConfig {
	return agent.SchedulerConfig{MaxParallel: c.MaxParallel, PerToolTimeout: c.PerToolTimeout}
}

// AntiPatternConfig mirrors agent.AntiPatternConfig.
type AntiPatternConfig struct {
	ReadOnlyWarnBeforeWrite int `yaml:"read_only_warn_before_write"`
	ReadOnlyWarnAfterWrite  int `yaml:"read_only_warn_after_write"`
	ReadOnlyHardLimit       int `yaml:"read_only_hard_limit"`
	ExactRepeatCap          int `yaml:"exact_repeat_cap"`
	DuplicateCap            int `yaml:"duplicate_cap"`
	ExploringNudgeInterval  int `yaml:"exploring_nudge_interval"`
}

func (c AntiPatternConfig) ToAgentConfig() agent.AntiPatternConfig {
	return agent.AntiPatternConfig{
		ReadOnlyWarnBeforeWrite: c.ReadOnlyWarnBeforeWrite,
		ReadOnlyWarnAfterWrite:  c.ReadOnlyWarnAfterWrite,
		ReadOnlyHardLimit:       c.ReadOnlyHardLimit,
		ExactRepeatCap:          c.ExactRepeatCap,
		DuplicateCap:            c.DuplicateCap,
		ExploringNudgeInterval:  c.ExploringNudgeInterval,
	}
}

// ContextConfig mirrors agentctx.SummarizationConfig.
type ContextConfig struct {
	MaxMsgsBeforeSummary int `yaml:"max_msgs_before_summary"`
	KeepRecentMessages   int `yaml:"keep_recent_messages"`
	MaxSummaryLength     int `yaml:"max_summary_length"`
}

func (c ContextConfig) ToAgentConfig() agentctx.SummarizationConfig {
	return agentctx.SummarizationConfig{
		MaxMsgsBeforeSummary: c.MaxMsgsBeforeSummary,
		KeepRecentMessages:   c.KeepRecentMessages,
		MaxSummaryLength:     c.MaxSummaryLength,
	}
}

// FallbackConfig mirrors agent.FallbackConfig.
type FallbackConfig struct {
	VisionFallbackModel    string `yaml:"vision_fallback_model"`
	VisionFallbackProvider string `yaml:"vision_fallback_provider"`
}

func (c FallbackConfig) ToAgentConfig() agent.FallbackConfig {
	return agent.FallbackConfig{
		VisionFallbackModel:    c.VisionFallbackModel,
		VisionFallbackProvider: c.VisionFallbackProvider,
	}
}

// BreakerConfig mirrors agent.CircuitBreakerConfig.
type BreakerConfig struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	CooldownPeriod         time.Duration `yaml:"cooldown_period"`
}

func (c BreakerConfig) ToAgentConfig() agent.CircuitBreakerConfig {
	return agent.CircuitBreakerConfig{
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		CooldownPeriod:         c.CooldownPeriod,
	}
}

// LoggingConfig controls the shared slog.Logger every component accepts.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is json or text. Defaults to json.
	Format string `yaml:"format"`
}

// AnthropicConfig holds the single vendor credential this core ships a real
// provider adapter for. APIKey is never read from the file itself — see
// applyEnvOverrides — only declared here so the field has a documented home.
type AnthropicConfig struct {
	APIKey string `yaml:"-"`
}

// Load reads the YAML policy file at path, resolving $include directives via
// LoadRaw, applies environment overrides for secrets, fills defaults for any
// zero-valued section, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides pulls secrets from the environment rather than the
// policy file, mirroring the teacher's env-override pass for credentials.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.Anthropic.APIKey = key
	}
}

func applyDefaults(cfg *Config) {
	if (cfg.Loop == LoopConfig{}) {
		def := agent.DefaultLoopConfig()
		cfg.Loop = LoopConfig{
			MaxIterations:       def.MaxIterations,
			GoalCheckpointEvery: def.GoalCheckpointEvery,
			MaxStopHookRetries:  def.MaxStopHookRetries,
			MaxNudgeRetries:     def.MaxNudgeRetries,
			Model:               def.Model,
			MaxTokens:           def.MaxTokens,
		}
	}
	if (cfg.Scheduler == SchedulerConfig{}) {
		def := agent.DefaultSchedulerConfig()
		cfg.Scheduler = SchedulerConfig{MaxParallel: def.MaxParallel, PerToolTimeout: def.PerToolTimeout}
	}
	if (cfg.AntiPattern == AntiPatternConfig{}) {
		def := agent.DefaultAntiPatternConfig()
		cfg.AntiPattern = AntiPatternConfig{
			ReadOnlyWarnBeforeWrite: def.ReadOnlyWarnBeforeWrite,
			ReadOnlyWarnAfterWrite:  def.ReadOnlyWarnAfterWrite,
			ReadOnlyHardLimit:       def.ReadOnlyHardLimit,
			ExactRepeatCap:          def.ExactRepeatCap,
			DuplicateCap:            def.DuplicateCap,
			ExploringNudgeInterval:  def.ExploringNudgeInterval,
		}
	}
	if (cfg.Context == ContextConfig{}) {
		def := agentctx.DefaultSummarizationConfig()
		cfg.Context = ContextConfig{
			MaxMsgsBeforeSummary: def.MaxMsgsBeforeSummary,
			KeepRecentMessages:   def.KeepRecentMessages,
			MaxSummaryLength:     def.MaxSummaryLength,
		}
	}
	if (cfg.Fallback == FallbackConfig{}) {
		def := agent.DefaultFallbackConfig()
		cfg.Fallback = FallbackConfig{
			VisionFallbackModel:    def.VisionFallbackModel,
			VisionFallbackProvider: def.VisionFallbackProvider,
		}
	}
	if (cfg.Breaker == BreakerConfig{}) {
		def := agent.DefaultCircuitBreakerConfig()
		cfg.Breaker = BreakerConfig{MaxConsecutiveFailures: def.MaxConsecutiveFailures, CooldownPeriod: def.CooldownPeriod}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ConfigValidationError collects every validation issue found, rather than
// failing on the first one, so an operator can fix a policy file in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Issues, "; "))
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.Loop.MaxIterations <= 0 {
		issues = append(issues, "loop.max_iterations must be positive")
	}
	if cfg.Scheduler.MaxParallel <= 0 {
		issues = append(issues, "scheduler.max_parallel must be positive")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q is not one of json, text", cfg.Logging.Format))
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

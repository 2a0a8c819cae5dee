// Command loopctl is a small harness that wires a loop controller with an
// in-memory session, a stub echo tool, and the Anthropic provider, to
// exercise the whole agent core end to end from a terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/config"
	contextwindow "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "loopctl",
		Short: "Drive the agent control loop from the command line",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a loop policy YAML file (optional)")

	root.AddCommand(newRunCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var sessionID, dbPath string

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run the loop once against a single prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), args[0], *configPath, sessionID, dbPath)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session ID to continue (creates a new one if omitted)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path for session persistence (in-memory if omitted)")
	return cmd
}

func runOnce(ctx context.Context, prompt, configPath, sessionID, dbPath string) error {
	cfg, err := loadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}

	logger := newLogger(cfg.Logging)

	store, closeStore, err := openStore(dbPath)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer closeStore()

	session, history, err := resolveSession(ctx, store, sessionID)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}

	userMsg := &models.Message{ID: uuid.NewString(), Role: models.RoleUser, Content: prompt}
	history = append(history, userMsg)
	if err := store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}

	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       cfg.Anthropic.APIKey,
		DefaultModel: cfg.Loop.Model,
	})
	if err != nil {
		return fmt.Errorf("construct provider: %w", err)
	}

	registry := agent.NewToolRegistry()
	registry.Register(newEchoTool())

	sink := agent.NewCallbackSink(func(_ context.Context, e models.AgentEvent) {
		logger.Debug("event", "type", e.Type, "run_id", e.RunID, "iter", e.IterIndex)
	})
	emitter := agent.NewEventEmitter(uuid.NewString(), sink)
	sched := agent.NewScheduler(registry, hooks.NewRegistry(logger), cfg.Scheduler.ToAgentConfig(), func(ev *models.AgentEvent) {
		emitter.Emit(ctx, *ev)
	})
	breaker := agent.NewCircuitBreaker(cfg.Breaker.ToAgentConfig())
	antip := agent.NewAntiPatternDetector(cfg.AntiPattern.ToAgentConfig())

	ctxManager := newContextManager(cfg)

	controller := agent.NewController(
		provider, registry, sched, ctxManager, breaker, antip,
		hooks.NewRegistry(logger), nil, emitter, nil,
		cfg.Loop.ToAgentConfig(logger),
	)

	result, err := controller.Run(ctx, session.ID, prompt, &history)
	if err != nil {
		return fmt.Errorf("run loop: %w", err)
	}
	if result != nil {
		if err := store.AppendMessage(ctx, session.ID, result); err != nil {
			return fmt.Errorf("append assistant message: %w", err)
		}
		fmt.Println(result.Content)
	}
	return nil
}

func loadOrDefault(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		// reuse Load's default-fill/validate pipeline against an empty file
		// by constructing the zero-valued sections directly instead.
		cfg.Loop = config.LoopConfig{
			MaxIterations: 25, GoalCheckpointEvery: 8, MaxStopHookRetries: 3,
			MaxNudgeRetries: 2, MaxTokens: 4096, Model: "claude-sonnet-4-20250514",
		}
		cfg.Scheduler = config.SchedulerConfig{MaxParallel: agent.MaxParallelTools}
		cfg.AntiPattern = config.AntiPatternConfig(agent.DefaultAntiPatternConfig())
		cfg.Breaker = config.BreakerConfig{MaxConsecutiveFailures: 5}
		cfg.Context = config.ContextConfig{MaxMsgsBeforeSummary: 30, KeepRecentMessages: 10, MaxSummaryLength: 2000}
		cfg.Logging = config.LoggingConfig{Level: "info", Format: "text"}
		cfg.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		return cfg, nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newContextManager(cfg *config.Config) *agentctx.Manager {
	win := contextwindow.NewWindowForModel(cfg.Loop.Model)
	return agentctx.NewManager(win, agentctx.ManagerOptions{
		KeepRecentMessages: cfg.Context.KeepRecentMessages,
	})
}

func openStore(dbPath string) (sessions.Store, func(), error) {
	if dbPath == "" {
		return sessions.NewMemoryStore(), func() {}, nil
	}
	store, err := sessions.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func resolveSession(ctx context.Context, store sessions.Store, sessionID string) (*models.Session, []*models.Message, error) {
	if sessionID == "" {
		session := &models.Session{Title: "loopctl run"}
		if err := store.Create(ctx, session); err != nil {
			return nil, nil, err
		}
		return session, nil, nil
	}
	session, err := store.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	history, err := store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		return nil, nil, err
	}
	return session, history, nil
}

// echoTool is a minimal stub tool used to exercise the scheduler/loop
// plumbing without depending on any real side-effecting tool implementation.
type echoTool struct{}

func newEchoTool() *echoTool { return &echoTool{} }

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echoes the given message back." }
func (echoTool) ParallelSafe() bool  { return true }

func (echoTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"message": {"type": "string"}},
		"required": ["message"]
	}`)
}

func (echoTool) Execute(_ *agent.ToolContext, params json.RawMessage) (*models.ToolResult, error) {
	var args struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return &models.ToolResult{Success: false, Error: err.Error()}, nil
	}
	return &models.ToolResult{Success: true, Output: args.Message}, nil
}

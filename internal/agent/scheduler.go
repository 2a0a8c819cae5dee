package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexus/internal/hooks"
	"github.com/haasonsaas/nexus/pkg/models"
)

// MaxParallelTools caps how many tool calls the scheduler dispatches at
// once within a single DAG layer.
const MaxParallelTools = 4

// SchedulerConfig tunes the Tool Scheduler's dispatch behavior.
type SchedulerConfig struct {
	MaxParallel    int
	PerToolTimeout time.Duration
}

// DefaultSchedulerConfig returns the spec's stated defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxParallel:    MaxParallelTools,
		PerToolTimeout: 30 * time.Second,
	}
}

// Scheduler executes a batch of tool calls from a single assistant turn,
// deriving a dependency DAG from the files each call reads or writes so
// independent calls run concurrently while conflicting ones serialize in
// the model's original order (§4.2).
type Scheduler struct {
	registry *ToolRegistry
	hooks    *hooks.Registry
	config   SchedulerConfig
	emit     func(*models.AgentEvent)
}

// NewScheduler builds a Scheduler dispatching against registry, firing
// pre/post-tool hooks through hookRegistry (nil disables hooks), and
// reporting tool_call_start/tool_call_end through emit (nil discards them).
func NewScheduler(registry *ToolRegistry, hookRegistry *hooks.Registry, config SchedulerConfig, emit func(*models.AgentEvent)) *Scheduler {
	if config.MaxParallel <= 0 {
		config.MaxParallel = MaxParallelTools
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if emit == nil {
		emit = func(*models.AgentEvent) {}
	}
	return &Scheduler{registry: registry, hooks: hookRegistry, config: config, emit: emit}
}

// node is one tool call in the dependency graph.
type node struct {
	index        int
	call         models.ToolCall
	parallelSafe bool
	reads        []string
	writes       []string
}

// Run classifies, sequences, and executes calls, returning one ToolResult
// per call in the same order calls was given.
func (s *Scheduler) Run(ctx context.Context, sessionID, turnID string, calls []models.ToolCall) []models.ToolResult {
	calls = sanitizeCalls(calls)
	nodes := s.buildNodes(calls)
	layers := s.layer(nodes)

	results := make([]models.ToolResult, len(calls))
	for _, layer := range layers {
		for _, batch := range chunk(layer, s.config.MaxParallel) {
			s.runBatch(ctx, sessionID, turnID, batch, nodes, results)
		}
	}
	return results
}

// buildNodes classifies each call (parallel-safe vs mutating) and extracts
// the file path(s) it reads or writes, the information WAR/WAW edges need.
func (s *Scheduler) buildNodes(calls []models.ToolCall) []node {
	nodes := make([]node, len(calls))
	for i, c := range calls {
		n := node{index: i, call: c, parallelSafe: s.isParallelSafe(c.Name)}
		n.reads, n.writes = extractPaths(c)
		nodes[i] = n
	}
	return nodes
}

func (s *Scheduler) isParallelSafe(name string) bool {
	if strings.HasPrefix(name, "mcp_") {
		// MCP tools default to parallel-safe unless their name clearly
		// signals a write/create operation.
		lower := strings.ToLower(name)
		if strings.Contains(lower, "write") || strings.Contains(lower, "create") ||
			strings.Contains(lower, "delete") || strings.Contains(lower, "update") {
			return false
		}
		return true
	}
	if tool, ok := s.registry.Get(name); ok {
		return tool.ParallelSafe()
	}
	return false
}

// writeArgTools maps a tool name to the JSON argument key holding the file
// path it writes to. shellTools maps a tool name to the key holding the raw
// command line, from which redirection targets are parsed.
var writeArgTools = map[string]string{
	"write_file": "path",
	"edit_file":  "path",
}

var shellTools = map[string]string{
	"bash": "command",
}

// shellRedirectRe matches a shell output-redirection operator followed by
// its target path, used to derive write edges for bash-family tool calls.
var shellRedirectRe = regexp.MustCompile(`(?:>>|>)\s*([^\s;&|]+)`)

func redirectTargets(cmd string) []string {
	matches := shellRedirectRe.FindAllStringSubmatch(cmd, -1)
	targets := make([]string, 0, len(matches))
	for _, m := range matches {
		targets = append(targets, strings.Trim(m[1], `"'`))
	}
	return targets
}

func extractPaths(c models.ToolCall) (reads []string, writes []string) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(c.Arguments, &raw); err != nil {
		return nil, nil
	}

	if key, ok := writeArgTools[c.Name]; ok {
		if p := stringField(raw, key); p != "" {
			writes = append(writes, normalizePath(p))
		}
	}
	if c.Name == "read_file" {
		if p := stringField(raw, "path"); p != "" {
			reads = append(reads, normalizePath(p))
		}
	}
	if key, ok := shellTools[c.Name]; ok {
		cmd := stringField(raw, key)
		for _, target := range redirectTargets(cmd) {
			writes = append(writes, normalizePath(target))
		}
	}
	return reads, writes
}

func stringField(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(v, &s)
	return s
}

func normalizePath(p string) string {
	return filepath.Clean(p)
}

// layer runs Kahn's algorithm over the WAR/WAW edges between nodes,
// producing ordered layers of mutually independent calls. A write to path P
// depends on every earlier (lower-index) read or write of P in the batch.
// If the graph has no non-trivial edges at all, it falls back to the
// classification split: every parallel-safe call in one layer, every
// mutating call strictly sequential in original order. A cycle (which
// should not occur given the edges are strictly index-ordered, but is
// guarded against defensively) collapses everything into one final layer.
func (s *Scheduler) layer(nodes []node) [][]int {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	deps := make([][]int, n)
	hasEdge := false

	lastWriter := map[string]int{}
	lastReaders := map[string][]int{}

	for i, nd := range nodes {
		for _, p := range nd.reads {
			if w, ok := lastWriter[p]; ok {
				deps[i] = append(deps[i], w)
				hasEdge = true
			}
			lastReaders[p] = append(lastReaders[p], i)
		}
		for _, p := range nd.writes {
			if w, ok := lastWriter[p]; ok {
				deps[i] = append(deps[i], w)
				hasEdge = true
			}
			for _, r := range lastReaders[p] {
				deps[i] = append(deps[i], r)
				hasEdge = true
			}
			lastWriter[p] = i
			lastReaders[p] = nil
		}
	}

	if !hasEdge {
		return s.classificationLayers(nodes)
	}

	indegree := make([]int, n)
	children := make([][]int, n)
	for i, ds := range deps {
		indegree[i] = len(ds)
		for _, d := range ds {
			children[d] = append(children[d], i)
		}
	}

	var layers [][]int
	remaining := n
	visited := make([]bool, n)
	for remaining > 0 {
		var layer []int
		for i := 0; i < n; i++ {
			if !visited[i] && indegree[i] == 0 {
				layer = append(layer, i)
			}
		}
		if len(layer) == 0 {
			// Cycle: should not happen with strictly index-ordered edges,
			// but fall back to a single final layer of everything left
			// rather than deadlocking.
			var rest []int
			for i := 0; i < n; i++ {
				if !visited[i] {
					rest = append(rest, i)
				}
			}
			layers = append(layers, rest)
			break
		}
		sort.Ints(layer)
		layers = append(layers, layer)
		for _, i := range layer {
			visited[i] = true
			remaining--
			for _, c := range children[i] {
				indegree[c]--
			}
		}
	}
	return layers
}

// classificationLayers implements the fast path used when the DAG has no
// non-trivial edges: all parallel-safe calls run as one bounded-fan-out
// layer, followed by mutating calls one at a time, in original order.
func (s *Scheduler) classificationLayers(nodes []node) [][]int {
	var safe []int
	var mutating [][]int
	for _, nd := range nodes {
		if nd.parallelSafe {
			safe = append(safe, nd.index)
		} else {
			mutating = append(mutating, []int{nd.index})
		}
	}
	var layers [][]int
	if len(safe) > 0 {
		layers = append(layers, safe)
	}
	layers = append(layers, mutating...)
	return layers
}

func chunk(layer []int, size int) [][]int {
	var out [][]int
	for len(layer) > 0 {
		n := size
		if n > len(layer) {
			n = len(layer)
		}
		out = append(out, layer[:n])
		layer = layer[n:]
	}
	return out
}

// runBatch executes one bounded-concurrency batch within a layer, running
// the full per-call pipeline for each: pre-tool hook (mutating calls only),
// event emission, dispatch, and post-tool hook.
func (s *Scheduler) runBatch(ctx context.Context, sessionID, turnID string, batch []int, nodes []node, results []models.ToolResult) {
	var wg sync.WaitGroup
	for _, idx := range batch {
		idx := idx
		nd := nodes[idx]
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[idx] = s.runOne(ctx, sessionID, turnID, nd)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) runOne(ctx context.Context, sessionID, turnID string, nd node) models.ToolResult {
	call := nd.call
	started := time.Now()

	s.emit(&models.AgentEvent{
		Type: models.AgentEventToolCallStart,
		Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Arguments},
	})

	if !nd.parallelSafe && s.hooks != nil {
		verdict := hooks.DispatchPreTool(ctx, s.hooks, sessionID, turnID, &call)
		if !verdict.ShouldProceed {
			result := models.ToolResult{ToolCallID: call.ID, Success: false, Error: verdict.Message}
			s.emitEnd(call, result, started)
			return result
		}
	}

	result, err := s.dispatch(ctx, sessionID, turnID, call)
	if err != nil {
		result = models.ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error()}
	}
	result.DurationMs = time.Since(started).Milliseconds()

	if s.hooks != nil {
		hooks.DispatchPostTool(ctx, s.hooks, sessionID, turnID, &call, &result)
	}

	s.emitEnd(call, result, started)
	return result
}

func (s *Scheduler) emitEnd(call models.ToolCall, result models.ToolResult, started time.Time) {
	out, _ := json.Marshal(result)
	s.emit(&models.AgentEvent{
		Type: models.AgentEventToolCallEnd,
		Tool: &models.ToolEventPayload{
			CallID:     call.ID,
			Name:       call.Name,
			Success:    result.Success,
			ResultJSON: out,
			Elapsed:    time.Since(started),
		},
	})
}

func (s *Scheduler) dispatch(ctx context.Context, sessionID, turnID string, call models.ToolCall) (models.ToolResult, error) {
	dctx, cancel := context.WithTimeout(ctx, s.config.PerToolTimeout)
	defer cancel()

	tc := &ToolContext{
		Context:    dctx,
		SessionID:  sessionID,
		TurnID:     turnID,
		ToolCallID: call.ID,
		Emit:       s.emit,
	}

	result, err := s.registry.Execute(tc, call.Name, call.Arguments)
	if err != nil {
		return models.ToolResult{}, err
	}
	if result == nil {
		return models.ToolResult{}, fmt.Errorf("tool %s returned no result", call.Name)
	}
	result.ToolCallID = call.ID
	return *result, nil
}

// sanitizeCalls strips leaked XML/HTML tags and narrative-prose trailing
// text from every call's arguments before dispatch (§4.2), and assigns a
// fresh ID to any call the model left unidentified.
func sanitizeCalls(calls []models.ToolCall) []models.ToolCall {
	out := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.Arguments = sanitizeOneCallArgs(c)
		out[i] = c
	}
	return out
}

func sanitizeOneCallArgs(c models.ToolCall) json.RawMessage {
	var decoded any
	if err := json.Unmarshal(c.Arguments, &decoded); err != nil {
		return c.Arguments
	}
	decoded = SanitizeArgumentStrings(decoded)

	if _, isShell := shellTools[c.Name]; isShell {
		if m, ok := decoded.(map[string]any); ok {
			if cmd, ok := m["command"].(string); ok {
				m["command"] = SanitizeBashCommand(cmd)
			}
		}
	}

	out, err := json.Marshal(decoded)
	if err != nil {
		return c.Arguments
	}
	return out
}

package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Verdict is the sentinel an anti-pattern check can return alongside (or
// instead of) a nudge message. The controller decides how to act on it.
type Verdict string

const (
	// VerdictNone means no sentinel was raised; a non-empty message, if
	// any, is advisory only.
	VerdictNone Verdict = ""

	// VerdictHardLimit means the controller must convert the current tool
	// call into a failure and stop further work this iteration.
	VerdictHardLimit Verdict = "HARD_LIMIT"

	// VerdictEscalateToUser means the controller must inject an escalation
	// notice instructing the model to stop and report to the user.
	VerdictEscalateToUser Verdict = "ESCALATE_TO_USER"
)

// ToolAlternatives maps a tool name to the alternative suggested on the
// second repeated-failure strike.
var ToolAlternatives = map[string]string{
	"edit_file": "write_file",
	"read_file": "bash cat",
	"glob":      "bash find",
	"web_fetch": "bash curl",
}

// ProgressPhase classifies a single iteration's tool-call set.
type ProgressPhase string

const (
	ProgressExploring ProgressPhase = "exploring"
	ProgressModifying ProgressPhase = "modifying"
	ProgressVerifying ProgressPhase = "verifying"
)

// AntiPatternConfig holds the tunable thresholds for AntiPatternDetector,
// loaded from internal/config alongside the loop's other policy knobs.
type AntiPatternConfig struct {
	ReadOnlyWarnBeforeWrite int `yaml:"read_only_warn_before_write"`
	ReadOnlyWarnAfterWrite  int `yaml:"read_only_warn_after_write"`
	ReadOnlyHardLimit       int `yaml:"read_only_hard_limit"`
	ExactRepeatCap          int `yaml:"exact_repeat_cap"`
	DuplicateCap            int `yaml:"duplicate_cap"`
	ExploringNudgeInterval  int `yaml:"exploring_nudge_interval"`
}

// DefaultAntiPatternConfig returns the spec's stated default thresholds.
func DefaultAntiPatternConfig() AntiPatternConfig {
	return AntiPatternConfig{
		ReadOnlyWarnBeforeWrite: 5,
		ReadOnlyWarnAfterWrite:  10,
		ReadOnlyHardLimit:       15,
		ExactRepeatCap:          3,
		DuplicateCap:            3,
		ExploringNudgeInterval:  3,
	}
}

// AntiPatternDetector tracks per-run signals the loop controller consults
// after each tool call and at the end of each iteration. All methods are
// pure with respect to their arguments except for the detector's own
// internal counters, which persist across calls for the lifetime of a run.
type AntiPatternDetector struct {
	cfg AntiPatternConfig

	consecutiveReadOps int
	hasWrittenFile     bool

	failureStreaks map[string]int
	exactRepeats   map[string]int

	seenCalls map[string]int

	consecutiveExploring int
}

// NewAntiPatternDetector returns a detector configured with cfg. A zero
// value cfg falls back to DefaultAntiPatternConfig.
func NewAntiPatternDetector(cfg AntiPatternConfig) *AntiPatternDetector {
	if (cfg == AntiPatternConfig{}) {
		cfg = DefaultAntiPatternConfig()
	}
	return &AntiPatternDetector{
		cfg:            cfg,
		failureStreaks: make(map[string]int),
		exactRepeats:   make(map[string]int),
		seenCalls:      make(map[string]int),
	}
}

// RecordReadOnlyOp updates the read-only-stall tracker and returns a nudge
// message, or "" if no threshold was crossed. The sentinel is
// VerdictHardLimit once the run has gone readOnlyHardLimit read-only calls
// deep without a write.
func (d *AntiPatternDetector) RecordReadOnlyOp() (string, Verdict) {
	d.consecutiveReadOps++
	switch {
	case d.consecutiveReadOps == d.cfg.ReadOnlyHardLimit:
		return "Too many read-only operations without making progress; stopping this tool call.", VerdictHardLimit
	case !d.hasWrittenFile && d.consecutiveReadOps == d.cfg.ReadOnlyWarnBeforeWrite:
		return "You've made several read-only calls without writing anything yet. Consider whether you have enough information to start making changes.", VerdictNone
	case d.hasWrittenFile && d.consecutiveReadOps == d.cfg.ReadOnlyWarnAfterWrite:
		return "You've returned to a long read-only streak after already writing files. Make sure you're still making forward progress.", VerdictNone
	}
	return "", VerdictNone
}

// RecordWrite marks that a write has occurred and resets the read-only
// streak, matching the "warning after first write" threshold reset.
func (d *AntiPatternDetector) RecordWrite() {
	d.hasWrittenFile = true
	d.consecutiveReadOps = 0
}

// RecordToolOutcome updates failure-streak, exact-repeat, and duplicate
// trackers for a single completed tool call and returns the strongest
// applicable nudge, if any.
func (d *AntiPatternDetector) RecordToolOutcome(call *models.ToolCall, result *models.ToolResult) (string, Verdict) {
	key := repeatKey(call)

	if result.Success {
		delete(d.failureStreaks, call.Name)
		delete(d.exactRepeats, key)
		return d.recordDuplicate(key, result)
	}

	msg, verdict := d.recordFailureStreak(call.Name)

	errKey := key + "|" + result.Error
	d.exactRepeats[errKey]++
	if d.exactRepeats[errKey] > d.cfg.ExactRepeatCap {
		stronger := fmt.Sprintf(
			"The exact same %q call has now failed with the same error %d times. Stop repeating it verbatim and change your approach.",
			call.Name, d.exactRepeats[errKey],
		)
		return stronger, verdict
	}
	return msg, verdict
}

// recordFailureStreak implements the 4-strike repeated-failure escalation.
func (d *AntiPatternDetector) recordFailureStreak(toolName string) (string, Verdict) {
	d.failureStreaks[toolName]++
	strike := d.failureStreaks[toolName]

	switch {
	case strike == 1:
		return fmt.Sprintf("%q failed. Check your parameters and preconditions before retrying.", toolName), VerdictNone
	case strike == 2:
		if alt, ok := ToolAlternatives[toolName]; ok {
			return fmt.Sprintf("%q has failed twice. Consider switching strategy — try %q instead.", toolName, alt), VerdictNone
		}
		return fmt.Sprintf("%q has failed twice. Consider switching strategy.", toolName), VerdictNone
	case strike == 3:
		return fmt.Sprintf("%q has failed three times. Stop, re-read the current state, question your assumptions, and try a genuinely different approach.", toolName), VerdictNone
	case strike >= 4:
		return fmt.Sprintf("%q has failed %d times in a row. Stop and report the situation to the user.", toolName, strike), VerdictEscalateToUser
	}
	return "", VerdictNone
}

// recordDuplicate implements duplicate-success detection: a 2nd identical
// read-only call gets a cached-result hint, and the Nth identical call of
// any kind gets a looping warning.
func (d *AntiPatternDetector) recordDuplicate(key string, result *models.ToolResult) (string, Verdict) {
	d.seenCalls[key]++
	count := d.seenCalls[key]

	switch {
	case count == 2:
		return "This call is identical to a prior one; the result is likely unchanged from before.", VerdictNone
	case count >= d.cfg.DuplicateCap:
		return fmt.Sprintf("The same call has now been made %d times with the same arguments. You appear to be looping.", count), VerdictNone
	}
	return "", VerdictNone
}

// repeatKey derives the identity used for exact-repetition and duplicate
// tracking: tool name plus canonicalized arguments.
func repeatKey(call *models.ToolCall) string {
	var buf map[string]any
	if err := json.Unmarshal(call.Arguments, &buf); err == nil {
		if canon, err := json.Marshal(buf); err == nil {
			return call.Name + "|" + string(canon)
		}
	}
	return call.Name + "|" + string(call.Arguments)
}

// ClassifyProgress classifies an iteration's tool-call set as exploring
// (read-only only), modifying (any write), or verifying (any test/compile/
// bash call with no writes).
func ClassifyProgress(toolNames []string, writeTools, verifyTools map[string]bool) ProgressPhase {
	sawVerify := false
	for _, name := range toolNames {
		if writeTools[name] {
			return ProgressModifying
		}
		if verifyTools[name] {
			sawVerify = true
		}
	}
	if sawVerify {
		return ProgressVerifying
	}
	return ProgressExploring
}

// RecordProgress updates the consecutive-exploring counter and returns a
// nudge once it reaches exploringNudgeInterval, resetting the counter.
func (d *AntiPatternDetector) RecordProgress(phase ProgressPhase) string {
	if phase != ProgressExploring {
		d.consecutiveExploring = 0
		return ""
	}
	d.consecutiveExploring++
	if d.consecutiveExploring >= d.cfg.ExploringNudgeInterval {
		d.consecutiveExploring = 0
		return "You've spent several iterations exploring without making any changes. Make a concrete edit now."
	}
	return ""
}

// textToolCallPatterns maps a compiled regexp to the tool name it implies,
// mirroring the inverse of the history-formatting summaries the Context
// Manager produces for tool calls.
var textToolCallPatterns = []struct {
	re   *regexp.Regexp
	tool string
}{
	{regexp.MustCompile(`(?i)^Ran:\s*(.+)$`), "bash"},
	{regexp.MustCompile(`(?i)^Edited\s+(.+)$`), "edit_file"},
	{regexp.MustCompile(`(?i)^Read\s+(.+)$`), "read_file"},
	{regexp.MustCompile(`(?i)^Created\s+(.+)$`), "write_file"},
	{regexp.MustCompile(`(?i)^Found files matching:\s*(.+)$`), "glob"},
	{regexp.MustCompile(`(?i)^Searched for:\s*(.+)$`), "grep"},
	{regexp.MustCompile(`(?i)^Listed:\s*(.+)$`), "list_directory"},
	{regexp.MustCompile(`(?i)^Fetched:\s*(.+)$`), "web_fetch"},
}

var (
	genericCalledToolRe = regexp.MustCompile(`(?i)Called\s+(\w+)\s*\(([^)]*)\)`)
	intentPatternRe     = regexp.MustCompile(`(?i)I'll\s+call\s+the\s+(\w+)\s+tool`)
	jsonCallRe          = regexp.MustCompile(`(?s)\{\s*"name"\s*:\s*"([a-zA-Z0-9_]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}`)
)

// TextDescribedToolCall is the result of matching a text-only response
// against the textual-tool-call heuristics.
type TextDescribedToolCall struct {
	ToolName  string
	Arguments string // raw text; may not be valid JSON
	HasArgs   bool
}

// DetectTextDescribedToolCall inspects a pure-text model response for
// language that describes a tool invocation instead of actually requesting
// one, per the four heuristic families: inverse-formatting phrases, a
// generic "Called tool(...)" capture, stated intent ("I'll call the X
// tool"), and a raw JSON-shaped call. Returns ok=false if nothing matches.
func DetectTextDescribedToolCall(text string) (TextDescribedToolCall, bool) {
	trimmed := strings.TrimSpace(text)

	if m := jsonCallRe.FindStringSubmatch(trimmed); m != nil {
		return TextDescribedToolCall{ToolName: m[1], Arguments: m[2], HasArgs: true}, true
	}

	for _, p := range textToolCallPatterns {
		if m := p.re.FindStringSubmatch(trimmed); m != nil {
			return TextDescribedToolCall{ToolName: p.tool, Arguments: m[1], HasArgs: true}, true
		}
	}

	if m := genericCalledToolRe.FindStringSubmatch(trimmed); m != nil {
		return TextDescribedToolCall{ToolName: m[1], Arguments: m[2], HasArgs: m[2] != ""}, true
	}

	if m := intentPatternRe.FindStringSubmatch(trimmed); m != nil {
		return TextDescribedToolCall{ToolName: m[1], HasArgs: false}, true
	}

	return TextDescribedToolCall{}, false
}

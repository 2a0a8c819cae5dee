package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// TruncationAction is the recovery action the loop controller takes when a
// ModelResponse comes back with Truncated set, per spec §4.7. This is
// distinct from the history/context truncation performed by
// internal/context/truncation.go, which trims old messages rather than
// recovering from a cut-off model response.
type TruncationAction string

const (
	// TruncationBoostTokensOnly doubles MaxTokens (capped at the model max)
	// and retries, with no special directive beyond the generic one.
	TruncationBoostTokensOnly TruncationAction = "boost_tokens"

	// TruncationSplitWrite injects a skeleton+incremental-edits directive
	// and boosts MaxTokens; used when the truncated batch contains a
	// write_file call.
	TruncationSplitWrite TruncationAction = "split_write"

	// TruncationAbortHeredoc aborts the whole batch without executing any
	// call in it, synthesizing failed ToolResults and asking the model to
	// regenerate or use a temp file.
	TruncationAbortHeredoc TruncationAction = "abort_heredoc"

	// TruncationRetryText doubles MaxTokens once per run and retries a
	// truncated pure-text response.
	TruncationRetryText TruncationAction = "retry_text"
)

const writeFileToolName = "write_file"

var heredocTokenRe = regexp.MustCompile(`<<-?\s*['"]?([A-Za-z_][A-Za-z0-9_]*)['"]?`)

// Plan describes the concrete recovery the controller should carry out for
// a truncated response.
type Plan struct {
	Action      TruncationAction
	Directive   string
	NewMaxTokens int
}

// PlanToolCallTruncation decides the recovery for a truncated tool-use
// response given the batch of tool calls it produced, the current
// MaxTokens, and the model's hard ceiling.
func PlanToolCallTruncation(calls []models.ToolCall, currentMaxTokens, modelMaxTokens int) Plan {
	for _, c := range calls {
		if c.Name == writeFileToolName {
			return Plan{
				Action:       TruncationSplitWrite,
				Directive:    "Your previous response was cut off mid-write. Split the remaining work into a minimal skeleton followed by incremental edits rather than one large write.",
				NewMaxTokens: boostedMaxTokens(currentMaxTokens, modelMaxTokens),
			}
		}
	}

	for _, c := range calls {
		if containsHeredoc(c) {
			return Plan{
				Action:    TruncationAbortHeredoc,
				Directive: "Your previous shell command was cut off inside a heredoc and was not executed. Regenerate the command, or write the content to a temporary file first and reference it instead.",
			}
		}
	}

	return Plan{
		Action:       TruncationBoostTokensOnly,
		Directive:    "Your previous response was cut off. Continue the previous action from where it left off.",
		NewMaxTokens: boostedMaxTokens(currentMaxTokens, modelMaxTokens),
	}
}

// PlanTextTruncation decides the recovery for a truncated pure-text
// response. alreadyRetried indicates the once-per-run retry budget has
// already been spent; when true, no further boost is planned.
func PlanTextTruncation(currentMaxTokens, modelMaxTokens int, alreadyRetried bool) (Plan, bool) {
	if alreadyRetried {
		return Plan{}, false
	}
	return Plan{
		Action:       TruncationRetryText,
		NewMaxTokens: boostedMaxTokens(currentMaxTokens, modelMaxTokens),
	}, true
}

// AbortedResults synthesizes failed ToolResults for every call in a batch
// aborted by TruncationAbortHeredoc, so the pairing invariant between an
// assistant message's tool calls and the following tool message holds even
// though nothing actually executed.
func AbortedResults(calls []models.ToolCall, reason string) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, c := range calls {
		results = append(results, models.ToolResult{
			ToolCallID: c.ID,
			Success:    false,
			Error:      reason,
		})
	}
	return results
}

// containsHeredoc reports whether a bash-like tool call's command argument
// contains a heredoc token, preserving the body of such commands intact is
// the caller's responsibility (this only detects, it does not truncate).
func containsHeredoc(c models.ToolCall) bool {
	var args struct {
		Command string `json:"command"`
		Cmd     string `json:"cmd"`
	}
	if err := json.Unmarshal(c.Arguments, &args); err != nil {
		return false
	}
	cmd := args.Command
	if cmd == "" {
		cmd = args.Cmd
	}
	return heredocTokenRe.MatchString(cmd)
}

func boostedMaxTokens(current, max int) int {
	if current <= 0 {
		current = 4096
	}
	boosted := current * 2
	if max > 0 && boosted > max {
		boosted = max
	}
	return boosted
}

// cjkRange matches any CJK unified ideograph, used by the argument
// sanitizer (§4.2) to detect narrative prose trailing a shell command.
var cjkRange = regexp.MustCompile(`[\x{4E00}-\x{9FFF}]`)

// markdownBulletRe matches a leading Markdown bullet or numbered-list
// marker, another sign of narrative text leaking into a command argument.
var markdownBulletRe = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+`)

// SanitizeBashCommand implements the bash-specific half of argument
// sanitation (§4.2): commands whose trailing text is clearly narrative
// prose (CJK text or Markdown bullets) are truncated back to the command
// itself, except that a heredoc body is always preserved intact once the
// first line contains a heredoc token.
func SanitizeBashCommand(cmd string) string {
	if heredocTokenRe.MatchString(strings.SplitN(cmd, "\n", 2)[0]) {
		return cmd
	}

	lines := strings.Split(cmd, "\n")
	for i, line := range lines {
		if cjkRange.MatchString(line) || markdownBulletRe.MatchString(line) {
			return strings.Join(lines[:i], "\n")
		}
	}
	return cmd
}

// stripTagsRe matches a leaked XML/HTML tag, a common LLM output artifact
// in tool-call argument strings.
var stripTagsRe = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9_:-]*(?:\s+[^<>]*)?/?>`)

// SanitizeArgumentStrings recursively strips leaked XML/HTML tags from
// every string value in a decoded JSON argument tree (§4.2).
func SanitizeArgumentStrings(v any) any {
	switch t := v.(type) {
	case string:
		return stripTagsRe.ReplaceAllString(t, "")
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = SanitizeArgumentStrings(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = SanitizeArgumentStrings(val)
		}
		return out
	default:
		return v
	}
}

package context

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	agentcontext "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Manager assembles model input from conversation history: it synthesizes
// the per-message shape a provider expects, handles large attachments, and
// tracks token usage against the active window to drive proactive
// compaction and budget warnings.
type Manager struct {
	opts PackOptions

	window         *agentcontext.Window
	budgetWarned   bool
	history8K      int // compression trigger threshold, tokens
	compactTarget  int // compression target, tokens
	keepRecentN    int
	maxAttachChars int
	largeFileBytes int
	largeFilePreviewLines int
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Pack PackOptions

	// CompressThresholdTokens triggers history compression once the
	// packed history exceeds this many tokens. Default 8000.
	CompressThresholdTokens int

	// CompressTargetTokens is the size compression aims to leave behind.
	// Default 4000.
	CompressTargetTokens int

	// KeepRecentMessages is always preserved verbatim by compression,
	// along with every user message. Default 6.
	KeepRecentMessages int

	// MaxAttachmentChars caps total characters across all attachments in
	// a single turn; further attachments are elided. Default 50000.
	MaxAttachmentChars int

	// LargeFileBytes is the size above which an attachment is sent as a
	// preview instead of in full. Default 8192 (8 KB).
	LargeFileBytes int

	// LargeFilePreviewLines is how many leading lines of a large file are
	// included in its preview. Default 30.
	LargeFilePreviewLines int
}

// DefaultManagerOptions returns the spec's stated defaults.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		Pack:                  DefaultPackOptions(),
		CompressThresholdTokens: 8000,
		CompressTargetTokens:    4000,
		KeepRecentMessages:      6,
		MaxAttachmentChars:      50000,
		LargeFileBytes:          8192,
		LargeFilePreviewLines:   30,
	}
}

// NewManager creates a Manager tracking usage against win.
func NewManager(win *agentcontext.Window, opts ManagerOptions) *Manager {
	if opts.CompressThresholdTokens <= 0 {
		opts.CompressThresholdTokens = 8000
	}
	if opts.CompressTargetTokens <= 0 {
		opts.CompressTargetTokens = 4000
	}
	if opts.KeepRecentMessages <= 0 {
		opts.KeepRecentMessages = 6
	}
	if opts.MaxAttachmentChars <= 0 {
		opts.MaxAttachmentChars = 50000
	}
	if opts.LargeFileBytes <= 0 {
		opts.LargeFileBytes = 8192
	}
	if opts.LargeFilePreviewLines <= 0 {
		opts.LargeFilePreviewLines = 30
	}
	return &Manager{
		opts:                  opts.Pack,
		window:                win,
		history8K:             opts.CompressThresholdTokens,
		compactTarget:         opts.CompressTargetTokens,
		keepRecentN:           opts.KeepRecentMessages,
		maxAttachChars:        opts.MaxAttachmentChars,
		largeFileBytes:        opts.LargeFileBytes,
		largeFilePreviewLines: opts.LargeFilePreviewLines,
	}
}

// SynthesizeMessage converts a single history message into the shape a
// provider-facing CompletionMessage expects (§4.5's model-message synthesis
// rules). tool messages are re-roled as user turns prefixed with "Tool
// results:\n"; assistant tool-call messages get a compact per-call summary
// in place of raw arguments; user messages with attachments get multi-modal
// content parts; everything else passes through unchanged.
func (m *Manager) SynthesizeMessage(msg *models.Message) (role string, content string, parts []models.ContentPart) {
	switch msg.Role {
	case models.RoleTool:
		return "user", "Tool results:\n" + renderToolResults(msg.ToolResults), nil

	case models.RoleAssistant:
		if len(msg.ToolCalls) > 0 {
			return "assistant", summarizeToolCalls(msg.ToolCalls), nil
		}
		return "assistant", msg.Content, nil

	case models.RoleUser:
		if len(msg.Attachments) > 0 {
			return "user", msg.Content, m.attachmentParts(msg.Content, msg.Attachments)
		}
		return "user", msg.Content, nil

	default:
		return string(msg.Role), msg.Content, msg.Parts
	}
}

func renderToolResults(results []models.ToolResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Success {
			sb.WriteString(fmt.Sprintf("[%s] ok: %s\n", r.ToolCallID, r.Output))
		} else {
			sb.WriteString(fmt.Sprintf("[%s] error: %s\n", r.ToolCallID, r.Error))
		}
	}
	return sb.String()
}

// summarizeToolCalls renders the compact per-call summary spec §4.5
// describes ("Ran: cmd", "Edited path"), ellipsising long arguments while
// preserving the character count in the ellipsis marker.
func summarizeToolCalls(calls []models.ToolCall) string {
	var sb strings.Builder
	for i, c := range calls {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(summarizeOneCall(c))
	}
	return sb.String()
}

func summarizeOneCall(c models.ToolCall) string {
	args := ellipsize(string(c.Arguments), 200)
	switch c.Name {
	case "bash":
		return fmt.Sprintf("Ran: %s", args)
	case "edit_file":
		return fmt.Sprintf("Edited %s", args)
	case "write_file":
		return fmt.Sprintf("Created %s", args)
	case "read_file":
		return fmt.Sprintf("Read %s", args)
	case "glob":
		return fmt.Sprintf("Found files matching: %s", args)
	case "grep":
		return fmt.Sprintf("Searched for: %s", args)
	case "list_directory":
		return fmt.Sprintf("Listed: %s", args)
	case "web_fetch":
		return fmt.Sprintf("Fetched: %s", args)
	default:
		return fmt.Sprintf("Called %s(%s)", c.Name, args)
	}
}

// ellipsize head-and-tail truncates s to roughly max chars, with the
// ellipsis marker itself carrying the count of elided characters so the
// compact summary stays informative.
func ellipsize(s string, max int) string {
	if len(s) <= max {
		return s
	}
	half := max / 2
	elided := len(s) - max
	return fmt.Sprintf("%s...[%d chars elided]...%s", s[:half], elided, s[len(s)-half:])
}

// attachmentParts converts a user message's attachments into multi-modal
// content parts, applying the large-file preview rule and the total
// attachment character cap.
func (m *Manager) attachmentParts(text string, attachments []models.Attachment) []models.ContentPart {
	parts := []models.ContentPart{models.TextPart(text)}

	budget := m.maxAttachChars
	for _, a := range attachments {
		if a.Type == "image" {
			parts = append(parts, models.ImagePart(a.MimeType, base64.StdEncoding.EncodeToString(a.Content)))
			continue
		}

		if budget <= 0 {
			parts = append(parts, models.TextPart(fmt.Sprintf("[attachment %s elided: character budget exhausted]", a.Filename)))
			continue
		}

		block := m.fileTextBlock(a)
		if len(block) > budget {
			block = block[:budget] + "\n[attachment truncated: over character budget]"
		}
		budget -= len(block)
		parts = append(parts, models.TextPart(block))
	}
	return parts
}

// fileTextBlock renders a non-image attachment as text, applying the
// large-file preview rule: files over largeFileBytes are sent as a
// largeFilePreviewLines-line preview with an explicit instruction that the
// model must call read_file for the full content.
func (m *Manager) fileTextBlock(a models.Attachment) string {
	content := string(a.Content)
	if len(a.Content) <= m.largeFileBytes {
		return fmt.Sprintf("File: %s\n%s", a.Filename, content)
	}

	lines := strings.SplitN(content, "\n", m.largeFilePreviewLines+1)
	preview := lines
	if len(lines) > m.largeFilePreviewLines {
		preview = lines[:m.largeFilePreviewLines]
	}
	return fmt.Sprintf(
		"File: %s (%d bytes, showing first %d lines — call read_file for the full content)\n%s",
		a.Filename, len(a.Content), m.largeFilePreviewLines, strings.Join(preview, "\n"),
	)
}

// binaryDataRe matches a data: URI prefix, one common shape of leaked
// binary data in tool output/metadata.
var binaryDataRe = regexp.MustCompile(`^data:[a-zA-Z0-9/+.-]+;base64,`)

const base64SniffLen = 10 * 1024 // 10 KB

// SanitizeToolResult walks a ToolResult's Output and Metadata, replacing
// any string over 10 KB that looks like base64 (a data: URI or a long
// contiguous base64-alphabet run) with a filtered placeholder. Known binary
// fields (images, screenshots, pdfImages, audio/video bytes) are always
// stripped regardless of size.
func SanitizeToolResult(r models.ToolResult) models.ToolResult {
	r.Output = sanitizeString(r.Output)
	if r.Metadata == nil {
		return r
	}
	clean := make(map[string]any, len(r.Metadata))
	for k, v := range r.Metadata {
		if alwaysStrippedMetadataKeys[k] {
			clean[k] = "[BINARY_DATA_FILTERED]"
			continue
		}
		if s, ok := v.(string); ok {
			clean[k] = sanitizeString(s)
			continue
		}
		clean[k] = v
	}
	r.Metadata = clean
	return r
}

var alwaysStrippedMetadataKeys = map[string]bool{
	"images":       true,
	"screenshots":  true,
	"pdfImages":    true,
	"audioBytes":   true,
	"videoBytes":   true,
}

func sanitizeString(s string) string {
	if len(s) <= base64SniffLen {
		return s
	}
	if binaryDataRe.MatchString(s) || looksLikeBase64(s) {
		return fmt.Sprintf("[BINARY_DATA_FILTERED: %dKB]", len(s)/1024)
	}
	return s
}

// looksLikeBase64 reports whether s is a long, overwhelmingly
// base64-alphabet string — a heuristic for unlabeled binary payloads that
// leaked into tool output as a raw base64 blob.
func looksLikeBase64(s string) bool {
	sample := s
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	alpha := 0
	for _, r := range sample {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '/' || r == '=' {
			alpha++
		}
	}
	return float64(alpha)/float64(len(sample)) > 0.98
}

// AccountTokens records usage from a completed inference call against the
// window and returns a non-empty budget_warning message the first time
// usage crosses 80%. Subsequent calls return "" until ResetBudgetWarning is
// called (e.g. at the start of a new run).
func (m *Manager) AccountTokens(inputTokens, outputTokens int) string {
	m.window.Add(inputTokens + outputTokens)
	if m.budgetWarned {
		return ""
	}
	info := m.window.Info()
	if info.UsedPercent >= 80 {
		m.budgetWarned = true
		return fmt.Sprintf("This run has used %.0f%% of its token budget.", info.UsedPercent)
	}
	return ""
}

// ResetBudgetWarning clears the once-per-run budget_warning latch.
func (m *Manager) ResetBudgetWarning() {
	m.budgetWarned = false
}

// NeedsProactiveCompaction reports whether total input tokens exceed 75% of
// the context window, the trigger for the proactive-compaction path (§4.5).
func (m *Manager) NeedsProactiveCompaction() bool {
	info := m.window.Info()
	if info.TotalTokens == 0 {
		return false
	}
	return float64(info.UsedTokens)/float64(info.TotalTokens) > 0.75
}

// BuildCompactionBlock produces the CompactionBlock for a history
// compression pass, given the messages being folded away and the summary
// text a SummaryProvider generated for them.
func BuildCompactionBlock(compacted []*models.Message, summaryText string) *models.CompactionBlock {
	tokensSaved := 0
	for _, msg := range compacted {
		tokensSaved += agentcontext.EstimateTokens(msg.Content)
	}
	return &models.CompactionBlock{
		MessagesCompacted: len(compacted),
		TokensSaved:       tokensSaved,
		Summary:           summaryText,
	}
}

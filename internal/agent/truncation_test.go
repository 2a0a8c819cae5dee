package agent

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestPlanToolCallTruncation_WriteFile(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
	}
	plan := PlanToolCallTruncation(calls, 2000, 8000)
	if plan.Action != TruncationSplitWrite {
		t.Errorf("Action = %q, want split_write", plan.Action)
	}
	if plan.NewMaxTokens != 4000 {
		t.Errorf("NewMaxTokens = %d, want 4000", plan.NewMaxTokens)
	}
}

func TestPlanToolCallTruncation_WriteFileCappedAtModelMax(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "write_file", Arguments: json.RawMessage(`{}`)}}
	plan := PlanToolCallTruncation(calls, 6000, 8000)
	if plan.NewMaxTokens != 8000 {
		t.Errorf("NewMaxTokens = %d, want capped at 8000", plan.NewMaxTokens)
	}
}

func TestPlanToolCallTruncation_Heredoc(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "bash", Arguments: json.RawMessage(`{"command":"cat <<EOF\nhello\nEOF"}`)},
	}
	plan := PlanToolCallTruncation(calls, 2000, 8000)
	if plan.Action != TruncationAbortHeredoc {
		t.Errorf("Action = %q, want abort_heredoc", plan.Action)
	}
	if plan.NewMaxTokens != 0 {
		t.Errorf("NewMaxTokens should be unset for an aborted batch, got %d", plan.NewMaxTokens)
	}
}

func TestPlanToolCallTruncation_Generic(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
	}
	plan := PlanToolCallTruncation(calls, 2000, 8000)
	if plan.Action != TruncationBoostTokensOnly {
		t.Errorf("Action = %q, want boost_tokens", plan.Action)
	}
}

func TestPlanToolCallTruncation_WriteFileTakesPriorityOverHeredoc(t *testing.T) {
	calls := []models.ToolCall{
		{ID: "1", Name: "bash", Arguments: json.RawMessage(`{"command":"cat <<EOF\nx\nEOF"}`)},
		{ID: "2", Name: "write_file", Arguments: json.RawMessage(`{}`)},
	}
	plan := PlanToolCallTruncation(calls, 2000, 8000)
	if plan.Action != TruncationSplitWrite {
		t.Errorf("Action = %q, want split_write to take priority", plan.Action)
	}
}

func TestPlanTextTruncation(t *testing.T) {
	plan, retried := PlanTextTruncation(2000, 8000, false)
	if !retried {
		t.Fatal("expected retried=true on first attempt")
	}
	if plan.Action != TruncationRetryText {
		t.Errorf("Action = %q, want retry_text", plan.Action)
	}

	_, retried = PlanTextTruncation(4000, 8000, true)
	if retried {
		t.Error("expected no further retry once alreadyRetried is true")
	}
}

func TestAbortedResults(t *testing.T) {
	calls := []models.ToolCall{{ID: "1", Name: "bash"}, {ID: "2", Name: "write_file"}}
	results := AbortedResults(calls, "batch aborted")
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for i, r := range results {
		if r.Success {
			t.Errorf("result %d: Success = true, want false", i)
		}
		if r.ToolCallID != calls[i].ID {
			t.Errorf("result %d: ToolCallID = %q, want %q", i, r.ToolCallID, calls[i].ID)
		}
		if r.Error != "batch aborted" {
			t.Errorf("result %d: Error = %q", i, r.Error)
		}
	}
}

func TestSanitizeBashCommand_StripsNarrativeProse(t *testing.T) {
	cmd := "ls -la\n这是中文叙述"
	got := SanitizeBashCommand(cmd)
	if got != "ls -la" {
		t.Errorf("got %q, want %q", got, "ls -la")
	}
}

func TestSanitizeBashCommand_StripsMarkdownBullets(t *testing.T) {
	cmd := "go build ./...\n- first step\n- second step"
	got := SanitizeBashCommand(cmd)
	if got != "go build ./..." {
		t.Errorf("got %q, want %q", got, "go build ./...")
	}
}

func TestSanitizeBashCommand_PreservesHeredocBody(t *testing.T) {
	cmd := "cat <<EOF\n这是中文\n- bullet\nEOF"
	got := SanitizeBashCommand(cmd)
	if got != cmd {
		t.Errorf("heredoc body should be preserved intact, got %q", got)
	}
}

func TestSanitizeBashCommand_PlainCommandUnchanged(t *testing.T) {
	cmd := "go test ./..."
	if got := SanitizeBashCommand(cmd); got != cmd {
		t.Errorf("got %q, want unchanged %q", got, cmd)
	}
}

func TestSanitizeArgumentStrings_StripsTags(t *testing.T) {
	in := map[string]any{
		"path": "<b>a.go</b>",
		"nested": map[string]any{
			"cmd": "echo <script>alert(1)</script>hi",
		},
		"list": []any{"<i>x</i>", 5},
	}
	out := SanitizeArgumentStrings(in).(map[string]any)
	if out["path"] != "a.go" {
		t.Errorf("path = %q, want %q", out["path"], "a.go")
	}
	nested := out["nested"].(map[string]any)
	if nested["cmd"] != "echo alert(1)hi" {
		t.Errorf("nested cmd = %q", nested["cmd"])
	}
	list := out["list"].([]any)
	if list[0] != "x" {
		t.Errorf("list[0] = %q, want %q", list[0], "x")
	}
	if list[1] != 5 {
		t.Errorf("list[1] = %v, want 5", list[1])
	}
}

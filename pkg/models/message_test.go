package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:          "msg-123",
		Role:        RoleAssistant,
		Content:     "Hello!",
		Timestamp:   now,
		Attachments: []Attachment{{ID: "att-1", Type: "image", Filename: "img.png"}},
		ToolCalls:   []ToolCall{{ID: "tc-1", Name: "search", Arguments: json.RawMessage(`{"q":"test"}`)}},
		ToolResults: []ToolResult{{ToolCallID: "tc-1", Success: true, Output: "result"}},
		Metadata:    map[string]any{"source": "test"},
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.Role != original.Role {
		t.Errorf("Role = %v, want %v", decoded.Role, original.Role)
	}
	if len(decoded.Attachments) != 1 {
		t.Errorf("Attachments length = %d, want 1", len(decoded.Attachments))
	}
	if len(decoded.ToolCalls) != 1 {
		t.Errorf("ToolCalls length = %d, want 1", len(decoded.ToolCalls))
	}
	if len(decoded.ToolResults) != 1 {
		t.Errorf("ToolResults length = %d, want 1", len(decoded.ToolResults))
	}
}

func TestToolCall_RawParseError(t *testing.T) {
	tc := ToolCall{ID: "tc-123", Name: "web_search", RawParseError: "unexpected end of JSON input"}

	if tc.ID != "tc-123" {
		t.Errorf("ID = %q, want %q", tc.ID, "tc-123")
	}
	if tc.RawParseError == "" {
		t.Error("RawParseError should be set")
	}
}

func TestToolResult_Struct(t *testing.T) {
	tr := ToolResult{ToolCallID: "tc-123", Success: true, Output: "search results here"}
	if tr.ToolCallID != "tc-123" {
		t.Errorf("ToolCallID = %q, want %q", tr.ToolCallID, "tc-123")
	}
	if !tr.Success {
		t.Error("Success should be true")
	}

	trError := ToolResult{ToolCallID: "tc-456", Success: false, Error: "tool exploded"}
	if trError.Success {
		t.Error("Success should be false")
	}
}

func TestToolResult_RequiresUserConfirmation(t *testing.T) {
	r := ToolResult{Metadata: map[string]any{"requiresUserConfirmation": true}}
	if !r.RequiresUserConfirmation() {
		t.Error("expected RequiresUserConfirmation to be true")
	}
	if (ToolResult{}).RequiresUserConfirmation() {
		t.Error("expected zero-value ToolResult to not require confirmation")
	}
}

func TestToolResult_IsSkillActivation(t *testing.T) {
	r := ToolResult{Metadata: map[string]any{"isSkillActivation": true}}
	if !r.IsSkillActivation() {
		t.Error("expected IsSkillActivation to be true")
	}
}

func TestMessage_ContentParts(t *testing.T) {
	msg := Message{
		ID:   "msg-1",
		Role: RoleUser,
		Parts: []ContentPart{
			TextPart("look at this"),
			ImagePart("image/png", "aGVsbG8="),
		},
	}
	if len(msg.Parts) != 2 {
		t.Fatalf("Parts length = %d, want 2", len(msg.Parts))
	}
	if msg.Parts[0].Kind != ContentKindText || msg.Parts[0].Text != "look at this" {
		t.Errorf("unexpected text part: %+v", msg.Parts[0])
	}
	if msg.Parts[1].Kind != ContentKindImage || msg.Parts[1].MediaType != "image/png" {
		t.Errorf("unexpected image part: %+v", msg.Parts[1])
	}
}

func TestAttachment_Struct(t *testing.T) {
	att := Attachment{ID: "att-123", Type: "image", Filename: "image.png", MimeType: "image/png", Size: 1024}

	if att.ID != "att-123" {
		t.Errorf("ID = %q, want %q", att.ID, "att-123")
	}
	if att.Type != "image" {
		t.Errorf("Type = %q, want %q", att.Type, "image")
	}
	if att.Size != 1024 {
		t.Errorf("Size = %d, want 1024", att.Size)
	}
}

func TestSession_Struct(t *testing.T) {
	now := time.Now()
	session := Session{
		ID:        "session-123",
		Title:     "Test Session",
		Metadata:  map[string]any{"test": true},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if session.ID != "session-123" {
		t.Errorf("ID = %q, want %q", session.ID, "session-123")
	}
	if session.Title != "Test Session" {
		t.Errorf("Title = %q, want %q", session.Title, "Test Session")
	}
}

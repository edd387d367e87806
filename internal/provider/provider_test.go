package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/corvid-labs/rook/pkg/models"
)

func TestCollectAccumulatesTextAndCalls(t *testing.T) {
	chunks := make(chan *Chunk, 4)
	chunks <- &Chunk{Text: "hello "}
	chunks <- &Chunk{Text: "world"}
	chunks <- &Chunk{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Input: json.RawMessage(`{}`)}}
	chunks <- &Chunk{Done: true}
	close(chunks)

	text, calls, err := Collect(chunks)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "echo" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestCollectStopsOnError(t *testing.T) {
	chunks := make(chan *Chunk, 2)
	chunks <- &Chunk{Text: "partial"}
	chunks <- &Chunk{Err: fmt.Errorf("boom")}
	close(chunks)

	text, _, err := Collect(chunks)
	if err == nil {
		t.Fatal("expected error")
	}
	if text != "partial" {
		t.Errorf("partial text lost: %q", text)
	}
}

func TestRedactStripsKeys(t *testing.T) {
	cases := []struct {
		in     string
		leaked string
	}{
		{"401 unauthorized for key sk-ant-api03-abcdef123456", "sk-ant-"},
		{"invalid api_key: sk-proj-abcdefghijklmnopqrstuv", "abcdefghijklmnop"},
		{"header Authorization: Bearer-token-abcdef12345 rejected", "abcdef12345"},
	}
	for _, tc := range cases {
		got := Redact(tc.in)
		if strings.Contains(got, tc.leaked) {
			t.Errorf("Redact(%q) leaked secret: %q", tc.in, got)
		}
		if !strings.Contains(got, "[redacted]") {
			t.Errorf("Redact(%q) left no placeholder: %q", tc.in, got)
		}
	}
}

func TestRedactLeavesPlainText(t *testing.T) {
	msg := "model claude-sonnet-4 does not support tool use"
	if got := Redact(msg); got != msg {
		t.Errorf("plain message altered: %q", got)
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(fmt.Errorf("429 Too Many Requests")) {
		t.Error("429 not detected")
	}
	if !IsRateLimited(fmt.Errorf("anthropic: overloaded_error")) {
		t.Error("overloaded not detected")
	}
	if IsRateLimited(fmt.Errorf("401 unauthorized")) {
		t.Error("auth error misclassified as rate limit")
	}
}

func TestIsTransient(t *testing.T) {
	if !isTransient(fmt.Errorf("503 service unavailable")) {
		t.Error("503 should be transient")
	}
	if isTransient(fmt.Errorf("400 invalid request")) {
		t.Error("400 should not be transient")
	}
}

func TestConvertOpenAITurns(t *testing.T) {
	turns := []*models.Turn{
		{Role: models.RoleUser, Blocks: []models.ContentBlock{models.TextBlock("hi")}},
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.TextBlock("let me check"),
			models.ToolUseBlock("c1", "lookup", json.RawMessage(`{"q":"x"}`)),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("c1", "found it", false),
		}},
	}
	out := convertOpenAITurns(turns, "be brief")

	if len(out) != 4 {
		t.Fatalf("expected 4 messages (system + 3), got %d", len(out))
	}
	if out[0].Role != "system" || out[0].Content != "be brief" {
		t.Errorf("system message wrong: %+v", out[0])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("assistant tool call missing: %+v", out[2])
	}
	if out[3].Role != "tool" || out[3].ToolCallID != "c1" {
		t.Errorf("tool result message wrong: %+v", out[3])
	}
}

func TestConvertAnthropicTurnsRejectsBadToolInput(t *testing.T) {
	turns := []*models.Turn{
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.ToolUseBlock("c1", "lookup", json.RawMessage(`not json`)),
		}},
	}
	if _, err := convertAnthropicTurns(turns); err == nil {
		t.Error("expected error for invalid tool input")
	}
}

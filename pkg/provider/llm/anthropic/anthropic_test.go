package anthropic

import (
	"testing"

	"github.com/MrWong99/atrium/pkg/types"
)

func TestConvertMessages_User(t *testing.T) {
	out, err := convertMessages([]types.Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
}

func TestConvertMessages_AssistantWithToolCalls(t *testing.T) {
	out, err := convertMessages([]types.Message{{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Berlin"}`},
		},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
}

func TestConvertMessages_Tool(t *testing.T) {
	out, err := convertMessages([]types.Message{{
		Role: "tool", Content: "sunny", ToolCallID: "call_1",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 message, got %d", len(out))
	}
}

func TestConvertMessages_SystemSkipped(t *testing.T) {
	out, err := convertMessages([]types.Message{{Role: "system", Content: "be nice"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected system messages to be skipped, got %d", len(out))
	}
}

func TestConvertMessages_UnknownRole(t *testing.T) {
	_, err := convertMessages([]types.Message{{Role: "narrator", Content: "x"}})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestModelCapabilities_Opus4(t *testing.T) {
	caps := modelCapabilities("claude-opus-4-20250514")
	if caps.MaxOutputTokens != 64_000 {
		t.Errorf("expected MaxOutputTokens 64000, got %d", caps.MaxOutputTokens)
	}
	if !caps.SupportsToolCalling {
		t.Error("expected SupportsToolCalling=true")
	}
}

func TestModelCapabilities_Haiku(t *testing.T) {
	caps := modelCapabilities("claude-3-5-haiku-20241022")
	if caps.SupportsVision {
		t.Error("expected SupportsVision=false for haiku")
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"tool_use":      "tool_calls",
		"max_tokens":    "length",
		"refusal":       "refusal",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_RejectsEmptyAPIKey(t *testing.T) {
	if _, err := New("", "claude-opus-4-20250514"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_RejectsEmptyModel(t *testing.T) {
	if _, err := New("sk-ant-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

package ollama

import (
	"testing"

	"github.com/MrWong99/atrium/pkg/types"
)

func TestConvertMessage_Roles(t *testing.T) {
	for _, role := range []string{"system", "user", "assistant", "tool"} {
		msg, err := convertMessage(types.Message{Role: role, Content: "hi"})
		if err != nil {
			t.Fatalf("role %q: unexpected error: %v", role, err)
		}
		if msg.Role != role {
			t.Errorf("role %q: got %q", role, msg.Role)
		}
	}
}

func TestConvertMessage_UnknownRole(t *testing.T) {
	_, err := convertMessage(types.Message{Role: "narrator", Content: "x"})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestConvertMessage_ToolCallArguments(t *testing.T) {
	msg, err := convertMessage(types.Message{
		Role: "assistant",
		ToolCalls: []types.ToolCall{
			{Name: "get_weather", Arguments: `{"city":"Berlin"}`},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	if msg.ToolCalls[0].Function.Name != "get_weather" {
		t.Errorf("expected name get_weather, got %s", msg.ToolCalls[0].Function.Name)
	}
}

func TestModelCapabilities_Llama31(t *testing.T) {
	caps := modelCapabilities("llama3.1:8b")
	if caps.ContextWindow != 128_000 {
		t.Errorf("expected context window 128000, got %d", caps.ContextWindow)
	}
}

func TestModelCapabilities_Vision(t *testing.T) {
	caps := modelCapabilities("llava:13b")
	if !caps.SupportsVision {
		t.Error("expected SupportsVision=true for llava")
	}
	if caps.SupportsToolCalling {
		t.Error("expected SupportsToolCalling=false for llava")
	}
}

func TestMapDoneReason(t *testing.T) {
	cases := map[string]string{
		"stop":       "stop",
		"":           "stop",
		"length":     "length",
		"tool_calls": "tool_calls",
		"other":      "other",
	}
	for in, want := range cases {
		if got := mapDoneReason(in); got != want {
			t.Errorf("mapDoneReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_RejectsEmptyModel(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_DefaultHost(t *testing.T) {
	p, err := New("llama3.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "llama3.1" {
		t.Errorf("expected model llama3.1, got %s", p.model)
	}
}

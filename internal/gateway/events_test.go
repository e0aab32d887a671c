package gateway

import (
	"encoding/json"
	"testing"
)

func TestInboundFrame_DecodesStartEvent(t *testing.T) {
	raw := []byte(`{
		"event": "start",
		"start": {
			"streamSid": "MZ123",
			"callSid": "CA456",
			"customParameters": {"caller_phone": "+15551234567"}
		}
	}`)

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != eventStart {
		t.Fatalf("Event = %q, want %q", frame.Event, eventStart)
	}
	if frame.Start == nil {
		t.Fatal("Start payload is nil")
	}
	if frame.Start.StreamSID != "MZ123" || frame.Start.CallSID != "CA456" {
		t.Errorf("Start = %+v", frame.Start)
	}
	if got := frame.Start.CustomParameters["caller_phone"]; got != "+15551234567" {
		t.Errorf("caller_phone = %q", got)
	}
}

func TestInboundFrame_DecodesMediaEvent(t *testing.T) {
	raw := []byte(`{"event":"media","media":{"payload":"AAEC"}}`)

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Event != eventMedia || frame.Media == nil {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Media.Payload != "AAEC" {
		t.Errorf("Payload = %q", frame.Media.Payload)
	}
}

func TestOutboundFrame_EncodesExpectedShape(t *testing.T) {
	out := outboundFrame{
		Event:     "media",
		StreamSID: "MZ123",
		Media:     outboundMediaMsg{Payload: "AAEC"},
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal back: %v", err)
	}
	if decoded["event"] != "media" || decoded["streamSid"] != "MZ123" {
		t.Errorf("decoded = %+v", decoded)
	}
	media, ok := decoded["media"].(map[string]any)
	if !ok || media["payload"] != "AAEC" {
		t.Errorf("media = %+v", decoded["media"])
	}
}

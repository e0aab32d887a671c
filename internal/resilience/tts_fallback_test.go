package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/atrium/pkg/provider/tts"
	ttsmock "github.com/MrWong99/atrium/pkg/provider/tts/mock"
)

func TestTTSFallback_NewSession_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Provider{
		SpeakChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
	}
	secondary := &ttsmock.Provider{
		SpeakChunks: [][]byte{[]byte("fallback-audio")},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	sess, err := fb.NewSession(context.Background(), tts.VoiceProfile{
		ID:   "v1",
		Name: "TestVoice",
	}, tts.StreamConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sess.Speak("hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	sess.Close()

	if len(primary.NewSessionCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.NewSessionCalls))
	}
	if len(secondary.NewSessionCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.NewSessionCalls))
	}
}

func TestTTSFallback_NewSession_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		NewSessionErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		SpeakChunks: [][]byte{[]byte("fallback-audio")},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	sess, err := fb.NewSession(context.Background(), tts.VoiceProfile{}, tts.StreamConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sess.Speak("hello"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	chunk := <-sess.Audio()
	if string(chunk) != "fallback-audio" {
		t.Fatalf("chunk = %q, want fallback-audio", string(chunk))
	}
	if len(secondary.NewSessionCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.NewSessionCalls))
	}
}

func TestTTSFallback_NewSession_AllFail(t *testing.T) {
	primary := &ttsmock.Provider{NewSessionErr: errors.New("primary down")}
	secondary := &ttsmock.Provider{NewSessionErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.NewSession(context.Background(), tts.VoiceProfile{}, tts.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ListVoices_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		ListVoicesErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []tts.VoiceProfile{
			{ID: "v1", Name: "Alice"},
			{ID: "v2", Name: "Bob"},
		},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(voices) != 2 {
		t.Fatalf("got %d voices, want 2", len(voices))
	}
	if voices[0].Name != "Alice" {
		t.Fatalf("voices[0].Name = %q, want Alice", voices[0].Name)
	}
}

func TestTTSFallback_CloneVoice_Failover(t *testing.T) {
	primary := &ttsmock.Provider{
		CloneVoiceErr: errors.New("primary down"),
	}
	secondary := &ttsmock.Provider{
		CloneVoiceResult: &tts.VoiceProfile{ID: "cloned-v1", Name: "ClonedVoice"},
	}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	voice, err := fb.CloneVoice(context.Background(), [][]byte{[]byte("sample-audio")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voice.ID != "cloned-v1" {
		t.Fatalf("voice.ID = %q, want cloned-v1", voice.ID)
	}
}

package artifact

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/atrium/pkg/provider/tts"
)

func voiceA() tts.VoiceProfile { return tts.VoiceProfile{Provider: "coqui", ID: "default"} }
func voiceB() tts.VoiceProfile { return tts.VoiceProfile{Provider: "coqui", ID: "alt"} }

func TestKey_StableForSameInput(t *testing.T) {
	if Key("hello", voiceA()) != Key("hello", voiceA()) {
		t.Error("Key is not deterministic")
	}
}

func TestKey_DiffersByTextOrVoice(t *testing.T) {
	k1 := Key("hello", voiceA())
	k2 := Key("goodbye", voiceA())
	k3 := Key("hello", voiceB())
	if k1 == k2 || k1 == k3 || k2 == k3 {
		t.Errorf("expected distinct keys, got %q %q %q", k1, k2, k3)
	}
}

func TestGetOrSynthesize_CachesAfterFirstCall(t *testing.T) {
	var calls int32
	synth := func(_ context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(text), nil
	}
	c, err := New(10, synth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id1, data1, err := c.GetOrSynthesize(context.Background(), "hello", voiceA())
	if err != nil {
		t.Fatalf("GetOrSynthesize: %v", err)
	}
	id2, data2, err := c.GetOrSynthesize(context.Background(), "hello", voiceA())
	if err != nil {
		t.Fatalf("GetOrSynthesize: %v", err)
	}
	if id1 != id2 || string(data1) != string(data2) {
		t.Errorf("expected identical results, got (%q,%q) and (%q,%q)", id1, data1, id2, data2)
	}
	if calls != 1 {
		t.Errorf("synth called %d times, want 1", calls)
	}
}

func TestGetOrSynthesize_ConcurrentMissCoalesces(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	synth := func(_ context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(text), nil
	}
	c, err := New(10, synth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrSynthesize(context.Background(), "concurrent", voiceA())
			if err != nil {
				t.Errorf("GetOrSynthesize: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("synth called %d times under concurrent miss, want 1", calls)
	}
}

func TestGetOrSynthesize_PropagatesSynthError(t *testing.T) {
	wantErr := errors.New("tts provider unavailable")
	synth := func(context.Context, string, tts.VoiceProfile) ([]byte, error) {
		return nil, wantErr
	}
	c, err := New(10, synth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = c.GetOrSynthesize(context.Background(), "hello", voiceA())
	if !errors.Is(err, wantErr) {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	synth := func(_ context.Context, text string, _ tts.VoiceProfile) ([]byte, error) {
		return []byte(text), nil
	}
	c, err := New(2, synth)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, _ = c.GetOrSynthesize(context.Background(), "a", voiceA())
	_, _, _ = c.GetOrSynthesize(context.Background(), "b", voiceA())
	// Touch "a" so "b" becomes the least recently used entry.
	_, _, _ = c.GetOrSynthesize(context.Background(), "a", voiceA())
	_, _, _ = c.GetOrSynthesize(context.Background(), "c", voiceA())

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	if _, err := c.Fetch(Key("b", voiceA())); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected %q to be evicted, got err=%v", "b", err)
	}
	if _, err := c.Fetch(Key("a", voiceA())); err != nil {
		t.Errorf("expected %q to survive eviction, got err=%v", "a", err)
	}
	if _, err := c.Fetch(Key("c", voiceA())); err != nil {
		t.Errorf("expected %q to be present, got err=%v", "c", err)
	}
}

func TestFetch_UnknownIDReturnsErrNotFound(t *testing.T) {
	c, err := New(10, func(context.Context, string, tts.VoiceProfile) ([]byte, error) { return nil, nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Fetch("nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestNew_RejectsInvalidArgs(t *testing.T) {
	if _, err := New(0, func(context.Context, string, tts.VoiceProfile) ([]byte, error) { return nil, nil }); err == nil {
		t.Error("expected error for max=0")
	}
	if _, err := New(10, nil); err == nil {
		t.Error("expected error for nil synth")
	}
}

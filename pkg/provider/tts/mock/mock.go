// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and spoken text are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SpeakChunks:      [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	sess, _ := p.NewSession(ctx, voice, cfg)
//	sess.Speak("hello")
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/atrium/pkg/provider/tts"
)

// NewSessionCall records a single invocation of NewSession.
type NewSessionCall struct {
	Ctx   context.Context
	Voice tts.VoiceProfile
	Cfg   tts.StreamConfig
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	Ctx context.Context
}

// CloneVoiceCall records a single invocation of CloneVoice.
type CloneVoiceCall struct {
	Ctx     context.Context
	Samples [][]byte
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakChunks is the sequence of audio byte slices a Session emits on Audio:
	// each Speak call pushes the next one, cycling back to the first.
	SpeakChunks [][]byte

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile
	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// CloneVoiceResult is returned by CloneVoice. May be nil.
	CloneVoiceResult *tts.VoiceProfile
	// CloneVoiceErr, if non-nil, is returned as the error from CloneVoice.
	CloneVoiceErr error

	NewSessionCalls []NewSessionCall
	ListVoicesCalls []ListVoicesCall
	CloneVoiceCalls []CloneVoiceCall
	Sessions        []*Session
}

// NewSession records the call and, if NewSessionErr is nil, returns a *Session
// fixture.
func (p *Provider) NewSession(ctx context.Context, voice tts.VoiceProfile, cfg tts.StreamConfig) (tts.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewSessionCalls = append(p.NewSessionCalls, NewSessionCall{Ctx: ctx, Voice: voice, Cfg: cfg})
	if p.NewSessionErr != nil {
		return nil, p.NewSessionErr
	}
	chunks := make([][]byte, len(p.SpeakChunks))
	copy(chunks, p.SpeakChunks)
	sess := &Session{chunks: chunks, audio: make(chan []byte, 256), done: make(chan struct{}, 16)}
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// CloneVoice records the call and returns CloneVoiceResult, CloneVoiceErr.
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	samplesCopy := make([][]byte, len(samples))
	copy(samplesCopy, samples)
	p.CloneVoiceCalls = append(p.CloneVoiceCalls, CloneVoiceCall{Ctx: ctx, Samples: samplesCopy})
	return p.CloneVoiceResult, p.CloneVoiceErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NewSessionCalls = nil
	p.ListVoicesCalls = nil
	p.CloneVoiceCalls = nil
	p.Sessions = nil
}

// Session is a mock implementation of tts.Session. Every Speak call pushes the
// next configured chunk (cycling if Speak is called more times than there are
// chunks) onto Audio; Flush and Cancel are recorded but otherwise no-ops other
// than Cancel draining Audio.
type Session struct {
	mu      sync.Mutex
	chunks  [][]byte
	audio   chan []byte
	done    chan struct{}
	closed  bool
	Spoken  []string
	Flushes int
	Cancels int
}

// Speak records the text and pushes the next configured chunk onto Audio.
func (s *Session) Speak(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errNotOpen
	}
	s.Spoken = append(s.Spoken, text)
	if len(s.chunks) == 0 {
		return nil
	}
	chunk := s.chunks[(len(s.Spoken)-1)%len(s.chunks)]
	select {
	case s.audio <- chunk:
	default:
	}
	return nil
}

// Flush records the call and signals Done, simulating the backend finishing
// the queued utterance immediately.
func (s *Session) Flush() error {
	s.mu.Lock()
	s.Flushes++
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return nil
}

// Cancel records the call and drains Audio.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cancels++
	for {
		select {
		case <-s.audio:
			continue
		default:
		}
		break
	}
	return nil
}

// Audio returns the channel of synthesized chunks.
func (s *Session) Audio() <-chan []byte {
	return s.audio
}

// Done returns the channel signalled by Flush.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close marks the session closed and closes Audio.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.audio)
	return nil
}

var errNotOpen = errors.New("mock: session is closed")

// Ensure Provider and Session implement their respective interfaces at compile time.
var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Session  = (*Session)(nil)
)

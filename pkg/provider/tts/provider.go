// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, or a local
// Coqui instance) and presents a uniform session interface. The central
// abstraction is Session: once opened for a call, the orchestrator feeds it text
// fragments as they become available from the model and reads synthesized audio
// back on a single channel, in the order it was spoken. A session models FIFO
// speech: text queued with Speak is synthesized and emitted in call order, Flush
// marks the end of an utterance so the provider can close out any buffered
// fragment, and Cancel discards everything queued or in flight — the mechanism
// behind barge-in, where the caller starts speaking over the agent.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may run in
// parallel (one per active call).
type Provider interface {
	// NewSession opens a synthesis session for a single call. The returned Session
	// is ready to accept text immediately and remains open until Close is called.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported voice, or ctx already cancelled).
	NewSession(ctx context.Context, voice VoiceProfile, cfg StreamConfig) (Session, error)

	// ListVoices returns all voice profiles available from this provider. The list
	// reflects the provider's current catalogue and may change between calls if the
	// underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)

	// CloneVoice creates a new voice profile by training on the supplied audio
	// samples. Each element of samples must be raw PCM or a provider-supported
	// encoded format (e.g., WAV, MP3 — consult the implementation).
	//
	// This is an expensive operation and should not be called in the hot path.
	// A nil or empty samples slice should return an error rather than panic.
	CloneVoice(ctx context.Context, samples [][]byte) (*VoiceProfile, error)
}

// Session represents an open TTS synthesis session bound to a single call.
//
// Callers must call Close when the session is no longer needed. All methods must
// be safe for concurrent use; Speak is typically called from the turn-assembly
// goroutine while Audio is drained by the media gateway writer.
type Session interface {
	// Speak enqueues a fragment of text for synthesis. Fragments are synthesized
	// and emitted on Audio in the order Speak was called. Returns an error if the
	// session is closed.
	Speak(text string) error

	// Flush signals the end of the current utterance: any buffered text fragment
	// not yet large enough to synthesize is flushed through the pipeline. Flush
	// does not close the session; more text may be queued afterward for the next
	// utterance.
	Flush() error

	// Cancel discards all queued and in-flight text immediately and drains any
	// audio already produced but not yet read from Audio. Used to implement
	// barge-in: when the caller starts speaking, the current agent utterance is
	// cut short. Cancel does not close the session; Speak may be called again
	// afterward to begin a new utterance.
	Cancel() error

	// Audio returns a read-only channel that emits raw PCM audio byte slices in
	// speak order. The channel is closed when the session is closed.
	Audio() <-chan []byte

	// Done returns a channel that receives a value each time the audio queued
	// by a Speak/Flush pair has finished emitting on Audio. It is the terminal
	// per-utterance signal callers wait on to know an utterance has fully
	// played out — e.g. to drive a call's state machine from GREETING or
	// SPEAKING back to LISTENING. A result discarded by Cancel before
	// completion does not produce a Done signal.
	Done() <-chan struct{}

	// Close terminates the session and releases all associated resources. After
	// Close returns, the Audio channel is closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

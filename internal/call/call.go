// Package call owns the per-call state machine and the orchestrator that
// manages every concurrently active call: greeting, listening for speech,
// invoking the reasoning driver, speaking the reply, barge-in, and the
// final teardown/persistence sequence.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/atrium/internal/reasoning"
	"github.com/MrWong99/atrium/internal/retrieval"
	"github.com/MrWong99/atrium/internal/store"
	"github.com/MrWong99/atrium/pkg/provider/stt"
	"github.com/MrWong99/atrium/pkg/provider/tts"
	"github.com/MrWong99/atrium/pkg/types"
)

// Timing and sizing constants governing every call's lifecycle.
const (
	// CallIdleTimeout ends a call after this long without an inbound audio
	// frame.
	CallIdleTimeout = 30 * time.Second

	// BargeInMinChars is the minimum running length of a non-empty interim
	// transcript, while the assistant is speaking, that triggers barge-in.
	BargeInMinChars = 3

	// ShutdownGrace bounds how long ENDING waits for collaborators (STT, TTS,
	// the websocket) to release resources before proceeding to ENDED anyway.
	ShutdownGrace = 2 * time.Second

	// ModelTurnTimeout bounds a single reasoning turn; on expiry the turn is
	// cancelled and a fallback reply is spoken.
	ModelTurnTimeout = 8 * time.Second

	audioSampleRate = 8000
	audioChannels   = 1
)

// GreetingText is spoken immediately after a call's media stream starts.
const GreetingText = "Thanks for calling. How can I help you today?"

// AudioSink receives outbound audio frames destined for the media gateway.
type AudioSink interface {
	SendAudio(frame types.AudioFrame) error
}

// Deps bundles the provider-level collaborators a Call needs. STT, TTS,
// Driver and Store must be set. A nil Sink drops outbound audio, a nil
// Retrieval skips context building, an empty Greeting selects GreetingText,
// and a zero IdleTimeout or ShutdownGraceOverride selects CallIdleTimeout or
// ShutdownGrace.
type Deps struct {
	STT       stt.Provider
	TTS       tts.Provider
	Driver    *reasoning.Driver
	Retrieval *retrieval.Engine
	Store     store.Store
	Voice     tts.VoiceProfile
	Sink      AudioSink
	Greeting  string

	// IdleTimeout and ShutdownGraceOverride default to CallIdleTimeout and
	// ShutdownGrace respectively when zero; tests shorten them to avoid
	// waiting out the production values.
	IdleTimeout           time.Duration
	ShutdownGraceOverride time.Duration
}

// Call is the exclusive owner of one call's state from stream-start through
// teardown. All exported methods are safe for concurrent use; the run loop
// itself is single-goroutine, so transcript history and state changes are
// free of internal races even without a lock, but the lock still guards
// state read from other goroutines (e.g. an admin status endpoint).
type Call struct {
	id           string
	callerNumber string
	deps         Deps

	mu              sync.Mutex
	state           State
	startedAt       time.Time
	transcript      []store.TranscriptLine
	identifiedName  string
	inferredPurpose string
	retrievalCtx    *retrieval.Context
	outcome         store.CallOutcome

	sttSession stt.SessionHandle
	ttsSession tts.Session
	ready      chan struct{}

	ctx        context.Context
	cancel     context.CancelFunc
	turnCancel context.CancelFunc

	done chan struct{}
}

// New creates a Call for the given gateway call ID and caller number. Run
// must be called to start its lifecycle.
func New(id, callerNumber string, deps Deps) *Call {
	ctx, cancel := context.WithCancel(context.Background())
	greeting := deps.Greeting
	if strings.TrimSpace(greeting) == "" {
		greeting = GreetingText
	}
	deps.Greeting = greeting
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = CallIdleTimeout
	}
	if deps.ShutdownGraceOverride <= 0 {
		deps.ShutdownGraceOverride = ShutdownGrace
	}

	return &Call{
		id:           id,
		callerNumber: callerNumber,
		deps:         deps,
		state:        StateIdle,
		ctx:          ctx,
		cancel:       cancel,
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the gateway-assigned call identifier.
func (c *Call) ID() string { return c.id }

// State returns the call's current state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState validates and applies a transition, logging the result. Callers
// must not hold c.mu.
func (c *Call) setState(next State) error {
	c.mu.Lock()
	cur := c.state
	if !canTransition(cur, next) {
		c.mu.Unlock()
		return fmt.Errorf("call: invalid transition %s -> %s", cur, next)
	}
	c.state = next
	c.mu.Unlock()

	slog.Debug("call: state transition", "call_id", c.id, "from", cur, "to", next)
	return nil
}

// Run drives the call's full lifecycle: it opens the STT/TTS sessions,
// speaks the greeting, then services STT events until ENDING is reached.
// Run blocks until the call is fully torn down; callers typically invoke it
// from its own goroutine.
func (c *Call) Run() {
	defer close(c.done)
	defer c.cancel()

	c.mu.Lock()
	c.startedAt = time.Now()
	c.mu.Unlock()

	if err := c.open(); err != nil {
		slog.Warn("call: open failed", "call_id", c.id, "err", err)
		c.teardown(store.OutcomeMissed)
		return
	}

	outcome := c.loop()
	c.teardown(outcome)
}

// open starts the STT and TTS sessions and speaks the greeting.
func (c *Call) open() error {
	sttSession, err := c.deps.STT.StartStream(c.ctx, stt.StreamConfig{SampleRate: audioSampleRate, Channels: audioChannels})
	if err != nil {
		return fmt.Errorf("call: start stt stream: %w", err)
	}
	c.sttSession = sttSession

	ttsSession, err := c.deps.TTS.NewSession(c.ctx, c.deps.Voice, tts.StreamConfig{SampleRate: audioSampleRate, Channels: audioChannels})
	if err != nil {
		_ = sttSession.Close()
		return fmt.Errorf("call: new tts session: %w", err)
	}
	c.ttsSession = ttsSession
	close(c.ready)

	go c.drainAudio()

	if err := c.setState(StateGreeting); err != nil {
		return err
	}
	if err := c.ttsSession.Speak(c.deps.Greeting); err != nil {
		return fmt.Errorf("call: speak greeting: %w", err)
	}
	return c.ttsSession.Flush()
}

// drainAudio forwards synthesized audio frames to the gateway sink until
// the TTS session closes.
func (c *Call) drainAudio() {
	for chunk := range c.ttsSession.Audio() {
		if c.deps.Sink == nil {
			continue
		}
		if err := c.deps.Sink.SendAudio(types.AudioFrame{
			Data:       chunk,
			SampleRate: audioSampleRate,
			Channels:   audioChannels,
		}); err != nil {
			slog.Warn("call: send audio frame failed", "call_id", c.id, "err", err)
		}
	}
}

// loop services STT events (partials for barge-in, finals for reasoning
// turns) and the idle-timeout watchdog until an ending condition is
// reached, then returns the outcome to record.
func (c *Call) loop() store.CallOutcome {
	idle := time.NewTimer(c.deps.IdleTimeout)
	defer idle.Stop()

	var connected bool
	outcomeFor := func() store.CallOutcome {
		if connected {
			return store.OutcomeConnected
		}
		return store.OutcomeMissed
	}

	for {
		// Drain any pending speech-done signals before looking at STT events,
		// so a final transcript queued in the same instant as the greeting or
		// reply finishing is always evaluated against the post-transition
		// state rather than racing it.
		for drained := false; !drained; {
			select {
			case <-c.ttsSession.Done():
				c.handleSpeechDone()
			default:
				drained = true
			}
		}

		select {
		case <-c.ctx.Done():
			return outcomeFor()

		case <-idle.C:
			return outcomeFor()

		case <-c.ttsSession.Done():
			c.handleSpeechDone()

		case partial, ok := <-c.sttSession.Partials():
			if !ok {
				return outcomeFor()
			}
			idle.Reset(c.deps.IdleTimeout)
			c.handlePartial(partial)

		case final, ok := <-c.sttSession.Finals():
			if !ok {
				return outcomeFor()
			}
			idle.Reset(c.deps.IdleTimeout)
			if strings.TrimSpace(final.Text) != "" {
				connected = true
			}
			if outcome, ending := c.handleFinal(final); ending {
				return outcome
			}
		}
	}
}

// handleSpeechDone returns the call to LISTENING once the greeting or the
// current reply has fully finished playing out, per the TTS session's
// terminal done signal. A Done arriving in any other state (e.g. after
// barge-in already moved the call back to LISTENING) is a stale signal and
// is ignored.
func (c *Call) handleSpeechDone() {
	switch c.State() {
	case StateGreeting, StateSpeaking:
		if err := c.setState(StateListening); err != nil {
			slog.Warn("call: speech-done transition failed", "call_id", c.id, "err", err)
		}
	}
}

// handlePartial implements barge-in: while SPEAKING, a sufficiently long
// non-empty interim transcript cancels the in-flight TTS speech and any
// in-flight reasoning turn, then returns the call to LISTENING.
func (c *Call) handlePartial(t types.Transcript) {
	if c.State() != StateSpeaking {
		return
	}
	if len(strings.TrimSpace(t.Text)) < BargeInMinChars {
		return
	}

	if err := c.ttsSession.Cancel(); err != nil {
		slog.Warn("call: barge-in cancel failed", "call_id", c.id, "err", err)
	}

	c.mu.Lock()
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.mu.Unlock()

	if err := c.setState(StateListening); err != nil {
		slog.Warn("call: barge-in transition failed", "call_id", c.id, "err", err)
	}
}

// handleFinal appends the final transcript to history and, if its text is
// non-empty, runs a reasoning turn and speaks the reply. It returns
// (outcome, true) when the turn determined the call should end.
func (c *Call) handleFinal(t types.Transcript) (store.CallOutcome, bool) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return "", false
	}

	c.appendTranscript(store.SpeakerCaller, text)

	if err := c.setState(StateThinking); err != nil {
		slog.Warn("call: enter thinking failed", "call_id", c.id, "err", err)
		return "", false
	}

	turn := c.runTurn(text)

	if err := c.setState(StateSpeaking); err != nil {
		slog.Warn("call: enter speaking failed", "call_id", c.id, "err", err)
		return "", false
	}

	c.appendTranscript(store.SpeakerAssistant, turn.Reply)

	if err := c.ttsSession.Speak(turn.Reply); err != nil {
		slog.Warn("call: speak reply failed", "call_id", c.id, "err", err)
		return store.OutcomeConnected, true
	}
	if err := c.ttsSession.Flush(); err != nil {
		slog.Warn("call: flush reply failed", "call_id", c.id, "err", err)
	}

	return "", false
}

// runTurn extracts opportunistic name/purpose heuristics, runs the bounded
// reasoning turn under ModelTurnTimeout, and returns its result. The turn's
// cancellation handle is published so handlePartial can cancel it on
// barge-in.
func (c *Call) runTurn(latest string) reasoning.Turn {
	ext := reasoning.Extract(latest)

	c.mu.Lock()
	name, purpose := reasoning.SeedContext(retrieval.Context{
		IdentifiedName:  c.identifiedName,
		InferredPurpose: c.inferredPurpose,
	}, ext)
	c.identifiedName = name
	c.inferredPurpose = purpose
	history := c.messageHistory()
	tail := c.transcriptTail()
	c.mu.Unlock()

	if c.deps.Retrieval != nil {
		rc := c.deps.Retrieval.BuildContext(c.ctx, name, purpose, tail)
		c.mu.Lock()
		c.retrievalCtx = rc
		c.mu.Unlock()
	}

	turnCtx, cancel := context.WithTimeout(c.ctx, ModelTurnTimeout)
	c.mu.Lock()
	c.turnCancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.turnCancel = nil
		c.mu.Unlock()
	}()

	systemPrompt := c.systemPrompt()
	turn := c.deps.Driver.Run(turnCtx, systemPrompt, history)
	return turn
}

// systemPrompt formats a minimal identity/context preamble for the model,
// including any contact and email hits build_context surfaced for the
// caller's identified name and inferred purpose.
func (c *Call) systemPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sb strings.Builder
	sb.WriteString("You are a courteous phone receptionist. Keep replies brief and natural to speak aloud.")
	if c.identifiedName != "" {
		sb.WriteString(" The caller has identified themselves as " + c.identifiedName + ".")
	}
	if c.inferredPurpose != "" {
		sb.WriteString(" Their stated purpose: " + c.inferredPurpose + ".")
	}
	if c.retrievalCtx != nil {
		for _, hit := range c.retrievalCtx.Contacts {
			sb.WriteString(" Possible matching contact on file: " + hit.Content + ".")
		}
		for _, hit := range c.retrievalCtx.Emails {
			sb.WriteString(" Related prior email on file: " + hit.Content + ".")
		}
	}
	return sb.String()
}

// transcriptTail converts the recorded transcript into retrieval.Utterance
// values for build_context. Must be called with c.mu held.
func (c *Call) transcriptTail() []retrieval.Utterance {
	tail := make([]retrieval.Utterance, 0, len(c.transcript))
	for _, line := range c.transcript {
		tail = append(tail, retrieval.Utterance{Speaker: string(line.Speaker), Text: line.Text})
	}
	return tail
}

// messageHistory converts the recorded transcript into LLM messages. Must be
// called with c.mu held.
func (c *Call) messageHistory() []types.Message {
	msgs := make([]types.Message, 0, len(c.transcript))
	for _, line := range c.transcript {
		role := "user"
		if line.Speaker == store.SpeakerAssistant {
			role = "assistant"
		}
		msgs = append(msgs, types.Message{Role: role, Content: line.Text})
	}
	return msgs
}

// appendTranscript records one line under the call's single-writer
// discipline: Run's goroutine is the only caller.
func (c *Call) appendTranscript(speaker store.Speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, store.TranscriptLine{
		Speaker:   speaker,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// PushAudio forwards one inbound frame from the media gateway to the STT
// session. The gateway is the sole caller; frames arriving before the
// session finishes opening wait briefly, and frames arriving after the call
// has ended return an error the gateway may safely ignore.
func (c *Call) PushAudio(frame types.AudioFrame) error {
	select {
	case <-c.ready:
	case <-c.ctx.Done():
		return fmt.Errorf("call: not accepting audio, call is ending")
	}
	return c.sttSession.SendAudio(frame.Data)
}

// Hangup explicitly ends the call, e.g. on a gateway stream-stop event.
func (c *Call) Hangup() {
	c.cancel()
}

// Wait blocks until the call has fully torn down.
func (c *Call) Wait() {
	<-c.done
}

// teardown transitions through ENDING to ENDED, closing every session
// within ShutdownGrace and persisting the call record with one retry.
func (c *Call) teardown(outcome store.CallOutcome) {
	_ = c.setState(StateEnding)

	c.mu.Lock()
	if c.turnCancel != nil {
		c.turnCancel()
	}
	c.outcome = outcome
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if c.sttSession != nil {
			_ = c.sttSession.Close()
		}
		if c.ttsSession != nil {
			_ = c.ttsSession.Close()
		}
	}()

	select {
	case <-done:
	case <-time.After(c.deps.ShutdownGraceOverride):
		slog.Warn("call: shutdown grace exceeded, proceeding to ended", "call_id", c.id)
	}

	c.persist()

	_ = c.setState(StateEnded)
}

// persist writes the final call record, retrying once on
// store.ErrStoreUnavailable per the persistence contract.
func (c *Call) persist() {
	c.mu.Lock()
	rec := c.record()
	c.mu.Unlock()

	if err := c.deps.Store.PersistCall(context.Background(), rec); err != nil {
		slog.Warn("call: persist failed, retrying once", "call_id", c.id, "err", err)
		if err := c.deps.Store.PersistCall(context.Background(), rec); err != nil {
			slog.Error("call: persist failed after retry, proceeding to ended anyway", "call_id", c.id, "err", err)
		}
	}
}

// record builds the persisted call record. Must be called with c.mu held.
func (c *Call) record() store.Call {
	now := time.Now()
	var identifiedName, inferredPurpose *string
	if c.identifiedName != "" {
		identifiedName = &c.identifiedName
	}
	if c.inferredPurpose != "" {
		inferredPurpose = &c.inferredPurpose
	}
	transcript := make([]store.TranscriptLine, len(c.transcript))
	copy(transcript, c.transcript)

	return store.Call{
		ID:             c.id,
		CallerNumber:   c.callerNumber,
		StartedAt:      c.startedAt,
		EndedAt:        &now,
		IdentifiedName: identifiedName,
		Purpose:        inferredPurpose,
		Outcome:        c.outcome,
		Transcript:     transcript,
	}
}

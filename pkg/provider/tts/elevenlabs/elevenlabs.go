// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/MrWong99/atrium/pkg/provider/tts"
	"github.com/coder/websocket"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	voicesEndpoint   = "https://api.elevenlabs.io/v1/voices"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// NewSession opens a WebSocket to ElevenLabs for a single call and returns a
// Session that accepts text fragments and emits synthesized audio in order.
func (p *Provider) NewSession(ctx context.Context, voice tts.VoiceProfile, _ tts.StreamConfig) (tts.Session, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	sess := &session{p: p, voice: voice, speakDone: make(chan struct{}, 8)}
	if err := sess.dial(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// session implements tts.Session backed by a live ElevenLabs WebSocket
// connection. A session may be re-dialed internally (see Cancel) without the
// caller observing anything beyond a gap in Audio.
type session struct {
	p     *Provider
	voice tts.VoiceProfile

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	wg   sync.WaitGroup

	audio     chan []byte
	speakDone chan struct{}
	closed    bool
}

// dial establishes (or re-establishes) the WebSocket connection and starts the
// reader goroutine. Must be called with no connection currently active.
func (s *session) dial(ctx context.Context) error {
	wsURL := fmt.Sprintf(wsEndpointFmt, s.voice.ID, s.p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}

	boi := boiMessage{
		Text: " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey:     s.p.apiKey,
		OutputFormat: s.p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOI")
		return fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	if s.audio == nil {
		// Kept across re-dials so a caller holding Audio() keeps receiving.
		s.audio = make(chan []byte, 256)
	}
	done := s.done
	audio := s.audio
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(conn, done, audio, s.speakDone)
	return nil
}

// readLoop receives audio chunks from ElevenLabs until the connection closes
// or done is signalled. A response carrying isFinal marks the end of the
// utterance that triggered it, signalled on speakDone.
func (s *session) readLoop(conn *websocket.Conn, done chan struct{}, audio chan<- []byte, speakDone chan<- struct{}) {
	defer s.wg.Done()
	for {
		_, msg, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err == nil {
				select {
				case audio <- pcm:
				case <-done:
					return
				}
			}
		}
		if resp.IsFinal {
			select {
			case speakDone <- struct{}{}:
			default:
			}
		}
	}
}

// Speak sends a text fragment for synthesis. Fragments arrive back on Audio in order.
func (s *session) Speak(text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("elevenlabs: session is closed")
	}
	payload := textMessage{Text: text}
	msgBytes, _ := json.Marshal(payload)
	if err := conn.Write(context.Background(), websocket.MessageText, msgBytes); err != nil {
		return fmt.Errorf("elevenlabs: speak: %w", err)
	}
	return nil
}

// Flush marks the end of the current utterance, prompting ElevenLabs to
// synthesize any buffered text fragment immediately rather than waiting for
// more context.
func (s *session) Flush() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("elevenlabs: session is closed")
	}
	flushBytes, _ := json.Marshal(textMessage{Text: " ", Flush: true})
	if err := conn.Write(context.Background(), websocket.MessageText, flushBytes); err != nil {
		return fmt.Errorf("elevenlabs: flush: %w", err)
	}
	return nil
}

// Cancel discards all queued and in-flight audio by tearing down the current
// connection and dialing a fresh one. ElevenLabs has no mid-stream "clear"
// command, so the only way to guarantee nothing stale reaches the caller is to
// stop reading from the old connection entirely.
func (s *session) Cancel() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	oldConn := s.conn
	oldDone := s.done
	s.mu.Unlock()

	if oldConn != nil {
		close(oldDone)
		oldConn.Close(websocket.StatusNormalClosure, "cancelled")
	}
	s.wg.Wait()

	// Drain whatever audio had already queued before the reader stopped.
	s.mu.Lock()
	for {
		select {
		case <-s.audio:
			continue
		default:
		}
		break
	}
	s.mu.Unlock()

	return s.dial(context.Background())
}

// Audio returns the channel of synthesized PCM chunks.
func (s *session) Audio() <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Done returns the channel signalled whenever a response carries isFinal.
func (s *session) Done() <-chan struct{} {
	return s.speakDone
}

// Close terminates the session. Calling Close more than once is safe.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	done := s.done
	audio := s.audio
	s.mu.Unlock()

	if conn != nil {
		close(done)
		conn.Close(websocket.StatusNormalClosure, "done")
	}
	s.wg.Wait()
	close(audio)
	return nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return toVoiceProfiles(vr), nil
}

// CloneVoice is not implemented.
// TODO: implement voice cloning via POST /v1/voices/add
func (p *Provider) CloneVoice(_ context.Context, samples [][]byte) (*tts.VoiceProfile, error) {
	_ = samples
	return nil, errors.New("elevenlabs: CloneVoice is not implemented")
}

// ---- helpers ----

// buildWSMessage constructs the JSON text payload for a single text fragment.
// Used by tests to verify the payload shape without opening a real connection.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice constructs the WebSocket URL for a given voice and model.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return toVoiceProfiles(vr), nil
}

func toVoiceProfiles(vr voicesResponse) []tts.VoiceProfile {
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles
}

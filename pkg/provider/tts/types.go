package tts

// StreamConfig describes the audio format a synthesis session should produce.
type StreamConfig struct {
	// SampleRate is the output audio sample rate in Hz (8000 for telephony mulaw).
	SampleRate int

	// Channels is the number of output audio channels. Always 1 for this pipeline.
	Channels int
}

// VoiceProfile describes a TTS voice configuration for the receptionist's voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// PitchShift adjusts pitch (-10 to +10, 0 = default).
	PitchShift float64

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default).
	SpeedFactor float64

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

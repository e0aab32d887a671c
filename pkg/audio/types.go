// Package audio provides low-level PCM/mulaw codec and resampling helpers
// used by the media gateway adapter to move audio between the telephony
// provider's mulaw/8kHz wire format and the linear PCM format speech
// providers expect.
package audio

// Format describes the sample rate and channel count of a raw PCM buffer.
type Format struct {
	SampleRate int
	Channels   int
}

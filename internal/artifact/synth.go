package artifact

import (
	"bytes"
	"context"
	"fmt"

	"github.com/MrWong99/atrium/pkg/provider/tts"
)

// NewProviderSynthesizer returns a Synthesizer that opens a one-shot session
// against provider, speaks text, flushes, and collects every chunk emitted on
// Audio until the session's Done signal fires for the flushed utterance.
func NewProviderSynthesizer(provider tts.Provider, cfg tts.StreamConfig) Synthesizer {
	return func(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
		session, err := provider.NewSession(ctx, voice, cfg)
		if err != nil {
			return nil, fmt.Errorf("artifact: open synthesis session: %w", err)
		}
		defer session.Close()

		if err := session.Speak(text); err != nil {
			return nil, fmt.Errorf("artifact: speak: %w", err)
		}
		if err := session.Flush(); err != nil {
			return nil, fmt.Errorf("artifact: flush: %w", err)
		}

		var buf bytes.Buffer
		for {
			select {
			case chunk, ok := <-session.Audio():
				if !ok {
					return buf.Bytes(), nil
				}
				buf.Write(chunk)
			case <-session.Done():
				drainRemaining(&buf, session)
				return buf.Bytes(), nil
			case <-ctx.Done():
				return nil, fmt.Errorf("artifact: synthesis cancelled: %w", ctx.Err())
			}
		}
	}
}

// drainRemaining collects any audio chunks already buffered on Audio at the
// moment Done fires, without blocking for more.
func drainRemaining(buf *bytes.Buffer, session tts.Session) {
	for {
		select {
		case chunk, ok := <-session.Audio():
			if !ok {
				return
			}
			buf.Write(chunk)
		default:
			return
		}
	}
}

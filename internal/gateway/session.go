// Package gateway adapts a telephony provider's media-stream websocket to
// the call package's audio contracts: it decodes inbound mulaw frames into
// [types.AudioFrame] values for the orchestrator and encodes outbound
// frames back to mulaw for the wire.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/atrium/pkg/audio"
	"github.com/MrWong99/atrium/pkg/types"
	"github.com/coder/websocket"
)

const (
	wireSampleRate = 8000
	wireChannels   = 1

	// writeTimeout bounds a single outbound websocket write; a stalled
	// connection shouldn't be allowed to back up the call's TTS pipeline
	// indefinitely.
	writeTimeout = 2 * time.Second
)

var (
	// ErrClosed is returned by SendAudio once the session has stopped.
	ErrClosed = errors.New("gateway: session closed")

	// ErrProtocol wraps any malformed or out-of-order frame from the media
	// stream. The caller should treat this as fatal for the call.
	ErrProtocol = errors.New("gateway: protocol violation")
)

// Session owns one accepted media-stream websocket connection for the
// lifetime of a call. Exactly one goroutine should call Run; SendAudio is
// safe to call concurrently from any goroutine.
type Session struct {
	conn *websocket.Conn

	StreamSID   string
	CallSID     string
	CallerPhone string

	writeMu  sync.Mutex
	closed   bool
	closeMu  sync.Mutex
}

// Accept upgrades an HTTP request to a websocket and waits for the
// telephony provider's "connected" and "start" frames, populating
// StreamSID, CallSID, and CallerPhone (read from the caller_phone custom
// parameter set in the initial TwiML) before returning.
func Accept(w http.ResponseWriter, r *http.Request) (*Session, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Twilio and most telephony providers don't send an Origin header
		// meaningful for CORS purposes on this endpoint.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: accept websocket: %w", err)
	}

	sess := &Session{conn: conn}
	if err := sess.awaitStart(r.Context()); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad handshake")
		return nil, err
	}
	return sess, nil
}

// awaitStart reads frames until start arrives, tolerating an optional
// leading "connected" frame. Any other event before start is a protocol
// violation.
func (s *Session) awaitStart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for {
		frame, err := s.readFrame(ctx)
		if err != nil {
			return err
		}
		switch frame.Event {
		case eventConnected:
			continue
		case eventStart:
			if frame.Start == nil {
				return fmt.Errorf("%w: start event missing start payload", ErrProtocol)
			}
			s.StreamSID = frame.Start.StreamSID
			s.CallSID = frame.Start.CallSID
			s.CallerPhone = frame.Start.CustomParameters["caller_phone"]
			return nil
		default:
			return fmt.Errorf("%w: expected start, got %q", ErrProtocol, frame.Event)
		}
	}
}

func (s *Session) readFrame(ctx context.Context) (inboundFrame, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return inboundFrame{}, fmt.Errorf("gateway: read: %w", err)
	}
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("%w: decode frame: %v", ErrProtocol, err)
	}
	return frame, nil
}

// Run reads media/stop frames until the stream ends or ctx is cancelled.
// onAudio is invoked with a decoded PCM frame for every media event; a
// non-nil error from onAudio ends the loop. Run returns nil on an orderly
// stop event or context cancellation, and a wrapped ErrProtocol on any
// malformed frame.
func (s *Session) Run(ctx context.Context, onAudio func(types.AudioFrame) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := s.readFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch frame.Event {
		case eventMedia:
			if frame.Media == nil {
				return fmt.Errorf("%w: media event missing media payload", ErrProtocol)
			}
			raw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
			if err != nil {
				return fmt.Errorf("%w: decode media payload: %v", ErrProtocol, err)
			}
			pcm := audio.DecodeMulaw(raw)
			if err := onAudio(types.AudioFrame{
				Data:       pcm,
				SampleRate: wireSampleRate,
				Channels:   wireChannels,
				Timestamp:  time.Now(),
			}); err != nil {
				return err
			}
		case eventStop:
			return nil
		case eventConnected:
			// Providers may resend this; ignore.
		default:
			slog.Warn("gateway: unrecognized frame event", "event", frame.Event, "stream_sid", s.StreamSID)
		}
	}
}

// SendAudio implements call.AudioSink. frame.Data must be linear PCM at
// wireSampleRate/wireChannels; it is encoded to mulaw and written as one
// outbound media frame.
func (s *Session) SendAudio(frame types.AudioFrame) error {
	s.closeMu.Lock()
	closed := s.closed
	s.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	mulaw := audio.EncodeMulaw(frame.Data)
	payload := base64.StdEncoding.EncodeToString(mulaw)

	out := outboundFrame{
		Event:     "media",
		StreamSID: s.StreamSID,
		Media:     outboundMediaMsg{Payload: payload},
	}
	return s.writeJSON(out)
}

// Clear discards audio Twilio has buffered but not yet played, for
// barge-in.
func (s *Session) Clear() error {
	return s.writeJSON(outboundClearFrame{Event: "clear", StreamSID: s.StreamSID})
}

// Mark writes a named mark frame; the provider echoes it back as a "mark"
// event once playback reaches that point. Unused marks are safe to ignore.
func (s *Session) Mark(name string) error {
	return s.writeJSON(outboundMarkFrame{
		Event:     "mark",
		StreamSID: s.StreamSID,
		Mark:      outboundMarkMsg{Name: name},
	})
}

func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: marshal outbound frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("gateway: write: %w", err)
	}
	return nil
}

// Close terminates the underlying websocket connection. Safe to call more
// than once.
func (s *Session) Close() error {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()
	return s.conn.Close(websocket.StatusNormalClosure, "call ended")
}

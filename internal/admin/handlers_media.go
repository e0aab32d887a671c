package admin

import (
	"log/slog"
	"net/http"

	"github.com/MrWong99/atrium/internal/gateway"
)

// handleMedia serves GET /media: the telephony provider's bidirectional
// media-stream websocket. It accepts the connection, waits for the
// provider's start event (which carries the call and caller identity),
// registers itself as that call's audio sink, starts the call, and then
// pumps inbound audio into it until the stream ends.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	sess, err := gateway.Accept(w, r)
	if err != nil {
		slog.Warn("admin: media accept failed", "err", err)
		return
	}
	defer sess.Close()

	s.registry.register(sess.CallSID, sess)

	c, err := s.orchestrator.StartCall(sess.CallSID, sess.CallerPhone)
	if err != nil {
		slog.Error("admin: start call failed", "call_sid", sess.CallSID, "err", err)
		return
	}

	if err := sess.Run(r.Context(), c.PushAudio); err != nil {
		slog.Warn("admin: media session ended with error", "call_sid", sess.CallSID, "err", err)
	}
	c.Hangup()
}

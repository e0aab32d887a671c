package admin

import (
	"log/slog"
	"net/http"

	"github.com/MrWong99/atrium/internal/gateway"
)

// handleIncomingCall serves POST /incoming-call: the telephony provider's
// initial webhook for a new inbound call. It responds with TwiML that
// connects the call's media to our websocket endpoint, passing the
// caller's number through as a custom stream parameter.
func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	from := r.FormValue("From")

	streamURL := gateway.StreamURL(s.cfg.PublicBaseURL)
	markup, err := gateway.BuildStreamMarkup(streamURL, from, s.cfg.GreetingText)
	if err != nil {
		slog.Error("admin: build twiml failed", "call_sid", callSID, "err", err)
		http.Error(w, "failed to build call markup", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(markup))
}

// handleCallStatus serves POST /call-status: the telephony provider's
// out-of-band notification that a call has ended from the carrier's side
// (no-answer, busy, failed, or the callee hanging up after the media
// stream already closed). The orchestrator is the source of truth for a
// call still in progress, so this handler's only action is to make sure a
// call the provider considers over is not left running here: if the call
// is still active, it is hung up, which drives it through its normal
// teardown-and-persist path with whatever outcome the call loop already
// determined.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	callStatus := r.FormValue("CallStatus")

	if c := s.orchestrator.Lookup(callSID); c != nil {
		switch callStatus {
		case "completed", "busy", "failed", "no-answer", "canceled":
			slog.Info("admin: carrier reported call ended, hanging up", "call_sid", callSID, "call_status", callStatus)
			c.Hangup()
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

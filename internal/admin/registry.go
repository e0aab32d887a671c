// Package admin exposes the HTTP surface the telephony provider and the
// (externally owned) admin tooling talk to: the incoming-call and
// call-status webhooks, the media websocket upgrade, the audio artifact
// pull URL, health/readiness, and the Prometheus metrics exposition.
package admin

import (
	"sync"

	"github.com/MrWong99/atrium/internal/call"
)

// sinkRegistry hands a per-call [call.AudioSink] to the orchestrator's call
// factory. The media handler accepts the websocket first and only learns
// the gateway's call ID once the provider's start frame arrives, while the
// orchestrator's factory signature has no parameter for one — this bridges
// the two: register runs just before StartCall, and take consumes the
// entry so a stale sink can never leak into a later call reusing the ID.
type sinkRegistry struct {
	mu    sync.Mutex
	sinks map[string]call.AudioSink
}

func newSinkRegistry() *sinkRegistry {
	return &sinkRegistry{sinks: make(map[string]call.AudioSink)}
}

func (r *sinkRegistry) register(id string, sink call.AudioSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[id] = sink
}

// take returns and removes the sink registered for id, or nil if none was
// registered (the factory then leaves Deps.Sink unset, which call.Call
// tolerates by silently dropping outbound audio; nothing logs this).
func (r *sinkRegistry) take(id string) call.AudioSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.sinks[id]
	if !ok {
		return nil
	}
	delete(r.sinks, id)
	return sink
}

package admin

import (
	"net/http"

	"github.com/MrWong99/atrium/internal/artifact"
	"github.com/MrWong99/atrium/internal/call"
	"github.com/MrWong99/atrium/internal/health"
	"github.com/MrWong99/atrium/internal/observe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the admin surface's own settings, distinct from the
// per-call Deps template every call is built from.
type Config struct {
	// PublicBaseURL is the externally reachable base URL used to build the
	// media-stream websocket URL returned in TwiML.
	PublicBaseURL string

	// GreetingText is spoken by the telephony provider itself (via <Say>)
	// before the media stream connects; it is independent of the greeting
	// call.Deps.Greeting speaks once the stream is live. Empty disables it.
	GreetingText string
}

// Server wires the orchestrator, audio artifact cache, and observability
// primitives into the HTTP handlers that make up the admin I/O surface.
type Server struct {
	cfg          Config
	orchestrator *call.Orchestrator
	cache        *artifact.Cache
	metrics      *observe.Metrics
	health       *health.Handler
	registry     *sinkRegistry
}

// NewServer builds a Server. baseDeps is the template every call's Deps is
// copied from; its Sink field is overwritten per call from the sink
// registry, so callers should leave it unset.
func NewServer(cfg Config, baseDeps call.Deps, cache *artifact.Cache, metrics *observe.Metrics, healthHandler *health.Handler) *Server {
	s := &Server{
		cfg:      cfg,
		cache:    cache,
		metrics:  metrics,
		health:   healthHandler,
		registry: newSinkRegistry(),
	}
	s.orchestrator = call.NewOrchestrator(func(id, callerNumber string) *call.Call {
		deps := baseDeps
		deps.Sink = s.registry.take(id)
		return call.New(id, callerNumber, deps)
	})
	return s
}

// Orchestrator returns the underlying orchestrator, e.g. for HangupAll at
// shutdown.
func (s *Server) Orchestrator() *call.Orchestrator { return s.orchestrator }

// Handler builds the routed mux for the full admin surface, wrapped in the
// observability middleware (correlation ID, tracing, request-duration
// metric).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /incoming-call", s.handleIncomingCall)
	mux.HandleFunc("POST /call-status", s.handleCallStatus)
	mux.HandleFunc("GET /media", s.handleMedia)
	mux.HandleFunc("GET /{id}", s.handleArtifact)

	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

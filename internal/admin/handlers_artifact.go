package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/atrium/internal/artifact"
)

// handleArtifact serves GET /{id}: the short-lived pull URL for a cached
// synthesized-speech blob. The ID is opaque (the cache key itself) and
// expires once evicted; requests for an unknown or expired ID return 404.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	data, err := s.cache.Fetch(id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/basic")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

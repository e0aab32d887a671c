package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/atrium/internal/store"
)

// transcriptLineJSON mirrors store.TranscriptLine for JSONB (de)serialization
// without pulling encoding tags onto the domain type itself.
type transcriptLineJSON struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// PersistCall implements [store.Store]. It upserts rec by call ID, so
// retrying after a failed attempt (e.g. on StoreUnavailable) is safe.
func (s *Store) PersistCall(ctx context.Context, rec store.Call) error {
	lines := make([]transcriptLineJSON, len(rec.Transcript))
	for i, l := range rec.Transcript {
		lines[i] = transcriptLineJSON{
			Speaker:   string(l.Speaker),
			Text:      l.Text,
			Timestamp: l.Timestamp.Format(timeLayout),
		}
	}
	transcriptJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("store: persist call: marshal transcript: %w", err)
	}

	const q = `
		INSERT INTO calls
		    (id, caller_number, started_at, ended_at, identified_name, purpose, outcome, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    caller_number   = EXCLUDED.caller_number,
		    started_at      = EXCLUDED.started_at,
		    ended_at        = EXCLUDED.ended_at,
		    identified_name = EXCLUDED.identified_name,
		    purpose         = EXCLUDED.purpose,
		    outcome         = EXCLUDED.outcome,
		    transcript      = EXCLUDED.transcript`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.CallerNumber, rec.StartedAt, rec.EndedAt,
		rec.IdentifiedName, rec.Purpose, string(rec.Outcome), transcriptJSON,
	)
	if err != nil {
		return fmt.Errorf("%w: persist call: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

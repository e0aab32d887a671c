// Package store defines typed access to the three collections the call
// pipeline reads and writes: emails (with embedding), contacts, and calls.
//
// A Store implementation is the sole persistence boundary for the rest of
// the system — retrieval reads through it, ingestion (external, admin-owned)
// writes through it, and the call orchestrator persists finished calls
// through it. Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrStoreUnavailable indicates the backing store could not be reached for
// this operation. Retrieval callers treat it as an empty result set; call
// persistence retries once before giving up and logging.
var ErrStoreUnavailable = errors.New("store: unavailable")

// ErrNotFound indicates no record exists for the requested identifier.
var ErrNotFound = errors.New("store: not found")

// EmbeddingDimensions is the fixed length every email embedding must have to
// be eligible for vector search.
const EmbeddingDimensions = 1024

// Email is a single ingested message. Embedding is computed exactly once at
// ingest time and overwritten only on re-ingest of the same ID.
type Email struct {
	ID        string
	Sender    string
	Subject   string
	Body      string
	Timestamp time.Time
	// Embedding must have length EmbeddingDimensions and contain only finite
	// values to be eligible for vector search; see HasEmbedding.
	Embedding []float32
}

// HasEmbedding reports whether e carries a fully populated, finite embedding.
// Emails failing this check are excluded from vector search regardless of
// what the backing index happens to contain.
func (e Email) HasEmbedding() bool {
	if len(e.Embedding) != EmbeddingDimensions {
		return false
	}
	for _, f := range e.Embedding {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
	}
	return true
}

// Contact is an address-book entry. Contacts are owned by the external
// admin surface; the call pipeline only reads them.
type Contact struct {
	ID          string
	DisplayName string
	Email       string
	Phone       string
	Company     string
}

// CallOutcome classifies how a call concluded.
type CallOutcome string

const (
	OutcomeConnected  CallOutcome = "connected"
	OutcomeVoicemail  CallOutcome = "voicemail"
	OutcomeRejected   CallOutcome = "rejected"
	OutcomeMissed     CallOutcome = "missed"
	OutcomeInProgress CallOutcome = "in-progress"
)

// Speaker identifies which side of a call produced a transcript line.
type Speaker string

const (
	SpeakerCaller    Speaker = "caller"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptLine is one utterance in a call's ordered transcript.
type TranscriptLine struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// Call is the durable record of one inbound call. The orchestrator appends
// to Transcript in strict chronological order and finalizes EndedAt/Outcome
// at call end.
type Call struct {
	ID             string
	CallerNumber   string
	StartedAt      time.Time
	EndedAt        *time.Time
	IdentifiedName *string
	Purpose        *string
	Outcome        CallOutcome
	Transcript     []TranscriptLine
}

// SearchResult is a transient hit from either search operation. Collections
// of results are always sorted strictly by descending Score; ties are
// broken by ascending lexicographic Source.
type SearchResult struct {
	ID      string
	Content string
	Source  string
	Score   float64
}

// Store is the persistence boundary for emails, contacts, and calls.
//
// Upsert is by stable identifier: re-upserting the same ID with the same
// fields leaves the store in the same post-state (idempotent). All read and
// search operations return ErrStoreUnavailable, never a partial result, when
// the backing store cannot be reached.
type Store interface {
	UpsertEmail(ctx context.Context, rec Email) error
	UpsertContact(ctx context.Context, rec Contact) error
	DeleteEmail(ctx context.Context, id string) error
	DeleteContact(ctx context.Context, id string) error
	FindEmail(ctx context.Context, id string) (Email, error)
	FindContact(ctx context.Context, id string) (Contact, error)

	// VectorSearchEmails returns at most k emails ordered by descending
	// cosine similarity to queryVector. queryVector must have length
	// EmbeddingDimensions.
	VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]SearchResult, error)

	// NameSearchContacts returns at most k contacts matching name via a
	// case-insensitive substring match against display name, ranked by
	// position-of-match (earlier is better) then name length ascending.
	// If the substring pass yields no rows, a phonetic fallback
	// (Jaro-Winkler against display name) widens recall.
	NameSearchContacts(ctx context.Context, name string, k int) ([]SearchResult, error)

	// PersistCall upserts rec by its call ID. Safe to call more than once
	// for the same call (e.g. on retry).
	PersistCall(ctx context.Context, rec Call) error

	Close() error
}

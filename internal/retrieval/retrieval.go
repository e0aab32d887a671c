// Package retrieval turns an in-progress call's identified name, inferred
// purpose, and transcript tail into a compact context object for the
// reasoning driver: contact hits by name, email hits by semantic
// similarity, and the transcript itself.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/atrium/internal/store"
	"github.com/MrWong99/atrium/pkg/provider/embeddings"
)

// KContacts is the maximum number of contact hits carried in a Context.
const KContacts = 3

// KEmails is the maximum number of email hits carried in a Context.
const KEmails = 3

// Utterance is one turn of transcript carried into a Context's tail.
type Utterance struct {
	Speaker string
	Text    string
}

// Context is the compact, turn-local object the reasoning driver prompts
// against. It is immutable once built.
type Context struct {
	IdentifiedName  string
	InferredPurpose string
	Contacts        []store.SearchResult
	Emails          []store.SearchResult
	TranscriptTail  []Utterance
}

// Engine performs the two named search operations and assembles Context
// values from their results.
type Engine struct {
	store      store.Store
	embeddings embeddings.Provider
}

// New constructs an Engine backed by s for persistence reads and emb for
// turning purpose text into a query vector.
func New(s store.Store, emb embeddings.Provider) *Engine {
	return &Engine{store: s, embeddings: emb}
}

// SearchContacts performs a name-based lookup over contacts and returns at
// most KContacts results. It embeds nothing.
func (e *Engine) SearchContacts(ctx context.Context, name string) ([]store.SearchResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	results, err := e.store.NameSearchContacts(ctx, name, KContacts)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search contacts: %w", err)
	}
	return results, nil
}

// SearchEmails embeds purposeText via the configured embeddings provider and
// performs a vector similarity search over emails, returning at most
// KEmails results strictly ordered by descending score.
func (e *Engine) SearchEmails(ctx context.Context, purposeText string) ([]store.SearchResult, error) {
	if strings.TrimSpace(purposeText) == "" {
		return nil, nil
	}
	vector, err := e.embeddings.Embed(ctx, purposeText)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search emails: embed: %w", err)
	}
	results, err := e.store.VectorSearchEmails(ctx, vector, KEmails)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search emails: %w", err)
	}
	return results, nil
}

// BuildContext assembles a Context for one reasoning turn. Contact search
// runs only when identifiedName is non-empty; email search runs only when
// inferredPurpose is non-empty; when both are present they run concurrently.
// A failure on either axis degrades that axis to an empty result rather than
// aborting the turn.
func (e *Engine) BuildContext(ctx context.Context, identifiedName, inferredPurpose string, transcriptTail []Utterance) *Context {
	var contacts, emailHits []store.SearchResult

	var eg errgroup.Group
	if strings.TrimSpace(identifiedName) != "" {
		eg.Go(func() error {
			results, err := e.SearchContacts(ctx, identifiedName)
			if err != nil {
				// Degrade to empty; build_context never aborts on a single
				// axis's failure.
				return nil
			}
			contacts = results
			return nil
		})
	}
	if strings.TrimSpace(inferredPurpose) != "" {
		eg.Go(func() error {
			results, err := e.SearchEmails(ctx, inferredPurpose)
			if err != nil {
				emailHits = nil
				return nil
			}
			emailHits = results
			return nil
		})
	}
	_ = eg.Wait() // goroutines never return a non-nil error; each degrades internally

	return &Context{
		IdentifiedName:  identifiedName,
		InferredPurpose: inferredPurpose,
		Contacts:        contacts,
		Emails:          emailHits,
		TranscriptTail:  transcriptTail,
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/atrium/internal/store"
)

// UpsertEmail implements [store.Store]. embedding is stored as NULL when rec
// does not carry a fully populated one; such rows are excluded from
// VectorSearchEmails until re-ingested with an embedding.
func (s *Store) UpsertEmail(ctx context.Context, rec store.Email) error {
	const q = `
		INSERT INTO emails (id, sender, subject, body, timestamp, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
		    sender    = EXCLUDED.sender,
		    subject   = EXCLUDED.subject,
		    body      = EXCLUDED.body,
		    timestamp = EXCLUDED.timestamp,
		    embedding = EXCLUDED.embedding`

	var emb *pgvector.Vector
	if rec.HasEmbedding() {
		v := pgvector.NewVector(rec.Embedding)
		emb = &v
	}

	_, err := s.pool.Exec(ctx, q, rec.ID, rec.Sender, rec.Subject, rec.Body, rec.Timestamp, emb)
	if err != nil {
		return fmt.Errorf("%w: upsert email: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteEmail implements [store.Store].
func (s *Store) DeleteEmail(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete email: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// FindEmail implements [store.Store].
func (s *Store) FindEmail(ctx context.Context, id string) (store.Email, error) {
	const q = `SELECT id, sender, subject, body, timestamp, embedding FROM emails WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	e, err := scanEmail(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Email{}, store.ErrNotFound
	}
	if err != nil {
		return store.Email{}, fmt.Errorf("%w: find email: %v", store.ErrStoreUnavailable, err)
	}
	return e, nil
}

func scanEmail(row pgx.Row) (store.Email, error) {
	var (
		e   store.Email
		emb *pgvector.Vector
	)
	if err := row.Scan(&e.ID, &e.Sender, &e.Subject, &e.Body, &e.Timestamp, &emb); err != nil {
		return store.Email{}, err
	}
	if emb != nil {
		e.Embedding = emb.Slice()
	}
	return e, nil
}

// VectorSearchEmails implements [store.Store]. Score is derived from cosine
// distance as 1 - distance, so closer vectors rank higher; results are
// ordered strictly by descending score with ties broken by ascending id.
func (s *Store) VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, subject, embedding <=> $1 AS distance
		FROM   emails
		WHERE  embedding IS NOT NULL
		ORDER  BY distance ASC, id ASC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(queryVector), k)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search emails: %v", store.ErrStoreUnavailable, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchResult, error) {
		var (
			id, subject string
			distance    float64
		)
		if err := row.Scan(&id, &subject, &distance); err != nil {
			return store.SearchResult{}, err
		}
		return store.SearchResult{
			ID:      id,
			Content: subject,
			Source:  id,
			Score:   1 - distance,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vector search emails: %v", store.ErrStoreUnavailable, err)
	}
	return results, nil
}

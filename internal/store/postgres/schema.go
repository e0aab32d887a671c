package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlEmails holds the email collection. embedding is nullable: rows land
// here at ingest before their embedding has been computed.
const ddlEmails = `
CREATE TABLE IF NOT EXISTS emails (
    id         TEXT PRIMARY KEY,
    sender     TEXT NOT NULL,
    subject    TEXT NOT NULL,
    body       TEXT NOT NULL,
    timestamp  TIMESTAMPTZ NOT NULL,
    embedding  vector(%d)
);
CREATE INDEX IF NOT EXISTS emails_embedding_hnsw_idx
    ON emails USING hnsw (embedding vector_cosine_ops)
    WHERE embedding IS NOT NULL;
CREATE INDEX IF NOT EXISTS emails_timestamp_idx ON emails (timestamp);
`

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id           TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    email        TEXT NOT NULL,
    phone        TEXT NOT NULL DEFAULT '',
    company      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS contacts_display_name_idx
    ON contacts (lower(display_name) text_pattern_ops);
`

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id              TEXT PRIMARY KEY,
    caller_number   TEXT NOT NULL,
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ,
    identified_name TEXT,
    purpose         TEXT,
    outcome         TEXT NOT NULL,
    transcript      JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS calls_started_at_idx ON calls (started_at);
`

// Migrate applies all schema DDL. It is idempotent and safe to run on every
// process start; embeddingDimensions fixes the width of the emails vector
// column (EmbeddingDimensions in package store).
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector;",
		fmt.Sprintf(ddlEmails, embeddingDimensions),
		ddlContacts,
		ddlCalls,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Package postgres implements [store.Store] against a PostgreSQL database
// with the pgvector extension for email embedding search.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/atrium/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed implementation of [store.Store].
//
// Obtain one via [NewStore] rather than constructing directly; NewStore
// registers the pgvector codec on every pooled connection and runs
// migrations before returning.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, registers the pgvector type codec, runs
// migrations for an embedding width of embeddingDimensions, and returns a
// ready-to-use Store.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

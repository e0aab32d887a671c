package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/atrium/internal/store"
	"github.com/MrWong99/atrium/internal/store/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if ATRIUM_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("ATRIUM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ATRIUM_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	s, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS calls CASCADE",
		"DROP TABLE IF EXISTS contacts CASCADE",
		"DROP TABLE IF EXISTS emails CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func vec(dim int, fill float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestEmails_UpsertFindDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.Email{
		ID:        "e1",
		Sender:    "alice@example.com",
		Subject:   "Q3 budget",
		Body:      "See attached.",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Embedding: vec(testEmbeddingDim, 0.1),
	}
	if err := s.UpsertEmail(ctx, rec); err != nil {
		t.Fatalf("UpsertEmail: %v", err)
	}

	got, err := s.FindEmail(ctx, "e1")
	if err != nil {
		t.Fatalf("FindEmail: %v", err)
	}
	if got.Subject != rec.Subject || got.Sender != rec.Sender {
		t.Fatalf("FindEmail = %+v, want subject/sender from %+v", got, rec)
	}
	if !got.HasEmbedding() {
		t.Fatalf("FindEmail: expected a populated embedding")
	}

	// Re-upsert with the same ID overwrites rather than duplicating.
	rec.Subject = "Q3 budget (revised)"
	if err := s.UpsertEmail(ctx, rec); err != nil {
		t.Fatalf("UpsertEmail (overwrite): %v", err)
	}
	got, err = s.FindEmail(ctx, "e1")
	if err != nil {
		t.Fatalf("FindEmail after overwrite: %v", err)
	}
	if got.Subject != "Q3 budget (revised)" {
		t.Fatalf("Subject = %q, want revised value", got.Subject)
	}

	if err := s.DeleteEmail(ctx, "e1"); err != nil {
		t.Fatalf("DeleteEmail: %v", err)
	}
	if _, err := s.FindEmail(ctx, "e1"); err != store.ErrNotFound {
		t.Fatalf("FindEmail after delete: err = %v, want ErrNotFound", err)
	}
}

func TestEmails_VectorSearchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	emails := []store.Email{
		{ID: "near", Sender: "a@x.com", Subject: "near", Timestamp: time.Now(), Embedding: vec(testEmbeddingDim, 1.0)},
		{ID: "far", Sender: "b@x.com", Subject: "far", Timestamp: time.Now(), Embedding: vec(testEmbeddingDim, -1.0)},
		{ID: "mid", Sender: "c@x.com", Subject: "mid", Timestamp: time.Now(), Embedding: vec(testEmbeddingDim, 0.5)},
		{ID: "unembedded", Sender: "d@x.com", Subject: "unembedded", Timestamp: time.Now()},
	}
	for _, e := range emails {
		if err := s.UpsertEmail(ctx, e); err != nil {
			t.Fatalf("UpsertEmail(%s): %v", e.ID, err)
		}
	}

	results, err := s.VectorSearchEmails(ctx, vec(testEmbeddingDim, 1.0), 10)
	if err != nil {
		t.Fatalf("VectorSearchEmails: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3 (unembedded excluded)", len(results))
	}
	if results[0].ID != "near" || results[1].ID != "mid" || results[2].ID != "far" {
		t.Fatalf("order = %v, %v, %v; want near, mid, far", results[0].ID, results[1].ID, results[2].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("results not strictly score-descending at index %d", i)
		}
	}

	capped, err := s.VectorSearchEmails(ctx, vec(testEmbeddingDim, 1.0), 1)
	if err != nil {
		t.Fatalf("VectorSearchEmails (k=1): %v", err)
	}
	if len(capped) != 1 || capped[0].ID != "near" {
		t.Fatalf("capped results = %v, want exactly [near]", capped)
	}
}

func TestContacts_UpsertFindDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := store.Contact{ID: "c1", DisplayName: "Sarah Chen", Email: "sarah@example.com", Phone: "555-0100"}
	if err := s.UpsertContact(ctx, rec); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	got, err := s.FindContact(ctx, "c1")
	if err != nil {
		t.Fatalf("FindContact: %v", err)
	}
	if got.DisplayName != rec.DisplayName {
		t.Fatalf("DisplayName = %q, want %q", got.DisplayName, rec.DisplayName)
	}

	if err := s.DeleteContact(ctx, "c1"); err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if _, err := s.FindContact(ctx, "c1"); err != store.ErrNotFound {
		t.Fatalf("FindContact after delete: err = %v, want ErrNotFound", err)
	}
}

func TestContacts_NameSearch_SubstringRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	contacts := []store.Contact{
		{ID: "c1", DisplayName: "Sarah Chen", Email: "sarah@example.com"},
		{ID: "c2", DisplayName: "Chen Industries Receptionist", Email: "front@chen.com"},
		{ID: "c3", DisplayName: "Bob Sarahsson", Email: "bob@example.com"},
	}
	for _, c := range contacts {
		if err := s.UpsertContact(ctx, c); err != nil {
			t.Fatalf("UpsertContact(%s): %v", c.ID, err)
		}
	}

	results, err := s.NameSearchContacts(ctx, "sarah", 10)
	if err != nil {
		t.Fatalf("NameSearchContacts: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (c1, c3)", len(results))
	}
	// "Sarah Chen" has "sarah" at position 0; "Bob Sarahsson" at a later
	// position, so the shorter/earlier match ranks first.
	if results[0].ID != "c1" {
		t.Fatalf("results[0].ID = %q, want c1", results[0].ID)
	}
}

func TestContacts_NameSearch_PhoneticFallback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContact(ctx, store.Contact{ID: "c1", DisplayName: "Sarah Chen", Email: "sarah@example.com"}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	// No substring hit for "Sara Chen", should still surface "Sarah Chen"
	// via the phonetic fallback pass.
	results, err := s.NameSearchContacts(ctx, "Sara Chen", 3)
	if err != nil {
		t.Fatalf("NameSearchContacts: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Fatalf("results = %v, want exactly [c1] via phonetic fallback", results)
	}
}

func TestContacts_NameSearch_NoMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.UpsertContact(ctx, store.Contact{ID: "c1", DisplayName: "Sarah Chen", Email: "sarah@example.com"}); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}

	results, err := s.NameSearchContacts(ctx, "Zephyr Quaggmire", 3)
	if err != nil {
		t.Fatalf("NameSearchContacts: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("results = %v, want none", results)
	}
}

func TestCalls_PersistIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Second)
	call := store.Call{
		ID:           "call-1",
		CallerNumber: "+15551234567",
		StartedAt:    start,
		Outcome:      store.OutcomeInProgress,
		Transcript: []store.TranscriptLine{
			{Speaker: store.SpeakerCaller, Text: "Hi there", Timestamp: start},
		},
	}
	if err := s.PersistCall(ctx, call); err != nil {
		t.Fatalf("PersistCall: %v", err)
	}

	end := start.Add(2 * time.Minute)
	name := "Jordan Lee"
	call.EndedAt = &end
	call.IdentifiedName = &name
	call.Outcome = store.OutcomeConnected
	call.Transcript = append(call.Transcript, store.TranscriptLine{
		Speaker: store.SpeakerAssistant, Text: "How can I help?", Timestamp: start.Add(time.Second),
	})

	// Persisting again for the same ID finalizes in place rather than
	// creating a second record.
	if err := s.PersistCall(ctx, call); err != nil {
		t.Fatalf("PersistCall (finalize): %v", err)
	}
	if err := s.PersistCall(ctx, call); err != nil {
		t.Fatalf("PersistCall (retry): %v", err)
	}
}

// Package mock provides an in-memory test double for [store.Store].
//
// Store records every method call for assertion in tests and exposes
// exported fields that control what each method returns. It is safe for
// concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/atrium/internal/store"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable test double for [store.Store]. All exported *Err
// fields default to nil (success); all exported *Result fields default to
// their zero value.
type Store struct {
	mu sync.Mutex

	calls []Call

	UpsertEmailErr   error
	UpsertContactErr error
	DeleteEmailErr   error
	DeleteContactErr error

	FindEmailResult   store.Email
	FindEmailErr      error
	FindContactResult store.Contact
	FindContactErr    error

	VectorSearchEmailsResult []store.SearchResult
	VectorSearchEmailsErr    error

	NameSearchContactsResult []store.SearchResult
	NameSearchContactsErr    error

	PersistCallErr error
	CloseErr       error
}

var _ store.Store = (*Store)(nil)

func (m *Store) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *Store) UpsertEmail(ctx context.Context, rec store.Email) error {
	m.record("UpsertEmail", rec)
	return m.UpsertEmailErr
}

func (m *Store) UpsertContact(ctx context.Context, rec store.Contact) error {
	m.record("UpsertContact", rec)
	return m.UpsertContactErr
}

func (m *Store) DeleteEmail(ctx context.Context, id string) error {
	m.record("DeleteEmail", id)
	return m.DeleteEmailErr
}

func (m *Store) DeleteContact(ctx context.Context, id string) error {
	m.record("DeleteContact", id)
	return m.DeleteContactErr
}

func (m *Store) FindEmail(ctx context.Context, id string) (store.Email, error) {
	m.record("FindEmail", id)
	return m.FindEmailResult, m.FindEmailErr
}

func (m *Store) FindContact(ctx context.Context, id string) (store.Contact, error) {
	m.record("FindContact", id)
	return m.FindContactResult, m.FindContactErr
}

func (m *Store) VectorSearchEmails(ctx context.Context, queryVector []float32, k int) ([]store.SearchResult, error) {
	m.record("VectorSearchEmails", queryVector, k)
	return m.VectorSearchEmailsResult, m.VectorSearchEmailsErr
}

func (m *Store) NameSearchContacts(ctx context.Context, name string, k int) ([]store.SearchResult, error) {
	m.record("NameSearchContacts", name, k)
	return m.NameSearchContactsResult, m.NameSearchContactsErr
}

func (m *Store) PersistCall(ctx context.Context, rec store.Call) error {
	m.record("PersistCall", rec)
	return m.PersistCallErr
}

func (m *Store) Close() error {
	m.record("Close")
	return m.CloseErr
}

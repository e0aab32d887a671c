package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/atrium/internal/store"
)

// UpsertContact implements [store.Store].
func (s *Store) UpsertContact(ctx context.Context, rec store.Contact) error {
	const q = `
		INSERT INTO contacts (id, display_name, email, phone, company)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    email        = EXCLUDED.email,
		    phone        = EXCLUDED.phone,
		    company      = EXCLUDED.company`

	_, err := s.pool.Exec(ctx, q, rec.ID, rec.DisplayName, rec.Email, rec.Phone, rec.Company)
	if err != nil {
		return fmt.Errorf("%w: upsert contact: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteContact implements [store.Store].
func (s *Store) DeleteContact(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete contact: %v", store.ErrStoreUnavailable, err)
	}
	return nil
}

// FindContact implements [store.Store].
func (s *Store) FindContact(ctx context.Context, id string) (store.Contact, error) {
	const q = `SELECT id, display_name, email, phone, company FROM contacts WHERE id = $1`

	var c store.Contact
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.DisplayName, &c.Email, &c.Phone, &c.Company)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Contact{}, store.ErrNotFound
	}
	if err != nil {
		return store.Contact{}, fmt.Errorf("%w: find contact: %v", store.ErrStoreUnavailable, err)
	}
	return c, nil
}

// phoneticThreshold is the minimum Jaro-Winkler similarity a contact's
// display name must reach to surface in the fallback pass.
const phoneticThreshold = 0.85

// NameSearchContacts implements [store.Store]. It first runs a
// case-insensitive substring match ranked by position-of-match then name
// length ascending. If that pass returns nothing, it falls back to a
// Jaro-Winkler phonetic comparison against every contact's display name so
// that a misheard or misspelled name (e.g. "Sara Chen" for "Sarah Chen")
// still surfaces a hit.
func (s *Store) NameSearchContacts(ctx context.Context, name string, k int) ([]store.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	results, err := s.substringSearchContacts(ctx, name, k)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}
	return s.phoneticSearchContacts(ctx, name, k)
}

func (s *Store) substringSearchContacts(ctx context.Context, name string, k int) ([]store.SearchResult, error) {
	const q = `
		SELECT id, display_name, email,
		       position(lower($1) in lower(display_name)) AS pos,
		       length(display_name) AS len
		FROM   contacts
		WHERE  display_name ILIKE '%' || $1 || '%'
		ORDER  BY pos ASC, len ASC, id ASC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, name, k)
	if err != nil {
		return nil, fmt.Errorf("%w: name search contacts: %v", store.ErrStoreUnavailable, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SearchResult, error) {
		var (
			id, displayName, email string
			pos, length            int
		)
		if err := row.Scan(&id, &displayName, &email, &pos, &length); err != nil {
			return store.SearchResult{}, err
		}
		return store.SearchResult{
			ID:      id,
			Content: displayName + " <" + email + ">",
			Source:  id,
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: name search contacts: %v", store.ErrStoreUnavailable, err)
	}
	// Score by rank so scores descend strictly in the SQL order above.
	for i := range results {
		results[i].Score = 1 / float64(1+i)
	}
	return results, nil
}

// phoneticSearchContacts scans every contact and scores its display name
// against name with Jaro-Winkler similarity. The contacts table is expected
// to be small (address-book scale), so a full scan per fallback query is
// acceptable; this mirrors how phonetic.go trades an index for accuracy.
func (s *Store) phoneticSearchContacts(ctx context.Context, name string, k int) ([]store.SearchResult, error) {
	const q = `SELECT id, display_name, email FROM contacts`
	needle := strings.ToLower(name)

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: name search contacts: %v", store.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	type scored struct {
		result store.SearchResult
		score  float64
	}
	var all []scored
	for rows.Next() {
		var id, displayName, email string
		if err := rows.Scan(&id, &displayName, &email); err != nil {
			return nil, fmt.Errorf("%w: name search contacts: %v", store.ErrStoreUnavailable, err)
		}
		score := matchr.JaroWinkler(needle, strings.ToLower(displayName), false)
		if score < phoneticThreshold {
			continue
		}
		all = append(all, scored{
			result: store.SearchResult{
				ID:      id,
				Content: displayName + " <" + email + ">",
				Source:  id,
				Score:   score,
			},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: name search contacts: %v", store.ErrStoreUnavailable, err)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].result.Source < all[j].result.Source
	})

	if len(all) > k {
		all = all[:k]
	}
	out := make([]store.SearchResult, len(all))
	for i, c := range all {
		out[i] = c.result
	}
	return out, nil
}

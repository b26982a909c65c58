package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/crmimport/internal/importer"
)

const lookupContactsSQL = `
SELECT id, email, phone
FROM contacts
WHERE email = ANY($1::text[]) OR phone = ANY($2::text[])`

const lookupDealsSQL = `
SELECT id, number
FROM deals
WHERE number = ANY($1::text[])`

// LookupExisting implements importer.Persistence.
func (s *Store) LookupExisting(ctx context.Context, entity importer.Entity, keys []string) (importer.ExistingIndex, error) {
	return lookupExisting(ctx, s.pool, entity, keys)
}

func lookupExisting(ctx context.Context, db DBTX, entity importer.Entity, keys []string) (importer.ExistingIndex, error) {
	byKind := groupKeys(keys)
	idx := make(importer.ExistingIndex)

	switch entity {
	case importer.EntityContacts:
		emails, phones := byKind["email"], byKind["phone"]
		if len(emails) == 0 && len(phones) == 0 {
			return idx, nil
		}
		rows, err := db.Query(ctx, lookupContactsSQL, textArray(emails), textArray(phones))
		if err != nil {
			return nil, fmt.Errorf("lookup contacts: %w", err)
		}
		wantEmail, wantPhone := toSet(emails), toSet(phones)
		err = forEachRow(rows, func(r pgx.Rows) error {
			var (
				id           pgtype.UUID
				email, phone pgtype.Text
			)
			if err := r.Scan(&id, &email, &phone); err != nil {
				return err
			}
			if email.Valid && wantEmail[email.String] {
				idx[importer.EmailKey(email.String)] = fromPgUUID(id)
			}
			if phone.Valid && wantPhone[phone.String] {
				idx[importer.PhoneKey(phone.String)] = fromPgUUID(id)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("lookup contacts: %w", err)
		}

	case importer.EntityDeals:
		numbers := byKind["number"]
		if len(numbers) == 0 {
			return idx, nil
		}
		rows, err := db.Query(ctx, lookupDealsSQL, numbers)
		if err != nil {
			return nil, fmt.Errorf("lookup deals: %w", err)
		}
		err = forEachRow(rows, func(r pgx.Rows) error {
			var (
				id     pgtype.UUID
				number string
			)
			if err := r.Scan(&id, &number); err != nil {
				return err
			}
			idx[importer.NumberKey(number)] = fromPgUUID(id)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("lookup deals: %w", err)
		}

	default:
		return nil, fmt.Errorf("%w: %q", importer.ErrUnknownEntity, entity)
	}

	return idx, nil
}

// groupKeys splits natural-key tokens by kind, dropping duplicates.
func groupKeys(keys []string) map[string][]string {
	out := make(map[string][]string)
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		kind, value, ok := importer.SplitKey(k)
		if !ok {
			continue
		}
		out[kind] = append(out[kind], value)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func forEachRow(rows pgx.Rows, fn func(pgx.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

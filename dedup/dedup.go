// Package dedup maintains the global profile pool used to deduplicate
// scraped profiles across all jobs.
//
// A profile enters the pool the first time any job scrapes it and stays
// there for the lifetime of the system. The used flag tracks whether a
// campaign has consumed the profile; selection for distribution only draws
// unused profiles.
package dedup

import (
	"database/sql"
	"strings"
	"time"

	"github.com/rosterhq/roster/errors"
	"github.com/rosterhq/roster/scrape"
)

// queryChunkSize keeps IN clauses under SQLite's bound-parameter limit.
const queryChunkSize = 500

// Store is the SQLite-backed profile pool.
type Store struct {
	db *sql.DB
}

// NewStore creates a pool store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CheckKnown returns the subset of ids already present in the pool.
func (s *Store) CheckKnown(ids []string) (map[string]bool, error) {
	known := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += queryChunkSize {
		end := start + queryChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.Query(
			`SELECT profile_id FROM global_profiles WHERE profile_id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to check known profiles")
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "failed to scan known profile id")
			}
			known[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "error iterating known profiles")
		}
		rows.Close()
	}
	return known, nil
}

// MarkKnown adds records to the pool, skipping profiles already present.
// Idempotent; an existing profile keeps its original added_at and used
// state. Returns the number of profiles newly added.
func (s *Store) MarkKnown(records []scrape.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin pool insert tx")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO global_profiles (profile_id, username, full_name, used, added_at)
		VALUES (?, ?, ?, 0, ?)`)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare pool insert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	added := 0
	for _, r := range records {
		res, err := stmt.Exec(r.ProfileID, r.Username, r.FullName, now)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to add profile %s to pool", r.ProfileID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, errors.Wrap(err, "failed to get rows affected")
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit pool insert")
	}
	return added, nil
}

// SelectUnused returns up to limit unused profiles, oldest first.
func (s *Store) SelectUnused(limit int) ([]scrape.Record, error) {
	rows, err := s.db.Query(`
		SELECT profile_id, username, COALESCE(full_name, '')
		FROM global_profiles
		WHERE used = 0
		ORDER BY added_at, profile_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select unused profiles")
	}
	defer rows.Close()

	var records []scrape.Record
	for rows.Next() {
		var r scrape.Record
		if err := rows.Scan(&r.ProfileID, &r.Username, &r.FullName); err != nil {
			return nil, errors.Wrap(err, "failed to scan unused profile")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating unused profiles")
	}
	return records, nil
}

// CountUnused returns the number of profiles available for selection.
func (s *Store) CountUnused() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM global_profiles WHERE used = 0`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count unused profiles")
	}
	return n, nil
}

// MarkUsed flags profiles as consumed by a campaign. Already-used profiles
// keep their original used_at.
func (s *Store) MarkUsed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin mark-used tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for start := 0; start < len(ids); start += queryChunkSize {
		end := start + queryChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, now)
		for _, id := range chunk {
			args = append(args, id)
		}

		_, err := tx.Exec(
			`UPDATE global_profiles SET used = 1, used_at = ? WHERE profile_id IN (`+placeholders+`) AND used = 0`,
			args...,
		)
		if err != nil {
			return errors.Wrap(err, "failed to mark profiles used")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit mark-used")
	}
	return nil
}

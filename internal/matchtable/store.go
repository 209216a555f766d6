// Package matchtable implements a persisted program.MatchActionRuntime
// backing the optional table-update hook (spec.md §4.6): entries are keyed
// by (table_id, key) and stored in SQLite via database/sql, so table state
// survives a switch restart.
package matchtable

import (
	"database/sql"
	"encoding/hex"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed match-action table. One row per (table_id, key);
// action_id/action_params are overwritten in place by ModifyEntry.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the backing table at dsn and returns a ready
// Store. dsn is any DSN accepted by mattn/go-sqlite3, e.g. "state.db" or
// "file::memory:?cache=shared" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("matchtable: open %q: %w", dsn, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("matchtable: ping %q: %w", dsn, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS entries (
	table_id     INTEGER NOT NULL,
	key_hex      TEXT    NOT NULL,
	action_id    INTEGER NOT NULL,
	action_params BLOB,
	PRIMARY KEY (table_id, key_hex)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("matchtable: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func keyHex(key []byte) string {
	return hex.EncodeToString(key)
}

// AddEntry inserts a new entry. It is an error to add a (table_id, key)
// pair that already exists; the table-update hook logs and continues on
// failure rather than propagating it to the packet hot path.
func (s *Store) AddEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (table_id, key_hex, action_id, action_params) VALUES (?, ?, ?, ?)`,
		tableID, keyHex(key), actionID, actionParams,
	)
	if err != nil {
		return fmt.Errorf("matchtable: add entry: %w", err)
	}
	return nil
}

// ModifyEntry overwrites an existing entry's action. It upserts rather than
// requiring a prior AddEntry, matching a lenient "table-update" hook that
// may replay modifications after a restart.
func (s *Store) ModifyEntry(tableID uint32, key []byte, actionID uint32, actionParams []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO entries (table_id, key_hex, action_id, action_params) VALUES (?, ?, ?, ?)
		 ON CONFLICT(table_id, key_hex) DO UPDATE SET action_id = excluded.action_id, action_params = excluded.action_params`,
		tableID, keyHex(key), actionID, actionParams,
	)
	if err != nil {
		return fmt.Errorf("matchtable: modify entry: %w", err)
	}
	return nil
}

// DeleteEntry removes an entry. Deleting a non-existent entry is not an
// error.
func (s *Store) DeleteEntry(tableID uint32, key []byte) error {
	_, err := s.db.Exec(
		`DELETE FROM entries WHERE table_id = ? AND key_hex = ?`,
		tableID, keyHex(key),
	)
	if err != nil {
		return fmt.Errorf("matchtable: delete entry: %w", err)
	}
	return nil
}

// GetEntry looks up an entry. ok is false if no row matches.
func (s *Store) GetEntry(tableID uint32, key []byte) (actionID uint32, actionParams []byte, ok bool) {
	row := s.db.QueryRow(
		`SELECT action_id, action_params FROM entries WHERE table_id = ? AND key_hex = ?`,
		tableID, keyHex(key),
	)
	if err := row.Scan(&actionID, &actionParams); err != nil {
		return 0, nil, false
	}
	return actionID, actionParams, true
}

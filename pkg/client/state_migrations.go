package client

import (
	"database/sql"
	"fmt"
)

// stateSchema holds one entry per schema version, tracked with PRAGMA user_version
var stateSchema = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS Config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	{
		// A single row: logging in again replaces it and rotates the session tag
		`CREATE TABLE IF NOT EXISTS Login (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			server_url TEXT NOT NULL,
			token TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			username TEXT NOT NULL,
			expires_at INTEGER NOT NULL,
			session_tag TEXT NOT NULL
		)`,
	},
}

func runStateMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read state schema version: %w", err)
	}

	for v := version; v < len(stateSchema); v++ {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, stmt := range stateSchema[v] {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("state migration %d: %w", v+1, err)
			}
		}
		// PRAGMA does not accept bound parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("state migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

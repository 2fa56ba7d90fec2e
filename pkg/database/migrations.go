package database

import (
	"database/sql"
	"fmt"
	"log"
)

// migration is one forward-only schema step. Versions start at 1 and must be contiguous.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "initial schema",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS User (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL,
				password_hash TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS ChatGroup (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				created_by INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				FOREIGN KEY (created_by) REFERENCES User(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS GroupMember (
				group_id INTEGER NOT NULL,
				user_id INTEGER NOT NULL,
				joined_at INTEGER NOT NULL,
				PRIMARY KEY (group_id, user_id),
				FOREIGN KEY (group_id) REFERENCES ChatGroup(id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES User(id) ON DELETE CASCADE
			)`,
			// AUTOINCREMENT keeps ids monotonic even after the newest row is deleted
			`CREATE TABLE IF NOT EXISTS Message (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				sender_id INTEGER NOT NULL,
				receiver_id INTEGER,
				group_id INTEGER,
				content TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				CHECK ((receiver_id IS NULL) != (group_id IS NULL)),
				FOREIGN KEY (sender_id) REFERENCES User(id) ON DELETE CASCADE,
				FOREIGN KEY (receiver_id) REFERENCES User(id) ON DELETE CASCADE,
				FOREIGN KEY (group_id) REFERENCES ChatGroup(id) ON DELETE CASCADE
			)`,
		},
	},
	{
		version:     2,
		description: "history lookup indexes",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_message_direct ON Message(sender_id, receiver_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_message_group ON Message(group_id, id)`,
			`CREATE INDEX IF NOT EXISTS idx_group_member_user ON GroupMember(user_id)`,
		},
	},
}

// latestVersion is the schema version a freshly opened database ends up at
func latestVersion() int {
	return migrations[len(migrations)-1].version
}

// runMigrations applies every migration newer than the recorded schema version
func runMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		log.Printf("Applied database migration %d: %s", m.version, m.description)
	}
	return nil
}

func schemaVersion(conn *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := conn.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

func applyMigration(conn *sql.DB, m migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, m.version, nowMillis()); err != nil {
		return err
	}
	return tx.Commit()
}

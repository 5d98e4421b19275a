package store

import (
	"database/sql"
	"fmt"
)

// migration is one schema step. Statements are embedded rather than loaded
// from disk so the binary carries its own schema.
type migration struct {
	version     string
	description string
	statements  []string
}

// migrations are applied in order; applied versions are tracked in
// schema_migrations so restarts and upgrades are safe.
var migrations = []migration{
	{
		version:     "001",
		description: "room catalog",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS rooms (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`INSERT OR IGNORE INTO rooms (id, name, created_at) VALUES ('general', 'الدردشة العامة', CURRENT_TIMESTAMP)`,
		},
	},
	{
		version:     "002",
		description: "messages",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				room_id      TEXT NOT NULL,
				sender_id    TEXT NOT NULL,
				sender_name  TEXT NOT NULL,
				content      TEXT NOT NULL,
				message_type TEXT NOT NULL DEFAULT 'text',
				created_at   DATETIME NOT NULL,
				FOREIGN KEY (room_id) REFERENCES rooms(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id, id)`,
		},
	},
	{
		version:     "003",
		description: "room membership mirror",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS room_members (
				room_id   TEXT NOT NULL,
				user_id   TEXT NOT NULL,
				username  TEXT NOT NULL,
				joined_at DATETIME NOT NULL,
				PRIMARY KEY (room_id, user_id)
			)`,
		},
	},
}

// applyMigrations brings the schema up to date. Each migration runs in its
// own transaction: either all of its statements apply or none do.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %s (%s) failed: %w", m.version, m.description, err)
		}
	}

	return nil
}

func appliedVersions(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`, m.version, m.description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

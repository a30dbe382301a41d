package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one step of the journal schema.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with sessions and journal metadata",
		Up: `
CREATE TABLE IF NOT EXISTS journal_meta (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT PRIMARY KEY,
    shown_ns        INTEGER NOT NULL,
    submitted_ns    INTEGER NOT NULL,
    return_label    TEXT NOT NULL,
    accent_color    TEXT NOT NULL,
    sound_enabled   INTEGER NOT NULL,
    prefilled       INTEGER NOT NULL,
    value_length    INTEGER NOT NULL,
    value_commit    BLOB NOT NULL,
    keystrokes      INTEGER NOT NULL,
    backspaces      INTEGER NOT NULL,
    dictations      INTEGER NOT NULL,
    hmac            BLOB NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Index sessions by submission time",
		Up:          `CREATE INDEX IF NOT EXISTS idx_sessions_submitted ON sessions(submitted_ns);`,
	},
}

// LatestVersion is the schema version Open migrates to.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// migrate applies all pending migrations.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

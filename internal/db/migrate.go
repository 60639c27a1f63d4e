package db

import (
	"database/sql"
	"fmt"
)

// schema holds the sqlite document tables. Documents are stored as
// extended-JSON blobs; the extra columns exist only to filter and order
// without decoding every row.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		applet_id TEXT NOT NULL,
		individualized INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_applet ON events(applet_id, individualized)`,
	`CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		applet_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_profiles_applet_user ON profiles(applet_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		applet_id TEXT NOT NULL,
		activity_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		created TEXT NOT NULL,
		updated TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_responses_scope ON responses(applet_id, activity_id, subject_id, created)`,
	`CREATE TABLE IF NOT EXISTS planned_sends (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		send_at TEXT NOT NULL,
		doc TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sends_due ON planned_sends(send_at)`,
}

// RunMigrations creates the document tables when they do not exist yet.
func RunMigrations(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

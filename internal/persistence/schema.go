package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS registry_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		objective TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state);
	CREATE INDEX IF NOT EXISTS idx_tasks_objective ON tasks(objective);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

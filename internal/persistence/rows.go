package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aristath/taskregistry/internal/task"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// loadDocument reads all task rows. The second return value maps each id to
// its stored encoding so saveDocument can skip unchanged rows.
func loadDocument(ctx context.Context, q queryer) (*Document, map[string]string, error) {
	doc := NewDocument()

	var version string
	err := q.QueryRowContext(ctx, `SELECT value FROM registry_meta WHERE key = 'version'`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, nil, fmt.Errorf("failed to query registry version: %w", err)
	default:
		doc.Version = version
	}

	rows, err := q.QueryContext(ctx, `SELECT id, body FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	previous := make(map[string]string)
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t := &task.Task{}
		if err := json.Unmarshal([]byte(body), t); err != nil {
			return nil, nil, fmt.Errorf("failed to decode task %s: %w", id, err)
		}
		doc.Tasks[id] = t
		previous[id] = body
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	doc.normalize()
	return doc, previous, nil
}

// saveDocument upserts changed tasks, deletes removed ones and records the version.
func saveDocument(ctx context.Context, tx *sql.Tx, doc *Document, previous map[string]string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO registry_meta (key, value) VALUES ('version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, doc.Version)
	if err != nil {
		return fmt.Errorf("failed to save registry version: %w", err)
	}

	for id, t := range doc.Tasks {
		encoded, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", id, err)
		}
		body := string(encoded)
		if prev, ok := previous[id]; ok && prev == body {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (id, state, objective, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				state = excluded.state,
				objective = excluded.objective,
				body = excluded.body,
				updated_at = excluded.updated_at
		`, id, t.State.String(), t.Objective, body, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert task %s: %w", id, err)
		}
	}

	for id := range previous {
		if _, ok := doc.Tasks[id]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
	}

	return nil
}

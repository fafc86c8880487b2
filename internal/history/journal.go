// Package history keeps an append-only SQLite journal of items that reached
// a terminal status. It is observability only: the in-memory queue stays the
// sole source of scheduling truth, and journal failures must never affect
// scheduling. Callers log append errors and move on.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"telecine/internal/queue"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL,
    input_path TEXT NOT NULL,
    output_path TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT NOT NULL DEFAULT '',
    quality INTEGER NOT NULL DEFAULT 0,
    added_at TIMESTAMP,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_recorded_at ON history(recorded_at);
CREATE INDEX IF NOT EXISTS idx_history_status ON history(status);
`

// Entry is one journal row.
type Entry struct {
	ID           int64        `json:"id"`
	ItemID       string       `json:"item_id"`
	InputPath    string       `json:"input_path"`
	OutputPath   string       `json:"output_path"`
	Status       queue.Status `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Quality      int          `json:"quality,omitempty"`
	AddedAt      time.Time    `json:"added_at"`
	StartedAt    time.Time    `json:"started_at,omitzero"`
	FinishedAt   time.Time    `json:"finished_at,omitzero"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

// Journal is the SQLite-backed terminal-item log.
type Journal struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one terminal item. Non-terminal items are rejected so the
// journal can never disagree with the lifecycle.
func (j *Journal) Append(ctx context.Context, item *queue.Item) error {
	if item == nil || !item.Status.IsTerminal() {
		return fmt.Errorf("history: item %q is not terminal", itemID(item))
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO history (item_id, input_path, output_path, status, error_message, quality, added_at, started_at, finished_at, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.InputPath,
		item.OutputPath,
		string(item.Status),
		item.ErrorMessage,
		item.Settings.Quality,
		item.AddedAt,
		nullableTime(item.StartedAt),
		nullableTime(item.FinishedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. limit <= 0 selects a
// default page.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, item_id, input_path, output_path, status, error_message, quality, added_at, started_at, finished_at, recorded_at
FROM history ORDER BY recorded_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		var added, started, finished, recorded sql.NullTime
		if err := rows.Scan(&e.ID, &e.ItemID, &e.InputPath, &e.OutputPath, &status, &e.ErrorMessage, &e.Quality, &added, &started, &finished, &recorded); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Status = queue.Status(status)
		if added.Valid {
			e.AddedAt = added.Time
		}
		if started.Valid {
			e.StartedAt = started.Time
		}
		if finished.Valid {
			e.FinishedAt = finished.Time
		}
		if recorded.Valid {
			e.RecordedAt = recorded.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune removes entries recorded before the cutoff and returns how many
// were deleted.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := j.db.ExecContext(ctx, `DELETE FROM history WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func itemID(item *queue.Item) string {
	if item == nil {
		return ""
	}
	return item.ID
}

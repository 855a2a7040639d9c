package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix milliseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		rounds INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_workflow_started ON runs(workflow, started_at);

	CREATE TABLE IF NOT EXISTS task_results (
		run_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		execution_time_us INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_name),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sessions (
		run_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		session_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, task_name)
	);

	CREATE TABLE IF NOT EXISTS conversation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_name TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversation_history_task
		ON conversation_history(run_id, task_name, timestamp);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

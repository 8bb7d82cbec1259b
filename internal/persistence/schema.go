package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
//
// task_edges deliberately has no foreign key on depends_on: the
// scheduler allows edges to tasks that do not exist yet (they surface
// as missing-dependency blocks) and edges left dangling by cleared
// tasks, so the table cannot enforce referential integrity on that
// column.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		priority_class TEXT NOT NULL,
		status INTEGER NOT NULL,
		tags TEXT,
		required_capabilities TEXT,
		writes_files TEXT,
		conflicts_with TEXT,
		blocked_by TEXT,
		assigned_worker TEXT,
		last_score REAL NOT NULL DEFAULT 0,
		error TEXT,
		created_at TEXT NOT NULL,
		assigned_at TEXT,
		completed_at TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS task_edges (
		task_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on, kind),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_edges_task_id ON task_edges(task_id);

	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT,
		specialization TEXT,
		capabilities TEXT,
		max_concurrent INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		current_task TEXT,
		tasks_completed INTEGER NOT NULL DEFAULT 0,
		tasks_failed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS event_journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		event_type TEXT NOT NULL,
		task_id TEXT,
		payload TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_event_journal_task
		ON event_journal(task_id, recorded_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

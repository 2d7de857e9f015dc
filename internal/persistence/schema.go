package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		priority INTEGER NOT NULL,
		task_type TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		assigned_workers TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS query_results (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		final_response TEXT NOT NULL,
		contributing_workers TEXT NOT NULL,
		steps_taken INTEGER NOT NULL,
		round_history TEXT NOT NULL,
		duration_ns INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_query_results_created_at ON query_results(created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

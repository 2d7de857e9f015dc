package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/hive/internal/scheduler"
)

// SaveTask saves or updates a task snapshot and its dependencies.
func (s *SQLiteStore) SaveTask(ctx context.Context, task scheduler.Task) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload of task %s: %w", task.ID, err)
	}
	workers, err := json.Marshal(task.AssignedWorkers)
	if err != nil {
		return fmt.Errorf("failed to encode workers of task %s: %w", task.ID, err)
	}

	var result sql.NullString
	if task.Result != nil {
		b, err := json.Marshal(task.Result)
		if err != nil {
			return fmt.Errorf("failed to encode result of task %s: %w", task.ID, err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	errorStr := ""
	if task.Err != nil {
		errorStr = task.Err.Error()
	}

	var startedAt sql.NullTime
	if !task.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: task.StartedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, priority, task_type, status, payload, assigned_workers, attempts, result, error, created_at, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			priority = excluded.priority,
			task_type = excluded.task_type,
			status = excluded.status,
			payload = excluded.payload,
			assigned_workers = excluded.assigned_workers,
			attempts = excluded.attempts,
			result = excluded.result,
			error = excluded.error,
			started_at = excluded.started_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Priority, string(task.Type), task.Status.String(), string(payload), string(workers),
		task.Attempts, result, errorStr, task.CreatedAt, startedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for i, depID := range task.Dependencies {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position)
			VALUES (?, ?, ?)
		`, task.ID, depID, i)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const taskColumns = `id, priority, task_type, status, payload, assigned_workers, attempts, result, error, created_at, started_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (scheduler.Task, error) {
	var (
		task      scheduler.Task
		taskType  string
		status    string
		payload   string
		workers   sql.NullString
		result    sql.NullString
		errorStr  sql.NullString
		startedAt sql.NullTime
	)
	err := row.Scan(&task.ID, &task.Priority, &taskType, &status, &payload, &workers,
		&task.Attempts, &result, &errorStr, &task.CreatedAt, &startedAt)
	if err != nil {
		return scheduler.Task{}, err
	}

	task.Type = scheduler.TaskType(taskType)
	if err := task.Status.UnmarshalText([]byte(status)); err != nil {
		return scheduler.Task{}, fmt.Errorf("task %s: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(payload), &task.Payload); err != nil {
		return scheduler.Task{}, fmt.Errorf("failed to decode payload of task %s: %w", task.ID, err)
	}
	if workers.Valid && workers.String != "" {
		if err := json.Unmarshal([]byte(workers.String), &task.AssignedWorkers); err != nil {
			return scheduler.Task{}, fmt.Errorf("failed to decode workers of task %s: %w", task.ID, err)
		}
	}
	if result.Valid {
		task.Result = &scheduler.TaskResult{}
		if err := json.Unmarshal([]byte(result.String), task.Result); err != nil {
			return scheduler.Task{}, fmt.Errorf("failed to decode result of task %s: %w", task.ID, err)
		}
	}
	if errorStr.Valid && errorStr.String != "" {
		task.Err = errors.New(errorStr.String)
	}
	if startedAt.Valid {
		task.StartedAt = startedAt.Time
	}
	return task, nil
}

// GetTask retrieves a task by ID, including its dependencies.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (scheduler.Task, error) {
	task, err := scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return scheduler.Task{}, fmt.Errorf("failed to query task: %w", err)
	}

	deps, err := s.dependencies(ctx, `WHERE task_id = ?`, taskID)
	if err != nil {
		return scheduler.Task{}, err
	}
	task.Dependencies = deps[taskID]
	return task, nil
}

// ListTasks returns every task in creation order with its dependencies.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []scheduler.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	deps, err := s.dependencies(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		tasks[i].Dependencies = deps[tasks[i].ID]
	}
	return tasks, nil
}

// dependencies loads dependency lists keyed by task ID, in declaration order.
func (s *SQLiteStore) dependencies(ctx context.Context, where string, args ...any) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, depends_on_id FROM task_dependencies `+where+` ORDER BY task_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	deps := make(map[string][]string)
	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps[taskID] = append(deps[taskID], depID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskhive/taskhive/internal/scheduler"
)

// SaveTask saves or updates a task snapshot and its dependency edges.
// Uses ON CONFLICT to make saves idempotent; edges are replaced
// wholesale so removed dependencies disappear from storage too.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	if task == nil {
		return errors.New("task must not be nil")
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errorStr := ""
	if task.Err != nil {
		errorStr = task.Err.Error()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, priority_class, status,
			tags, required_capabilities, writes_files, conflicts_with, blocked_by,
			assigned_worker, last_score, error,
			created_at, assigned_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			priority_class = excluded.priority_class,
			status = excluded.status,
			tags = excluded.tags,
			required_capabilities = excluded.required_capabilities,
			writes_files = excluded.writes_files,
			conflicts_with = excluded.conflicts_with,
			blocked_by = excluded.blocked_by,
			assigned_worker = excluded.assigned_worker,
			last_score = excluded.last_score,
			error = excluded.error,
			created_at = excluded.created_at,
			assigned_at = excluded.assigned_at,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Title, task.Description, string(task.PriorityClass), int(task.Status),
		joinList(task.Tags), joinList(task.RequiredCapabilities), joinList(task.WritesFiles),
		joinList(task.ConflictsWith), joinList(task.BlockedBy),
		task.AssignedWorker, task.LastScore, errorStr,
		fmtTime(task.CreatedAt), fmtTime(task.AssignedAt), fmtTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM task_edges WHERE task_id = ?`, task.ID)
	if err != nil {
		return fmt.Errorf("failed to delete old edges: %w", err)
	}

	for _, depID := range task.DependsOn {
		if err := insertEdge(ctx, tx, task.ID, depID, scheduler.EdgeHard); err != nil {
			return err
		}
	}
	for _, prefID := range task.Prefers {
		if err := insertEdge(ctx, tx, task.ID, prefID, scheduler.EdgeSoft); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func insertEdge(ctx context.Context, tx *sql.Tx, taskID, depID string, kind scheduler.EdgeKind) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO task_edges (task_id, depends_on, kind)
		VALUES (?, ?, ?)
		ON CONFLICT(task_id, depends_on, kind) DO NOTHING
	`, taskID, depID, string(kind))
	if err != nil {
		return fmt.Errorf("failed to insert edge %s -> %s: %w", taskID, depID, err)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependency edges.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, priority_class, status,
			tags, required_capabilities, writes_files, conflicts_with, blocked_by,
			assigned_worker, last_score, error,
			created_at, assigned_at, completed_at
		FROM tasks
		WHERE id = ?
	`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	if err := s.loadEdges(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task snapshot. Edges cascade via foreign key.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// ListTasks returns all tasks with their dependency edges, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, priority_class, status,
			tags, required_capabilities, writes_files, conflicts_with, blocked_by,
			assigned_worker, last_score, error,
			created_at, assigned_at, completed_at
		FROM tasks
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*scheduler.Task
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

	for _, task := range tasks {
		if err := s.loadEdges(ctx, task); err != nil {
			return nil, err
		}
	}

	return tasks, nil
}

func (s *SQLiteStore) loadEdges(ctx context.Context, task *scheduler.Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on, kind
		FROM task_edges
		WHERE task_id = ?
		ORDER BY depends_on
	`, task.ID)
	if err != nil {
		return fmt.Errorf("failed to query edges for task %s: %w", task.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var depID, kind string
		if err := rows.Scan(&depID, &kind); err != nil {
			return fmt.Errorf("failed to scan edge: %w", err)
		}
		switch scheduler.EdgeKind(kind) {
		case scheduler.EdgeSoft:
			task.Prefers = append(task.Prefers, depID)
		default:
			task.DependsOn = append(task.DependsOn, depID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating edges: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var (
		priorityClass string
		status        int
		tags          string
		capabilities  string
		writesFiles   string
		conflicts     string
		blockedBy     string
		errorStr      string
		createdAt     string
		assignedAt    sql.NullString
		completedAt   sql.NullString
	)

	err := row.Scan(&task.ID, &task.Title, &task.Description, &priorityClass, &status,
		&tags, &capabilities, &writesFiles, &conflicts, &blockedBy,
		&task.AssignedWorker, &task.LastScore, &errorStr,
		&createdAt, &assignedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.PriorityClass = scheduler.PriorityClass(priorityClass)
	task.Status = scheduler.Status(status)
	task.Tags = splitList(tags)
	task.RequiredCapabilities = splitList(capabilities)
	task.WritesFiles = splitList(writesFiles)
	task.ConflictsWith = splitList(conflicts)
	task.BlockedBy = splitList(blockedBy)
	if errorStr != "" {
		task.Err = errors.New(errorStr)
	}
	task.CreatedAt = parseTime(createdAt)
	task.AssignedAt = parseTime(assignedAt.String)
	task.CompletedAt = parseTime(completedAt.String)

	return task, nil
}

// joinList flattens a string slice to comma-separated storage form.
func joinList(items []string) string {
	return strings.Join(items, ",")
}

// splitList reverses joinList. An empty column yields a nil slice.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// fmtTime renders a timestamp for storage. Zero times store as empty
// strings so they survive a round trip as zero.
func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

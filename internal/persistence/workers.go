package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskhive/taskhive/internal/scheduler"
)

// SaveWorker saves or updates a worker snapshot.
// Uses ON CONFLICT to upsert so registration and status updates share
// one code path.
func (s *SQLiteStore) SaveWorker(ctx context.Context, worker *scheduler.Worker) error {
	if worker == nil {
		return errors.New("worker must not be nil")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	maxConcurrent := 0
	if worker.Template != nil {
		maxConcurrent = worker.Template.MaxConcurrentTasks
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workers (id, name, type, specialization, capabilities,
			max_concurrent, status, current_task, tasks_completed, tasks_failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			specialization = excluded.specialization,
			capabilities = excluded.capabilities,
			max_concurrent = excluded.max_concurrent,
			status = excluded.status,
			current_task = excluded.current_task,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed
	`, worker.ID, worker.Name, worker.Type(), worker.Specialization(), joinList(worker.Capabilities()),
		maxConcurrent, string(worker.Status), worker.CurrentTask,
		worker.TasksCompleted, worker.TasksFailed, fmtTime(worker.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save worker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetWorker retrieves a worker snapshot by ID.
func (s *SQLiteStore) GetWorker(ctx context.Context, workerID string) (*scheduler.Worker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, specialization, capabilities,
			max_concurrent, status, current_task, tasks_completed, tasks_failed, created_at
		FROM workers
		WHERE id = ?
	`, workerID)

	worker, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", scheduler.ErrWorkerNotFound, workerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query worker: %w", err)
	}
	return worker, nil
}

// ListWorkers returns all worker snapshots, oldest first.
func (s *SQLiteStore) ListWorkers(ctx context.Context) ([]*scheduler.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, specialization, capabilities,
			max_concurrent, status, current_task, tasks_completed, tasks_failed, created_at
		FROM workers
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*scheduler.Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workers: %w", err)
	}

	return workers, nil
}

func scanWorker(row rowScanner) (*scheduler.Worker, error) {
	worker := &scheduler.Worker{}
	var (
		workerType     string
		specialization string
		capabilities   string
		maxConcurrent  int
		status         string
		createdAt      string
	)

	err := row.Scan(&worker.ID, &worker.Name, &workerType, &specialization, &capabilities,
		&maxConcurrent, &status, &worker.CurrentTask,
		&worker.TasksCompleted, &worker.TasksFailed, &createdAt)
	if err != nil {
		return nil, err
	}

	if workerType != "" || specialization != "" || capabilities != "" || maxConcurrent > 0 {
		worker.Template = &scheduler.CapabilityTemplate{
			Capabilities:       splitList(capabilities),
			Specialization:     specialization,
			Type:               workerType,
			MaxConcurrentTasks: maxConcurrent,
		}
	}
	worker.Status = scheduler.WorkerStatus(status)
	worker.CreatedAt = parseTime(createdAt)

	return worker, nil
}

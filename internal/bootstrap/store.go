package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// TaskStore persists bootstrap tasks in sqlite so progress survives process
// and device restarts.
type TaskStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewTaskStore opens (or creates) the task database.
// Use ":memory:" for tests, or a file path under the state directory.
func NewTaskStore(dbPath string) (*TaskStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &TaskStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *TaskStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bootstrap_tasks (
		id TEXT PRIMARY KEY,
		deployment_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		component TEXT NOT NULL,
		command TEXT NOT NULL,
		timeout_ms INTEGER NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bootstrap_deployment ON bootstrap_tasks(deployment_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put replaces the persisted task list for a deployment.
func (s *TaskStore) Put(ctx context.Context, deploymentID string, tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bootstrap_tasks WHERE deployment_id = ?", deploymentID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for _, t := range tasks {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO bootstrap_tasks (id, deployment_id, seq, component, command, timeout_ms, status) VALUES (?, ?, ?, ?, ?, ?, ?)",
			t.ID, deploymentID, t.Seq, t.Component, t.Command, t.Timeout.Milliseconds(), string(t.Status))
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

// Get returns the persisted tasks for a deployment in sequence order.
func (s *TaskStore) Get(ctx context.Context, deploymentID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, deployment_id, seq, component, command, timeout_ms, status FROM bootstrap_tasks WHERE deployment_id = ? ORDER BY seq",
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var timeoutMS int64
		var status string
		if err := rows.Scan(&t.ID, &t.DeploymentID, &t.Seq, &t.Component, &t.Command, &timeoutMS, &status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Timeout = time.Duration(timeoutMS) * time.Millisecond
		t.Status = TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetStatus persists a task's status transition.
func (s *TaskStore) SetStatus(ctx context.Context, taskID string, status TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "UPDATE bootstrap_tasks SET status = ? WHERE id = ?", string(status), taskID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown bootstrap task %s", taskID)
	}
	return nil
}

// Clear removes all tasks for a deployment once activation has passed the
// bootstrap stage.
func (s *TaskStore) Clear(ctx context.Context, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM bootstrap_tasks WHERE deployment_id = ?", deploymentID)
	return err
}

// Close closes the underlying database.
func (s *TaskStore) Close() error {
	return s.db.Close()
}

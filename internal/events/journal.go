package events

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/edged/internal/model"
)

// Journal persists every state change keyed by the deployment that was in
// flight when it occurred, for post-mortem queries over the API.
type Journal struct {
	db *sql.DB
	mu sync.RWMutex
}

// JournalEntry is one persisted state change.
type JournalEntry struct {
	ID           int64       `json:"id"`
	DeploymentID string      `json:"deploymentId"`
	Component    string      `json:"component"`
	From         model.State `json:"from"`
	To           model.State `json:"to"`
	Reason       string      `json:"reason,omitempty"`
	OccurredAt   time.Time   `json:"occurredAt"`
}

// NewJournal opens (or creates) a journal database.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		deployment_id TEXT NOT NULL,
		component TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT,
		occurred_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deployment_id ON state_changes(deployment_id);
	CREATE INDEX IF NOT EXISTS idx_component ON state_changes(component);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append records one state change under the given deployment id.
func (j *Journal) Append(ctx context.Context, deploymentID string, ev StateChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		"INSERT INTO state_changes (deployment_id, component, from_state, to_state, reason, occurred_at) VALUES (?, ?, ?, ?, ?, ?)",
		deploymentID, ev.Component, string(ev.From), string(ev.To), ev.Reason, ev.OccurredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}
	return nil
}

// GetByDeployment retrieves all state changes recorded for a deployment, in
// insertion order.
func (j *Journal) GetByDeployment(ctx context.Context, deploymentID string) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rows, err := j.db.QueryContext(ctx,
		"SELECT id, deployment_id, component, from_state, to_state, reason, occurred_at FROM state_changes WHERE deployment_id = ? ORDER BY id",
		deploymentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query state changes: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var from, to string
		var occurred int64
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Component, &from, &to, &e.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("scan state change: %w", err)
		}
		e.From = model.State(from)
		e.To = model.State(to)
		e.OccurredAt = time.Unix(0, occurred)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention window and returns how many
// rows were removed.
func (j *Journal) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UnixNano()
	res, err := j.db.ExecContext(ctx,
		"DELETE FROM state_changes WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune state changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

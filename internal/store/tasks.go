package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateTask inserts a new processing task row in the pending state.
func (db *DB) CreateTask(ctx context.Context, task *ProcessingTask) error {
	kbJSON, err := json.Marshal(task.KnowledgeBaseIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge base ids: %w", err)
	}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO processing_tasks (task_id, rfp_document_id, knowledge_base_ids, status, progress, current_step)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		task.TaskID, task.RFPDocumentID, kbJSON, task.Status, task.Progress, task.CurrentStep,
	).Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.TaskID, err)
	}
	return nil
}

// GetTask retrieves a processing task by its caller-visible id. Returns nil
// when no row matches.
func (db *DB) GetTask(ctx context.Context, taskID string) (*ProcessingTask, error) {
	var t ProcessingTask
	var kbJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT task_id, rfp_document_id, knowledge_base_ids, status, progress, current_step, result, error, created_at, updated_at
		 FROM processing_tasks WHERE task_id = $1`,
		taskID,
	).Scan(&t.TaskID, &t.RFPDocumentID, &kbJSON, &t.Status, &t.Progress, &t.CurrentStep,
		&t.Result, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	if len(kbJSON) > 0 {
		if err := json.Unmarshal(kbJSON, &t.KnowledgeBaseIDs); err != nil {
			return nil, fmt.Errorf("failed to decode knowledge base ids: %w", err)
		}
	}
	return &t, nil
}

// UpdateTask writes the mutable task fields. Callers serialize updates per
// task and reload the row before writing; the store itself does no locking.
func (db *DB) UpdateTask(ctx context.Context, task *ProcessingTask) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE processing_tasks
		 SET status = $1, progress = $2, current_step = $3, result = $4, error = $5, updated_at = NOW()
		 WHERE task_id = $6`,
		task.Status, task.Progress, task.CurrentStep, task.Result, task.Error, task.TaskID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.TaskID, err)
	}
	return nil
}

// DeleteTasksBefore removes terminal tasks created before the cutoff and
// returns the number deleted. Used by the retention janitor. Tasks still
// pending or processing are kept regardless of age.
func (db *DB) DeleteTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM processing_tasks
		 WHERE created_at < $1 AND status IN ('completed', 'failed')`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

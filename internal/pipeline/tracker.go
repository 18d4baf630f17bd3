package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/store"
)

// Tracker serializes progress writes to one task record. Concurrent
// generation attempts funnel through the same tracker, so every write
// reloads the persisted row first and the mutex guarantees no attempt
// clobbers another's increment. Progress never decreases and terminal
// tasks are never mutated again.
type Tracker struct {
	store  Store
	taskID string
	log    zerolog.Logger

	mu sync.Mutex
}

// NewTracker returns a tracker bound to one task.
func NewTracker(s Store, taskID string, log zerolog.Logger) *Tracker {
	return &Tracker{store: s, taskID: taskID, log: log}
}

// Start moves the task into the processing state.
func (t *Tracker) Start(ctx context.Context) error {
	return t.write(ctx, func(task *store.ProcessingTask) {
		task.Status = store.StatusProcessing
	})
}

// Update sets progress and the current step label. Progress below the
// stored value is clamped up to keep the sequence monotonic.
func (t *Tracker) Update(ctx context.Context, progress int, step string) error {
	return t.write(ctx, func(task *store.ProcessingTask) {
		if progress > task.Progress {
			task.Progress = progress
		}
		task.CurrentStep = step
	})
}

// Complete marks the task completed with the result payload.
func (t *Tracker) Complete(ctx context.Context, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal task result: %w", err)
	}
	return t.write(ctx, func(task *store.ProcessingTask) {
		task.Status = store.StatusCompleted
		task.Progress = 100
		task.CurrentStep = "Processing complete"
		task.Result = payload
	})
}

// Fail marks the task failed with the error message.
func (t *Tracker) Fail(ctx context.Context, message string) error {
	return t.write(ctx, func(task *store.ProcessingTask) {
		task.Status = store.StatusFailed
		task.Error = message
	})
}

// write applies mutate under the task lock with a reload-before-write
// discipline. Terminal tasks are left untouched.
func (t *Tracker) write(ctx context.Context, mutate func(*store.ProcessingTask)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, err := t.store.GetTask(ctx, t.taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return &NotFoundError{Resource: "task", ID: t.taskID}
	}
	if task.Terminal() {
		t.log.Debug().Str("task_id", t.taskID).Str("status", task.Status).
			Msg("skipping update on terminal task")
		return nil
	}

	mutate(task)
	return t.store.UpdateTask(ctx, task)
}

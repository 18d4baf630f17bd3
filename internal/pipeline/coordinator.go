// Package pipeline implements the asynchronous RFP processing pipeline:
// knowledge-base ingestion, question extraction, fan-out answer
// generation, and task finalization.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/store"
)

// StartRequest describes one processing run.
type StartRequest struct {
	RFPDocumentID    int64
	KnowledgeBaseIDs []int64
	GenerateAnswers  bool
}

// Coordinator is the pipeline entry point. Start creates the task record
// and launches the stage runner without blocking; Status serves polling
// callers.
type Coordinator struct {
	store  Store
	runner *Runner
	log    zerolog.Logger
}

// NewCoordinator returns a coordinator driving the given runner.
func NewCoordinator(s Store, runner *Runner, log zerolog.Logger) *Coordinator {
	return &Coordinator{store: s, runner: runner, log: log}
}

// Start creates a pending task and launches the pipeline asynchronously.
// The returned task snapshot carries the caller-visible task id. The run
// uses its own background context: callers cannot cancel a started run,
// only stop polling it.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*store.ProcessingTask, error) {
	if req.RFPDocumentID == 0 {
		return nil, &ValidationError{Field: "rfp_document_id", Message: "is required"}
	}

	task := &store.ProcessingTask{
		TaskID:           uuid.New().String(),
		RFPDocumentID:    req.RFPDocumentID,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
		Status:           store.StatusPending,
		Progress:         0,
		CurrentStep:      "Starting processing...",
	}
	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	c.log.Info().Str("task_id", task.TaskID).
		Int64("rfp_document_id", req.RFPDocumentID).
		Msg("task created, launching pipeline")

	go c.runner.Run(context.Background(), task.TaskID, req.GenerateAnswers)

	return task, nil
}

// Status returns the current task snapshot. It has no side effects.
func (c *Coordinator) Status(ctx context.Context, taskID string) (*store.ProcessingTask, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, &NotFoundError{Resource: "task", ID: taskID}
	}
	return task, nil
}

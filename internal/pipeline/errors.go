package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// ValidationError indicates bad caller input, surfaced as a 4xx.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// NotFoundError indicates an unknown document or task.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ExtractionError indicates an unreadable or unsupported file. It degrades
// a single document during ingestion and fails the whole task during
// question extraction.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract text from %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NoQuestionsFoundError fails the task when neither the LLM nor the
// fallback extractor finds any questions.
type NoQuestionsFoundError struct {
	RFPDocumentID int64
}

func (e *NoQuestionsFoundError) Error() string {
	return fmt.Sprintf("no questions found in RFP document %d", e.RFPDocumentID)
}

// TransientServiceError wraps a failure worth retrying: an external service
// hiccup or a per-call timeout.
type TransientServiceError struct {
	Op  string
	Err error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientServiceError) Unwrap() error { return e.Err }

// FatalPipelineError fails the task immediately and is never retried.
type FatalPipelineError struct {
	Message string
	Err     error
}

func (e *FatalPipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *FatalPipelineError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Deadline expiry on an
// external call counts as transient even when not wrapped explicitly.
func IsTransient(err error) bool {
	var transient *TransientServiceError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

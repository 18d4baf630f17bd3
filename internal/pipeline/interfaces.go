package pipeline

import (
	"context"

	"github.com/proposalworks/rfp-responder/internal/store"
	"github.com/proposalworks/rfp-responder/internal/vector"
)

// TextExtractor reads plain text out of a document file.
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Chunker splits extracted text into ordered retrieval units.
type Chunker interface {
	Split(text string) []string
}

// VectorIndex is the semantic search engine the pipeline ingests into and
// retrieves from.
type VectorIndex interface {
	Add(ctx context.Context, documentID string, chunks []string, metadata map[string]string) error
	Search(ctx context.Context, query string, n int) ([]vector.Match, error)
	Delete(ctx context.Context, documentID string) error
}

// LLMService generates completions. Implementations bound each call with a
// timeout; callers treat failures as transient.
type LLMService interface {
	Complete(ctx context.Context, prompt string, temperature float32, maxTokens int) (string, error)
}

// Store is the durable record keeper the pipeline reads and writes. The
// pipeline holds only transient references during a run; the rows are owned
// by the store.
type Store interface {
	GetDocument(ctx context.Context, id int64, documentType string) (*store.Document, error)
	MarkDocumentProcessed(ctx context.Context, id int64) error
	SetDocumentMetadata(ctx context.Context, id int64, metadata map[string]any) error

	ReplaceQuestions(ctx context.Context, rfpDocumentID int64, texts []string) ([]store.Question, error)
	ListQuestions(ctx context.Context, rfpDocumentID int64) ([]store.Question, error)

	GetAnswerByQuestion(ctx context.Context, questionID int64) (*store.Answer, error)
	UpsertAnswer(ctx context.Context, questionID int64, text string, confidence float64, sources []store.SourceRef) (*store.Answer, error)

	CreateTask(ctx context.Context, task *store.ProcessingTask) error
	GetTask(ctx context.Context, taskID string) (*store.ProcessingTask, error)
	UpdateTask(ctx context.Context, task *store.ProcessingTask) error
}

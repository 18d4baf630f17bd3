package store

import (
	"encoding/json"
	"time"
)

// Document type discriminators. Knowledge-base documents feed the vector
// index; RFP documents are the source of extracted questions.
const (
	TypeKnowledgeBase = "knowledge_base"
	TypeRFP           = "rfp"
)

// Task lifecycle states. Completed and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is an uploaded file record. The file itself lives on disk at
// FilePath; Metadata carries extraction bookkeeping such as
// questions_extracted and question_count.
type Document struct {
	ID           int64          `json:"id"`
	Title        string         `json:"title"`
	DocumentType string         `json:"document_type"`
	FilePath     string         `json:"file_path"`
	Processed    bool           `json:"processed"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Question belongs to exactly one RFP document. QuestionNumber is densely
// assigned 1..N within that document and defines the ordering.
type Question struct {
	ID             int64     `json:"id"`
	RFPDocumentID  int64     `json:"rfp_document_id"`
	QuestionText   string    `json:"question_text"`
	QuestionNumber int       `json:"question_number"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// SourceRef points at the retrieved chunk that supported an answer.
type SourceRef struct {
	DocumentID     string  `json:"document_id"`
	ChunkIndex     int     `json:"chunk_index"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Answer is the at-most-one generated answer for a question. Edited marks
// a manual change; the pipeline never overwrites an edited answer.
type Answer struct {
	ID              int64       `json:"id"`
	QuestionID      int64       `json:"question_id"`
	AnswerText      string      `json:"answer_text"`
	ConfidenceScore float64     `json:"confidence_score"`
	SourceDocuments []SourceRef `json:"source_documents"`
	Edited          bool        `json:"edited"`
	EditedAt        *time.Time  `json:"edited_at,omitempty"`
	GeneratedAt     time.Time   `json:"generated_at"`
}

// ProcessingTask tracks one pipeline run. Progress is 0-100 and
// non-decreasing while the task is processing; Result is set only on
// completed, Error only on failed.
type ProcessingTask struct {
	TaskID           string          `json:"task_id"`
	RFPDocumentID    int64           `json:"rfp_document_id"`
	KnowledgeBaseIDs []int64         `json:"knowledge_base_ids"`
	Status           string          `json:"status"`
	Progress         int             `json:"progress"`
	CurrentStep      string          `json:"current_step"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Terminal reports whether the task has reached a final state.
func (t *ProcessingTask) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

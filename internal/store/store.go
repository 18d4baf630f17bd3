// Package store provides PostgreSQL persistence for documents, questions,
// answers, and processing tasks.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// GetDocument retrieves a document by ID, optionally constrained to a
// document type. Returns nil when no row matches.
func (db *DB) GetDocument(ctx context.Context, id int64, documentType string) (*Document, error) {
	query := `SELECT id, title, document_type, file_path, processed, processed_at, metadata, created_at
	          FROM documents WHERE id = $1`
	args := []any{id}
	if documentType != "" {
		query += ` AND document_type = $2`
		args = append(args, documentType)
	}

	var doc Document
	var metadata []byte
	err := db.pool.QueryRow(ctx, query, args...).Scan(
		&doc.ID, &doc.Title, &doc.DocumentType, &doc.FilePath,
		&doc.Processed, &doc.ProcessedAt, &metadata, &doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document %d: %w", id, err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode document metadata: %w", err)
		}
	}
	return &doc, nil
}

// MarkDocumentProcessed sets the processed flag and timestamp on a document.
func (db *DB) MarkDocumentProcessed(ctx context.Context, id int64) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE documents SET processed = TRUE, processed_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document %d processed: %w", id, err)
	}
	return nil
}

// SetDocumentMetadata merges the given keys into the document's metadata.
func (db *DB) SetDocumentMetadata(ctx context.Context, id int64, metadata map[string]any) error {
	jsonBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE documents SET metadata = COALESCE(metadata, '{}'::jsonb) || $1 WHERE id = $2`,
		jsonBytes, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document %d metadata: %w", id, err)
	}
	return nil
}

// ReplaceQuestions reconciles the stored question set with texts, numbered
// 1..N in input order. Questions whose text is unchanged keep their row (and
// therefore their answer, edited or not); everything else is deleted, which
// cascades to the orphaned answers.
func (db *DB) ReplaceQuestions(ctx context.Context, rfpDocumentID int64, texts []string) ([]Question, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`SELECT id, question_text FROM questions WHERE rfp_document_id = $1`, rfpDocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior questions: %w", err)
	}
	existing := make(map[string]int64)
	for rows.Next() {
		var id int64
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan prior question: %w", err)
		}
		existing[text] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load prior questions: %w", err)
	}

	// Match new texts against kept rows. Duplicated texts keep at most one.
	kept := make(map[int]int64, len(texts))
	keptIDs := make([]int64, 0, len(texts))
	for i, text := range texts {
		if id, ok := existing[text]; ok {
			kept[i] = id
			keptIDs = append(keptIDs, id)
			delete(existing, text)
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM questions WHERE rfp_document_id = $1 AND NOT (id = ANY($2))`,
		rfpDocumentID, keptIDs,
	); err != nil {
		return nil, fmt.Errorf("failed to delete stale questions: %w", err)
	}

	// Park kept rows on negative numbers so renumbering cannot collide with
	// the unique (rfp_document_id, question_number) constraint.
	if len(keptIDs) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE questions SET question_number = -question_number WHERE id = ANY($1)`,
			keptIDs,
		); err != nil {
			return nil, fmt.Errorf("failed to renumber questions: %w", err)
		}
	}

	questions := make([]Question, 0, len(texts))
	for i, text := range texts {
		var q Question
		if id, ok := kept[i]; ok {
			err = tx.QueryRow(ctx,
				`UPDATE questions SET question_number = $1 WHERE id = $2
				 RETURNING id, rfp_document_id, question_text, question_number, extracted_at`,
				i+1, id,
			).Scan(&q.ID, &q.RFPDocumentID, &q.QuestionText, &q.QuestionNumber, &q.ExtractedAt)
		} else {
			err = tx.QueryRow(ctx,
				`INSERT INTO questions (rfp_document_id, question_text, question_number)
				 VALUES ($1, $2, $3)
				 RETURNING id, rfp_document_id, question_text, question_number, extracted_at`,
				rfpDocumentID, text, i+1,
			).Scan(&q.ID, &q.RFPDocumentID, &q.QuestionText, &q.QuestionNumber, &q.ExtractedAt)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store question %d: %w", i+1, err)
		}
		questions = append(questions, q)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit questions: %w", err)
	}
	return questions, nil
}

// ListQuestions returns the questions for an RFP document ordered by
// question number.
func (db *DB) ListQuestions(ctx context.Context, rfpDocumentID int64) ([]Question, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, rfp_document_id, question_text, question_number, extracted_at
		 FROM questions WHERE rfp_document_id = $1 ORDER BY question_number`,
		rfpDocumentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.RFPDocumentID, &q.QuestionText, &q.QuestionNumber, &q.ExtractedAt); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetAnswerByQuestion returns the answer for a question, or nil when the
// question has none yet.
func (db *DB) GetAnswerByQuestion(ctx context.Context, questionID int64) (*Answer, error) {
	var a Answer
	var sources []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, question_id, answer_text, confidence_score, source_documents, edited, edited_at, generated_at
		 FROM answers WHERE question_id = $1`,
		questionID,
	).Scan(&a.ID, &a.QuestionID, &a.AnswerText, &a.ConfidenceScore, &sources, &a.Edited, &a.EditedAt, &a.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get answer for question %d: %w", questionID, err)
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &a.SourceDocuments); err != nil {
			return nil, fmt.Errorf("failed to decode answer sources: %w", err)
		}
	}
	return &a, nil
}

// UpsertAnswer creates or replaces the answer for a question. The edited
// flag is reset: an automated regeneration only reaches this point when the
// previous answer was not manually edited.
func (db *DB) UpsertAnswer(ctx context.Context, questionID int64, text string, confidence float64, sources []SourceRef) (*Answer, error) {
	sourceJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answer sources: %w", err)
	}

	var a Answer
	var rawSources []byte
	err = db.pool.QueryRow(ctx,
		`INSERT INTO answers (question_id, answer_text, confidence_score, source_documents, edited, edited_at, generated_at)
		 VALUES ($1, $2, $3, $4, FALSE, NULL, NOW())
		 ON CONFLICT (question_id) DO UPDATE
		 SET answer_text = $2, confidence_score = $3, source_documents = $4,
		     edited = FALSE, edited_at = NULL, generated_at = NOW()
		 RETURNING id, question_id, answer_text, confidence_score, source_documents, edited, edited_at, generated_at`,
		questionID, text, confidence, sourceJSON,
	).Scan(&a.ID, &a.QuestionID, &a.AnswerText, &a.ConfidenceScore, &rawSources, &a.Edited, &a.EditedAt, &a.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert answer for question %d: %w", questionID, err)
	}
	if len(rawSources) > 0 {
		if err := json.Unmarshal(rawSources, &a.SourceDocuments); err != nil {
			return nil, fmt.Errorf("failed to decode answer sources: %w", err)
		}
	}
	return &a, nil
}

// EditAnswer replaces the answer text manually, marking it edited so a
// later regeneration run leaves it alone. Returns nil when the answer does
// not exist.
func (db *DB) EditAnswer(ctx context.Context, answerID int64, text string) (*Answer, error) {
	var a Answer
	var rawSources []byte
	err := db.pool.QueryRow(ctx,
		`UPDATE answers SET answer_text = $1, edited = TRUE, edited_at = NOW()
		 WHERE id = $2
		 RETURNING id, question_id, answer_text, confidence_score, source_documents, edited, edited_at, generated_at`,
		text, answerID,
	).Scan(&a.ID, &a.QuestionID, &a.AnswerText, &a.ConfidenceScore, &rawSources, &a.Edited, &a.EditedAt, &a.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to edit answer %d: %w", answerID, err)
	}
	if len(rawSources) > 0 {
		if err := json.Unmarshal(rawSources, &a.SourceDocuments); err != nil {
			return nil, fmt.Errorf("failed to decode answer sources: %w", err)
		}
	}
	return &a, nil
}

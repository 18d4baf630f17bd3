package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/store"
)

// Progress sub-ranges per stage. Ingest owns 10-40, extract 40-50,
// generation 50-100. With no knowledge-base documents the run starts
// directly at the extract stage and progress jumps to 40.
const (
	progressIngestStart = 10
	progressIngestSpan  = 30
	progressExtract     = 40
	progressGenerate    = 50
	progressGenSpan     = 50
)

// TaskResult is the payload stored on a completed task.
type TaskResult struct {
	RFPDocumentID  int64           `json:"rfp_document_id"`
	QuestionsCount int             `json:"questions_count"`
	AnswersCount   int             `json:"answers_count"`
	Answers        []AnswerPayload `json:"answers"`
}

// RunnerConfig wires the runner's collaborators. Store, Extractor,
// Chunker, Index, and LLM are required; everything else has defaults.
type RunnerConfig struct {
	Store     Store
	Extractor TextExtractor
	Chunker   Chunker
	Index     VectorIndex
	LLM       LLMService

	Executor      BatchExecutor // defaults to a PoolExecutor
	BatchWidth    int           // defaults to DefaultBatchWidth
	ContextChunks int           // defaults to DefaultContextChunks

	IngestRetry   *RetryPolicy // defaults to IngestRetryPolicy
	GenerateRetry *RetryPolicy // defaults to GenerateRetryPolicy

	Logger zerolog.Logger
}

// Runner drives one processing task through the stage sequence:
// ingest knowledge base, extract questions, generate answers, finalize.
type Runner struct {
	store         Store
	extractor     TextExtractor
	chunker       Chunker
	index         VectorIndex
	executor      BatchExecutor
	questions     *QuestionExtractor
	generator     *AnswerGenerator
	ingestRetry   RetryPolicy
	generateRetry RetryPolicy
	log           zerolog.Logger
}

// NewRunner builds a runner from the config, applying defaults.
func NewRunner(cfg RunnerConfig) *Runner {
	executor := cfg.Executor
	if executor == nil {
		executor = NewPoolExecutor(cfg.BatchWidth, cfg.Logger)
	}
	ingestRetry := IngestRetryPolicy()
	if cfg.IngestRetry != nil {
		ingestRetry = *cfg.IngestRetry
	}
	generateRetry := GenerateRetryPolicy()
	if cfg.GenerateRetry != nil {
		generateRetry = *cfg.GenerateRetry
	}

	return &Runner{
		store:         cfg.Store,
		extractor:     cfg.Extractor,
		chunker:       cfg.Chunker,
		index:         cfg.Index,
		executor:      executor,
		questions:     NewQuestionExtractor(cfg.LLM, cfg.Logger),
		generator:     NewAnswerGenerator(cfg.Index, cfg.LLM, cfg.ContextChunks, cfg.Logger),
		ingestRetry:   ingestRetry,
		generateRetry: generateRetry,
		log:           cfg.Logger,
	}
}

// Run executes the whole pipeline for one task. It is launched in its own
// goroutine by the coordinator; all failure reporting goes through the
// task record, never the caller.
func (r *Runner) Run(ctx context.Context, taskID string, generateAnswers bool) {
	log := r.log.With().Str("task_id", taskID).Logger()
	tracker := NewTracker(r.store, taskID, log)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("pipeline panicked")
			_ = tracker.Fail(ctx, fmt.Sprintf("internal error: %v", p))
		}
	}()

	task, err := r.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		log.Error().Err(err).Msg("task not found at pipeline start")
		return
	}

	if err := tracker.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to move task to processing")
		// Best effort: without this the task sits in pending forever.
		_ = tracker.Fail(ctx, fmt.Sprintf("failed to start processing: %v", err))
		return
	}

	log.Info().
		Int64("rfp_document_id", task.RFPDocumentID).
		Int("knowledge_base_docs", len(task.KnowledgeBaseIDs)).
		Bool("generate_answers", generateAnswers).
		Msg("pipeline started")

	// Stage 1: ingest. Per-document failures are absorbed; one bad
	// document never aborts the task.
	if len(task.KnowledgeBaseIDs) > 0 {
		r.ingestStage(ctx, tracker, task.KnowledgeBaseIDs, log)
	}

	// Stage 2: extract. Any failure here is fatal for the task.
	questions, err := r.extractStage(ctx, tracker, task.RFPDocumentID, log)
	if err != nil {
		log.Error().Err(err).Msg("pipeline failed")
		_ = tracker.Fail(ctx, err.Error())
		return
	}

	// Stage 3: generate. Partial success is a valid outcome; failed
	// attempts are simply absent from the result.
	var answers []AnswerPayload
	if generateAnswers && len(questions) > 0 {
		answers = r.generateStage(ctx, tracker, questions, log)
	}

	// Stage 4: finalize.
	result := TaskResult{
		RFPDocumentID:  task.RFPDocumentID,
		QuestionsCount: len(questions),
		AnswersCount:   len(answers),
		Answers:        answers,
	}
	if err := tracker.Complete(ctx, result); err != nil {
		log.Error().Err(err).Msg("failed to finalize task")
		return
	}

	log.Info().
		Int("questions", result.QuestionsCount).
		Int("answers", result.AnswersCount).
		Msg("pipeline completed")
}

// ingestStage embeds each unprocessed knowledge-base document into the
// vector index. Progress covers 10-40.
func (r *Runner) ingestStage(ctx context.Context, tracker *Tracker, kbIDs []int64, log zerolog.Logger) {
	step := fmt.Sprintf("Processing %d knowledge base documents", len(kbIDs))
	if err := tracker.Update(ctx, progressIngestStart, step); err != nil {
		log.Warn().Err(err).Msg("could not update progress")
	}

	for idx, id := range kbIDs {
		docLog := log.With().Int64("document_id", id).Logger()

		doc, err := r.store.GetDocument(ctx, id, store.TypeKnowledgeBase)
		if err != nil {
			docLog.Error().Err(err).Msg("failed to load knowledge base document")
		} else if doc == nil {
			docLog.Warn().Msg("knowledge base document not found, skipping")
		} else if doc.Processed {
			// Idempotent: re-running ingestion never re-embeds.
			docLog.Info().Msg("document already processed")
		} else {
			err := r.ingestRetry.Do(ctx, func() error {
				return r.ingestDocument(ctx, doc)
			})
			if err != nil {
				docLog.Error().Err(err).Msg("document ingestion failed, continuing with remaining documents")
			} else {
				docLog.Info().Msg("document ingested")
			}
		}

		progress := progressIngestStart + (idx+1)*progressIngestSpan/len(kbIDs)
		if err := tracker.Update(ctx, progress, step); err != nil {
			docLog.Warn().Err(err).Msg("could not update progress")
		}
	}
}

// ingestDocument extracts, chunks, and indexes one document, then marks it
// processed. Extraction problems are not retryable; index failures are.
func (r *Runner) ingestDocument(ctx context.Context, doc *store.Document) error {
	text, err := r.extractor.Extract(doc.FilePath)
	if err != nil {
		return &ExtractionError{Path: doc.FilePath, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return &ExtractionError{Path: doc.FilePath, Err: fmt.Errorf("document yielded no text")}
	}

	chunks := r.chunker.Split(text)
	if len(chunks) == 0 {
		return &ExtractionError{Path: doc.FilePath, Err: fmt.Errorf("document yielded no chunks")}
	}

	docID := strconv.FormatInt(doc.ID, 10)
	if err := r.index.Add(ctx, docID, chunks, map[string]string{"source": doc.FilePath}); err != nil {
		return &TransientServiceError{Op: "vector index add", Err: err}
	}

	return r.store.MarkDocumentProcessed(ctx, doc.ID)
}

// extractStage pulls the question list out of the RFP document and
// replaces the stored set. Progress covers 40-50. Every error is fatal.
func (r *Runner) extractStage(ctx context.Context, tracker *Tracker, rfpDocumentID int64, log zerolog.Logger) ([]store.Question, error) {
	if err := tracker.Update(ctx, progressExtract, "Extracting questions from RFP"); err != nil {
		log.Warn().Err(err).Msg("could not update progress")
	}

	doc, err := r.store.GetDocument(ctx, rfpDocumentID, store.TypeRFP)
	if err != nil {
		return nil, &FatalPipelineError{Message: "failed to load RFP document", Err: err}
	}
	if doc == nil {
		return nil, &FatalPipelineError{Message: fmt.Sprintf("RFP document %d not found", rfpDocumentID)}
	}

	text, err := r.extractor.Extract(doc.FilePath)
	if err != nil {
		return nil, &FatalPipelineError{Message: "failed to extract text from RFP document", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &FatalPipelineError{Message: "failed to extract text from RFP document"}
	}

	texts := r.questions.Extract(ctx, text)
	if len(texts) == 0 {
		return nil, &NoQuestionsFoundError{RFPDocumentID: rfpDocumentID}
	}

	questions, err := r.store.ReplaceQuestions(ctx, rfpDocumentID, texts)
	if err != nil {
		return nil, &FatalPipelineError{Message: "failed to store extracted questions", Err: err}
	}

	err = r.store.SetDocumentMetadata(ctx, rfpDocumentID, map[string]any{
		"questions_extracted": true,
		"question_count":      len(questions),
	})
	if err != nil {
		return nil, &FatalPipelineError{Message: "failed to update RFP metadata", Err: err}
	}

	step := fmt.Sprintf("Extracted %d questions", len(questions))
	if err := tracker.Update(ctx, progressGenerate, step); err != nil {
		log.Warn().Err(err).Msg("could not update progress")
	}

	log.Info().Int("count", len(questions)).Msg("questions extracted")
	return questions, nil
}

// generateStage fans answer generation out over the question set and
// collects the successful payloads. Progress covers 50-100; each settled
// attempt advances it by its share.
func (r *Runner) generateStage(ctx context.Context, tracker *Tracker, questions []store.Question, log zerolog.Logger) []AnswerPayload {
	step := fmt.Sprintf("Generating answers for %d questions", len(questions))
	if err := tracker.Update(ctx, progressGenerate, step); err != nil {
		log.Warn().Err(err).Msg("could not update progress")
	}

	onDone := func(completed, total int) {
		progress := progressGenerate + completed*progressGenSpan/total
		step := fmt.Sprintf("Generated %d/%d answers", completed, total)
		if err := tracker.Update(ctx, progress, step); err != nil {
			log.Warn().Err(err).Msg("could not update progress")
		}
	}

	results := r.executor.Execute(ctx, questions, r.answerAttempt, onDone)

	answers := make([]AnswerPayload, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			// Exhausted retries fail only this question, never the task.
			log.Error().Err(res.Err).
				Int64("question_id", res.Question.ID).
				Msg("answer generation failed for question")
			continue
		}
		if res.Payload != nil {
			answers = append(answers, *res.Payload)
		}
	}

	sort.Slice(answers, func(i, j int) bool {
		return answers[i].QuestionNumber < answers[j].QuestionNumber
	})

	log.Info().Int("generated", len(answers)).Int("total", len(questions)).
		Msg("answer generation finished")
	return answers
}

// answerAttempt generates and persists the answer for one question.
// Manually edited answers are preserved as-is and reported successful.
func (r *Runner) answerAttempt(ctx context.Context, q store.Question) (*AnswerPayload, error) {
	var payload *AnswerPayload
	err := r.generateRetry.Do(ctx, func() error {
		existing, err := r.store.GetAnswerByQuestion(ctx, q.ID)
		if err != nil {
			// Never regenerate on a failed read: the stored answer may
			// carry a manual edit that regeneration would overwrite.
			return &TransientServiceError{Op: "load existing answer", Err: err}
		}
		if existing != nil && existing.Edited {
			r.log.Info().Int64("question_id", q.ID).
				Msg("keeping manually edited answer")
			payload = payloadFromAnswer(q, existing)
			return nil
		}

		generated, err := r.generator.Generate(ctx, q.QuestionText)
		if err != nil {
			return err
		}
		answer, err := r.store.UpsertAnswer(ctx, q.ID, generated.Text, generated.Confidence, generated.Sources)
		if err != nil {
			return err
		}
		payload = payloadFromAnswer(q, answer)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func payloadFromAnswer(q store.Question, a *store.Answer) *AnswerPayload {
	return &AnswerPayload{
		ID:              a.ID,
		QuestionID:      q.ID,
		QuestionText:    q.QuestionText,
		QuestionNumber:  q.QuestionNumber,
		AnswerText:      a.AnswerText,
		ConfidenceScore: a.ConfidenceScore,
		SourceDocuments: a.SourceDocuments,
		GeneratedAt:     a.GeneratedAt,
		Edited:          a.Edited,
		EditedAt:        a.EditedAt,
	}
}

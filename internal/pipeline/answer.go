package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/prompts"
	"github.com/proposalworks/rfp-responder/internal/store"
)

// DefaultContextChunks is how many retrieval hits feed the answer prompt.
const DefaultContextChunks = 5

// maxSourceRefs caps the sources attached to an answer, regardless of how
// many chunks were retrieved for context.
const maxSourceRefs = 3

// NoInformationAnswer is returned when retrieval finds nothing. It is a
// valid result, not an error, and carries confidence 0.
const NoInformationAnswer = "No relevant information found in the knowledge base."

var answerPromptTemplate = prompts.MustGet("pipeline.json", "answer-question")

// GeneratedAnswer is the output of one retrieval-augmented generation.
type GeneratedAnswer struct {
	Text       string
	Confidence float64
	Sources    []store.SourceRef
}

// AnswerPayload is the per-question entry included in a completed task's
// result. Field names follow the task-status wire format.
type AnswerPayload struct {
	ID              int64             `json:"id"`
	QuestionID      int64             `json:"question"`
	QuestionText    string            `json:"question_text"`
	QuestionNumber  int               `json:"question_number"`
	AnswerText      string            `json:"answer_text"`
	ConfidenceScore float64           `json:"confidence_score"`
	SourceDocuments []store.SourceRef `json:"source_documents"`
	GeneratedAt     time.Time         `json:"generated_at"`
	Edited          bool              `json:"edited"`
	EditedAt        *time.Time        `json:"edited_at,omitempty"`
}

// AnswerGenerator runs the retrieval-augmented generation algorithm for a
// single question.
type AnswerGenerator struct {
	index         VectorIndex
	llm           LLMService
	contextChunks int
	searchTimeout time.Duration
	log           zerolog.Logger
}

// NewAnswerGenerator returns a generator retrieving contextChunks hits per
// question (DefaultContextChunks when non-positive).
func NewAnswerGenerator(index VectorIndex, llm LLMService, contextChunks int, log zerolog.Logger) *AnswerGenerator {
	if contextChunks <= 0 {
		contextChunks = DefaultContextChunks
	}
	return &AnswerGenerator{
		index:         index,
		llm:           llm,
		contextChunks: contextChunks,
		searchTimeout: 30 * time.Second,
		log:           log,
	}
}

// Generate answers the question from the knowledge base. Failures of the
// vector index or the model are wrapped as transient so the caller's retry
// policy applies.
func (g *AnswerGenerator) Generate(ctx context.Context, question string) (*GeneratedAnswer, error) {
	searchCtx, cancel := context.WithTimeout(ctx, g.searchTimeout)
	defer cancel()

	matches, err := g.index.Search(searchCtx, question, g.contextChunks)
	if err != nil {
		return nil, &TransientServiceError{Op: "vector search", Err: err}
	}

	if len(matches) == 0 {
		g.log.Warn().Str("question", truncate(question, 80)).
			Msg("no relevant chunks found in knowledge base")
		return &GeneratedAnswer{
			Text:       NoInformationAnswer,
			Confidence: 0.0,
			Sources:    []store.SourceRef{},
		}, nil
	}

	// Convert cosine distance (0 = identical, 2 = opposite) to a 0-1
	// similarity and build the numbered source context.
	var contextParts []string
	sources := make([]store.SourceRef, 0, len(matches))
	var relevanceSum float64
	for i, m := range matches {
		contextParts = append(contextParts, fmt.Sprintf("[Source %d]: %s", i+1, m.Text))
		similarity := clamp01(1.0 - m.Distance/2.0)
		relevanceSum += similarity
		sources = append(sources, store.SourceRef{
			DocumentID:     m.DocumentID,
			ChunkIndex:     m.ChunkIndex,
			RelevanceScore: similarity,
		})
	}

	prompt := prompts.Format(answerPromptTemplate, map[string]string{
		"Context":  strings.Join(contextParts, "\n\n"),
		"Question": question,
	})
	answer, err := g.llm.Complete(ctx, prompt, 0.7, 500)
	if err != nil {
		return nil, &TransientServiceError{Op: "answer generation", Err: err}
	}

	avgRelevance := relevanceSum / float64(len(sources))
	confidence := ConfidenceScore(avgRelevance)

	g.log.Debug().
		Float64("avg_relevance", avgRelevance).
		Float64("confidence", confidence).
		Int("sources", len(sources)).
		Msg("generated answer")

	if len(sources) > maxSourceRefs {
		sources = sources[:maxSourceRefs]
	}

	return &GeneratedAnswer{
		Text:       strings.TrimSpace(answer),
		Confidence: confidence,
		Sources:    sources,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/prompts"
)

// Question extraction limits.
const (
	maxRFPPrefix         = 8000 // runes of RFP text sent to the model
	minQuestionLength    = 10   // shorter lines are headings or noise
	maxFallbackQuestions = 50
)

var extractionPromptTemplate = prompts.MustGet("pipeline.json", "extract-questions")

// numberedItemPattern matches numbered list items such as "3) ..." or
// "3. ..." at the start of a line.
var numberedItemPattern = regexp.MustCompile(`^\s*\d+[\).\s]+\s*(.+)$`)

// QuestionExtractor pulls the question list out of RFP text, preferring the
// language model and falling back to pattern matching when the model fails
// or returns nothing.
type QuestionExtractor struct {
	llm LLMService
	log zerolog.Logger
}

// NewQuestionExtractor returns an extractor backed by the given model.
func NewQuestionExtractor(llm LLMService, log zerolog.Logger) *QuestionExtractor {
	return &QuestionExtractor{llm: llm, log: log}
}

// Extract returns the ordered question texts found in rfpText. An empty
// result means neither method found anything; the caller decides that is
// fatal.
func (e *QuestionExtractor) Extract(ctx context.Context, rfpText string) []string {
	questions, err := e.extractWithLLM(ctx, rfpText)
	if err != nil {
		e.log.Warn().Err(err).Msg("LLM question extraction failed, using fallback")
		return fallbackExtractQuestions(rfpText)
	}
	if len(questions) == 0 {
		e.log.Warn().Msg("LLM extraction returned no questions, using fallback")
		return fallbackExtractQuestions(rfpText)
	}
	e.log.Info().Int("count", len(questions)).Msg("extracted questions with LLM")
	return questions
}

func (e *QuestionExtractor) extractWithLLM(ctx context.Context, rfpText string) ([]string, error) {
	prefix := rfpText
	if runes := []rune(prefix); len(runes) > maxRFPPrefix {
		prefix = string(runes[:maxRFPPrefix])
	}

	prompt := prompts.Format(extractionPromptTemplate, map[string]string{"Document": prefix})
	content, err := e.llm.Complete(ctx, prompt, 0.3, 2000)
	if err != nil {
		return nil, err
	}

	return parseNumberedQuestions(content), nil
}

// parseNumberedQuestions reads a model response formatted as a numbered
// list, stripping leading ordinals and dropping lines too short to be real
// questions.
func parseNumberedQuestions(content string) []string {
	var questions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedItemPattern.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1])
		}
		if len(line) > minQuestionLength {
			questions = append(questions, line)
		}
	}
	return questions
}

// fallbackExtractQuestions scans the raw text for question-shaped lines:
// anything ending in "?" plus numbered list items. Results are
// deduplicated in order of appearance and capped.
func fallbackExtractQuestions(text string) []string {
	var candidates []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, "?") {
			candidates = append(candidates, line)
			continue
		}
		if m := numberedItemPattern.FindStringSubmatch(line); m != nil {
			candidates = append(candidates, strings.TrimSpace(m[1]))
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	var questions []string
	for _, q := range candidates {
		if len(q) <= minQuestionLength {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		questions = append(questions, q)
		if len(questions) == maxFallbackQuestions {
			break
		}
	}
	return questions
}

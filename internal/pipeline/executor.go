package pipeline

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/proposalworks/rfp-responder/internal/store"
)

// DefaultBatchWidth is the number of answer-generation attempts in flight
// at once.
const DefaultBatchWidth = 5

// AttemptFunc generates the answer payload for one question.
type AttemptFunc func(ctx context.Context, q store.Question) (*AnswerPayload, error)

// AttemptResult is the outcome of one generation attempt. Payload is nil
// when the attempt failed permanently.
type AttemptResult struct {
	Question store.Question
	Payload  *AnswerPayload
	Err      error
}

// BatchExecutor fans answer generation out over a question set and blocks
// until every attempt has either produced a result or failed permanently.
// No attempt is abandoned early; partial success is a valid outcome.
type BatchExecutor interface {
	Execute(ctx context.Context, questions []store.Question, attempt AttemptFunc, onDone func(completed, total int)) []AttemptResult
}

// PoolExecutor runs attempts on a bounded worker pool.
type PoolExecutor struct {
	width int
	log   zerolog.Logger
}

// NewPoolExecutor returns an executor with the given concurrency width.
func NewPoolExecutor(width int, log zerolog.Logger) *PoolExecutor {
	if width < 1 {
		width = DefaultBatchWidth
	}
	return &PoolExecutor{width: width, log: log}
}

// Execute submits one attempt per question to the pool and waits for all
// of them. onDone fires after each attempt settles (success or permanent
// failure) with the running completed count; it is called while the result
// lock is held, so the counts 1..total arrive in order, each exactly once.
func (e *PoolExecutor) Execute(ctx context.Context, questions []store.Question, attempt AttemptFunc, onDone func(completed, total int)) []AttemptResult {
	total := len(questions)
	if total == 0 {
		return nil
	}

	pool, err := ants.NewPool(e.width)
	if err != nil {
		// Pool construction only fails on invalid sizes; run sequentially
		// rather than losing the batch.
		e.log.Error().Err(err).Msg("worker pool unavailable, running attempts sequentially")
		return e.executeSequential(ctx, questions, attempt, onDone)
	}
	defer pool.Release()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		results   = make([]AttemptResult, 0, total)
		completed int
	)

	settle := func(res AttemptResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
		completed++
		if onDone != nil {
			onDone(completed, total)
		}
	}

	for _, q := range questions {
		q := q
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			payload, err := attempt(ctx, q)
			settle(AttemptResult{Question: q, Payload: payload, Err: err})
		})
		if submitErr != nil {
			wg.Done()
			settle(AttemptResult{Question: q, Err: submitErr})
		}
	}

	// Barrier: the generate stage must not finalize before every attempt
	// has settled.
	wg.Wait()
	return results
}

func (e *PoolExecutor) executeSequential(ctx context.Context, questions []store.Question, attempt AttemptFunc, onDone func(completed, total int)) []AttemptResult {
	total := len(questions)
	results := make([]AttemptResult, 0, total)
	for i, q := range questions {
		payload, err := attempt(ctx, q)
		results = append(results, AttemptResult{Question: q, Payload: payload, Err: err})
		if onDone != nil {
			onDone(i+1, total)
		}
	}
	return results
}

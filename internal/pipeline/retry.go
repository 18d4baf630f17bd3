package pipeline

import (
	"context"
	"time"
)

// Default retry policies. Ingestion waits longer between attempts because
// embedding a whole document is the heavier call.
const (
	defaultMaxAttempts     = 3
	defaultIngestBackoff   = 60 * time.Second
	defaultGenerateBackoff = 30 * time.Second
)

// RetryPolicy retries an operation a bounded number of times with a fixed
// backoff. Only transient failures are retried; anything else fails the
// attempt immediately. Question extraction never goes through a policy.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration

	// sleep is swapped out in tests so backoff does not wall-clock wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy returns a policy with the given bounds.
func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff, sleep: sleepCtx}
}

// IngestRetryPolicy is the default policy for knowledge-base ingestion.
func IngestRetryPolicy() RetryPolicy {
	return NewRetryPolicy(defaultMaxAttempts, defaultIngestBackoff)
}

// GenerateRetryPolicy is the default policy for answer generation.
func GenerateRetryPolicy() RetryPolicy {
	return NewRetryPolicy(defaultMaxAttempts, defaultGenerateBackoff)
}

// Do runs op, retrying transient failures up to MaxAttempts total attempts.
// The last error is returned when attempts exhaust.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if sleepErr := sleep(ctx, p.Backoff); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// sleepCtx waits for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

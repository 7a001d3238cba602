package domain

import (
	"context"
	"time"
)

// JobStore is the durable record of every job and the single source of truth
// for its state. ClaimDue is the only mutual-exclusion point between workers
// and must be atomic across processes for any store shared by more than one
// worker process.
type JobStore interface {
	// Create inserts a new pending job.
	Create(ctx context.Context, prompt string, parameters map[string]any, maxRetries int) (*Job, error)
	// Get returns ErrNotFound if no such job exists.
	Get(ctx context.Context, id string) (*Job, error)
	// ClaimDue moves the oldest eligible job to processing and returns it, or
	// returns nil, nil when nothing is eligible at now.
	ClaimDue(ctx context.Context, now time.Time) (*Job, error)
	// MarkCompleted records the artifact reference. The job must be processing.
	MarkCompleted(ctx context.Context, id, resultReference string, now time.Time) error
	// MarkRetry increments the retry count and schedules the next attempt.
	// The job must be processing and below its retry ceiling.
	MarkRetry(ctx context.Context, id, lastError string, nextAttemptAt, now time.Time) error
	// MarkFailed terminally fails a processing job.
	MarkFailed(ctx context.Context, id, lastError string, now time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// CheckTransition validates a transition out of processing against the
// current record. It returns a *TransitionError wrapping ErrInvalidTransition
// when the transition is not permitted.
func CheckTransition(j *Job, to JobState) error {
	if j.State != JobStateProcessing {
		return &TransitionError{JobID: j.ID, From: j.State, To: to}
	}
	if to == JobStateRetrying && j.RetryCount >= j.MaxRetries {
		return &TransitionError{JobID: j.ID, From: j.State, To: to}
	}
	return nil
}

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPersistence       = errors.New("job store unavailable")
	// ErrEmptyResult rejects completing a job without an artifact reference.
	ErrEmptyResult = fmt.Errorf("%w: completed job requires a result reference", ErrInvalidTransition)
)

// PersistenceError reports that the job store could not be reached or failed
// to apply an operation. It is surfaced to callers and never retried by the
// lifecycle engine itself.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err for the given store operation. A nil err
// yields nil.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("job store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPersistence) match any PersistenceError.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// TransitionError describes a rejected transition with the state observed at
// the time of the attempt.
type TransitionError struct {
	JobID string
	From  JobState
	To    JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot transition %s -> %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

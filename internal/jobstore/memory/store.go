// Package memory implements domain.JobStore in process memory. It is safe for
// concurrent use by goroutines of one process and is intended for tests and
// local development; it offers no guarantee across process boundaries.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

var _ domain.JobStore = (*Store)(nil)

// Store keeps jobs in a map guarded by a single mutex, which makes ClaimDue
// atomic for every caller sharing the Store value.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	now  func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithClock sets the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		jobs: make(map[string]*domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a new pending job.
func (s *Store) Create(ctx context.Context, prompt string, parameters map[string]any, maxRetries int) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPersistenceError("create", err)
	}
	now := s.now()
	j := &domain.Job{
		ID:         uuid.NewString(),
		State:      domain.JobStatePending,
		Prompt:     prompt,
		Parameters: parameters,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	s.jobs[j.ID] = j.Clone()
	s.mu.Unlock()
	return j, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

// ClaimDue claims the oldest eligible job.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewPersistenceError("claim", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Job
	for _, j := range s.jobs {
		if !j.Due(now) {
			continue
		}
		if next == nil || older(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.State = domain.JobStateProcessing
	next.NextAttemptAt = nil
	next.UpdatedAt = now
	if next.StartedAt == nil {
		started := now
		next.StartedAt = &started
	}
	return next.Clone(), nil
}

// MarkCompleted transitions a processing job to completed.
func (s *Store) MarkCompleted(_ context.Context, id, resultReference string, now time.Time) error {
	if resultReference == "" {
		return domain.ErrEmptyResult
	}
	return s.transition(id, domain.JobStateCompleted, func(j *domain.Job) {
		j.ResultReference = resultReference
		j.CompletedAt = &now
	}, now)
}

// MarkRetry transitions a processing job to retrying.
func (s *Store) MarkRetry(_ context.Context, id, lastError string, nextAttemptAt, now time.Time) error {
	return s.transition(id, domain.JobStateRetrying, func(j *domain.Job) {
		j.RetryCount++
		j.LastError = lastError
		j.NextAttemptAt = &nextAttemptAt
	}, now)
}

// MarkFailed transitions a processing job to failed.
func (s *Store) MarkFailed(_ context.Context, id, lastError string, now time.Time) error {
	return s.transition(id, domain.JobStateFailed, func(j *domain.Job) {
		j.LastError = lastError
		j.CompletedAt = &now
	}, now)
}

func (s *Store) transition(id string, to domain.JobState, apply func(*domain.Job), now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := domain.CheckTransition(j, to); err != nil {
		return err
	}
	apply(j)
	j.State = to
	j.UpdatedAt = now
	return nil
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

func older(a, b *domain.Job) bool {
	ea, eb := a.EligibleAt(), b.EligibleAt()
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if !ea.Equal(eb) {
		return ea.Before(eb)
	}
	return a.ID < b.ID
}

package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

var _ domain.JobStore = (*JobRepositoryPG)(nil)

// JobRepositoryPG implements domain.JobStore on PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED so any number of worker processes may share one
// database.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// EnsureSchema creates the media_jobs table and its claim index when missing.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QJobsSchema); err != nil {
		return domain.NewPersistenceError("migrate", err)
	}
	return nil
}

// Create inserts a new pending job record.
func (r *JobRepositoryPG) Create(ctx context.Context, prompt string, parameters map[string]any, maxRetries int) (*domain.Job, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	job := &domain.Job{
		ID:         uuid.NewString(),
		State:      domain.JobStatePending,
		Prompt:     prompt,
		Parameters: parameters,
		MaxRetries: maxRetries,
	}
	row := r.db.QueryRow(ctx, sqlinline.QJobsInsert, job.ID, prompt, raw, maxRetries)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, domain.NewPersistenceError("create", err)
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QJobsGetByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewPersistenceError("get", err)
	}
	return job, nil
}

// ClaimDue locks the oldest eligible row, skipping rows other workers hold,
// and flips it to processing in the same statement.
func (r *JobRepositoryPG) ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error) {
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QWorkerClaimJob, now.UTC()))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError("claim", err)
	}
	return job, nil
}

// MarkCompleted records the artifact reference of a processing job.
func (r *JobRepositoryPG) MarkCompleted(ctx context.Context, id, resultReference string, now time.Time) error {
	if resultReference == "" {
		return domain.ErrEmptyResult
	}
	return r.transition(ctx, id, domain.JobStateCompleted, sqlinline.QWorkerMarkCompleted, id, resultReference, now.UTC())
}

// MarkRetry schedules another attempt for a processing job.
func (r *JobRepositoryPG) MarkRetry(ctx context.Context, id, lastError string, nextAttemptAt, now time.Time) error {
	return r.transition(ctx, id, domain.JobStateRetrying, sqlinline.QWorkerMarkRetry, id, lastError, nextAttemptAt.UTC(), now.UTC())
}

// MarkFailed terminally fails a processing job.
func (r *JobRepositoryPG) MarkFailed(ctx context.Context, id, lastError string, now time.Time) error {
	return r.transition(ctx, id, domain.JobStateFailed, sqlinline.QWorkerMarkFailed, id, lastError, now.UTC())
}

func (r *JobRepositoryPG) transition(ctx context.Context, id string, to domain.JobState, query string, args ...any) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched the conditional update: find out whether the row is
	// gone or simply in the wrong state.
	var (
		state      string
		retryCount int
		maxRetries int
	)
	row := r.db.QueryRow(ctx, sqlinline.QWorkerTransitionState, id)
	if err := row.Scan(&state, &retryCount, &maxRetries); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	return &domain.TransitionError{JobID: id, From: domain.JobState(state), To: to}
}

// Ping verifies the database answers queries.
func (r *JobRepositoryPG) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, sqlinline.QJobsPing).Scan(&one); err != nil {
		return domain.NewPersistenceError("ping", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to whoever built the executor.
func (r *JobRepositoryPG) Close() error { return nil }

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job        domain.Job
		state      string
		rawParams  []byte
		result     *string
		lastError  *string
		nextAt     *time.Time
		startedAt  *time.Time
		finishedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&state,
		&job.Prompt,
		&rawParams,
		&job.RetryCount,
		&job.MaxRetries,
		&result,
		&lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&nextAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	job.State = domain.JobState(state)
	if !job.State.Valid() {
		return nil, fmt.Errorf("job %s: unknown state %q", job.ID, state)
	}
	if len(rawParams) > 0 {
		if err := json.Unmarshal(rawParams, &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}
	if result != nil {
		job.ResultReference = *result
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.NextAttemptAt = utcPtr(nextAt)
	job.StartedAt = utcPtr(startedAt)
	job.CompletedAt = utcPtr(finishedAt)
	return &job, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

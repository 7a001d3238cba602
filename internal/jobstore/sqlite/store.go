// Package sqlite implements domain.JobStore on an embedded SQLite database.
// Claims are single UPDATE ... RETURNING statements, so several worker
// processes may share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mediagen/internal/domain"
)

var _ domain.JobStore = (*Store)(nil)

// Store is a SQLite-backed job store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Writers wait up to busyTimeout for the file lock.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps in-process callers
	// from contending on the file lock.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, qSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Create inserts a new pending job.
func (s *Store) Create(ctx context.Context, prompt string, parameters map[string]any, maxRetries int) (*domain.Job, error) {
	if parameters == nil {
		parameters = map[string]any{}
	}
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	now := s.now()
	job := &domain.Job{
		ID:         uuid.NewString(),
		State:      domain.JobStatePending,
		Prompt:     prompt,
		Parameters: parameters,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.ExecContext(ctx, qInsert, job.ID, prompt, string(raw), maxRetries, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, domain.NewPersistenceError("create", err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, qGetByID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.NewPersistenceError("get", err)
	}
	return job, nil
}

// ClaimDue claims the oldest due job.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error) {
	ts := now.UnixNano()
	job, err := scanJob(s.db.QueryRowContext(ctx, qClaim, ts, ts, ts))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError("claim", err)
	}
	return job, nil
}

// MarkCompleted transitions a processing job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id, resultReference string, now time.Time) error {
	if resultReference == "" {
		return domain.ErrEmptyResult
	}
	ts := now.UnixNano()
	return s.transition(ctx, id, domain.JobStateCompleted, qMarkCompleted, resultReference, ts, ts, id)
}

// MarkRetry transitions a processing job to retrying.
func (s *Store) MarkRetry(ctx context.Context, id, lastError string, nextAttemptAt, now time.Time) error {
	return s.transition(ctx, id, domain.JobStateRetrying, qMarkRetry, lastError, nextAttemptAt.UnixNano(), now.UnixNano(), id)
}

// MarkFailed transitions a processing job to failed.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string, now time.Time) error {
	ts := now.UnixNano()
	return s.transition(ctx, id, domain.JobStateFailed, qMarkFailed, lastError, ts, ts, id)
}

func (s *Store) transition(ctx context.Context, id string, to domain.JobState, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	if n == 1 {
		return nil
	}
	var state string
	if err := s.db.QueryRowContext(ctx, qState, id).Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	return &domain.TransitionError{JobID: id, From: domain.JobState(state), To: to}
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return domain.NewPersistenceError("ping", s.db.PingContext(ctx))
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                           domain.Job
		state, rawParams              string
		result, lastError             sql.NullString
		createdAt, updatedAt          int64
		nextAt, startedAt, finishedAt sql.NullInt64
	)
	if err := row.Scan(
		&job.ID, &state, &job.Prompt, &rawParams, &job.RetryCount, &job.MaxRetries,
		&result, &lastError, &createdAt, &updatedAt,
		&nextAt, &startedAt, &finishedAt,
	); err != nil {
		return nil, err
	}
	job.State = domain.JobState(state)
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}
	job.ResultReference = result.String
	job.LastError = lastError.String
	job.CreatedAt = fromNanos(createdAt)
	job.UpdatedAt = fromNanos(updatedAt)
	job.NextAttemptAt = nullableTime(nextAt)
	job.StartedAt = nullableTime(startedAt)
	job.CompletedAt = nullableTime(finishedAt)
	return &job, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

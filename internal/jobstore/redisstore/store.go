// Package redisstore implements domain.JobStore on Redis. Each job is a hash;
// claimable ids live in two sorted sets: "ready" scored by creation time and
// "delayed" scored by next attempt time. Claims and transitions run as Lua
// scripts so they are atomic across every process sharing the server.
//
// Scripts touch job hashes derived from ids, so the store targets a single
// Redis node rather than a cluster.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"mediagen/internal/domain"
)

var _ domain.JobStore = (*Store)(nil)

const defaultPrefix = "mediagen"

// Option configures the Store.
type Option func(*Store)

// WithPrefix namespaces every key the store writes.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock sets the clock used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a Redis-backed job store. The caller owns the client lifecycle
// unless the store was built with Dial.
type Store struct {
	client redis.Cmdable
	closer func() error
	prefix string
	now    func() time.Time
}

// New wraps an existing client.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dial connects to addr and returns a store that closes the client on Close.
func Dial(ctx context.Context, addr string, db int, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	s := New(client, opts...)
	s.closer = client.Close
	return s, nil
}

func (s *Store) jobKey(id string) string { return s.jobPrefix() + id }
func (s *Store) jobPrefix() string       { return s.prefix + ":job:" }
func (s *Store) readyKey() string        { return s.prefix + ":ready" }
func (s *Store) delayedKey() string      { return s.prefix + ":delayed" }

// Create stores the job hash and queues its id as ready.
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
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(job.ID),
		"id", job.ID,
		"state", string(job.State),
		"prompt", prompt,
		"parameters", string(raw),
		"retry_count", 0,
		"max_retries", maxRetries,
		"created_at", nanos(now),
		"created_score", score(now),
		"updated_at", nanos(now),
	)
	pipe.ZAdd(ctx, s.readyKey(), redis.Z{Score: float64(now.UnixMicro()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, domain.NewPersistenceError("create", err)
	}
	return job, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, domain.NewPersistenceError("get", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return decodeJob(fields)
}

// ClaimDue claims the oldest due job.
func (s *Store) ClaimDue(ctx context.Context, now time.Time) (*domain.Job, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.readyKey(), s.delayedKey()},
		score(now), nanos(now), s.jobPrefix(),
	).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, domain.NewPersistenceError("claim", err)
	}
	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	job, err := decodeJob(fields)
	if err != nil {
		// The script already moved the job to processing; name it so an
		// operator can repair the record.
		return nil, domain.NewPersistenceError("claim", fmt.Errorf("job %s claimed but unreadable: %w", fields["id"], err))
	}
	return job, nil
}

// MarkCompleted transitions a processing job to completed.
func (s *Store) MarkCompleted(ctx context.Context, id, resultReference string, now time.Time) error {
	if resultReference == "" {
		return domain.ErrEmptyResult
	}
	return s.transition(ctx, id, domain.JobStateCompleted, now, "",
		"result_reference", resultReference,
		"completed_at", nanos(now),
	)
}

// MarkRetry transitions a processing job to retrying and parks it in the
// delayed set until nextAttemptAt.
func (s *Store) MarkRetry(ctx context.Context, id, lastError string, nextAttemptAt, now time.Time) error {
	return s.transition(ctx, id, domain.JobStateRetrying, now, score(nextAttemptAt),
		"last_error", lastError,
		"next_attempt_at", nanos(nextAttemptAt),
	)
}

// MarkFailed transitions a processing job to failed.
func (s *Store) MarkFailed(ctx context.Context, id, lastError string, now time.Time) error {
	return s.transition(ctx, id, domain.JobStateFailed, now, "",
		"last_error", lastError,
		"completed_at", nanos(now),
	)
}

func (s *Store) transition(ctx context.Context, id string, to domain.JobState, now time.Time, delayedScore string, fields ...string) error {
	args := make([]any, 0, 4+len(fields))
	args = append(args, id, string(to), nanos(now), delayedScore)
	for _, f := range fields {
		args = append(args, f)
	}
	res, err := markScript.Run(ctx, s.client, []string{s.jobKey(id), s.delayedKey()}, args...).Text()
	if err != nil {
		return domain.NewPersistenceError("mark "+string(to), err)
	}
	switch res {
	case "ok":
		return nil
	case "missing":
		return domain.ErrNotFound
	default:
		return &domain.TransitionError{JobID: id, From: domain.JobState(res), To: to}
	}
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return domain.NewPersistenceError("ping", s.client.Ping(ctx).Err())
}

// Close releases the client when the store dialled it itself.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

func decodeJob(f map[string]string) (*domain.Job, error) {
	job := &domain.Job{
		ID:              f["id"],
		State:           domain.JobState(f["state"]),
		Prompt:          f["prompt"],
		ResultReference: f["result_reference"],
		LastError:       f["last_error"],
	}
	if !job.State.Valid() {
		return nil, fmt.Errorf("job %s: unknown state %q", job.ID, f["state"])
	}
	var err error
	if job.RetryCount, err = strconv.Atoi(f["retry_count"]); err != nil {
		return nil, fmt.Errorf("job %s: retry_count: %w", job.ID, err)
	}
	if job.MaxRetries, err = strconv.Atoi(f["max_retries"]); err != nil {
		return nil, fmt.Errorf("job %s: max_retries: %w", job.ID, err)
	}
	if raw := f["parameters"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if job.Parameters == nil {
		job.Parameters = map[string]any{}
	}
	created, err := parseNanos(f["created_at"])
	if err != nil || created == nil {
		return nil, fmt.Errorf("job %s: created_at: %v", job.ID, err)
	}
	job.CreatedAt = *created
	updated, err := parseNanos(f["updated_at"])
	if err != nil || updated == nil {
		return nil, fmt.Errorf("job %s: updated_at: %v", job.ID, err)
	}
	job.UpdatedAt = *updated
	if job.NextAttemptAt, err = parseNanos(f["next_attempt_at"]); err != nil {
		return nil, err
	}
	if job.StartedAt, err = parseNanos(f["started_at"]); err != nil {
		return nil, err
	}
	if job.CompletedAt, err = parseNanos(f["completed_at"]); err != nil {
		return nil, err
	}
	return job, nil
}

func nanos(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

// score is the sorted-set score for t. Microseconds stay exact in a float64.
func score(t time.Time) string { return strconv.FormatInt(t.UnixMicro(), 10) }

func parseNanos(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	t := time.Unix(0, n).UTC()
	return &t, nil
}

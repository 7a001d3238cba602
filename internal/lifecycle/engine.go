// Package lifecycle drives jobs from claim to a recorded outcome: it claims
// due jobs, runs one provider attempt per claim under a deadline, stores the
// artifact, and records completion, a scheduled retry, or terminal failure.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers/media"
	"mediagen/internal/retry"
	"mediagen/internal/storage"
)

const instrumentationName = "mediagen/internal/lifecycle"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Sleeper waits between scans. It returns ctx's error when ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config is the immutable engine configuration.
type Config struct {
	// Concurrency bounds in-flight attempts.
	Concurrency int
	// PollInterval separates scans in Run.
	PollInterval time.Duration
	// AttemptTimeout bounds one provider call plus the artifact write.
	AttemptTimeout time.Duration
	// ProviderRate limits provider calls per second; zero disables it.
	ProviderRate  float64
	ProviderBurst int
}

// DefaultConfig returns four workers polling every second with a five
// minute attempt deadline.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		PollInterval:   time.Second,
		AttemptTimeout: 5 * time.Minute,
	}
}

// Outcome is the result of processing one claimed job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
	// OutcomeConflict means the store refused the transition; the job was
	// left as the store had it.
	OutcomeConflict Outcome = "conflict"
	// OutcomeStoreError means the outcome could not be recorded.
	OutcomeStoreError Outcome = "store_error"
)

// Option configures the Engine.
type Option func(*Engine)

// WithClock injects the clock used for claims and schedules.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSleeper injects the wait used between scans.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleeper = s }
}

// WithLogger sets the engine logger.
func WithLogger(l infra.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMeterProvider records metrics on mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithTracerProvider traces attempts on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// Engine runs generation attempts for claimed jobs.
type Engine struct {
	store     domain.JobStore
	provider  media.Generator
	artifacts storage.Backend
	policy    retry.Policy
	cfg       Config

	clock          Clock
	sleeper        Sleeper
	logger         infra.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	inflight sync.WaitGroup

	tracer   trace.Tracer
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// New builds an engine. Zero Config fields take DefaultConfig values.
func New(store domain.JobStore, provider media.Generator, artifacts storage.Backend, policy retry.Policy, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || provider == nil || artifacts == nil {
		return nil, errors.New("lifecycle: store, provider and storage are required")
	}
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}

	e := &Engine{
		store:     store,
		provider:  provider,
		artifacts: artifacts,
		policy:    policy,
		cfg:       cfg,
		clock:     systemClock{},
		sleeper:   timerSleeper{},
		logger:    zerolog.New(io.Discard),
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.ProviderRate > 0 {
		burst := cfg.ProviderBurst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.ProviderRate), burst)
	}

	if e.meterProvider == nil {
		e.meterProvider = otel.GetMeterProvider()
	}
	if e.tracerProvider == nil {
		e.tracerProvider = otel.GetTracerProvider()
	}
	meter := e.meterProvider.Meter(instrumentationName)
	e.tracer = e.tracerProvider.Tracer(instrumentationName)

	var err error
	e.attempts, err = meter.Int64Counter(
		"mediagen.job.attempts",
		metric.WithDescription("Generation attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: attempts counter: %w", err)
	}
	e.duration, err = meter.Float64Histogram(
		"mediagen.job.attempt.duration",
		metric.WithDescription("Duration of a generation attempt in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: duration histogram: %w", err)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Run scans for due jobs every PollInterval until ctx is cancelled, then
// waits for in-flight attempts to finish.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().
		Int("concurrency", e.cfg.Concurrency).
		Dur("poll_interval", e.cfg.PollInterval).
		Dur("attempt_timeout", e.cfg.AttemptTimeout).
		Msg("lifecycle: engine started")
	for {
		if _, err := e.Scan(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("lifecycle: scan failed")
		}
		if err := e.sleeper.Sleep(ctx, e.cfg.PollInterval); err != nil {
			break
		}
	}
	e.Wait()
	e.logger.Info().Msg("lifecycle: engine stopped")
	return nil
}

// Scan claims due jobs until the store has none or ctx ends, dispatching each
// to its own goroutine. A worker slot is taken before every claim, so a job is
// never claimed without capacity to run it. Scan returns the number of jobs
// dispatched; it does not wait for them.
func (e *Engine) Scan(ctx context.Context) (int, error) {
	dispatched := 0
	for {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return dispatched, err
		}
		job, err := e.store.ClaimDue(ctx, e.clock.Now())
		if err != nil {
			e.sem.Release(1)
			return dispatched, err
		}
		if job == nil {
			e.sem.Release(1)
			return dispatched, nil
		}
		dispatched++
		e.inflight.Add(1)
		// Attempts are detached from ctx; Run drains them after cancellation.
		go func(job *domain.Job) {
			defer e.inflight.Done()
			defer e.sem.Release(1)
			e.Process(context.WithoutCancel(ctx), job)
		}(job)
	}
}

// Wait blocks until every dispatched attempt has finished.
func (e *Engine) Wait() { e.inflight.Wait() }

// Process runs one attempt for a job already claimed into processing and
// records the outcome.
func (e *Engine) Process(ctx context.Context, job *domain.Job) Outcome {
	start := e.clock.Now()
	ctx, span := e.tracer.Start(ctx, "mediagen.job.attempt",
		trace.WithAttributes(
			attribute.String("mediagen.job.id", job.ID),
			attribute.Int("mediagen.job.retry_count", job.RetryCount),
			attribute.Int("mediagen.job.max_retries", job.MaxRetries),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	log := e.logger.With().Str("job_id", job.ID).Int("retry_count", job.RetryCount).Logger()
	log.Debug().Msg("lifecycle: attempt started")

	ref, attemptErr := e.attempt(ctx, job)
	now := e.clock.Now()

	var outcome Outcome
	if attemptErr == nil {
		outcome = e.record(log, domain.JobStateCompleted, e.store.MarkCompleted(ctx, job.ID, ref, now))
		if outcome == OutcomeCompleted {
			log.Info().Str("state", string(domain.JobStateCompleted)).Str("result_reference", ref).Msg("lifecycle: job completed")
		}
	} else {
		span.RecordError(attemptErr)
		class := classify(attemptErr)
		decision := e.policy.Decide(job.RetryCount, job.MaxRetries, class, now)
		msg := attemptErr.Error()
		if decision.Retry {
			outcome = e.record(log, domain.JobStateRetrying, e.store.MarkRetry(ctx, job.ID, msg, decision.NextAttemptAt, now))
			if outcome == OutcomeRetrying {
				log.Warn().Err(attemptErr).
					Str("state", string(domain.JobStateRetrying)).
					Str("class", class.String()).
					Dur("delay", decision.Delay).
					Time("next_attempt_at", decision.NextAttemptAt).
					Msg("lifecycle: attempt failed, retry scheduled")
			}
		} else {
			outcome = e.record(log, domain.JobStateFailed, e.store.MarkFailed(ctx, job.ID, msg, now))
			if outcome == OutcomeFailed {
				log.Error().Err(attemptErr).
					Str("state", string(domain.JobStateFailed)).
					Str("class", class.String()).
					Msg("lifecycle: job failed")
			}
		}
	}

	if outcome == OutcomeCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(outcome))
	}
	span.SetAttributes(attribute.String("mediagen.job.outcome", string(outcome)))
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	e.attempts.Add(ctx, 1, attrs)
	e.duration.Record(ctx, now.Sub(start).Seconds(), attrs)
	return outcome
}

// record maps the store's answer to a transition onto an outcome.
func (e *Engine) record(log zerolog.Logger, to domain.JobState, err error) Outcome {
	switch {
	case err == nil:
		return Outcome(to)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
		log.Error().Err(err).Str("state", string(to)).Msg("lifecycle: transition rejected, job left untouched")
		return OutcomeConflict
	default:
		// The job stays in processing. Recovering jobs stranded there is
		// left to an operator.
		log.Error().Err(err).Str("state", string(to)).Msg("lifecycle: could not record outcome")
		return OutcomeStoreError
	}
}

// attempt calls the provider and stores the artifact under the attempt
// deadline.
func (e *Engine) attempt(ctx context.Context, job *domain.Job) (ref string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			ref, err = "", media.Retryable(fmt.Sprintf("provider panic: %v", r), nil)
		}
	}()
	defer func() {
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &timeoutError{after: e.cfg.AttemptTimeout, err: err}
		}
	}()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", media.Retryable("provider rate limit", err)
		}
	}
	artifact, err := e.provider.Generate(ctx, media.Request{
		JobID:      job.ID,
		Prompt:     job.Prompt,
		Parameters: job.Parameters,
	})
	if err != nil {
		return "", err
	}
	if artifact == nil || len(artifact.Data) == 0 {
		return "", media.Retryable("provider returned an empty artifact", nil)
	}
	key := storage.ArtifactKey(job.ID, artifact.MIME)
	ref, err = e.artifacts.Put(ctx, key, artifact.Data)
	if err != nil {
		return "", err
	}
	if ref == "" {
		return "", &storage.WriteError{Key: key, Err: errors.New("backend returned an empty reference")}
	}
	return ref, nil
}

type timeoutError struct {
	after time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %v", e.after, e.err)
}

func (e *timeoutError) Unwrap() error { return e.err }

// classify decides whether a failed attempt may be retried. Only a provider
// can declare a failure permanent.
func classify(err error) retry.Classification {
	var te *timeoutError
	if errors.As(err, &te) {
		return retry.Retryable
	}
	var we *storage.WriteError
	if errors.As(err, &we) {
		return retry.Retryable
	}
	return media.Classify(err)
}

// Package jobs accepts generation requests and answers status queries.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// MaxPromptRunes bounds the accepted prompt length after normalisation.
const MaxPromptRunes = 2000

var (
	ErrInvalidPrompt     = errors.New("invalid prompt")
	ErrInvalidParameters = errors.New("invalid parameters")
)

// Service is the submission and query façade in front of a JobStore.
type Service struct {
	store      domain.JobStore
	maxRetries int
	logger     infra.Logger
}

// NewService returns a Service creating jobs with the given retry ceiling.
func NewService(store domain.JobStore, maxRetries int, logger infra.Logger) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{store: store, maxRetries: maxRetries, logger: logger}
}

// Submit validates the request and persists a pending job. It does not wait
// for generation.
func (s *Service) Submit(ctx context.Context, prompt string, params map[string]any) (*domain.Job, error) {
	clean, err := NormalizePrompt(prompt)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = map[string]any{}
	}
	if _, err := json.Marshal(params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}

	job, err := s.store.Create(ctx, clean, params, s.maxRetries)
	if err != nil {
		s.logger.Error().Err(err).Msg("jobs: create failed")
		return nil, err
	}
	s.logger.Info().Str("job_id", job.ID).Str("state", string(job.State)).Msg("jobs: submitted")
	return job, nil
}

// Get returns the job with the given id. Ids that are not UUIDs are reported
// as not found without touching the store.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// Ping reports whether the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// NormalizePrompt trims surrounding space and applies NFC so visually equal
// prompts are stored identically.
func NormalizePrompt(prompt string) (string, error) {
	if !utf8.ValidString(prompt) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidPrompt)
	}
	clean := norm.NFC.String(strings.TrimSpace(prompt))
	if clean == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidPrompt)
	}
	if n := utf8.RuneCountInString(clean); n > MaxPromptRunes {
		return "", fmt.Errorf("%w: %d characters exceeds the limit of %d", ErrInvalidPrompt, n, MaxPromptRunes)
	}
	return clean, nil
}

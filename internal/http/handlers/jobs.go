package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/jobs"
)

const maxRequestBody = 1 << 20

// GenerateRequest is the body of POST /api/v1/generate.
type GenerateRequest struct {
	Prompt     string         `json:"prompt"`
	Parameters map[string]any `json:"parameters"`
}

// GenerateResponse acknowledges an accepted job.
type GenerateResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse is the client-facing view of a job.
type StatusResponse struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	ResultURL    *string   `json:"result_url"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	RetryCount   int       `json:"retry_count"`
}

// JobResponse adds the full job record to StatusResponse.
type JobResponse struct {
	StatusResponse
	Prompt          string         `json:"prompt"`
	Parameters      map[string]any `json:"parameters"`
	MaxRetries      int            `json:"max_retries"`
	ResultReference *string        `json:"result_reference"`
	NextAttemptAt   *time.Time     `json:"next_attempt_at"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
}

// Generate validates and enqueues a generation request.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		msg := "request body must be a JSON object"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		a.error(w, r, http.StatusBadRequest, "invalid_request", msg)
		return
	}

	job, err := a.Jobs.Submit(r.Context(), req.Prompt, req.Parameters)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrInvalidPrompt), errors.Is(err, jobs.ErrInvalidParameters):
		a.error(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	case errors.Is(err, domain.ErrPersistence):
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "job store unavailable, try again later")
		return
	default:
		a.Logger.Error().Err(err).Msg("generate: submit failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to create job")
		return
	}

	a.json(w, http.StatusAccepted, GenerateResponse{
		JobID:   job.ID,
		Status:  string(job.State),
		Message: "Job created successfully and queued for processing",
	})
}

// Status returns the status view of one job.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, a.statusView(job))
}

// Job returns the full job record.
func (a *App) Job(w http.ResponseWriter, r *http.Request) {
	job, ok := a.lookup(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, JobResponse{
		StatusResponse:  a.statusView(job),
		Prompt:          job.Prompt,
		Parameters:      job.Parameters,
		MaxRetries:      job.MaxRetries,
		ResultReference: optional(job.ResultReference),
		NextAttemptAt:   job.NextAttemptAt,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
	})
}

func (a *App) lookup(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	id := chi.URLParam(r, "id")
	job, err := a.Jobs.Get(r.Context(), id)
	switch {
	case err == nil:
		return job, true
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrPersistence):
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "job store unavailable, try again later")
	default:
		a.Logger.Error().Err(err).Str("job_id", id).Msg("status: lookup failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "failed to load job")
	}
	return nil, false
}

func (a *App) statusView(job *domain.Job) StatusResponse {
	view := StatusResponse{
		JobID:        job.ID,
		Status:       string(job.State),
		ErrorMessage: optional(job.LastError),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		RetryCount:   job.RetryCount,
	}
	if job.State == domain.JobStateCompleted && job.ResultReference != "" {
		url := a.Artifacts.PublicURL(job.ResultReference)
		view.ResultURL = &url
	}
	return view
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

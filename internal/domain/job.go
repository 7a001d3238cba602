package domain

import "time"

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateRetrying   JobState = "retrying"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateRetrying, JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are permitted out of s.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job encapsulates the lifecycle of a single media generation request.
type Job struct {
	ID              string
	State           JobState
	Prompt          string
	Parameters      map[string]any
	RetryCount      int
	MaxRetries      int
	ResultReference string
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	NextAttemptAt   *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Due reports whether the job may be claimed at now.
func (j *Job) Due(now time.Time) bool {
	switch j.State {
	case JobStatePending:
		return true
	case JobStateRetrying:
		return j.NextAttemptAt == nil || !j.NextAttemptAt.After(now)
	default:
		return false
	}
}

// EligibleAt returns the earliest instant the job becomes claimable. Pending
// jobs are eligible from creation.
func (j *Job) EligibleAt() time.Time {
	if j.State == JobStateRetrying && j.NextAttemptAt != nil {
		return *j.NextAttemptAt
	}
	return j.CreatedAt
}

// Clone returns a deep copy so callers can mutate the result without
// aliasing a store's internal record.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Parameters = cloneParameters(j.Parameters)
	cp.NextAttemptAt = cloneTime(j.NextAttemptAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneParameters(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneParameters(nested)
			continue
		}
		out[k] = v
	}
	return out
}

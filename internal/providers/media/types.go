// Package media defines the generation provider contract the lifecycle
// engine drives, and the providers that implement it.
package media

import (
	"context"
	"errors"
	"fmt"

	"mediagen/internal/retry"
)

// Request is one generation attempt.
type Request struct {
	JobID      string
	Prompt     string
	Parameters map[string]any
}

// Artifact is the produced media.
type Artifact struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
	// Source is the provider-side location, when there is one.
	Source string
}

// Generator produces an artifact for a request. Failures should be
// *ProviderError so the engine can tell transient from permanent ones.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
}

// ProviderError is a classified provider failure.
type ProviderError struct {
	Class   retry.Classification
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "provider error"
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable builds a transient provider failure.
func Retryable(message string, err error) *ProviderError {
	return &ProviderError{Class: retry.Retryable, Message: message, Err: err}
}

// NonRetryable builds a permanent provider failure.
func NonRetryable(message string, err error) *ProviderError {
	return &ProviderError{Class: retry.NonRetryable, Message: message, Err: err}
}

// Classify returns the classification carried by err. Anything that is not a
// *ProviderError is treated as transient.
func Classify(err error) retry.Classification {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return retry.Retryable
}

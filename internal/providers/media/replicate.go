package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediagen/internal/providers/replicate"
)

var _ Generator = (*ReplicateGenerator)(nil)

// PredictionClient is the part of the Replicate client the generator uses.
type PredictionClient interface {
	CreatePrediction(ctx context.Context, input map[string]any) (*replicate.Prediction, error)
	GetPrediction(ctx context.Context, id string) (*replicate.Prediction, error)
	Download(ctx context.Context, rawURL string) ([]byte, string, error)
}

// ReplicateOptions tunes polling.
type ReplicateOptions struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	// Sleep waits between polls; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// ReplicateGenerator creates a prediction, polls it to completion and
// downloads the first output.
type ReplicateGenerator struct {
	client PredictionClient
	opts   ReplicateOptions
}

// NewReplicateGenerator wraps client. Polling defaults to every 5s for at
// most 300s.
func NewReplicateGenerator(client PredictionClient, opts ReplicateOptions) *ReplicateGenerator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 300 * time.Second
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReplicateGenerator{client: client, opts: opts}
}

// Generate runs one prediction end to end.
func (g *ReplicateGenerator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	pred, err := g.client.CreatePrediction(ctx, BuildInput(req.Prompt, req.Parameters))
	if err != nil {
		return nil, classifyTransport("create prediction", err)
	}

	deadline := g.opts.Now().Add(g.opts.MaxWait)
	for !pred.Terminal() {
		if !g.opts.Now().Before(deadline) {
			return nil, Retryable(fmt.Sprintf("prediction %s not finished after %s", pred.ID, g.opts.MaxWait), nil)
		}
		if err := g.opts.Sleep(ctx, g.opts.PollInterval); err != nil {
			return nil, Retryable("poll prediction", err)
		}
		next, err := g.client.GetPrediction(ctx, pred.ID)
		if err != nil {
			return nil, classifyTransport("poll prediction", err)
		}
		pred = next
	}

	switch pred.Status {
	case replicate.StatusFailed:
		msg := pred.ErrorMessage()
		if msg == "" {
			msg = "prediction failed"
		}
		return nil, NonRetryable(msg, nil)
	case replicate.StatusCanceled:
		return nil, Retryable(fmt.Sprintf("prediction %s was canceled", pred.ID), nil)
	}

	urls := pred.OutputURLs()
	if len(urls) == 0 {
		return nil, NonRetryable(fmt.Sprintf("prediction %s succeeded without output", pred.ID), nil)
	}
	data, contentType, err := g.client.Download(ctx, urls[0])
	if err != nil {
		return nil, classifyTransport("download output", err)
	}
	art := &Artifact{Data: data, MIME: contentType, Source: urls[0]}
	art.Width, _ = intParam(req.Parameters, "width")
	art.Height, _ = intParam(req.Parameters, "height")
	if w, h, ok := filterSize(req.Parameters); ok {
		art.Width, art.Height = w, h
	}
	return art, nil
}

// BuildInput assembles the prediction input. A filters.size entry expands
// into width and height: "768" or 768 for a square, "1024x768" otherwise.
func BuildInput(prompt string, params map[string]any) map[string]any {
	input := make(map[string]any, len(params)+3)
	for k, v := range params {
		input[k] = v
	}
	if w, h, ok := filterSize(params); ok {
		input["width"] = w
		input["height"] = h
	}
	input["prompt"] = prompt
	return input
}

func filterSize(params map[string]any) (int, int, bool) {
	filters, ok := params["filters"].(map[string]any)
	if !ok {
		return 0, 0, false
	}
	switch v := filters["size"].(type) {
	case float64:
		if v > 0 {
			return int(v), int(v), true
		}
	case int:
		if v > 0 {
			return v, v, true
		}
	case string:
		v = strings.ToLower(strings.TrimSpace(v))
		if w, h, found := strings.Cut(v, "x"); found {
			wi, err1 := strconv.Atoi(strings.TrimSpace(w))
			hi, err2 := strconv.Atoi(strings.TrimSpace(h))
			if err1 == nil && err2 == nil && wi > 0 && hi > 0 {
				return wi, hi, true
			}
			return 0, 0, false
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n, n, true
		}
	}
	return 0, 0, false
}

func intParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// classifyTransport treats 408, 429 and 5xx as transient along with any
// failure below HTTP. Other 4xx responses are permanent.
func classifyTransport(op string, err error) *ProviderError {
	var se *replicate.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusTooManyRequests,
			se.StatusCode == http.StatusRequestTimeout,
			se.StatusCode >= 500:
			return Retryable(op, err)
		default:
			return NonRetryable(op, err)
		}
	}
	if errors.Is(err, replicate.ErrMissingAPIToken) {
		return NonRetryable(op, err)
	}
	return Retryable(op, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

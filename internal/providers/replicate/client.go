package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("replicate: api token is required")

// DefaultVersion is the SDXL model version used when none is configured.
const DefaultVersion = "39ed52f2a78e934b3ba6e2a89f5b1c712de7dfea535525255b1aa35c5565e08b"

// Prediction statuses reported by the API.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Options configures the Replicate predictions client.
type Options struct {
	APIToken       string
	BaseURL        string
	Version        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Replicate predictions API.
type Client struct {
	apiToken   string
	baseURL    string
	version    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Prediction is the subset of the prediction resource the worker reads.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Terminal reports whether the prediction will not change status again.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// OutputURLs returns the output URLs whether the model produced a single
// string or a list.
func (p *Prediction) OutputURLs() []string {
	if len(p.Output) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(p.Output, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(p.Output, &list); err != nil {
		return nil
	}
	out := list[:0]
	for _, u := range list {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// ErrorMessage renders the prediction error, which the API returns as a
// string or an object.
func (p *Prediction) ErrorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return s
	}
	return string(p.Error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("replicate: status %d: %s", e.StatusCode, e.Body)
}

type createRequest struct {
	Version string         `json:"version"`
	Input   map[string]any `json:"input"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = DefaultVersion
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Client{
		apiToken:   strings.TrimSpace(opts.APIToken),
		baseURL:    baseURL,
		version:    version,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Version returns the configured model version.
func (c *Client) Version() string {
	return c.version
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// CreatePrediction starts a prediction for input.
func (c *Client) CreatePrediction(ctx context.Context, input map[string]any) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	body, err := json.Marshal(createRequest{Version: c.version, Input: input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var pred Prediction
	if err := c.do(req, &pred); err != nil {
		return nil, err
	}
	c.logger.Debug().Str("prediction_id", pred.ID).Str("status", pred.Status).Msg("replicate: prediction created")
	return &pred, nil
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	var pred Prediction
	if err := c.do(req, &pred); err != nil {
		return nil, err
	}
	return &pred, nil
}

// Download fetches an output file and returns its bytes and content type.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("replicate: invalid output url: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: download output: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read output: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("replicate: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			msg = detail.Detail
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("replicate: decode response: %w", err)
	}
	return nil
}

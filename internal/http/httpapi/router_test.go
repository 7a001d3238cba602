package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/http/handlers"
	"mediagen/internal/jobs"
	"mediagen/internal/jobstore/memory"
	"mediagen/internal/storage"
)

type testServer struct {
	handler http.Handler
	store   *memory.Store
	files   *storage.FileStore
}

func newTestServer(t *testing.T, store domain.JobStore, limit int) *testServer {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	mem, _ := store.(*memory.Store)
	svc := jobs.NewService(store, 3, zerolog.New(io.Discard))
	app := handlers.NewApp(svc, files, "mock", zerolog.New(io.Discard))
	return &testServer{
		handler: NewRouter(app, Options{CORSOrigins: []string{"*"}, RateLimitPerMin: limit, ServeMedia: true}),
		store:   mem,
		files:   files,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestGenerateAndStatus(t *testing.T) {
	s := newTestServer(t, memory.New(), 0)

	rec := s.do(t, http.MethodPost, "/api/v1/generate", `{"prompt":"a red kite","parameters":{"filters":{"size":"512"}}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created handlers.GenerateResponse
	decode(t, rec, &created)
	if created.JobID == "" || created.Status != "pending" {
		t.Fatalf("unexpected response: %#v", created)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}

	rec = s.do(t, http.MethodGet, "/api/v1/status/"+created.JobID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status lookup = %d", rec.Code)
	}
	var view map[string]any
	decode(t, rec, &view)
	if view["job_id"] != created.JobID || view["status"] != "pending" || view["retry_count"] != float64(0) {
		t.Fatalf("status view = %v", view)
	}
	if view["result_url"] != nil || view["error_message"] != nil {
		t.Fatalf("pending job should have null result and error: %v", view)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/jobs/"+created.JobID, "")
	var full map[string]any
	decode(t, rec, &full)
	if full["prompt"] != "a red kite" || full["max_retries"] != float64(3) {
		t.Fatalf("job view = %v", full)
	}
	params, _ := full["parameters"].(map[string]any)
	if _, ok := params["filters"]; !ok {
		t.Fatalf("parameters lost: %v", full["parameters"])
	}
}

func TestCompletedJobExposesMedia(t *testing.T) {
	s := newTestServer(t, memory.New(), 0)
	ctx := context.Background()
	job, err := s.store.Create(ctx, "p", map[string]any{}, 3)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, err := s.store.ClaimDue(ctx, job.CreatedAt)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	ref, err := s.files.Put(ctx, storage.ArtifactKey(job.ID, "image/png"), []byte("\x89PNG\r\n\x1a\nfake"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.store.MarkCompleted(ctx, job.ID, ref, job.CreatedAt); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/status/"+job.ID, "")
	var view map[string]any
	decode(t, rec, &view)
	if view["status"] != "completed" || view["result_url"] != "/media/"+job.ID+".png" {
		t.Fatalf("status view = %v", view)
	}

	rec = s.do(t, http.MethodGet, "/media/"+job.ID+".png", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("media: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("media body mismatch")
	}
	if rec := s.do(t, http.MethodGet, "/media/missing.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing media: %d", rec.Code)
	}
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "not json", body: "prompt=x"},
		{name: "blank prompt", body: `{"prompt":"   "}`},
		{name: "prompt too long", body: `{"prompt":"` + strings.Repeat("x", jobs.MaxPromptRunes+1) + `"}`},
		{name: "parameters not an object", body: `{"prompt":"x","parameters":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, memory.New(), 0)
			rec := s.do(t, http.MethodPost, "/api/v1/generate", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
			}
			var body map[string]any
			decode(t, rec, &body)
			if body["error"] != "invalid_request" || body["request_id"] == "" {
				t.Fatalf("error body = %v", body)
			}
		})
	}
}

func TestUnknownJobIs404(t *testing.T) {
	s := newTestServer(t, memory.New(), 0)
	for _, path := range []string{
		"/api/v1/status/not-a-uuid",
		"/api/v1/status/6f1c1c1e-0000-4000-8000-000000000000",
		"/api/v1/jobs/6f1c1c1e-0000-4000-8000-000000000000",
	} {
		if rec := s.do(t, http.MethodGet, path, ""); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

type downStore struct {
	*memory.Store
}

var errDown = domain.NewPersistenceError("ping", errors.New("connection refused"))

func (downStore) Create(context.Context, string, map[string]any, int) (*domain.Job, error) {
	return nil, domain.NewPersistenceError("create", errors.New("connection refused"))
}

func (downStore) Ping(context.Context) error { return errDown }

func TestStoreOutageMapsTo503(t *testing.T) {
	s := newTestServer(t, downStore{memory.New()}, 0)

	rec := s.do(t, http.MethodPost, "/api/v1/generate", `{"prompt":"x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("generate during outage: %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health during outage: %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "unhealthy" {
		t.Fatalf("health body = %v", body)
	}
}

func TestHealthy(t *testing.T) {
	s := newTestServer(t, memory.New(), 0)
	rec := s.do(t, http.MethodGet, "/api/v1/health", "")
	var body map[string]string
	decode(t, rec, &body)
	if rec.Code != http.StatusOK || body["status"] != "healthy" || body["provider"] != "mock" {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
}

func TestGenerateIsRateLimited(t *testing.T) {
	s := newTestServer(t, memory.New(), 2)
	for i := 0; i < 2; i++ {
		if rec := s.do(t, http.MethodPost, "/api/v1/generate", `{"prompt":"x"}`); rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/generate", `{"prompt":"x"}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health should not be rate limited: %d", rec.Code)
	}
}

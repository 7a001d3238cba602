package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		keepsOwn bool
	}{
		{name: "propagates caller id", header: "trace-abc-123", keepsOwn: true},
		{name: "mints when missing", header: ""},
		{name: "replaces oversized", header: strings.Repeat("a", maxRequestIDLen+1)},
		{name: "replaces non printable", header: "bad id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get("X-Request-ID") != seen {
				t.Fatalf("response header %q != context id %q", rec.Header().Get("X-Request-ID"), seen)
			}
			if tt.keepsOwn {
				if seen != tt.header {
					t.Fatalf("id = %q, want %q", seen, tt.header)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("minted id %q is not a uuid", seen)
			}
		})
	}
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("queued"))
	})))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate", nil)
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two log lines, got %q", buf.String())
	}
	var inner, access map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &inner); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &access); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inner["request_id"] != "req-1" {
		t.Fatalf("handler logger missing request id: %v", inner)
	}
	if access["status"] != float64(http.StatusAccepted) || access["bytes"] != float64(6) || access["path"] != "/api/v1/generate" {
		t.Fatalf("unexpected access line: %v", access)
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	h := CORS([]string{"https://app.example"})(next)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/generate", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("preflight: %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin allowed")
	}

	h = CORS([]string{"*"})(next)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" || rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("wildcard headers: %v", rec.Header())
	}
}

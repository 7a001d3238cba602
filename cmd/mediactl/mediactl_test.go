package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mediagen/internal/app"
	"mediagen/internal/infra"
	"mediagen/internal/jobs"
	"mediagen/internal/jobstore/memory"
	"mediagen/internal/providers/media"
	"mediagen/internal/storage"
)

func testComponents(t *testing.T) *app.Components {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store := memory.New()
	logger := zerolog.New(io.Discard)
	return &app.Components{
		Config: &infra.Config{
			MaxRetries:        3,
			RetryDelay:        time.Second,
			BackoffMultiplier: 2,
			WorkerConcurrency: 2,
			PollInterval:      time.Second,
			AttemptTimeout:    time.Minute,
		},
		Store:        store,
		Artifacts:    files,
		Provider:     media.NewMock(),
		ProviderName: app.ProviderMock,
		Jobs:         jobs.NewService(store, 3, logger),
		Logger:       logger,
	}
}

func run(t *testing.T, c *app.Components, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(func(context.Context) (*app.Components, error) { return c, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSubmitWorkerStatus(t *testing.T) {
	c := testComponents(t)

	out, err := run(t, c, "submit", "a glass whale", "--params", `{"width":256}`)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var submitted map[string]any
	if err := json.Unmarshal([]byte(out), &submitted); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	id, _ := submitted["job_id"].(string)
	if id == "" || submitted["status"] != "pending" {
		t.Fatalf("submit output = %v", submitted)
	}

	out, err = run(t, c, "worker", "--once")
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	if !strings.Contains(out, "processed 1 job(s)") {
		t.Fatalf("worker output = %q", out)
	}

	out, err = run(t, c, "status", id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if status["status"] != "completed" || status["result_url"] != "/media/"+id+".png" {
		t.Fatalf("status output = %v", status)
	}
}

func TestSubmitValidation(t *testing.T) {
	c := testComponents(t)
	if _, err := run(t, c, "submit", "   "); err == nil {
		t.Fatalf("blank prompt accepted")
	}
	if _, err := run(t, c, "submit", "ok", "--params", "[1]"); err == nil {
		t.Fatalf("non-object params accepted")
	}
	if _, err := run(t, c, "status", "not-a-uuid"); err == nil {
		t.Fatalf("unknown job reported as found")
	}
}

func TestSubmitWaitTimesOutWithoutWorker(t *testing.T) {
	c := testComponents(t)
	_, err := run(t, c, "submit", "p", "--wait", "--wait-timeout", "50ms", "--poll", "10ms")
	if err == nil || !strings.Contains(err.Error(), "still pending") {
		t.Fatalf("expected wait timeout, got %v", err)
	}
}

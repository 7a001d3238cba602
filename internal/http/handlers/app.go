// Package handlers implements the HTTP endpoints of the generation service.
package handlers

import (
	"encoding/json"
	"net/http"

	"mediagen/internal/infra"
	"mediagen/internal/jobs"
	"mediagen/internal/middleware"
	"mediagen/internal/storage"
)

// App carries the dependencies shared by all handlers.
type App struct {
	Jobs      *jobs.Service
	Artifacts storage.Backend
	Logger    infra.Logger
	// Provider names the generation backend reported by the health check.
	Provider string
}

func NewApp(svc *jobs.Service, artifacts storage.Backend, provider string, logger infra.Logger) *App {
	return &App{Jobs: svc, Artifacts: artifacts, Provider: provider, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *App) error(w http.ResponseWriter, r *http.Request, code int, kind, message string) {
	a.json(w, code, errorBody{
		Error:     kind,
		Message:   message,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagen/internal/http/handlers"
	"mediagen/internal/middleware"
)

// Options configures the router's middleware.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int
	// ServeMedia mounts GET /media/* for locally stored artifacts.
	ServeMedia bool
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(app.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", app.Health)
		r.With(middleware.RateLimit(opts.RateLimitPerMin, time.Minute)).Post("/generate", app.Generate)
		r.Get("/status/{id}", app.Status)
		r.Get("/jobs/{id}", app.Job)
	})

	if opts.ServeMedia {
		r.Get("/media/*", app.Media)
	}

	return r
}

package infra

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs the service logger writing to stdout, tagged with the
// running component (api, worker, mediactl).
func NewLogger(appEnv, component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, appEnv, component)
}

// NewLoggerTo is NewLogger with an explicit destination.
func NewLoggerTo(w io.Writer, appEnv, component string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}
	if appEnv == "development" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(w).
		Level(level).
		With().
		Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return ctx.Logger()
}

// Logger aliases the zerolog.Logger so callers outside the infra package can
// depend on the logging contract without importing the third-party module
// directly.
type Logger = zerolog.Logger

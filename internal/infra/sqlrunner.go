package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract required by repositories for executing SQL
// queries. *pgxpool.Pool satisfies it.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// ErrMissingMarker is returned for queries without a valid "--sql <uuid>" first line.
var ErrMissingMarker = errors.New("sql marker missing or invalid")

// SQLRunner strips and logs the marker line of every query before handing it
// to the underlying executor.
// Statements slower than the threshold are logged at warn level.
type SQLRunner struct {
	exec   SQLExecutor
	logger zerolog.Logger
	slow   time.Duration
}

// DefaultSlowQuery is the slow statement threshold of a new runner.
const DefaultSlowQuery = 250 * time.Millisecond

func NewSQLRunner(exec SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{exec: exec, logger: logger, slow: DefaultSlowQuery}
}

// WithSlowQuery returns a copy of r using threshold d; zero disables it.
func (r *SQLRunner) WithSlowQuery(d time.Duration) *SQLRunner {
	cp := *r
	cp.slow = d
	return &cp
}

func (r *SQLRunner) timed(marker, op string, start time.Time) {
	took := time.Since(start)
	ev := r.logger.Debug()
	if r.slow > 0 && took >= r.slow {
		ev = r.logger.Warn().Bool("slow", true)
	}
	ev.Str("sql", marker).Dur("took", took).Msg(op)
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.exec.Exec(ctx, trimmed, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("sql exec failed")
		return tag, err
	}
	r.timed(marker, "sql exec", start)
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.exec.QueryRow(ctx, trimmed, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.exec.Query(ctx, trimmed, args...)
	if err != nil {
		r.logger.Error().Err(err).Str("sql", marker).Msg("sql query failed")
		return nil, err
	}
	r.timed(marker, "sql query", start)
	return rows, nil
}

// loggingRow times a QueryRow through its Scan, where pgx actually runs it.
type loggingRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	// No rows is an answer, not a failure.
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		l.runner.logger.Error().Err(err).Str("sql", l.marker).Msg("sql scan failed")
		return err
	}
	l.runner.timed(l.marker, "sql query_row", l.start)
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	lines := strings.Split(trimmed, "\n")
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", ErrMissingMarker
	}
	return strings.TrimPrefix(markerLine, "--sql "), strings.Join(lines[1:], "\n"), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

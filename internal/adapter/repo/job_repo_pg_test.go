package repo

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobstore/storetest"
)

// openPostgresStore returns a repository isolated in a throwaway schema of
// the database named by DATABASE_URL. The schema is dropped on cleanup.
func openPostgresStore(t *testing.T, dsn string) domain.JobStore {
	t.Helper()
	ctx := context.Background()
	schema := "mediagen_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	admin, err := pgx.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := admin.Exec(ctx, "create schema "+pgx.Identifier{schema}.Sanitize()); err != nil {
		admin.Close(ctx)
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), "drop schema "+pgx.Identifier{schema}.Sanitize()+" cascade")
		admin.Close(context.Background())
	})

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	r := NewJobRepository(infra.NewSQLRunner(pool, zerolog.New(io.Discard)))
	if err := r.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return r
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres store contract")
	}
	storetest.Run(t, func(t *testing.T) domain.JobStore {
		return openPostgresStore(t, dsn)
	})
}

// Package app assembles the job store, artifact storage, generation provider
// and lifecycle engine selected by configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/jobs"
	"mediagen/internal/jobstore/memory"
	"mediagen/internal/jobstore/redisstore"
	"mediagen/internal/jobstore/sqlite"
	"mediagen/internal/lifecycle"
	"mediagen/internal/providers/media"
	"mediagen/internal/providers/replicate"
	"mediagen/internal/retry"
	"mediagen/internal/storage"
)

// Provider names reported by the health endpoint.
const (
	ProviderMock      = "mock"
	ProviderReplicate = "replicate"
)

// Components holds the wired dependencies of a process.
type Components struct {
	Config       *infra.Config
	Store        domain.JobStore
	Artifacts    storage.Backend
	Provider     media.Generator
	ProviderName string
	Jobs         *jobs.Service
	Logger       infra.Logger
}

// Build wires every component from cfg. The caller must Close the result.
func Build(ctx context.Context, cfg *infra.Config, logger infra.Logger) (*Components, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	artifacts, err := OpenStorage(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	provider, name, err := NewProvider(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info().
		Str("job_store", cfg.JobStore).
		Str("storage", cfg.StorageType).
		Str("provider", name).
		Msg("app: components ready")
	return &Components{
		Config:       cfg,
		Store:        store,
		Artifacts:    artifacts,
		Provider:     provider,
		ProviderName: name,
		Jobs:         jobs.NewService(store, cfg.MaxRetries, logger),
		Logger:       logger,
	}, nil
}

// Engine builds the lifecycle engine over the wired components.
func (c *Components) Engine(opts ...lifecycle.Option) (*lifecycle.Engine, error) {
	opts = append([]lifecycle.Option{lifecycle.WithLogger(c.Logger)}, opts...)
	return lifecycle.New(c.Store, c.Provider, c.Artifacts, RetryPolicy(c.Config), EngineConfig(c.Config), opts...)
}

// Close releases the job store.
func (c *Components) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// OpenStore opens the job store named by cfg.JobStore.
func OpenStore(ctx context.Context, cfg *infra.Config, logger infra.Logger) (domain.JobStore, error) {
	switch cfg.JobStore {
	case infra.JobStoreMemory:
		logger.Warn().Msg("app: in-memory job store, jobs are lost on exit and not shared between processes")
		return memory.New(), nil
	case infra.JobStorePostgres:
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		if err := r.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return &pgStore{JobRepositoryPG: r, pool: pool}, nil
	case infra.JobStoreSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite directory: %w", err)
			}
		}
		s, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.SQLiteBusyTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case infra.JobStoreRedis:
		s, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisDB, redisstore.WithPrefix(cfg.RedisPrefix))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.JobStore)
	}
}

// pgStore closes the pool along with the repository.
type pgStore struct {
	*repo.JobRepositoryPG
	pool *pgxpool.Pool
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// OpenStorage builds the artifact backend named by cfg.StorageType.
func OpenStorage(ctx context.Context, cfg *infra.Config) (storage.Backend, error) {
	switch cfg.StorageType {
	case infra.StorageLocal:
		fs, err := storage.NewFileStore(cfg.LocalStoragePath, cfg.MediaURLBase)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case infra.StorageS3:
		client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		s3, err := storage.NewS3Store(client, storage.S3Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.AWSRegion,
			Endpoint:     cfg.S3Endpoint,
			VerifyWrites: cfg.S3VerifyWrites,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

// NewProvider returns the Replicate generator when a token is configured and
// the deterministic mock otherwise.
func NewProvider(cfg *infra.Config, logger infra.Logger) (media.Generator, string, error) {
	if cfg.UseMockProvider() {
		logger.Warn().Msg("app: REPLICATE_API_TOKEN not configured, using the mock provider")
		return media.NewMock(), ProviderMock, nil
	}
	client, err := replicate.NewClient(replicate.Options{
		APIToken: cfg.ReplicateAPIToken,
		BaseURL:  cfg.ReplicateBaseURL,
		Version:  cfg.ReplicateModelVersion,
		Logger:   &logger,
	})
	if err != nil {
		return nil, "", err
	}
	if !client.HasCredentials() {
		return nil, "", errors.New("replicate client has no credentials")
	}
	return media.NewReplicateGenerator(client, media.ReplicateOptions{}), ProviderReplicate, nil
}

// RetryPolicy maps configuration onto the backoff policy.
func RetryPolicy(cfg *infra.Config) retry.Policy {
	p := retry.Policy{
		BaseDelay:  cfg.RetryDelay,
		Multiplier: cfg.BackoffMultiplier,
		MaxDelay:   cfg.RetryMaxDelay,
	}
	if cfg.RetryJitter > 0 {
		p.Jitter = retry.NewProportionalJitter(cfg.RetryJitter, rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return p
}

// EngineConfig maps configuration onto the engine settings.
func EngineConfig(cfg *infra.Config) lifecycle.Config {
	return lifecycle.Config{
		Concurrency:    cfg.WorkerConcurrency,
		PollInterval:   cfg.PollInterval,
		AttemptTimeout: cfg.AttemptTimeout,
		ProviderRate:   cfg.ProviderRatePerSecond,
		ProviderBurst:  cfg.ProviderBurst,
	}
}

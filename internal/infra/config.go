package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Job store backends.
const (
	JobStoreMemory   = "memory"
	JobStorePostgres = "postgres"
	JobStoreSQLite   = "sqlite"
	JobStoreRedis    = "redis"
)

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// placeholderTokens are values shipped in sample env files; they count as unset.
var placeholderTokens = map[string]struct{}{
	"your_replicate_api_token_here":        {},
	"your_actual_replicate_api_token_here": {},
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	JobStore          string
	DatabaseURL       string
	SQLitePath        string
	SQLiteBusyTimeout time.Duration
	RedisAddr         string
	RedisDB           int
	RedisPrefix       string

	StorageType        string
	LocalStoragePath   string
	MediaURLBase       string
	S3Bucket           string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Endpoint         string
	S3VerifyWrites     bool

	ReplicateAPIToken     string
	ReplicateBaseURL      string
	ReplicateModelVersion string

	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	RetryMaxDelay     time.Duration
	RetryJitter       float64

	WorkerConcurrency     int
	PollInterval          time.Duration
	AttemptTimeout        time.Duration
	ProviderRatePerSecond float64
	ProviderBurst         int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv: getEnv("APP_ENV", "development"),
		Port:   getEnv("PORT", "8000"),

		JobStore:          strings.ToLower(getEnv("JOB_STORE", JobStoreSQLite)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getEnv("SQLITE_PATH", "./storage/mediagen.db"),
		SQLiteBusyTimeout: time.Millisecond * time.Duration(getEnvInt("SQLITE_BUSY_TIMEOUT_MS", 5000)),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisPrefix:       getEnv("REDIS_PREFIX", "mediagen"),

		StorageType:        strings.ToLower(getEnv("STORAGE_TYPE", StorageLocal)),
		LocalStoragePath:   getEnv("LOCAL_STORAGE_PATH", "./storage/media"),
		MediaURLBase:       getEnv("MEDIA_URL_BASE", "/media"),
		S3Bucket:           getEnv("S3_BUCKET_NAME", "media-generation-bucket"),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3Endpoint:         os.Getenv("S3_ENDPOINT"),
		S3VerifyWrites:     getEnvBool("S3_VERIFY_WRITES", false),

		ReplicateAPIToken:     replicateToken(os.Getenv("REPLICATE_API_TOKEN")),
		ReplicateBaseURL:      getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModelVersion: os.Getenv("REPLICATE_MODEL_VERSION"),

		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryDelay:        time.Second * time.Duration(getEnvInt("RETRY_DELAY_SECONDS", 60)),
		BackoffMultiplier: getEnvFloat("EXPONENTIAL_BACKOFF_BASE", 2),
		RetryMaxDelay:     time.Second * time.Duration(getEnvInt("RETRY_MAX_DELAY_SECONDS", 0)),
		RetryJitter:       getEnvFloat("RETRY_JITTER_FRACTION", 0),

		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 4),
		PollInterval:          time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 1)),
		AttemptTimeout:        time.Second * time.Duration(getEnvInt("ATTEMPT_TIMEOUT_SECONDS", 300)),
		ProviderRatePerSecond: getEnvFloat("PROVIDER_RATE_PER_SECOND", 0),
		ProviderBurst:         getEnvInt("PROVIDER_BURST", 1),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.JobStore {
	case JobStoreMemory, JobStoreSQLite, JobStoreRedis:
	case JobStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when JOB_STORE=postgres")
		}
	default:
		return fmt.Errorf("JOB_STORE must be one of memory, postgres, sqlite, redis; got %q", c.JobStore)
	}

	switch c.StorageType {
	case StorageLocal:
		if c.LocalStoragePath == "" {
			return fmt.Errorf("LOCAL_STORAGE_PATH is required when STORAGE_TYPE=local")
		}
	case StorageS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET_NAME is required when STORAGE_TYPE=s3")
		}
	default:
		return fmt.Errorf("STORAGE_TYPE must be local or s3; got %q", c.StorageType)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if c.RetryDelay < 0 || c.RetryMaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return fmt.Errorf("RETRY_JITTER_FRACTION must be between 0 and 1")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("EXPONENTIAL_BACKOFF_BASE must be at least 1")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.PollInterval <= 0 || c.AttemptTimeout <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS and ATTEMPT_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// UseMockProvider reports whether generation falls back to the synthetic provider.
func (c *Config) UseMockProvider() bool {
	return c.ReplicateAPIToken == ""
}

func replicateToken(v string) string {
	v = strings.TrimSpace(v)
	if _, ok := placeholderTokens[v]; ok {
		return ""
	}
	return v
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

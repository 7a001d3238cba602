package infra

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "PORT", "JOB_STORE", "DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR",
		"STORAGE_TYPE", "LOCAL_STORAGE_PATH", "S3_BUCKET_NAME", "REPLICATE_API_TOKEN",
		"MAX_RETRIES", "RETRY_DELAY_SECONDS", "EXPONENTIAL_BACKOFF_BASE",
		"WORKER_CONCURRENCY", "ATTEMPT_TIMEOUT_SECONDS", "CORS_ALLOWED_ORIGINS",
		"S3_VERIFY_WRITES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobStore != JobStoreSQLite || cfg.StorageType != StorageLocal {
		t.Fatalf("backends = %s/%s", cfg.JobStore, cfg.StorageType)
	}
	if cfg.MaxRetries != 3 || cfg.RetryDelay != 60*time.Second || cfg.BackoffMultiplier != 2 {
		t.Fatalf("retry defaults mismatch: %d %s %v", cfg.MaxRetries, cfg.RetryDelay, cfg.BackoffMultiplier)
	}
	if cfg.WorkerConcurrency != 4 || cfg.AttemptTimeout != 5*time.Minute {
		t.Fatalf("engine defaults mismatch: %d %s", cfg.WorkerConcurrency, cfg.AttemptTimeout)
	}
	if cfg.LocalStoragePath != "./storage/media" || cfg.Port != "8000" {
		t.Fatalf("unexpected defaults: %q %q", cfg.LocalStoragePath, cfg.Port)
	}
	if !cfg.UseMockProvider() {
		t.Fatalf("expected mock provider without a token")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("CORSOrigins = %#v", cfg.CORSOrigins)
	}
}

func TestLoadConfigPlaceholderTokenMeansMock(t *testing.T) {
	clearEnv(t)
	t.Setenv("REPLICATE_API_TOKEN", "your_replicate_api_token_here")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ReplicateAPIToken != "" || !cfg.UseMockProvider() {
		t.Fatalf("placeholder token should be ignored, got %q", cfg.ReplicateAPIToken)
	}

	t.Setenv("REPLICATE_API_TOKEN", "r8_real")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.UseMockProvider() {
		t.Fatalf("real token should select the replicate provider")
	}
}

func TestLoadConfigParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JOB_STORE", "Redis")
	t.Setenv("STORAGE_TYPE", "S3")
	t.Setenv("S3_BUCKET_NAME", "artifacts")
	t.Setenv("S3_VERIFY_WRITES", "true")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("EXPONENTIAL_BACKOFF_BASE", "1.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.JobStore != JobStoreRedis || cfg.StorageType != StorageS3 || !cfg.S3VerifyWrites {
		t.Fatalf("overrides not applied: %#v", cfg)
	}
	if cfg.MaxRetries != 5 || cfg.BackoffMultiplier != 1.5 {
		t.Fatalf("retry overrides mismatch: %d %v", cfg.MaxRetries, cfg.BackoffMultiplier)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.CORSOrigins) != len(want) {
		t.Fatalf("CORSOrigins = %#v", cfg.CORSOrigins)
	}
	for i := range want {
		if cfg.CORSOrigins[i] != want[i] {
			t.Fatalf("CORSOrigins[%d] = %q, want %q", i, cfg.CORSOrigins[i], want[i])
		}
	}
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"JOB_STORE": "postgres"}},
		{name: "unknown store", env: map[string]string{"JOB_STORE": "mongo"}},
		{name: "unknown storage", env: map[string]string{"STORAGE_TYPE": "ftp"}},
		{name: "negative retries", env: map[string]string{"MAX_RETRIES": "-1"}},
		{name: "shrinking backoff", env: map[string]string{"EXPONENTIAL_BACKOFF_BASE": "0.5"}},
		{name: "no workers", env: map[string]string{"WORKER_CONCURRENCY": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}

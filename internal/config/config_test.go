package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Shield the test from ambient environment.
	for _, key := range []string{
		"REDIS_URL", "POSTGRES_URL", "AI_PROVIDER", "WORKER_CONCURRENCY",
		"AI_REQUEST_TIMEOUT_SECONDS", "SAMPLE_INTERVAL_SECONDS", "MIN_FRAMES",
		"MAX_FRAMES", "SCENE_CHANGE_THRESHOLD", "DEDUP_DISTANCE_THRESHOLD",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.RedisURL != "redis://localhost:6379" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.Provider != "openai" {
		t.Fatalf("Provider = %q", cfg.Provider)
	}
	if cfg.WorkerConcurrency != 3 {
		t.Fatalf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.RequestTimeout != 120*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.SampleInterval != 4.0 || cfg.MinFrames != 10 || cfg.MaxFrames != 50 {
		t.Fatalf("sampling defaults wrong: %g/%d/%d", cfg.SampleInterval, cfg.MinFrames, cfg.MaxFrames)
	}
	if cfg.SceneThreshold != 20.0 || cfg.DedupThreshold != 20 {
		t.Fatalf("threshold defaults wrong: %g/%d", cfg.SceneThreshold, cfg.DedupThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://queue:6380/2")
	t.Setenv("AI_PROVIDER", "groq")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("SAMPLE_INTERVAL_SECONDS", "2.5")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("AI_REQUEST_TIMEOUT_SECONDS", "45")

	cfg := Load()
	if cfg.RedisURL != "redis://queue:6380/2" {
		t.Fatalf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.Provider != "groq" {
		t.Fatalf("Provider = %q", cfg.Provider)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Fatalf("WorkerConcurrency = %d", cfg.WorkerConcurrency)
	}
	if cfg.SampleInterval != 2.5 {
		t.Fatalf("SampleInterval = %g", cfg.SampleInterval)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("MinioUseSSL should be true")
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Fatalf("RequestTimeout = %v", cfg.RequestTimeout)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	t.Setenv("SAMPLE_INTERVAL_SECONDS", "fast")

	cfg := Load()
	if cfg.WorkerConcurrency != 3 {
		t.Fatalf("malformed int should keep default, got %d", cfg.WorkerConcurrency)
	}
	if cfg.SampleInterval != 4.0 {
		t.Fatalf("malformed float should keep default, got %g", cfg.SampleInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := Config{
		RedisURL:          "redis://localhost:6379",
		PostgresURL:       "postgresql://localhost/pipeline",
		Provider:          "openai",
		WorkerConcurrency: 3,
		SampleInterval:    4.0,
		MinFrames:         10,
		MaxFrames:         50,
		SceneThreshold:    20.0,
		DedupThreshold:    20,
		TranscriptWindow:  5.0,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{name: "empty redis", mutate: func(c *Config) { c.RedisURL = "" }, wantSub: "REDIS_URL"},
		{name: "empty postgres", mutate: func(c *Config) { c.PostgresURL = "" }, wantSub: "POSTGRES_URL"},
		{name: "empty provider", mutate: func(c *Config) { c.Provider = "" }, wantSub: "AI_PROVIDER"},
		{name: "zero concurrency", mutate: func(c *Config) { c.WorkerConcurrency = 0 }, wantSub: "WORKER_CONCURRENCY"},
		{name: "zero min frames", mutate: func(c *Config) { c.MinFrames = 0 }, wantSub: "MIN_FRAMES"},
		{name: "max below min", mutate: func(c *Config) { c.MaxFrames = 5 }, wantSub: "MAX_FRAMES"},
		{name: "zero interval", mutate: func(c *Config) { c.SampleInterval = 0 }, wantSub: "SAMPLE_INTERVAL"},
		{name: "scene threshold over 100", mutate: func(c *Config) { c.SceneThreshold = 101 }, wantSub: "SCENE_CHANGE_THRESHOLD"},
		{name: "dedup threshold over 256", mutate: func(c *Config) { c.DedupThreshold = 300 }, wantSub: "DEDUP_DISTANCE_THRESHOLD"},
		{name: "negative window", mutate: func(c *Config) { c.TranscriptWindow = -1 }, wantSub: "TRANSCRIPT_WINDOW"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %s", err, tc.wantSub)
			}
		})
	}
}

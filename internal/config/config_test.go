package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://localhost:5000/api/")
	t.Setenv("CACHE_PROVIDER", "")
	t.Setenv("IMAGE_PROVIDER", "")
	t.Setenv("REVIEW_MAX_LENGTH", "")
	t.Setenv("BACKEND_RETRY_MAX", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:5000/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.RetryMax != 0 {
		t.Fatalf("expected no retries by default, got %d", cfg.Backend.RetryMax)
	}
	if cfg.Reviews.MaxContentLength != 2000 {
		t.Fatalf("expected review limit 2000, got %d", cfg.Reviews.MaxContentLength)
	}
	if cfg.Cache.Provider != "file" || cfg.Images.Provider != "inline" {
		t.Fatalf("unexpected providers %q/%q", cfg.Cache.Provider, cfg.Images.Provider)
	}
	if cfg.Session.TTL != 7*24*time.Hour {
		t.Fatalf("unexpected session ttl %v", cfg.Session.TTL)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "mocks skip backend", mutate: func(c *Config) { c.Backend.BaseURL = ""; c.Mocks.Enable = true }},
		{name: "missing backend", mutate: func(c *Config) { c.Backend.BaseURL = "" }, wantErr: "BACKEND_URL"},
		{name: "bad cache", mutate: func(c *Config) { c.Cache.Provider = "redis" }, wantErr: "CACHE_PROVIDER"},
		{name: "bad images", mutate: func(c *Config) { c.Images.Provider = "ftp" }, wantErr: "IMAGE_PROVIDER"},
		{name: "bad limit", mutate: func(c *Config) { c.Reviews.MaxContentLength = 0 }, wantErr: "REVIEW_MAX_LENGTH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Backend: BackendConfig{BaseURL: "http://backend"},
				Cache:   CacheConfig{Provider: "memory"},
				Images:  ImagesConfig{Provider: "inline"},
				Reviews: ReviewsConfig{MaxContentLength: 2000},
				AI:      AIConfig{Provider: "openai"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetDurationOrDefaultIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	if got := getDurationOrDefault("SOME_DURATION", time.Second); got != time.Second {
		t.Fatalf("got %v want %v", got, time.Second)
	}
}

func TestSectionsFromEnvSkipValidation(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("ENABLE_MOCKS", "")
	t.Setenv("CACHE_PROVIDER", "sqlite")
	t.Setenv("CACHE_DSN", "sessions.db")
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("AI_MODEL", "")
	t.Setenv("SUPABASE_URL", "https://abc.supabase.co/")

	if c := CacheFromEnv(); c.Provider != "sqlite" || c.DSN != "sessions.db" {
		t.Fatalf("unexpected cache config %+v", c)
	}
	if ai := AIFromEnv(); ai.Provider != "openai" || ai.Model != "" {
		t.Fatalf("unexpected ai config %+v", ai)
	}
	if sb := SupabaseFromEnv(); sb.URL != "https://abc.supabase.co" {
		t.Fatalf("expected trailing slash trimmed, got %q", sb.URL)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to require BACKEND_URL")
	}
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Supabase  SupabaseConfig  `json:"supabase"`
	Session   SessionConfig   `json:"session"`
	Cache     CacheConfig     `json:"cache"`
	Images    ImagesConfig    `json:"images"`
	Map       MapConfig       `json:"map"`
	Reviews   ReviewsConfig   `json:"reviews"`
	AI        AIConfig        `json:"ai"`
	Analytics AnalyticsConfig `json:"analytics"`
	Mocks     MocksConfig     `json:"mocks"`
}

// BackendConfig points at the VeganAgain REST API.
type BackendConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	// RetryMax is zero unless an operator opts in; only idempotent reads are retried.
	RetryMax   int          `json:"retry_max"`
	HTTPClient *http.Client `json:"-"`
}

type SupabaseConfig struct {
	URL     string `json:"url"`
	AnonKey string `json:"-"`
}

type SessionConfig struct {
	// AgeIdentity is an "AGE-SECRET-KEY-1..." string. Empty means an ephemeral key per process.
	AgeIdentity  string        `json:"-"`
	TTL          time.Duration `json:"ttl"`
	SecureCookie bool          `json:"secure_cookie"`
}

type CacheConfig struct {
	Provider  string `json:"provider"` // file, memory, blob, sqlite, postgres
	Dir       string `json:"dir"`
	DSN       string `json:"-"`
	Container string `json:"container"`
}

type ImagesConfig struct {
	Provider       string `json:"provider"` // inline, backend, azure, s3
	MaxBytes       int64  `json:"max_bytes"`
	AzureAccount   string `json:"azure_account"`
	AzureKey       string `json:"-"`
	AzureContainer string `json:"azure_container"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3Prefix       string `json:"s3_prefix"`
	// S3PresignTTL > 0 returns presigned GET urls instead of public object urls.
	S3PresignTTL time.Duration `json:"s3_presign_ttl"`
}

type MapConfig struct {
	KakaoAppKey string `json:"kakao_app_key"`
}

type ReviewsConfig struct {
	MaxContentLength int `json:"max_content_length"`
}

type AIConfig struct {
	Provider string `json:"provider"` // "openai" or "gemini"
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type AnalyticsConfig struct {
	ClarityProjectID string `json:"clarity_project_id"`
	GoogleTagID      string `json:"google_tag_id"`
}

type MocksConfig struct {
	Enable bool `json:"enable"`
}

var (
	cacheProviders = []string{"file", "memory", "blob", "sqlite", "postgres"}
	imageProviders = []string{"inline", "backend", "azure", "s3"}
	aiProviders    = []string{"openai", "gemini"}
)

// LoadDotEnv reads .env into the environment when present.
func LoadDotEnv() {
	// a missing .env is the normal case in production.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
}

func Load() (*Config, error) {
	LoadDotEnv()

	config := &Config{
		Backend: BackendConfig{
			BaseURL:  strings.TrimRight(os.Getenv("BACKEND_URL"), "/"),
			Timeout:  getDurationOrDefault("BACKEND_TIMEOUT", 20*time.Second),
			RetryMax: getIntOrDefault("BACKEND_RETRY_MAX", 0),
		},
		Supabase: SupabaseFromEnv(),
		Session:  SessionFromEnv(),
		Cache:    CacheFromEnv(),
		Images: ImagesConfig{
			Provider:       getEnvOrDefault("IMAGE_PROVIDER", "inline"),
			MaxBytes:       int64(getIntOrDefault("IMAGE_MAX_BYTES", 5*1024*1024)),
			AzureAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT_NAME"),
			AzureKey:       os.Getenv("AZURE_STORAGE_PRIMARY_ACCOUNT_KEY"),
			AzureContainer: getEnvOrDefault("IMAGE_AZURE_CONTAINER", "review-images"),
			S3Bucket:       os.Getenv("IMAGE_S3_BUCKET"),
			S3Region:       getEnvOrDefault("IMAGE_S3_REGION", "ap-northeast-2"),
			S3Prefix:       getEnvOrDefault("IMAGE_S3_PREFIX", "reviews/"),
			S3PresignTTL:   getDurationOrDefault("IMAGE_S3_PRESIGN_TTL", 0),
		},
		Map: MapConfig{
			KakaoAppKey: os.Getenv("KAKAO_MAP_APP_KEY"),
		},
		Reviews: ReviewsConfig{
			MaxContentLength: getIntOrDefault("REVIEW_MAX_LENGTH", 2000),
		},
		AI: AIFromEnv(),
		Analytics: AnalyticsConfig{
			ClarityProjectID: os.Getenv("CLARITY_PROJECT_ID"),
			GoogleTagID:      os.Getenv("GOOGLE_TAG_ID"),
		},
		Mocks: MocksConfig{
			Enable: getEnvOrDefault("ENABLE_MOCKS", "false") == "true",
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// The *FromEnv helpers let the command line tools read only the sections they
// need, without the BACKEND_URL check in Validate.
func SessionFromEnv() SessionConfig {
	return SessionConfig{
		AgeIdentity:  os.Getenv("SESSION_AGE_IDENTITY"),
		TTL:          getDurationOrDefault("SESSION_TTL", 7*24*time.Hour),
		SecureCookie: getEnvOrDefault("SESSION_SECURE_COOKIE", "false") == "true",
	}
}

func CacheFromEnv() CacheConfig {
	return CacheConfig{
		Provider:  getEnvOrDefault("CACHE_PROVIDER", "file"),
		Dir:       getEnvOrDefault("CACHE_DIR", "cache"),
		DSN:       os.Getenv("CACHE_DSN"),
		Container: getEnvOrDefault("CACHE_CONTAINER", "sessions"),
	}
}

func SupabaseFromEnv() SupabaseConfig {
	return SupabaseConfig{
		URL:     strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		AnonKey: os.Getenv("SUPABASE_ANON_KEY"),
	}
}

func AIFromEnv() AIConfig {
	return AIConfig{
		Provider: getEnvOrDefault("AI_PROVIDER", "openai"),
		APIKey:   os.Getenv("AI_API_KEY"),
		Model:    os.Getenv("AI_MODEL"),
	}
}

// Validate reports configuration that would only fail later at request time.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend.BaseURL == "" && !c.Mocks.Enable {
		errs = append(errs, errors.New("BACKEND_URL is required unless ENABLE_MOCKS=true"))
	}
	if !oneOf(c.Cache.Provider, cacheProviders) {
		errs = append(errs, fmt.Errorf("unknown CACHE_PROVIDER %q", c.Cache.Provider))
	}
	if !oneOf(c.Images.Provider, imageProviders) {
		errs = append(errs, fmt.Errorf("unknown IMAGE_PROVIDER %q", c.Images.Provider))
	}
	if !oneOf(c.AI.Provider, aiProviders) {
		errs = append(errs, fmt.Errorf("unknown AI_PROVIDER %q", c.AI.Provider))
	}
	if c.Reviews.MaxContentLength <= 0 {
		errs = append(errs, errors.New("REVIEW_MAX_LENGTH must be positive"))
	}
	return errors.Join(errs...)
}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer env", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid duration env", "key", key, "value", value)
		return defaultValue
	}
	return d
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CopyForge server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Providers ProvidersConfig
	Jobs      JobsConfig
	Admission AdmissionConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ProvidersConfig configures the upstream AI vendors and the per-provider
// retry policy shared by all of them.
type ProvidersConfig struct {
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
	Gemini         GeminiConfig
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RequestTimeout time.Duration
}

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func (c OpenAIConfig) Enabled() bool { return c.APIKey != "" }

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func (c AnthropicConfig) Enabled() bool { return c.APIKey != "" }

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func (c GeminiConfig) Enabled() bool { return c.APIKey != "" }

// JobsConfig governs the attempt lifecycle of the async pipeline.
type JobsConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryBaseDelay time.Duration
}

// AdmissionConfig governs job-creation admission checks.
type AdmissionConfig struct {
	QuotaMinTokens int64
	MaxActiveJobs  int
}

// RateLimitConfig governs the fixed-window request limiter. Backend "memory"
// is only valid when a single process serves all traffic for a key.
type RateLimitConfig struct {
	Backend         string
	Window          time.Duration
	SubmitPerWindow int
	StatusPerWindow int
}

var validRateLimitBackends = map[string]bool{
	"redis":  true,
	"memory": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("COPYFORGE_PORT", 8080),
			Env:  envString("COPYFORGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Providers: ProvidersConfig{
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				Model:   envString("OPENAI_MODEL", "gpt-4o"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
			Gemini: GeminiConfig{
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.0-flash"),
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
			},
			MaxRetries:     envInt("PROVIDER_MAX_RETRIES", 2),
			RetryBaseDelay: envDuration("PROVIDER_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:  envDuration("PROVIDER_RETRY_MAX_DELAY", 30*time.Second),
			RequestTimeout: envDuration("PROVIDER_REQUEST_TIMEOUT", 2*time.Minute),
		},
		Jobs: JobsConfig{
			MaxAttempts:    envInt("JOB_MAX_ATTEMPTS", 3),
			AttemptTimeout: envDuration("JOB_ATTEMPT_TIMEOUT", 9*time.Minute),
			RetryBaseDelay: envDuration("JOB_RETRY_BASE_DELAY", time.Second),
		},
		Admission: AdmissionConfig{
			QuotaMinTokens: envInt64("QUOTA_MIN_TOKENS", 100),
			MaxActiveJobs:  envInt("JOB_MAX_ACTIVE", 10),
		},
		RateLimit: RateLimitConfig{
			Backend:         envString("RATE_LIMIT_BACKEND", "redis"),
			Window:          envDuration("RATE_LIMIT_WINDOW", time.Minute),
			SubmitPerWindow: envInt("RATE_LIMIT_SUBMIT_PER_WINDOW", 10),
			StatusPerWindow: envInt("RATE_LIMIT_STATUS_PER_WINDOW", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !c.Providers.OpenAI.Enabled() && !c.Providers.Anthropic.Enabled() && !c.Providers.Gemini.Enabled() {
		return fmt.Errorf("at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY is required")
	}
	for name, url := range map[string]string{
		"OPENAI_BASE_URL":    c.Providers.OpenAI.BaseURL,
		"ANTHROPIC_BASE_URL": c.Providers.Anthropic.BaseURL,
		"GEMINI_BASE_URL":    c.Providers.Gemini.BaseURL,
	} {
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return fmt.Errorf("%s must start with http:// or https://, got %q", name, url)
		}
	}

	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("JOB_MAX_ATTEMPTS must be at least 1, got %d", c.Jobs.MaxAttempts)
	}
	if c.Admission.MaxActiveJobs < 1 {
		return fmt.Errorf("JOB_MAX_ACTIVE must be at least 1, got %d", c.Admission.MaxActiveJobs)
	}

	if !validRateLimitBackends[c.RateLimit.Backend] {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be one of redis, memory; got %q", c.RateLimit.Backend)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

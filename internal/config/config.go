package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	DatabaseURL string
	RedisURL    string
	NATSURL     string
	EventsTopic string
	JWTSecret   string
	CORSOrigins string

	AIProvider   string
	AIModel      string
	AIMaxTokens  int
	AIBaseURL    string
	OpenAIAPIKey string
	GeminiAPIKey string

	GitHubToken      string
	GitHubRawBaseURL string
	GitHubAPIBaseURL string
	DriveDownloadURL string

	FetchTimeout  time.Duration
	FetchRetries  int
	FetchCacheTTL time.Duration

	GradingCooldown       time.Duration
	GradingConcurrency    int
	GradingMissingFileCap float64
	GradingIncludeTree    bool
	GradingLockTTL        time.Duration
	GradingMaxTreeFiles   int
	SubmitRateLimit       int
	SubmitRateWindow      time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// LLMAPIKey returns the service-wide key for the configured provider.
func (c Config) LLMAPIKey() string {
	if c.AIProvider == "gemini" {
		return c.GeminiAPIKey
	}
	return c.OpenAIAPIKey
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Gema Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "gema:grading")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.max_tokens", 2048)
	v.SetDefault("github.raw_base_url", "https://raw.githubusercontent.com")
	v.SetDefault("github.api_base_url", "https://api.github.com")
	v.SetDefault("drive.download_url", "https://drive.google.com/uc?export=download&id=")
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.retries", 2)
	v.SetDefault("fetch.cache_ttl", "2m")
	v.SetDefault("grading.cooldown", "5m")
	v.SetDefault("grading.map_concurrency", 4)
	v.SetDefault("grading.missing_file_cap", 2.0)
	v.SetDefault("grading.include_tree", false)
	v.SetDefault("grading.lock_ttl", "10m")
	v.SetDefault("grading.max_tree_files", 20)
	v.SetDefault("grading.rate_limit", 20)
	v.SetDefault("grading.rate_window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"fetch.timeout", "fetch.cache_ttl", "grading.cooldown", "grading.lock_ttl", "grading.rate_window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		EventsTopic: v.GetString("events.channel"),
		JWTSecret:   v.GetString("jwt.secret"),
		CORSOrigins: v.GetString("cors.allow_origins"),

		AIProvider:   strings.ToLower(v.GetString("ai.provider")),
		AIModel:      v.GetString("ai.model"),
		AIMaxTokens:  v.GetInt("ai.max_tokens"),
		AIBaseURL:    v.GetString("ai.base_url"),
		OpenAIAPIKey: v.GetString("openai_api_key"),
		GeminiAPIKey: v.GetString("gemini_api_key"),

		GitHubToken:      v.GetString("github.token"),
		GitHubRawBaseURL: v.GetString("github.raw_base_url"),
		GitHubAPIBaseURL: v.GetString("github.api_base_url"),
		DriveDownloadURL: v.GetString("drive.download_url"),

		FetchTimeout:  durations["fetch.timeout"],
		FetchRetries:  v.GetInt("fetch.retries"),
		FetchCacheTTL: durations["fetch.cache_ttl"],

		GradingCooldown:       durations["grading.cooldown"],
		GradingConcurrency:    v.GetInt("grading.map_concurrency"),
		GradingMissingFileCap: v.GetFloat64("grading.missing_file_cap"),
		GradingIncludeTree:    v.GetBool("grading.include_tree"),
		GradingLockTTL:        durations["grading.lock_ttl"],
		GradingMaxTreeFiles:   v.GetInt("grading.max_tree_files"),
		SubmitRateLimit:       v.GetInt("grading.rate_limit"),
		SubmitRateWindow:      durations["grading.rate_window"],
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	switch cfg.AIProvider {
	case "openai", "gemini":
	default:
		return Config{}, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}

	if cfg.GradingConcurrency <= 0 {
		cfg.GradingConcurrency = 1
	}

	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}

	if cfg.SubmitRateLimit <= 0 {
		return Config{}, fmt.Errorf("grading rate limit must be positive")
	}

	if cfg.AIMaxTokens <= 0 {
		cfg.AIMaxTokens = 2048
	}

	return cfg, nil
}

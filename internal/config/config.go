package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultSystemPrompt is the persona injected at prompt-assembly time. It is
// never written to the history store.
const defaultSystemPrompt = `You are a professional medical assistant. You provide medical knowledge and help users understand reports, imaging, skin conditions and medication information, but you never give a diagnosis.

When analyzing an uploaded image, first decide whether it is medical content. For non-medical images, tell the user to upload something medically relevant and do not analyze it. For medical images, point out key values and abnormalities, explain their potential meaning, state clearly that this is reference information only, and recommend consulting a doctor for anything serious.

Be professional but approachable, use accurate medical terminology with plain explanations, and keep answers clear and structured.`

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	GenerationTimeout time.Duration

	RedisURL    string
	DatabaseURL string
	HistoryCap  int
	HistoryTTL  time.Duration

	SystemPrompt string

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	UploadTimeout       time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "medichat"),
		AllowAnyOrigin:   false,
		OpenAIAPIKey:     trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:    envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      envOrDefault("OPENAI_MODEL", "gpt-4o"),
		RedisURL:         trimmedEnv("REDIS_URL"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		SystemPrompt:     envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),

		CloudinaryCloudName: trimmedEnv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:    trimmedEnv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret: trimmedEnv("CLOUDINARY_API_SECRET"),

		ShutdownTimeout:   15 * time.Second,
		GenerationTimeout: 60 * time.Second,
		UploadTimeout:     30 * time.Second,
		HistoryCap:        20,
		HistoryTTL:        30 * 24 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GenerationTimeout, err = durationFromEnv("GENERATION_TIMEOUT", cfg.GenerationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.UploadTimeout, err = durationFromEnv("UPLOAD_TIMEOUT", cfg.UploadTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryTTL, err = durationFromEnv("HISTORY_TTL", cfg.HistoryTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryCap, err = intFromEnv("HISTORY_CAP", cfg.HistoryCap)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryCap <= 0 {
		return Config{}, fmt.Errorf("HISTORY_CAP must be positive")
	}
	if cfg.HistoryTTL < time.Minute {
		return Config{}, fmt.Errorf("HISTORY_TTL must be at least 1m")
	}
	if cfg.GenerationTimeout <= 0 {
		return Config{}, fmt.Errorf("GENERATION_TIMEOUT must be positive")
	}
	if cfg.UploadTimeout <= 0 {
		return Config{}, fmt.Errorf("UPLOAD_TIMEOUT must be positive")
	}

	return cfg, nil
}

// CloudinaryConfigured reports whether all upload credentials are present.
func (c Config) CloudinaryConfigured() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

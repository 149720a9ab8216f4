package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the support-chat service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR" envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"solace"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN" envDefault:"false"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL selects storage: a postgres URL, "sqlite:<path>", or empty
	// for in-memory.
	DatabaseURL string `env:"DATABASE_URL"`

	LLMMode     string        `env:"LLM_MODE" envDefault:"http"`
	LMBaseURL   string        `env:"LM_BASE_URL" envDefault:"https://api.deepseek.com/v1"`
	LMAPIKey    string        `env:"LM_API_KEY"`
	LMModel     string        `env:"LM_MODEL" envDefault:"deepseek-chat"`
	LMTimeout   time.Duration `env:"LM_TIMEOUT" envDefault:"120s"`
	LMMaxTokens int           `env:"LM_MAX_TOKENS" envDefault:"512"`
	// DeepSeekAPIKey is only read when LM_API_KEY is unset.
	DeepSeekAPIKey string `env:"DEEPSEEK_API_KEY"`

	MaxContextBudget    int  `env:"MAX_CONTEXT_BUDGET" envDefault:"2500"`
	KeepLastTurns       int  `env:"KEEP_LAST_TURNS" envDefault:"10"`
	SummaryEnabled      bool `env:"SUMMARY_ENABLED" envDefault:"true"`
	SummaryEveryTurns   int  `env:"SUMMARY_EVERY_TURNS" envDefault:"8"`
	SummaryContextTurns int  `env:"SUMMARY_CONTEXT_TURNS" envDefault:"6"`
	SummaryMaxTokens    int  `env:"SUMMARY_MAX_TOKENS" envDefault:"220"`
	MaxInputChars       int  `env:"MAX_INPUT_CHARS" envDefault:"1000"`

	StreamRateLimit  int           `env:"STREAM_RATE_LIMIT" envDefault:"6"`
	StreamRateWindow time.Duration `env:"STREAM_RATE_WINDOW" envDefault:"60s"`

	// CounselorToken guards the counselor console. Empty disables it.
	CounselorToken string `env:"COUNSELOR_TOKEN"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.LLMMode = strings.ToLower(strings.TrimSpace(cfg.LLMMode))
	cfg.LMBaseURL = strings.TrimRight(strings.TrimSpace(cfg.LMBaseURL), "/")
	cfg.LMAPIKey = strings.TrimSpace(cfg.LMAPIKey)
	if cfg.LMAPIKey == "" {
		cfg.LMAPIKey = strings.TrimSpace(cfg.DeepSeekAPIKey)
	}
	cfg.CounselorToken = strings.TrimSpace(cfg.CounselorToken)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLMMode {
	case "http", "mock":
	default:
		return fmt.Errorf("LLM_MODE must be http or mock, got %q", c.LLMMode)
	}
	if c.LLMMode == "http" && c.LMBaseURL == "" {
		return fmt.Errorf("LM_BASE_URL is required when LLM_MODE=http")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.LMTimeout < time.Second {
		return fmt.Errorf("LM_TIMEOUT must be at least 1s")
	}
	if c.LMMaxTokens <= 0 {
		return fmt.Errorf("LM_MAX_TOKENS must be positive")
	}
	if c.MaxContextBudget <= 0 {
		return fmt.Errorf("MAX_CONTEXT_BUDGET must be positive")
	}
	if c.KeepLastTurns < 0 {
		return fmt.Errorf("KEEP_LAST_TURNS must be >= 0")
	}
	if c.SummaryEnabled && c.SummaryEveryTurns <= 0 {
		return fmt.Errorf("SUMMARY_EVERY_TURNS must be positive when summaries are enabled")
	}
	if c.SummaryContextTurns <= 0 {
		return fmt.Errorf("SUMMARY_CONTEXT_TURNS must be positive")
	}
	if c.SummaryMaxTokens <= 0 {
		return fmt.Errorf("SUMMARY_MAX_TOKENS must be positive")
	}
	if c.MaxInputChars <= 0 {
		return fmt.Errorf("MAX_INPUT_CHARS must be positive")
	}
	if c.StreamRateLimit < 0 {
		return fmt.Errorf("STREAM_RATE_LIMIT must be >= 0")
	}
	if c.StreamRateLimit > 0 && c.StreamRateWindow <= 0 {
		return fmt.Errorf("STREAM_RATE_WINDOW must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

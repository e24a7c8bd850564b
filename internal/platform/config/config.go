package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	BackendURL  string `env:"BACKEND_URL"`
	FrontendURL string `env:"FRONTEND_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	RefreshInterval   time.Duration `env:"REFRESH_INTERVAL" default:"30s"`
	CountdownInterval time.Duration `env:"COUNTDOWN_INTERVAL" default:"1s"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT" default:"5s"`
	SubmitTimeout     time.Duration `env:"SUBMIT_TIMEOUT" default:"10s"`
	SessionIdleTTL    time.Duration `env:"SESSION_IDLE_TTL" default:"2m"`

	RefreshRateLimit float64 `env:"REFRESH_RATE_LIMIT" default:"1"`
	RefreshRateBurst int     `env:"REFRESH_RATE_BURST" default:"3"`

	MaxWebSocketConnections int `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute http(s) URL, got %q", cfg.BackendURL)
	}
	if cfg.AppEnv == "production" && u.Scheme != "https" {
		return errors.New("BACKEND_URL must use https in production")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"REFRESH_INTERVAL", cfg.RefreshInterval},
		{"COUNTDOWN_INTERVAL", cfg.CountdownInterval},
		{"FETCH_TIMEOUT", cfg.FetchTimeout},
		{"SUBMIT_TIMEOUT", cfg.SubmitTimeout},
		{"SESSION_IDLE_TTL", cfg.SessionIdleTTL},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if cfg.CountdownInterval > time.Second {
		return errors.New("COUNTDOWN_INTERVAL must be at most 1s")
	}

	if cfg.RefreshRateLimit <= 0 || cfg.RefreshRateBurst < 1 {
		return errors.New("REFRESH_RATE_LIMIT must be positive and REFRESH_RATE_BURST at least 1")
	}
	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}

	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDirectory   string `envconfig:"DOWNLOAD_DIRECTORY" required:"true"`
	ExtractingDirectory string `envconfig:"EXTRACTING_DIRECTORY"`
	IsExtractingEnabled bool   `envconfig:"IS_EXTRACTING_ENABLED" default:"true"`

	ConcurrentDownloads     int           `envconfig:"CONCURRENT_DOWNLOADS" default:"2"`
	InternetConnectionMbits int           `envconfig:"INTERNET_CONNECTION_MBITS" default:"100"`
	RetryAttempts           uint64        `envconfig:"RETRY_ATTEMPTS" default:"30"`
	RetryDelay              time.Duration `envconfig:"RETRY_DELAY" default:"30s"`

	HosterBaseURL  string        `envconfig:"HOSTER_BASE_URL" required:"true"`
	HosterUsername string        `envconfig:"HOSTER_USERNAME"`
	HosterPassword string        `envconfig:"HOSTER_PASSWORD"`
	HosterTimeout  time.Duration `envconfig:"HOSTER_TIMEOUT" default:"30s"`

	APIToken   string `envconfig:"API_TOKEN"`
	HistoryDSN string `envconfig:"HISTORY_DSN"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"20"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"120s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("stashd", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}
	if cfg.IsExtractingEnabled && cfg.ExtractingDirectory == "" {
		return nil, fmt.Errorf("EXTRACTING_DIRECTORY is required when extraction is enabled")
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

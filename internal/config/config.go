// Package config loads runtime settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr       string `env:"RELAYDRIVE_ADDR" env-default:":8080"`
	AdminToken string `env:"RELAYDRIVE_ADMIN_TOKEN"`
	LogLevel   string `env:"RELAYDRIVE_LOG_LEVEL" env-default:"info"`

	GatewayURL   string `env:"RELAYDRIVE_GATEWAY_URL"`
	GatewayToken string `env:"RELAYDRIVE_GATEWAY_TOKEN"`

	DefaultDestinationID string        `env:"RELAYDRIVE_DEFAULT_DESTINATION_ID"`
	MaxFileSizeBytes     int64         `env:"RELAYDRIVE_MAX_FILE_SIZE_BYTES" env-default:"20971520"`
	AllowedMimeTypes     []string      `env:"RELAYDRIVE_ALLOWED_MIME_TYPES"`
	TextFormat           string        `env:"RELAYDRIVE_TEXT_FORMAT" env-default:"txt"`
	DebounceWindow       time.Duration `env:"RELAYDRIVE_DEBOUNCE_WINDOW" env-default:"1500ms"`
	SendDetailedErrors   bool          `env:"RELAYDRIVE_SEND_DETAILED_ERRORS" env-default:"false"`

	TopicsDSN     string `env:"RELAYDRIVE_TOPICS_DSN" env-default:"topics.json"`
	UserTopicsDSN string `env:"RELAYDRIVE_USER_TOPICS_DSN" env-default:"user_topics.json"`
	WatchCatalog  bool   `env:"RELAYDRIVE_WATCH_CATALOG" env-default:"false"`

	StorageType      string `env:"RELAYDRIVE_STORAGE_TYPE" env-default:"memory"`
	DriveBaseURL     string `env:"RELAYDRIVE_DRIVE_BASE_URL"`
	DriveToken       string `env:"RELAYDRIVE_DRIVE_TOKEN"`
	S3Bucket         string `env:"RELAYDRIVE_S3_BUCKET"`
	LocalStoragePath string `env:"RELAYDRIVE_LOCAL_STORAGE_PATH" env-default:"./archive"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	if cfg.MaxFileSizeBytes <= 0 {
		return Config{}, fmt.Errorf("RELAYDRIVE_MAX_FILE_SIZE_BYTES must be positive")
	}
	if cfg.DebounceWindow <= 0 {
		return Config{}, fmt.Errorf("RELAYDRIVE_DEBOUNCE_WINDOW must be positive")
	}
	return cfg, nil
}

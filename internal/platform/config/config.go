package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv             string `env:"APP_ENV" default:"development"`
	Port               string `env:"PORT" default:"8080"`
	DatabaseURL        string `env:"DATABASE_URL"`
	RedisURL           string `env:"REDIS_URL"`
	SessionSecret      string `env:"SESSION_SECRET"`
	SessionName        string `env:"SESSION_NAME" default:"crm-session"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`
	DashboardURL       string `env:"DASHBOARD_URL" default:"http://localhost:3000/dashboard"`
	LogLevel           string `env:"LOG_LEVEL" default:"info"`
	LogFormat          string `env:"LOG_FORMAT" default:"text"`

	Instagram Instagram
	TikTok    TikTok
	YouTube   YouTube
	Sync      Sync

	OAuthStateMaxAge time.Duration `env:"OAUTH_STATE_MAX_AGE" default:"1h"`
	ProviderTimeout  time.Duration `env:"PROVIDER_TIMEOUT" default:"15s"`
}

type Instagram struct {
	ClientID                   string        `env:"INSTAGRAM_CLIENT_ID"`
	ClientSecret               string        `env:"INSTAGRAM_CLIENT_SECRET"`
	RedirectURI                string        `env:"INSTAGRAM_REDIRECT_URI"`
	Pacing                     time.Duration `env:"INSTAGRAM_PACING" default:"2s"`
	DisconnectOnRefreshFailure bool          `env:"INSTAGRAM_DISCONNECT_ON_REFRESH_FAILURE" default:"false"`
}

type TikTok struct {
	ClientKey                  string        `env:"TIKTOK_CLIENT_KEY"`
	ClientSecret               string        `env:"TIKTOK_CLIENT_SECRET"`
	RedirectURI                string        `env:"TIKTOK_REDIRECT_URI"`
	Pacing                     time.Duration `env:"TIKTOK_PACING" default:"3s"`
	DisconnectOnRefreshFailure bool          `env:"TIKTOK_DISCONNECT_ON_REFRESH_FAILURE" default:"false"`
}

type YouTube struct {
	ClientID                   string        `env:"YOUTUBE_CLIENT_ID"`
	ClientSecret               string        `env:"YOUTUBE_CLIENT_SECRET"`
	RedirectURI                string        `env:"YOUTUBE_REDIRECT_URI"`
	Pacing                     time.Duration `env:"YOUTUBE_PACING" default:"2s"`
	DisconnectOnRefreshFailure bool          `env:"YOUTUBE_DISCONNECT_ON_REFRESH_FAILURE" default:"true"`
}

type Sync struct {
	// Interval of zero leaves scheduling to an external cron calling cmd/sync-once.
	Interval         time.Duration `env:"SYNC_INTERVAL" default:"0s"`
	PlatformCooldown time.Duration `env:"SYNC_PLATFORM_COOLDOWN" default:"5m"`
	LeaseTTL         time.Duration `env:"SYNC_LEASE_TTL" default:"15m"`
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

// LoadForWorker skips the HTTP-only requirements.
func LoadForWorker() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := validateEncryptionKey(cfg.TokenEncryptionKey); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"DATABASE_URL":   cfg.DatabaseURL,
		"SESSION_SECRET": cfg.SessionSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if cfg.Sync.PlatformCooldown < 0 || cfg.Sync.LeaseTTL <= 0 {
		return fmt.Errorf("SYNC_PLATFORM_COOLDOWN must be >= 0 and SYNC_LEASE_TTL > 0")
	}

	return validateEncryptionKey(cfg.TokenEncryptionKey)
}

func validateEncryptionKey(key string) error {
	if key == "" {
		return nil
	}

	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be valid hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes), got %d bytes", len(keyBytes))
	}
	return nil
}

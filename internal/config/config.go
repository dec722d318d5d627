package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/park285/hpl-runner/internal/domain"
)

type AppConfig struct {
	APIBaseURL string        `env:"HPL_API_BASE_URL"`
	APITimeout time.Duration `env:"HPL_API_TIMEOUT" envDefault:"15s"`

	Offline    bool `env:"HPL_OFFLINE" envDefault:"false"`
	AutoSubmit bool `env:"HPL_AUTO_SUBMIT" envDefault:"true"`

	// 0 이면 catalog 의 max_time 사용
	MaxTimeSec int `env:"HPL_MAX_TIME_SEC"`

	MinigameRaw string `env:"HPL_MINIGAME" envDefault:"memory-game"`
	Minigame    domain.MinigameID

	StoragePrefix string `env:"HPL_STORAGE_PREFIX" envDefault:"gbl_game_"`
	RedisURL      string `env:"REDIS_URL"`
	DatabaseURL   string `env:"DATABASE_URL"`

	FeedWSURL   string `env:"HPL_FEED_WS_URL"`
	CatalogFile string `env:"HPL_CATALOG_FILE"`

	LaunchToken       string `env:"HPL_LAUNCH_TOKEN"`
	LaunchTokenSecret string `env:"HPL_LAUNCH_TOKEN_SECRET"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.StoragePrefix = strings.TrimSpace(cfg.StoragePrefix)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.FeedWSURL = strings.TrimSpace(cfg.FeedWSURL)
	cfg.CatalogFile = strings.TrimSpace(cfg.CatalogFile)
	cfg.LaunchToken = strings.TrimSpace(cfg.LaunchToken)

	id, ok := domain.ParseMinigameID(cfg.MinigameRaw)
	if !ok {
		return nil, fmt.Errorf("HPL_MINIGAME: unknown minigame %q", cfg.MinigameRaw)
	}
	cfg.Minigame = id

	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 15 * time.Second
	}
	if cfg.MaxTimeSec < 0 {
		return nil, errors.New("HPL_MAX_TIME_SEC must not be negative")
	}
	if !cfg.Offline && cfg.APIBaseURL == "" {
		return nil, errors.New("HPL_API_BASE_URL is required")
	}
	return cfg, nil
}

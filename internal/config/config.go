package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full worker configuration, mapped from environment
// variables. A .env file is honored via godotenv autoload in main.
type Config struct {
	Env string `envconfig:"ENV" default:"local"`

	// Control-plane API (symbols, alerts, settings, dispatch sink).
	BackendURL     string        `envconfig:"BACKEND_URL" required:"true"`
	BackendToken   string        `envconfig:"BACKEND_TOKEN" required:"true"`
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`

	// Market feed. Streams lists the stream types to run, one worker
	// instance each.
	Streams        []string `envconfig:"STREAMS" default:"spot"`
	SymbolOverride []string `envconfig:"SYMBOL_OVERRIDE"` // pins the tracked set when non-empty
	QuoteSuffix    string   `envconfig:"QUOTE_SUFFIX" default:"usdt"`

	// Alert defaults, used until the first settings fetch succeeds.
	VolumeThreshold string        `envconfig:"VOLUME_THRESHOLD" default:"400000"`
	Window          time.Duration `envconfig:"WINDOW" default:"15m"`
	Cooldown        time.Duration `envconfig:"COOLDOWN" default:"15m"`

	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"5m"`
	RefreshInterval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"2m"`

	// Admin surface.
	AdminAddr  string `envconfig:"ADMIN_ADDR" default:":8085"`
	AdminToken string `envconfig:"ADMIN_TOKEN" required:"true"`

	// Optional integrations. Empty means disabled.
	PostgresDSN    string `envconfig:"DATABASE_URL"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SENTRY", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Streams) == 0 {
		return fmt.Errorf("at least one stream type must be configured")
	}
	for _, s := range c.Streams {
		switch strings.ToLower(s) {
		case "spot", "futures":
		default:
			return fmt.Errorf("unknown stream type %q (want spot or futures)", s)
		}
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	if c.ReconcileInterval <= 0 || c.RefreshInterval <= 0 {
		return fmt.Errorf("reconcile and refresh intervals must be positive")
	}
	return nil
}

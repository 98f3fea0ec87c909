package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Webhooks WebhooksConfig `koanf:"webhooks"`
}

type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type WebhooksConfig struct {
	Shopify  ShopifyConfig  `koanf:"shopify"`
	Stripe   StripeConfig   `koanf:"stripe"`
	EventLog EventLogConfig `koanf:"event_log"`
	Replay   ReplayConfig   `koanf:"replay"`
}

// ShopifyConfig holds the storefront provider's webhook settings.
// An empty Secret disables signature verification (dev-mode escape hatch).
type ShopifyConfig struct {
	Secret       string `koanf:"secret"`
	ShopDomain   string `koanf:"shop_domain"`
	AccessToken  string `koanf:"access_token"`
	CallbackBase string `koanf:"callback_base"`
}

// StripeConfig holds the payments provider's webhook settings.
type StripeConfig struct {
	Secret           string `koanf:"secret"`
	ToleranceSeconds int    `koanf:"tolerance_seconds"`
}

type EventLogConfig struct {
	Async               bool `koanf:"async"`
	BufferSize          int  `koanf:"buffer_size"`
	BatchSize           int  `koanf:"batch_size"`
	FlushIntervalMillis int  `koanf:"flush_interval_millis"`
}

type ReplayConfig struct {
	Enabled         bool `koanf:"enabled"`
	IntervalSeconds int  `koanf:"interval_seconds"`
	WindowHours     int  `koanf:"window_hours"`
	BatchSize       int  `koanf:"batch_size"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                              8080,
		"server.host":                              "0.0.0.0",
		"database.max_conns":                       25,
		"database.migrations_path":                 "migrations",
		"log.level":                                "info",
		"log.format":                               "json",
		"webhooks.stripe.tolerance_seconds":        300,
		"webhooks.event_log.async":                 false,
		"webhooks.event_log.buffer_size":           4096,
		"webhooks.event_log.batch_size":            100,
		"webhooks.event_log.flush_interval_millis": 500,
		"webhooks.replay.enabled":                  false,
		"webhooks.replay.interval_seconds":         300,
		"webhooks.replay.window_hours":             24,
		"webhooks.replay.batch_size":               100,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// MERIDIAN_WEBHOOKS_SHOPIFY_SECRET -> webhooks.shopify.secret
	_ = k.Load(env.Provider("MERIDIAN_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "MERIDIAN_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"flowwatch/internal/notify"
	logx "flowwatch/pkg/logx"
)

// Config is the on-disk configuration. JSON and YAML share the same keys.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Ingest   IngestConfig   `json:"ingest"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Redis    RedisConfig    `json:"redis"`
}

type HTTPConfig struct {
	// Addr defaults to ":8080".
	Addr            string `json:"addr,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "console" or "json" for stdout.
	Format  string      `json:"format,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./flowwatch.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

type IngestConfig struct {
	// NodeID is the snowflake node id (0-1023).
	NodeID          int64    `json:"node_id"`
	MaxPayloadBytes int      `json:"max_payload_bytes,omitempty"`
	DefaultServices []string `json:"default_services,omitempty"`
}

// TelegramConfig enables the Telegram channel when Token is set.
type TelegramConfig struct {
	Token        string  `json:"token"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Burst        int     `json:"burst,omitempty"`
	EphemeralTTL string  `json:"ephemeral_ttl,omitempty"`
	// HealthCheck is a cron spec or descriptor; "off" disables the sweep.
	HealthCheck string `json:"health_check,omitempty"`
	PrivacyURL  string `json:"privacy_url,omitempty"`
	BotUsername string `json:"bot_username,omitempty"`
}

// DiscordConfig enables the Discord channel when WebhookURL is set.
type DiscordConfig struct {
	WebhookURL string  `json:"webhook_url"`
	Username   string  `json:"username,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

// RedisConfig moves Telegram pause windows to Redis when URL is set.
type RedisConfig struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix,omitempty"`
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Format:  c.Format,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

func (c HTTPConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return ":8080"
}

func (c TelegramConfig) Enabled() bool { return strings.TrimSpace(c.Token) != "" }
func (c DiscordConfig) Enabled() bool  { return strings.TrimSpace(c.WebhookURL) != "" }
func (c RedisConfig) Enabled() bool    { return strings.TrimSpace(c.URL) != "" }

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	for _, f := range c.durationFields() {
		if _, err := Duration(f[0], f[1], 0); err != nil {
			errs = append(errs, err)
		}
	}

	if !logx.ValidFormat(c.Logging.Format) {
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "memory", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); (d == "file" || d == "sqlite" || d == "sqlite3") && strings.TrimSpace(c.Storage.Path) == "" {
		errs = append(errs, fmt.Errorf("storage.path: required for driver %q", c.Storage.Driver))
	}
	if c.Storage.CompactEvery < 0 {
		errs = append(errs, errors.New("storage.compact_every: must be >= 0"))
	}
	if c.Ingest.NodeID < 0 || c.Ingest.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("ingest.node_id: %d out of range 0-1023", c.Ingest.NodeID))
	}
	if c.Ingest.MaxPayloadBytes < 0 {
		errs = append(errs, errors.New("ingest.max_payload_bytes: must be >= 0"))
	}
	for _, s := range notify.NormalizeNames(c.Ingest.DefaultServices) {
		if !notify.Kind(s).Valid() {
			errs = append(errs, fmt.Errorf("ingest.default_services: unknown channel %q", s))
		}
	}
	if c.Telegram.RatePerSec < 0 || c.Telegram.Burst < 0 {
		errs = append(errs, errors.New("telegram: rate_per_sec and burst must be >= 0"))
	}
	if c.Discord.RatePerSec < 0 || c.Discord.Burst < 0 {
		errs = append(errs, errors.New("discord: rate_per_sec and burst must be >= 0"))
	}
	return errors.Join(errs...)
}

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets usually live here rather than in the file.
const (
	EnvTelegramToken     = "FLOWWATCH_TELEGRAM_TOKEN"
	EnvDiscordWebhookURL = "FLOWWATCH_DISCORD_WEBHOOK_URL"
	EnvRedisURL          = "FLOWWATCH_REDIS_URL"
	EnvHTTPAddr          = "FLOWWATCH_HTTP_ADDR"
)

// LoadDotEnv reads .env style files into the process environment. Missing
// files are ignored and variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Discord.WebhookURL, EnvDiscordWebhookURL)
	set(&cfg.Redis.URL, EnvRedisURL)
	set(&cfg.HTTP.Addr, EnvHTTPAddr)
}

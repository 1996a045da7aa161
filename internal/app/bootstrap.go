package app

import (
	"time"

	"flowwatch/internal/channel/discord"
	tgchan "flowwatch/internal/channel/telegram"
	"flowwatch/internal/config"
	"flowwatch/internal/storage"
	tgtransport "flowwatch/internal/transport/telegram"
)

// Mapping from file config to component configs. Durations were checked by
// config.Validate, so parse errors are returned only for direct callers.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		BusyTimeout:  busy,
		CompactEvery: cfg.Storage.CompactEvery,
	}, nil
}

func mapTelegramTransport(cfg *config.Config) (tgtransport.Config, error) {
	poll, err := config.Duration("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return tgtransport.Config{}, err
	}
	return tgtransport.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		RatePerSec:  cfg.Telegram.RatePerSec,
		Burst:       cfg.Telegram.Burst,
	}, nil
}

func mapTelegramChannel(cfg *config.Config) (tgchan.Config, error) {
	ttl, err := config.Duration("telegram.ephemeral_ttl", cfg.Telegram.EphemeralTTL, tgchan.DefaultEphemeralTTL)
	if err != nil {
		return tgchan.Config{}, err
	}
	return tgchan.Config{
		EphemeralTTL: ttl,
		HealthCheck:  cfg.Telegram.HealthCheck,
		PrivacyURL:   cfg.Telegram.PrivacyURL,
		BotUsername:  cfg.Telegram.BotUsername,
	}, nil
}

func mapDiscordConfig(cfg *config.Config) (discord.Config, error) {
	timeout, err := config.Duration("discord.timeout", cfg.Discord.Timeout, config.DefaultDiscordTimeout)
	if err != nil {
		return discord.Config{}, err
	}
	return discord.Config{
		WebhookURL: cfg.Discord.WebhookURL,
		Username:   cfg.Discord.Username,
		RatePerSec: cfg.Discord.RatePerSec,
		Burst:      cfg.Discord.Burst,
		Timeout:    timeout,
	}, nil
}

func mapHTTPShutdown(cfg *config.Config) time.Duration {
	d, err := config.Duration("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, config.DefaultShutdownTimeout)
	if err != nil {
		return config.DefaultShutdownTimeout
	}
	return d
}

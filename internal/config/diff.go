package config

import (
	"reflect"

	logx "flowwatch/pkg/logx"
)

// SummarizeChange lists the sections that differ between oldCfg and newCfg
// with log fields describing the new values. Secrets are reported only as
// set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	add := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		add("http", logx.String("http.addr", newCfg.HTTP.ListenAddr()))
	}
	if oldCfg.Logging != newCfg.Logging {
		add("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		add("storage", logx.String("storage.driver", newCfg.Storage.Driver), logx.String("storage.path", newCfg.Storage.Path))
	}
	if !reflect.DeepEqual(oldCfg.Ingest, newCfg.Ingest) {
		add("ingest",
			logx.Int64("ingest.node_id", newCfg.Ingest.NodeID),
			logx.Int("ingest.max_payload_bytes", newCfg.Ingest.MaxPayloadBytes),
			logx.Strings("ingest.default_services", newCfg.Ingest.DefaultServices),
		)
	}
	if oldCfg.Telegram != newCfg.Telegram {
		add("telegram",
			logx.Bool("telegram.token_set", newCfg.Telegram.Enabled()),
			logx.Any("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
			logx.Int("telegram.burst", newCfg.Telegram.Burst),
			logx.String("telegram.health_check", newCfg.Telegram.HealthCheck),
		)
	}
	if oldCfg.Discord != newCfg.Discord {
		add("discord",
			logx.Bool("discord.webhook_set", newCfg.Discord.Enabled()),
			logx.Any("discord.rate_per_sec", newCfg.Discord.RatePerSec),
		)
	}
	if oldCfg.Redis != newCfg.Redis {
		add("redis", logx.Bool("redis.url_set", newCfg.Redis.Enabled()), logx.String("redis.prefix", newCfg.Redis.Prefix))
	}
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart. Logging and the telegram/discord rate fields are applied live.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.HTTP != newCfg.HTTP {
		out = append(out, "http")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Ingest, newCfg.Ingest) {
		out = append(out, "ingest")
	}
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	ot.RatePerSec, ot.Burst = nt.RatePerSec, nt.Burst
	if ot != nt {
		out = append(out, "telegram")
	}
	od, nd := oldCfg.Discord, newCfg.Discord
	od.RatePerSec, od.Burst = nd.RatePerSec, nd.Burst
	if od != nd {
		out = append(out, "discord")
	}
	if oldCfg.Redis != newCfg.Redis {
		out = append(out, "redis")
	}
	return out
}

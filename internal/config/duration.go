package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a duration field is empty or zero.
const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultPollTimeout     = 10 * time.Second
	DefaultDiscordTimeout  = 10 * time.Second
)

// Duration parses raw, the value found at path. An empty or zero value
// yields def; negative values are rejected.
func Duration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (try \"30s\" or \"5m\")", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// durationFields lists every duration-valued key with its raw value.
func (c *Config) durationFields() [][2]string {
	return [][2]string{
		{"http.shutdown_timeout", c.HTTP.ShutdownTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.ephemeral_ttl", c.Telegram.EphemeralTTL},
		{"discord.timeout", c.Discord.Timeout},
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gamefeeds/internal/feed"
	"gamefeeds/internal/notification"
)

const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvDiscordToken  = "DISCORD_TOKEN"
)

// ApplyDefaults fills omitted fields and resolves tokens from getenv.
func ApplyDefaults(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv != nil {
		if strings.TrimSpace(cfg.Bots.Telegram.Token) == "" {
			cfg.Bots.Telegram.Token = getenv(EnvTelegramToken)
		}
		if strings.TrimSpace(cfg.Bots.Discord.Token) == "" {
			cfg.Bots.Discord.Token = getenv(EnvDiscordToken)
		}
	}
	for _, b := range []*BotConfig{&cfg.Bots.Telegram, &cfg.Bots.Discord} {
		b.Token = strings.TrimSpace(b.Token)
		if b.Prefix == "" {
			b.Prefix = "!"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Chat.MinLevel == "" {
		cfg.Logging.Chat.MinLevel = "warn"
	}
	if cfg.Logging.Chat.RatePerSec <= 0 {
		cfg.Logging.Chat.RatePerSec = 1
	}

	n := &cfg.Notifier
	if n.Workers <= 0 {
		n.Workers = 2
	}
	if n.QueueSize <= 0 {
		n.QueueSize = 256
	}
	if n.RatePerSec <= 0 {
		n.RatePerSec = 5
	}
	if n.RetryMax < 0 {
		n.RetryMax = 0
	} else if n.RetryMax == 0 {
		n.RetryMax = 2
	}
	if n.RetryBase == "" {
		n.RetryBase = "500ms"
	}

	if cfg.Feeds.Schedule == "" {
		cfg.Feeds.Schedule = "@every 10m"
	}
	if cfg.Feeds.Timeout == "" {
		cfg.Feeds.Timeout = "20s"
	}
	if cfg.Feeds.DedupWindow == "" {
		cfg.Feeds.DedupWindow = "720h"
	}
	for i := range cfg.Games {
		if cfg.Games[i].Label == "" {
			cfg.Games[i].Label = cfg.Games[i].Name
		}
	}
}

// Validate reports every problem found in cfg, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(durationField("bots.telegram.poll_timeout", cfg.Bots.Telegram.PollTimeout))
	add(durationField("bots.discord.poll_timeout", cfg.Bots.Discord.PollTimeout))
	add(levelField("logging.level", cfg.Logging.Level))

	if c := cfg.Logging.Chat; c.Enabled {
		add(levelField("logging.chat.min_level", c.MinLevel))
		switch c.Platform {
		case "telegram", "discord":
		default:
			add(fmt.Errorf("logging.chat.platform: unknown platform %q", c.Platform))
		}
		if strings.TrimSpace(c.Channel) == "" {
			add(errors.New("logging.chat.channel is required when chat logging is enabled"))
		}
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path is required when file logging is enabled"))
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
	case "", "memory":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(fmt.Errorf("storage.path is required for driver %q", d))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	add(durationField("storage.busy_timeout", cfg.Storage.BusyTimeout))

	add(durationField("notifier.retry_base", cfg.Notifier.RetryBase))
	add(durationField("feeds.timeout", cfg.Feeds.Timeout))
	add(durationField("feeds.dedup_window", cfg.Feeds.DedupWindow))
	if _, err := feed.ParseSchedule(cfg.Feeds.Schedule); cfg.Feeds.Schedule != "" && err != nil {
		add(fmt.Errorf("feeds.schedule: %w", err))
	}

	seen := map[string]bool{}
	for i, g := range cfg.Games {
		path := fmt.Sprintf("games[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			add(fmt.Errorf("%s.name is required", path))
		} else if seen[g.Name] {
			add(fmt.Errorf("%s.name: duplicate game %q", path, g.Name))
		}
		seen[g.Name] = true
		for j, iv := range g.InstantView {
			if _, err := notification.NewIVTemplate(iv.Pattern, iv.RHash); err != nil {
				add(fmt.Errorf("%s.instant_view[%d]: %w", path, j, err))
			}
		}
	}
	return errors.Join(errs...)
}

func durationField(path, raw string) error {
	_, err := ParseDurationField(path, raw)
	return err
}

func levelField(path, raw string) error {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
		return nil
	}
	return fmt.Errorf("%s: unknown level %q", path, raw)
}

// Durations resolved from the string fields. Call after Validate.

func (b BotConfig) PollTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", b.PollTimeout, 10*time.Second)
	return d
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationField("", s.BusyTimeout)
	return d
}

func (n NotifierConfig) RetryBaseDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", n.RetryBase, 500*time.Millisecond)
	return d
}

func (f FeedsConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", f.Timeout, 20*time.Second)
	return d
}

func (f FeedsConfig) DedupWindowDuration() time.Duration {
	d, _ := ParseDurationOrDefault("", f.DedupWindow, 30*24*time.Hour)
	return d
}

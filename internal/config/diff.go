package config

import (
	"reflect"
	"sort"

	logx "gamefeeds/pkg/logx"
)

// Summarize lists the sections that differ between oldCfg and newCfg
// together with log fields describing the new values. Tokens are reported
// only as set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)
	bot := func(name string, o, n BotConfig) {
		if reflect.DeepEqual(o, n) {
			return
		}
		changed = append(changed, "bots."+name)
		fields = append(fields,
			logx.Bool(name+".enabled", n.Enabled),
			logx.Bool(name+".token_set", n.Token != ""),
			logx.Bool(name+".token_changed", o.Token != n.Token),
			logx.String(name+".prefix", n.Prefix),
			logx.Int(name+".owner_count", len(n.Owners)),
		)
	}
	bot("telegram", oldCfg.Bots.Telegram, newCfg.Bots.Telegram)
	bot("discord", oldCfg.Bots.Discord, newCfg.Bots.Discord)

	if o, n := oldCfg.Logging, newCfg.Logging; o != n {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
			logx.Bool("logging.chat_enabled", n.Chat.Enabled),
			logx.String("logging.chat_platform", n.Chat.Platform),
		)
	}

	if o, n := oldCfg.Storage, newCfg.Storage; o != n {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", n.Driver),
			logx.Bool("storage.path_set", n.Path != ""),
		)
	}

	if o, n := oldCfg.Notifier, newCfg.Notifier; o != n {
		changed = append(changed, "notifier")
		fields = append(fields,
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.queue_size", n.QueueSize),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Int("notifier.retry_max", n.RetryMax),
		)
	}

	if o, n := oldCfg.Feeds, newCfg.Feeds; o != n {
		changed = append(changed, "feeds")
		fields = append(fields,
			logx.Bool("feeds.enabled", n.Enabled),
			logx.String("feeds.schedule", n.Schedule),
		)
	}

	if !reflect.DeepEqual(oldCfg.Games, newCfg.Games) {
		changed = append(changed, "games")
		feeds := 0
		for _, g := range newCfg.Games {
			feeds += len(g.Feeds)
		}
		fields = append(fields,
			logx.Int("games.count", len(newCfg.Games)),
			logx.Int("games.feed_count", feeds),
		)
	}

	sort.Strings(changed)
	return changed, fields
}

// RestartRequired reports whether a change cannot be applied live.
// Logging and feed schedule changes are applied in place; everything
// else needs a restart.
func RestartRequired(changed []string) bool {
	for _, s := range changed {
		switch s {
		case "logging", "feeds", "games":
		default:
			return true
		}
	}
	return false
}

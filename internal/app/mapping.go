package app

import (
	"fmt"
	"strings"
	"time"

	"gamefeeds/internal/config"
	"gamefeeds/internal/feed"
	"gamefeeds/internal/notification"
	"gamefeeds/internal/notifier"
	"gamefeeds/internal/storage"
	logx "gamefeeds/pkg/logx"
)

// The map* helpers translate the validated file config into the
// component configs. They assume config.Validate already passed.

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	busy := sc.BusyTimeoutDuration()
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if (driver == "sqlite" || driver == "sqlite3") && busy == 0 {
		busy = time.Second
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
		RetryBase:  n.RetryBaseDuration(),
	}
}

func mapFeedConfig(cfg *config.Config) feed.Config {
	f := cfg.Feeds
	return feed.Config{
		Schedule:    f.Schedule,
		Timeout:     f.TimeoutDuration(),
		DedupWindow: f.DedupWindowDuration(),
	}
}

// mapSources builds one feed source per configured game, compiling its
// instant-view templates.
func mapSources(cfg *config.Config) ([]feed.Source, error) {
	out := make([]feed.Source, 0, len(cfg.Games))
	for _, g := range cfg.Games {
		game := notification.Game{Name: g.Name, Label: g.Label}
		for i, iv := range g.InstantView {
			tpl, err := notification.NewIVTemplate(iv.Pattern, iv.RHash)
			if err != nil {
				return nil, fmt.Errorf("games %s instant_view[%d]: %w", g.Name, i, err)
			}
			game.TelegramIV = append(game.TelegramIV, tpl)
		}
		out = append(out, feed.Source{Game: game, URLs: append([]string(nil), g.Feeds...)})
	}
	return out, nil
}

func gameLabels(cfg *config.Config) []string {
	out := make([]string, 0, len(cfg.Games))
	for _, g := range cfg.Games {
		out = append(out, g.Label)
	}
	return out
}

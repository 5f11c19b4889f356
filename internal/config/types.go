package config

// Config is the root of the JSON/YAML configuration file.
// Unknown fields are rejected.
type Config struct {
	Bots     BotsConfig     `json:"bots"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Feeds    FeedsConfig    `json:"feeds"`
	Games    []GameConfig   `json:"games"`
}

type BotsConfig struct {
	Telegram BotConfig `json:"telegram"`
	Discord  BotConfig `json:"discord"`
}

// BotConfig configures one platform client. Enabled means autostart.
//
// An empty token falls back to TELEGRAM_TOKEN / DISCORD_TOKEN.
type BotConfig struct {
	Enabled bool     `json:"enabled"`
	Token   string   `json:"token,omitempty"`
	Prefix  string   `json:"prefix,omitempty"`
	Owners  []string `json:"owners,omitempty"`

	// PollTimeout is a Go duration string (Telegram long polling only).
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat relays warn+ records into a bot channel.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	Platform   string `json:"platform"`
	Channel    string `json:"channel"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the channel and dedup store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/gamefeeds.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifierConfig controls the fan-out worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - rate_per_sec: 5
//   - retry_max: 2
//   - retry_base: "500ms"
type NotifierConfig struct {
	Workers    int    `json:"workers,omitempty"`
	QueueSize  int    `json:"queue_size,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

// FeedsConfig controls the feed poller. Schedule is a five or six field
// cron expression or a descriptor such as "@every 10m".
type FeedsConfig struct {
	Enabled     bool   `json:"enabled"`
	Schedule    string `json:"schedule,omitempty"`     // default "@every 10m"
	Timeout     string `json:"timeout,omitempty"`      // per feed fetch, default "20s"
	DedupWindow string `json:"dedup_window,omitempty"` // default "720h"
}

type GameConfig struct {
	Name        string              `json:"name"`
	Label       string              `json:"label,omitempty"`
	Feeds       []string            `json:"feeds"`
	InstantView []InstantViewConfig `json:"instant_view,omitempty"`
}

// InstantViewConfig is a Telegram instant-view template: links matching
// Pattern are opened through the template identified by RHash.
type InstantViewConfig struct {
	Pattern string `json:"pattern"`
	RHash   string `json:"rhash"`
}

package storage

import (
	"context"
	"errors"
	"time"

	"gamefeeds/internal/bot"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the bots, commands and feed poller.
// It implements bot.ChannelDirectory.
type Store interface {
	bot.ChannelDirectory

	// AddChannel subscribes ch. Re-adding updates the stored name.
	AddChannel(ctx context.Context, ch bot.Channel) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

func channelKey(platform, id string) string { return platform + "\x00" + id }

package app

import (
	"context"
	"errors"
	"strings"
	"sync"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/bot/discord"
	"gamefeeds/internal/bot/telegram"
	"gamefeeds/internal/config"
	logx "gamefeeds/pkg/logx"
)

// newRegistry creates a client for every platform that is enabled or has a
// token. Clients without a token refuse to start.
func newRegistry(cfg *config.Config, dir bot.ChannelDirectory, log logx.Logger) (*bot.Registry, error) {
	reg := bot.NewRegistry()

	if tg := cfg.Bots.Telegram; tg.Enabled || tg.Token != "" {
		c, err := telegram.New(telegram.Config{
			Token:       tg.Token,
			Prefix:      tg.Prefix,
			Autostart:   tg.Enabled,
			Owners:      tg.Owners,
			PollTimeout: tg.PollTimeoutDuration(),
		}, dir, log)
		if err != nil {
			return nil, err
		}
		reg.Add(c)
	}
	if dc := cfg.Bots.Discord; dc.Enabled || dc.Token != "" {
		c, err := discord.New(discord.Config{
			Token:     dc.Token,
			Prefix:    dc.Prefix,
			Autostart: dc.Enabled,
			Owners:    dc.Owners,
		}, dir, log)
		if err != nil {
			return nil, err
		}
		reg.Add(c)
	}
	return reg, nil
}

var errSinkUnavailable = errors.New("log channel unavailable")

// chatSink relays log records from the logging service into a bot channel.
type chatSink struct {
	bots *bot.Registry

	mu      sync.RWMutex
	channel bot.Channel
}

func newChatSink(bots *bot.Registry, cfg *config.Config) *chatSink {
	s := &chatSink{bots: bots}
	s.apply(cfg)
	return s
}

func (s *chatSink) apply(cfg *config.Config) {
	c := cfg.Logging.Chat
	s.mu.Lock()
	s.channel = bot.Channel{Platform: c.Platform, ID: strings.TrimSpace(c.Channel)}
	s.mu.Unlock()
}

func (s *chatSink) SendLog(ctx context.Context, text string) error {
	s.mu.RLock()
	ch := s.channel
	s.mu.RUnlock()

	c, ok := s.bots.Client(ch.Platform)
	if !ok || ch.ID == "" || !c.Running() {
		return errSinkUnavailable
	}
	if !c.SendMessage(ctx, ch, bot.Text(text)) {
		return errSinkUnavailable
	}
	return nil
}

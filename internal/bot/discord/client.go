// Package discord implements bot.Client on top of discordgo.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

const Platform = "discord"

type Config struct {
	Token     string
	Prefix    string
	Autostart bool
	Owners    []string
}

type Client struct {
	*bot.Base

	api api
	now func() time.Time

	mu      sync.Mutex
	me      identity
	ctx     context.Context
	cancel  context.CancelFunc
	detach  []func()
	guildOf map[string]string // channel id -> guild id
}

var _ bot.Client = (*Client)(nil)

// New builds a stopped client. The gateway is not opened until Start.
func New(cfg Config, dir bot.ChannelDirectory, log logx.Logger) (*Client, error) {
	var a api
	if cfg.Token != "" {
		s, err := newSession(cfg.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: %w", err)
		}
		a = s
	}
	return newClient(cfg, a, dir, log), nil
}

func newClient(cfg Config, a api, dir bot.ChannelDirectory, log logx.Logger) *Client {
	return &Client{
		Base: bot.NewBase(bot.Options{
			Platform:  Platform,
			Label:     "Discord",
			Prefix:    cfg.Prefix,
			Autostart: cfg.Autostart,
			Owners:    cfg.Owners,
			Directory: dir,
			Log:       log,
		}),
		api:     a,
		now:     time.Now,
		guildOf: map[string]string{},
	}
}

func (c *Client) Start(ctx context.Context) bool {
	if c.Running() {
		return true
	}
	if c.api == nil {
		c.Log().Warn("no token configured, not starting")
		return false
	}

	detach := []func(){
		c.api.OnMessage(c.onMessage),
		c.api.OnGuildCreate(c.onGuildCreate),
		c.api.OnGuildDelete(c.onGuildDelete),
	}
	if err := c.api.Open(); err != nil {
		for _, fn := range detach {
			fn()
		}
		c.Log().Error("failed to open gateway", logx.Err(err))
		return false
	}

	if me, err := c.api.Me(); err != nil {
		c.Log().Error("failed to get bot identity", logx.Err(err))
	} else {
		c.mu.Lock()
		c.me = me
		c.mu.Unlock()
		c.SetUserName(me.Username)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	c.ctx, c.cancel, c.detach = runCtx, cancel, detach
	c.mu.Unlock()
	c.SetRunning(true)
	c.Log().Info("started", logx.String("user", c.UserTag()))
	return true
}

func (c *Client) Stop() {
	c.mu.Lock()
	cancel, detach := c.cancel, c.detach
	c.ctx, c.cancel, c.detach = nil, nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	for _, fn := range detach {
		fn()
	}
	cancel()
	if err := c.api.Close(); err != nil {
		c.Log().Warn("failed to close gateway", logx.Err(err))
	}
	c.SetRunning(false)
	c.Log().Info("stopped")
}

func (c *Client) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *Client) myID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me.ID
}

func (c *Client) Me(ctx context.Context) (bot.User, error) {
	if id := c.myID(); id != "" {
		return bot.User{Platform: Platform, ID: id}, nil
	}
	if c.api == nil {
		return bot.User{}, fmt.Errorf("discord: no token configured")
	}
	me, err := c.api.Me()
	if err != nil {
		return bot.User{}, fmt.Errorf("discord: get me: %w", err)
	}
	c.mu.Lock()
	c.me = me
	c.mu.Unlock()
	return bot.User{Platform: Platform, ID: me.ID}, nil
}

// channel resolves ch and records its guild.
func (c *Client) channel(ch bot.Channel) (channelInfo, error) {
	if ch.ID == "" {
		return channelInfo{}, fmt.Errorf("%w: empty discord channel id", bot.ErrBadChannel)
	}
	if c.api == nil {
		return channelInfo{}, fmt.Errorf("discord: no token configured")
	}
	info, err := c.api.Channel(ch.ID)
	if err != nil {
		return channelInfo{}, err
	}
	if info.GuildID != "" {
		c.mu.Lock()
		c.guildOf[info.ID] = info.GuildID
		c.mu.Unlock()
	}
	return info, nil
}

// ChannelUserCount excludes the bot itself.
func (c *Client) ChannelUserCount(ctx context.Context, ch bot.Channel) int {
	info, err := c.channel(ch)
	if err != nil {
		c.Log().Warn("failed to count members", logx.String("channel", ch.Label()), logx.Err(err))
		return 0
	}
	if info.DM {
		return 1
	}
	g, err := c.api.Guild(info.GuildID)
	if err != nil {
		c.Log().Warn("failed to count members", logx.String("channel", ch.Label()), logx.Err(err))
		return 0
	}
	return max(g.MemberCount-1, 0)
}

func (c *Client) UserCount(ctx context.Context) int {
	return c.SumUsers(ctx, c.ChannelUserCount)
}

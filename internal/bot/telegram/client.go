// Package telegram implements bot.Client on top of telebot.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/runtime/supervisor"
	logx "gamefeeds/pkg/logx"
)

const Platform = "telegram"

type Config struct {
	Token       string
	Prefix      string
	Autostart   bool
	Owners      []string
	PollTimeout time.Duration
}

type Client struct {
	*bot.Base

	cfg Config
	api api
	now func() time.Time

	mu   sync.Mutex
	me   identity
	sup  *supervisor.Supervisor
	wire sync.Once
}

var _ bot.Client = (*Client)(nil)

// New builds a stopped client. No network call is made until Start.
func New(cfg Config, dir bot.ChannelDirectory, log logx.Logger) (*Client, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	c := newClient(cfg, nil, dir, log)
	if cfg.Token == "" {
		return c, nil
	}
	a, err := newTeleAPI(cfg.Token, &tele.LongPoller{Timeout: cfg.PollTimeout}, func(err error) {
		c.Log().Warn("telebot error", logx.Err(err))
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	c.api = a
	return c, nil
}

func newClient(cfg Config, a api, dir bot.ChannelDirectory, log logx.Logger) *Client {
	return &Client{
		Base: bot.NewBase(bot.Options{
			Platform:  Platform,
			Label:     "Telegram",
			Prefix:    cfg.Prefix,
			Autostart: cfg.Autostart,
			Owners:    cfg.Owners,
			Directory: dir,
			Log:       log,
		}),
		cfg: cfg,
		api: a,
		now: time.Now,
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

	c.wire.Do(func() {
		c.api.Handle(tele.OnText, c.onMessage)
		c.api.Handle(tele.OnChannelPost, c.onMessage)
		c.api.Handle(tele.OnUserLeft, c.onUserLeft)
	})

	if me, err := c.api.Me(); err != nil {
		c.Log().Error("failed to get bot identity", logx.Err(err))
	} else {
		c.mu.Lock()
		c.me = me
		c.mu.Unlock()
		c.SetUserName(me.Username)
	}

	sup := supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(c.Log()))
	sup.GoRestart0("telegram.poll", func(context.Context) { c.api.Start() },
		supervisor.WithRestartBackoff(time.Second, time.Minute))

	c.mu.Lock()
	c.sup = sup
	c.mu.Unlock()
	c.SetRunning(true)
	c.Log().Info("started", logx.String("user", c.UserTag()))
	return true
}

func (c *Client) Stop() {
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	c.api.Stop()
	c.SetRunning(false)
	c.Log().Info("stopped")
}

func (c *Client) runContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup != nil {
		return c.sup.Context()
	}
	return context.Background()
}

func (c *Client) myID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.me.ID
}

func (c *Client) Me(ctx context.Context) (bot.User, error) {
	if id := c.myID(); id != 0 {
		return bot.User{Platform: Platform, ID: strconv.FormatInt(id, 10)}, nil
	}
	if c.api == nil {
		return bot.User{}, fmt.Errorf("telegram: no token configured")
	}
	me, err := c.api.Me()
	if err != nil {
		return bot.User{}, fmt.Errorf("telegram: get me: %w", err)
	}
	c.mu.Lock()
	c.me = me
	c.mu.Unlock()
	return bot.User{Platform: Platform, ID: strconv.FormatInt(me.ID, 10)}, nil
}

// ChannelUserCount excludes the bot itself.
func (c *Client) ChannelUserCount(ctx context.Context, ch bot.Channel) int {
	chatID, err := chatIDOf(ch)
	if err != nil || c.api == nil {
		return 0
	}
	n, err := c.api.MemberCount(chatID)
	if err != nil {
		c.Log().Warn("failed to count members", logx.String("channel", ch.Label()), logx.Err(err))
		return 0
	}
	return max(n-1, 0)
}

func (c *Client) UserCount(ctx context.Context) int {
	return c.SumUsers(ctx, c.ChannelUserCount)
}

func chatIDOf(ch bot.Channel) (int64, error) {
	id, err := strconv.ParseInt(ch.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: telegram chat id %q", bot.ErrBadChannel, ch.ID)
	}
	return id, nil
}

func userIDOf(u bot.User) (int64, error) {
	id, err := strconv.ParseInt(u.ID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram user id %q: %w", u.ID, err)
	}
	return id, nil
}

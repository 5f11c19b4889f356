// Package commands holds the built-in chat commands every client answers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

// Subscriptions is the part of the channel store the commands write to.
type Subscriptions interface {
	AddChannel(ctx context.Context, ch bot.Channel) error
	RemoveChannel(ctx context.Context, ch bot.Channel) error
	Channels(ctx context.Context, platform string) ([]bot.Channel, error)
}

// Deps are the collaborators shared by the built-in commands.
type Deps struct {
	Store   Subscriptions
	Games   func() []string
	Started time.Time
	Now     func() time.Time
	Log     logx.Logger
}

// Builtin returns ping, help, status, subscribe and unsubscribe.
func Builtin(d Deps) []bot.Command {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Started.IsZero() {
		d.Started = d.Now()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", "commands"))

	cmds := []bot.Command{
		&command{name: "ping", help: "check the bot is alive", run: d.ping},
		&command{name: "status", help: "show channel and user counts", run: d.status},
		&command{name: "subscribe", help: "post game updates here", min: bot.RoleAdmin, run: d.subscribe},
		&command{name: "unsubscribe", help: "stop posting game updates here", min: bot.RoleAdmin, run: d.unsubscribe},
	}
	help := &command{name: "help", help: "list commands"}
	help.run = func(ctx context.Context, msg bot.Message, _ []string) error {
		var b strings.Builder
		b.WriteString("**Commands**\n")
		for _, c := range append(cmds, help) {
			c := c.(*command)
			fmt.Fprintf(&b, "- `%s%s` %s\n", msg.Client.Prefix(), c.name, c.help)
		}
		msg.Reply(ctx, b.String())
		return nil
	}
	return append(cmds, help)
}

// ErrNoStore is returned by subscription commands when no store is wired.
var ErrNoStore = errors.New("no subscription store configured")

type command struct {
	name string
	help string
	min  bot.Role
	run  func(ctx context.Context, msg bot.Message, groups []string) error
}

func (c *command) Name() string { return c.name }

// Pattern matches "<prefix><name>" with an optional "@<botname>" suffix,
// case-insensitively.
func (c *command) Pattern(cl bot.Client, _ bot.Channel) (*regexp.Regexp, error) {
	if cl == nil {
		return nil, errors.New("nil client")
	}
	expr := `(?i)^\s*` + regexp.QuoteMeta(cl.Prefix()) + regexp.QuoteMeta(c.name)
	if name := cl.UserName(); name != "?" && name != "" {
		expr += `(?:@` + regexp.QuoteMeta(name) + `)?`
	}
	return regexp.Compile(expr + `(?:\s+(.*))?\s*$`)
}

func (c *command) Execute(ctx context.Context, msg bot.Message, groups []string) error {
	if c.min > bot.RoleUser {
		role := msg.Client.UserRole(ctx, msg.User, msg.Channel)
		if role.Degraded {
			msg.Reply(ctx, "I could not check your role here, please try again later.")
			return fmt.Errorf("%s: role check degraded: %w", c.name, role.Cause)
		}
		if !role.Value.AtLeast(c.min) {
			msg.Reply(ctx, fmt.Sprintf("Only a channel %s can use `%s%s`.", c.min, msg.Client.Prefix(), c.name))
			return nil
		}
	}
	return c.run(ctx, msg, groups)
}

func (d Deps) ping(ctx context.Context, msg bot.Message, _ []string) error {
	lag := d.Now().Sub(msg.Timestamp).Round(time.Millisecond)
	msg.Reply(ctx, fmt.Sprintf("**pong** (%s)", lag))
	return nil
}

func (d Deps) status(ctx context.Context, msg bot.Message, _ []string) error {
	c := msg.Client
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** %s\n", c.Label(), c.UserTag())
	fmt.Fprintf(&b, "- channels: %d\n", c.ChannelCount(ctx))
	fmt.Fprintf(&b, "- users: %d\n", c.UserCount(ctx))
	fmt.Fprintf(&b, "- uptime: %s\n", d.Now().Sub(d.Started).Round(time.Second))
	if d.Games != nil {
		if games := d.Games(); len(games) > 0 {
			fmt.Fprintf(&b, "- games: %s\n", strings.Join(games, ", "))
		}
	}
	msg.Reply(ctx, b.String())
	return nil
}

func (d Deps) subscribe(ctx context.Context, msg bot.Message, _ []string) error {
	if d.Store == nil {
		return ErrNoStore
	}
	if d.subscribed(ctx, msg.Channel) {
		msg.Reply(ctx, "This channel is already subscribed.")
		return nil
	}
	// A bot that cannot post here could not answer either.
	if me, err := msg.Client.Me(ctx); err == nil {
		perms, err := msg.Client.UserPermissions(ctx, me, msg.Channel)
		if err == nil && !perms.CanWrite {
			d.Log.Warn("subscribe in channel the bot cannot write to", logx.String("channel", msg.Channel.Label()))
			return nil
		}
	}
	if err := d.Store.AddChannel(ctx, msg.Channel); err != nil {
		msg.Reply(ctx, "Subscribing failed, please try again later.")
		return fmt.Errorf("subscribe %s: %w", msg.Channel.Label(), err)
	}
	d.Log.Info("channel subscribed", logx.String("channel", msg.Channel.Label()), logx.String("user", msg.User.ID))
	msg.Reply(ctx, "Subscribed! Game updates will be posted here.")
	return nil
}

func (d Deps) unsubscribe(ctx context.Context, msg bot.Message, _ []string) error {
	if d.Store == nil {
		return ErrNoStore
	}
	if !d.subscribed(ctx, msg.Channel) {
		msg.Reply(ctx, "This channel is not subscribed.")
		return nil
	}
	if err := d.Store.RemoveChannel(ctx, msg.Channel); err != nil {
		msg.Reply(ctx, "Unsubscribing failed, please try again later.")
		return fmt.Errorf("unsubscribe %s: %w", msg.Channel.Label(), err)
	}
	d.Log.Info("channel unsubscribed", logx.String("channel", msg.Channel.Label()), logx.String("user", msg.User.ID))
	msg.Reply(ctx, "Unsubscribed.")
	return nil
}

func (d Deps) subscribed(ctx context.Context, ch bot.Channel) bool {
	chs, err := d.Store.Channels(ctx, ch.Platform)
	if err != nil {
		d.Log.Error("failed to list channels", logx.String("platform", ch.Platform), logx.Err(err))
		return false
	}
	for _, c := range chs {
		if c.ID == ch.ID {
			return true
		}
	}
	return false
}

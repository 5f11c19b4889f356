package bot

import (
	"context"
	"sync"

	logx "gamefeeds/pkg/logx"
)

// Options configures the behaviour shared by all platform clients.
type Options struct {
	Platform  string
	Label     string
	Prefix    string
	Autostart bool
	Owners    []string

	Directory ChannelDirectory
	Log       logx.Logger
}

// Base implements the platform independent half of Client. Platform
// clients embed it and add their transport specific operations.
type Base struct {
	opt Options
	log logx.Logger

	mu       sync.RWMutex
	running  bool
	userName string
	commands []Command
	known    map[string]Channel
}

func NewBase(opt Options) *Base {
	log := opt.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Base{
		opt:   opt,
		log:   log.With(logx.String("comp", "bot."+opt.Platform)),
		known: map[string]Channel{},
	}
}

func (b *Base) Platform() string { return b.opt.Platform }
func (b *Base) Label() string    { return b.opt.Label }
func (b *Base) Prefix() string   { return b.opt.Prefix }
func (b *Base) Autostart() bool  { return b.opt.Autostart }
func (b *Base) Log() logx.Logger { return b.log }

func (b *Base) Directory() ChannelDirectory { return b.opt.Directory }

func (b *Base) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// SetRunning records the transport state.
func (b *Base) SetRunning(running bool) {
	b.mu.Lock()
	b.running = running
	b.mu.Unlock()
}

func (b *Base) SetUserName(name string) {
	b.mu.Lock()
	b.userName = name
	b.mu.Unlock()
}

// UserName returns "?" while the client is stopped or the name is unknown.
func (b *Base) UserName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running || b.userName == "" {
		return "?"
	}
	return b.userName
}

func (b *Base) UserTag() string {
	name := b.UserName()
	if name == "?" {
		return name
	}
	return "@" + name
}

func (b *Base) Owners() []User {
	out := make([]User, 0, len(b.opt.Owners))
	for _, id := range b.opt.Owners {
		out = append(out, User{Platform: b.opt.Platform, ID: id})
	}
	return out
}

func (b *Base) IsOwner(id string) bool {
	for _, o := range b.opt.Owners {
		if o == id {
			return true
		}
	}
	return false
}

func (b *Base) RegisterCommand(cmd Command) {
	if cmd == nil {
		return
	}
	b.mu.Lock()
	b.commands = append(b.commands, cmd)
	b.mu.Unlock()
}

func (b *Base) Commands() []Command {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Command(nil), b.commands...)
}

// Channel returns the cached channel for id, or a bare reference.
func (b *Base) Channel(id string) Channel {
	b.mu.RLock()
	ch, ok := b.known[id]
	b.mu.RUnlock()
	if ok {
		return ch
	}
	return Channel{Platform: b.opt.Platform, ID: id}
}

// Remember caches ch. A cached name is kept when ch has none.
func (b *Base) Remember(ch Channel) Channel {
	ch.Platform = b.opt.Platform
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.known[ch.ID]; ok && ch.Name == "" {
		ch.Name = old.Name
	}
	b.known[ch.ID] = ch
	return ch
}

func (b *Base) Forget(id string) {
	b.mu.Lock()
	delete(b.known, id)
	b.mu.Unlock()
}

// Channels lists the channels the directory assigns to this platform.
func (b *Base) Channels(ctx context.Context) []Channel {
	if b.opt.Directory == nil {
		return nil
	}
	chs, err := b.opt.Directory.Channels(ctx, b.opt.Platform)
	if err != nil {
		b.log.Error("failed to list channels", logx.Err(err))
		return nil
	}
	return chs
}

func (b *Base) ChannelCount(ctx context.Context) int { return len(b.Channels(ctx)) }

// SumUsers adds count(ch) over every directory channel.
func (b *Base) SumUsers(ctx context.Context, count func(context.Context, Channel) int) int {
	total := 0
	for _, ch := range b.Channels(ctx) {
		total += count(ctx, ch)
	}
	return total
}

// Dispatch runs every registered command whose pattern matches msg.
// Command errors are logged per channel and never returned.
func (b *Base) Dispatch(ctx context.Context, msg Message) {
	for _, cmd := range b.Commands() {
		b.execute(ctx, cmd, msg)
	}
}

func (b *Base) execute(ctx context.Context, cmd Command, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("command panicked",
				logx.String("command", cmd.Name()),
				logx.String("channel", msg.Channel.Label()),
				logx.Any("panic", r))
		}
	}()
	re, err := cmd.Pattern(msg.Client, msg.Channel)
	if err != nil || re == nil {
		b.log.Error("failed to build command pattern",
			logx.String("command", cmd.Name()),
			logx.String("channel", msg.Channel.Label()),
			logx.Err(err))
		return
	}
	groups := re.FindStringSubmatch(msg.Content)
	if groups == nil {
		return
	}
	if err := cmd.Execute(ctx, msg, groups); err != nil {
		b.log.Error("failed to execute command",
			logx.String("command", cmd.Name()),
			logx.String("channel", msg.Channel.Label()),
			logx.Err(err))
	}
}

// Removed hands every locally known channel matching ids to the directory.
func (b *Base) Removed(ctx context.Context, ids ...string) int {
	if b.opt.Directory == nil {
		return 0
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	n := 0
	for _, ch := range b.Channels(ctx) {
		if _, ok := want[ch.ID]; !ok {
			continue
		}
		if err := b.opt.Directory.RemoveChannel(ctx, ch); err != nil {
			b.log.Error("failed to remove channel", logx.String("channel", ch.Label()), logx.Err(err))
			continue
		}
		b.Forget(ch.ID)
		b.log.Info("removed from channel", logx.String("channel", ch.Label()))
		n++
	}
	return n
}

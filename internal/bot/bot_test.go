package bot

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	logx "gamefeeds/pkg/logx"
)

type stubClient struct {
	*Base
	startOK bool

	mu      sync.Mutex
	started int
	sent    []Content
}

func newStub(platform string, autostart, startOK bool) *stubClient {
	return &stubClient{
		Base:    NewBase(Options{Platform: platform, Label: platform, Autostart: autostart, Owners: []string{"1"}, Log: logx.Nop()}),
		startOK: startOK,
	}
}

func (s *stubClient) Start(context.Context) bool {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	s.SetRunning(s.startOK)
	return s.startOK
}

func (s *stubClient) Stop() { s.SetRunning(false) }

func (s *stubClient) Me(context.Context) (User, error) {
	return User{Platform: s.Platform(), ID: "bot"}, nil
}

func (s *stubClient) ChannelUserCount(context.Context, Channel) int { return 3 }

func (s *stubClient) UserCount(ctx context.Context) int { return s.SumUsers(ctx, s.ChannelUserCount) }

func (s *stubClient) UserRole(context.Context, User, Channel) Result[Role] { return Resolved(RoleUser) }

func (s *stubClient) UserPermissions(context.Context, User, Channel) (Permissions, error) {
	return NoAccess, nil
}

func (s *stubClient) SendMessage(_ context.Context, _ Channel, c Content) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return true
}

type memDirectory struct {
	mu       sync.Mutex
	channels []Channel
	fail     error
}

func (d *memDirectory) Channels(_ context.Context, platform string) ([]Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Channel
	for _, ch := range d.channels {
		if ch.Platform == platform {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (d *memDirectory) RemoveChannel(_ context.Context, ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	for i, c := range d.channels {
		if c.Platform == ch.Platform && c.ID == ch.ID {
			d.channels = append(d.channels[:i], d.channels[i+1:]...)
			return nil
		}
	}
	return nil
}

type funcCommand struct {
	name    string
	pattern string
	run     func(msg Message, groups []string) error
}

func (c funcCommand) Name() string { return c.name }

func (c funcCommand) Pattern(Client, Channel) (*regexp.Regexp, error) {
	return regexp.Compile(c.pattern)
}

func (c funcCommand) Execute(_ context.Context, msg Message, groups []string) error {
	return c.run(msg, groups)
}

func TestRegistryStartAll(t *testing.T) {
	t.Parallel()
	tg := newStub("telegram", true, true)
	dc := newStub("discord", true, false)
	manual := newStub("matrix", false, true)
	r := NewRegistry(tg, dc, manual)

	if n := r.StartAll(context.Background()); n != 1 {
		t.Fatalf("StartAll = %d, want 1", n)
	}
	if manual.started != 0 {
		t.Fatal("non-autostart client was started")
	}
	if running := r.Running(); len(running) != 1 || running[0].Platform() != "telegram" {
		t.Fatalf("Running = %v", running)
	}
	r.StopAll()
	if len(r.Running()) != 0 {
		t.Fatal("clients still running after StopAll")
	}
}

func TestRegistryReplacesPlatform(t *testing.T) {
	t.Parallel()
	first := newStub("telegram", false, true)
	second := newStub("telegram", false, true)
	r := NewRegistry(first, second, nil)
	if len(r.Clients()) != 1 {
		t.Fatalf("Clients = %d, want 1", len(r.Clients()))
	}
	c, ok := r.Client("telegram")
	if !ok || c != second {
		t.Fatal("Client(telegram) did not return the replacement")
	}
	if _, ok := r.Client("irc"); ok {
		t.Fatal("unexpected client for unknown platform")
	}
}

func TestDispatch(t *testing.T) {
	t.Parallel()
	c := newStub("telegram", false, true)
	var got []string
	NewRegistry(c).RegisterCommand(
		funcCommand{name: "echo", pattern: `^!echo (.+)$`, run: func(_ Message, g []string) error {
			got = append(got, g[1])
			return nil
		}},
		funcCommand{name: "fail", pattern: `^!echo`, run: func(Message, []string) error {
			return errors.New("boom")
		}},
		funcCommand{name: "panic", pattern: `^!echo`, run: func(Message, []string) error {
			panic("boom")
		}},
		funcCommand{name: "broken", pattern: `(`, run: func(Message, []string) error {
			t.Fatal("broken pattern executed")
			return nil
		}},
	)

	msg := Message{Client: c, Channel: Channel{Platform: "telegram", ID: "1"}, Content: "!echo hi"}
	c.Dispatch(context.Background(), msg)
	c.Dispatch(context.Background(), Message{Client: c, Content: "nothing"})
	if len(got) != 1 || got[0] != "hi" {
		t.Fatalf("echo groups = %v", got)
	}

	if !msg.Reply(context.Background(), "pong") || len(c.sent) != 1 || c.sent[0].Text != "pong" {
		t.Fatalf("Reply sent %+v", c.sent)
	}
	if (Message{}).Reply(context.Background(), "x") {
		t.Fatal("Reply without client reported sent")
	}
}

func TestRemoved(t *testing.T) {
	t.Parallel()
	dir := &memDirectory{channels: []Channel{
		{Platform: "telegram", ID: "1"},
		{Platform: "telegram", ID: "2"},
		{Platform: "discord", ID: "1"},
	}}
	b := NewBase(Options{Platform: "telegram", Directory: dir})
	b.Remember(Channel{ID: "1", Name: "News"})

	if n := b.Removed(context.Background(), "1", "9"); n != 1 {
		t.Fatalf("Removed = %d, want 1", n)
	}
	if b.ChannelCount(context.Background()) != 1 {
		t.Fatalf("ChannelCount = %d, want 1", b.ChannelCount(context.Background()))
	}
	if b.Channel("1").Name != "" {
		t.Fatal("removed channel still cached")
	}
	if chs, _ := dir.Channels(context.Background(), "discord"); len(chs) != 1 {
		t.Fatal("channel of another platform removed")
	}

	dir.fail = errors.New("disk full")
	if n := b.Removed(context.Background(), "2"); n != 0 {
		t.Fatalf("Removed with failing directory = %d", n)
	}
}

func TestBaseIdentity(t *testing.T) {
	t.Parallel()
	c := newStub("discord", false, true)
	c.SetUserName("feedbot")
	if c.UserName() != "?" || c.UserTag() != "?" {
		t.Fatalf("stopped client name=%q tag=%q", c.UserName(), c.UserTag())
	}
	c.Start(context.Background())
	if c.UserTag() != "@feedbot" {
		t.Fatalf("UserTag = %q", c.UserTag())
	}
	if !c.IsOwner("1") || c.IsOwner("2") {
		t.Fatal("IsOwner mismatch")
	}
	if o := c.Owners(); len(o) != 1 || o[0] != (User{Platform: "discord", ID: "1"}) {
		t.Fatalf("Owners = %v", o)
	}
}

func TestUserCountSumsChannels(t *testing.T) {
	t.Parallel()
	dir := &memDirectory{channels: []Channel{{Platform: "discord", ID: "a"}, {Platform: "discord", ID: "b"}}}
	c := &stubClient{Base: NewBase(Options{Platform: "discord", Directory: dir})}
	if n := c.UserCount(context.Background()); n != 6 {
		t.Fatalf("UserCount = %d, want 6", n)
	}
}

func TestResult(t *testing.T) {
	t.Parallel()
	if r := Resolved(RoleAdmin); r.Degraded || r.Value != RoleAdmin {
		t.Fatalf("Resolved = %+v", r)
	}
	cause := errors.New("x")
	r := Degraded(RoleUser, cause)
	if !r.Degraded || r.Value != RoleUser || !errors.Is(r.Cause, cause) {
		t.Fatalf("Degraded = %+v", r)
	}
	if !RoleOwner.AtLeast(RoleAdmin) || RoleUser.AtLeast(RoleAdmin) {
		t.Fatal("role ordering broken")
	}
	if RoleOwner.String() != "owner" || RoleUser.String() != "user" {
		t.Fatal("role names")
	}
}

func TestClampTime(t *testing.T) {
	t.Parallel()
	now := time.Unix(1000, 0)
	if got := ClampTime(now.Add(time.Hour), now); !got.Equal(now) {
		t.Fatalf("future = %v", got)
	}
	if got := ClampTime(now.Add(-time.Second), now); !got.Equal(now.Add(-500 * time.Millisecond)) {
		t.Fatalf("past = %v", got)
	}
}

func TestChannelLabel(t *testing.T) {
	t.Parallel()
	if got := (Channel{Platform: "telegram", ID: "-1"}).Label(); got != "telegram:-1" {
		t.Fatalf("Label = %q", got)
	}
	if got := (Channel{Platform: "discord", ID: "5", Name: "news"}).Label(); got != "discord:5 (news)" {
		t.Fatalf("Label = %q", got)
	}
}

package telegram

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/markdown"
	"gamefeeds/internal/notification"
	logx "gamefeeds/pkg/logx"
)

type sentMessage struct {
	chatID  int64
	text    string
	preview bool
}

type fakeAPI struct {
	mu sync.Mutex

	me        identity
	meErr     error
	chat      chatInfo
	chatErr   error
	member    member
	memberErr error
	admins    []int64
	adminsErr error
	count     int
	sendErr   error

	sent     []sentMessage
	handlers map[string]func(*tele.Message)
	starts   int
	stops    int
}

func (f *fakeAPI) Me() (identity, error)                { return f.me, f.meErr }
func (f *fakeAPI) Chat(int64) (chatInfo, error)         { return f.chat, f.chatErr }
func (f *fakeAPI) Member(int64, int64) (member, error)  { return f.member, f.memberErr }
func (f *fakeAPI) Admins(int64) ([]int64, error)        { return f.admins, f.adminsErr }
func (f *fakeAPI) MemberCount(int64) (int, error)       { return f.count, nil }
func (f *fakeAPI) Send(id int64, text string, preview bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: id, text: text, preview: preview})
	return f.sendErr
}

func (f *fakeAPI) Handle(endpoint string, fn func(*tele.Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]func(*tele.Message){}
	}
	f.handlers[endpoint] = fn
}

func (f *fakeAPI) Start() {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
}

func (f *fakeAPI) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

type fakeDirectory struct {
	mu       sync.Mutex
	channels []bot.Channel
	removed  []bot.Channel
}

func (d *fakeDirectory) Channels(context.Context, string) ([]bot.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bot.Channel(nil), d.channels...), nil
}

func (d *fakeDirectory) RemoveChannel(_ context.Context, ch bot.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, ch)
	return nil
}

type recordCommand struct {
	mu   sync.Mutex
	msgs []bot.Message
}

func (c *recordCommand) Name() string { return "record" }

func (c *recordCommand) Pattern(bot.Client, bot.Channel) (*regexp.Regexp, error) {
	return regexp.MustCompile(`^!(\w+)$`), nil
}

func (c *recordCommand) Execute(_ context.Context, msg bot.Message, _ []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

type prefixMatcher struct{ prefix, link string }

func (m prefixMatcher) Match(link string) (string, bool) {
	if !strings.HasPrefix(link, m.prefix) {
		return "", false
	}
	return m.link, true
}

func newTestClient(a *fakeAPI, dir bot.ChannelDirectory) *Client {
	return newClient(Config{Owners: []string{"1"}, Prefix: "!"}, a, dir, logx.Nop())
}

func TestPermissionsOf(t *testing.T) {
	t.Parallel()
	all := bot.Permissions{HasAccess: true, CanWrite: true, CanEdit: true, CanPin: true}
	tests := []struct {
		name     string
		chatType string
		m        member
		want     bot.Permissions
	}{
		{name: "kicked", chatType: chatSupergroup, m: member{Status: statusKicked, CanPinMessages: true}, want: bot.NoAccess},
		{name: "left", chatType: chatChannel, m: member{Status: statusLeft}, want: bot.NoAccess},
		{name: "group member", chatType: chatGroup, m: member{Status: statusMember},
			want: bot.Permissions{HasAccess: true, CanWrite: true, CanPin: true}},
		{name: "restricted muted", chatType: chatSupergroup, m: member{Status: statusRestricted},
			want: bot.Permissions{HasAccess: true}},
		{name: "restricted writer", chatType: chatSupergroup, m: member{Status: statusRestricted, CanSendMessages: true, CanPinMessages: true},
			want: bot.Permissions{HasAccess: true, CanWrite: true, CanPin: true}},
		{name: "group admin", chatType: chatSupergroup, m: member{Status: statusAdministrator, CanEditMessages: true, CanPinMessages: true},
			want: all},
		{name: "group admin without pin", chatType: chatGroup, m: member{Status: statusAdministrator},
			want: bot.Permissions{HasAccess: true, CanWrite: true}},
		{name: "channel member", chatType: chatChannel, m: member{Status: statusMember},
			want: bot.Permissions{HasAccess: true}},
		{name: "channel admin poster", chatType: chatChannel, m: member{Status: statusAdministrator, CanPostMessages: true, CanEditMessages: true},
			want: bot.Permissions{HasAccess: true, CanWrite: true, CanEdit: true}},
		{name: "channel admin without post", chatType: chatChannel, m: member{Status: statusAdministrator},
			want: bot.Permissions{HasAccess: true}},
		{name: "private", chatType: chatPrivate, m: member{Status: statusMember},
			want: bot.Permissions{HasAccess: true, CanWrite: true}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := permissionsOf(tt.chatType, tt.m); got != tt.want {
				t.Fatalf("permissionsOf = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestUserPermissionsForbiddenIsNoAccess(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		&tele.Error{Code: 403, Description: "Forbidden: bot was kicked from the group chat"},
		errors.New("telegram: Forbidden: bot is not a member of the channel chat (403)"),
	} {
		c := newTestClient(&fakeAPI{chatErr: err}, nil)
		p, gotErr := c.UserPermissions(context.Background(), bot.User{ID: "7"}, bot.Channel{ID: "-100"})
		if gotErr != nil || p != bot.NoAccess {
			t.Fatalf("UserPermissions(%v) = %+v, %v; want NoAccess, nil", err, p, gotErr)
		}
	}
}

func TestUserPermissionsPropagatesErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("telegram: Too Many Requests (429)")
	c := newTestClient(&fakeAPI{chatErr: boom}, nil)
	if _, err := c.UserPermissions(context.Background(), bot.User{ID: "7"}, bot.Channel{ID: "-100"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}

	c = newTestClient(&fakeAPI{chat: chatInfo{Type: chatGroup}, memberErr: boom}, nil)
	if _, err := c.UserPermissions(context.Background(), bot.User{ID: "7"}, bot.Channel{ID: "-100"}); !errors.Is(err, boom) {
		t.Fatalf("member err = %v, want wrapped %v", err, boom)
	}

	if _, err := c.UserPermissions(context.Background(), bot.User{ID: "7"}, bot.Channel{ID: "general"}); !errors.Is(err, bot.ErrBadChannel) {
		t.Fatalf("bad channel err = %v", err)
	}
}

func TestUserRole(t *testing.T) {
	t.Parallel()
	boom := errors.New("network down")
	tests := []struct {
		name     string
		api      *fakeAPI
		user     string
		channel  string
		want     bot.Role
		degraded bool
	}{
		{name: "channel author", api: &fakeAPI{chatErr: boom}, user: bot.ChannelAuthorID, channel: "-1", want: bot.RoleAdmin},
		{name: "owner", api: &fakeAPI{chatErr: boom}, user: "1", channel: "-1", want: bot.RoleOwner},
		{name: "private chat", api: &fakeAPI{chat: chatInfo{Type: chatPrivate}}, user: "7", channel: "7", want: bot.RoleAdmin},
		{name: "all members admins", api: &fakeAPI{chat: chatInfo{Type: chatGroup, AllMembersAreAdministrators: true}}, user: "7", channel: "-1", want: bot.RoleAdmin},
		{name: "listed admin", api: &fakeAPI{chat: chatInfo{Type: chatSupergroup}, admins: []int64{5, 7}}, user: "7", channel: "-1", want: bot.RoleAdmin},
		{name: "plain member", api: &fakeAPI{chat: chatInfo{Type: chatSupergroup}, admins: []int64{5}}, user: "7", channel: "-1", want: bot.RoleUser},
		{name: "admin despite chat error", api: &fakeAPI{chatErr: boom, admins: []int64{7}}, user: "7", channel: "-1", want: bot.RoleAdmin},
		{name: "lookups fail", api: &fakeAPI{chatErr: boom, adminsErr: boom}, user: "7", channel: "-1", want: bot.RoleUser, degraded: true},
		{name: "bad channel", api: &fakeAPI{}, user: "7", channel: "general", want: bot.RoleUser, degraded: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(tt.api, nil)
			got := c.UserRole(context.Background(), bot.User{Platform: Platform, ID: tt.user}, bot.Channel{ID: tt.channel})
			if got.Value != tt.want || got.Degraded != tt.degraded {
				t.Fatalf("UserRole = %+v, want %v degraded=%v", got, tt.want, tt.degraded)
			}
			if got.Degraded && got.Cause == nil {
				t.Fatal("degraded result without cause")
			}
		})
	}
}

func testNotification() notification.Notification {
	return notification.Notification{
		Title:  notification.Link{Text: "Patch 1.2", URL: "https://store.example/news/1"},
		Author: notification.Link{Text: "Dev Team", URL: "https://store.example/dev"},
		Game: notification.Game{
			Name:  "factorio",
			Label: "Factorio",
			TelegramIV: []notification.Matcher{
				prefixMatcher{prefix: "https://other.example/", link: "https://t.me/iv?url=wrong"},
				prefixMatcher{prefix: "https://store.example/news/", link: "https://t.me/iv?url=x&rhash=abc"},
			},
		},
		Content: "Body text",
	}
}

func TestInstantViewRender(t *testing.T) {
	t.Parallel()
	n := testNotification()
	got, ok := instantView(n)
	if !ok {
		t.Fatal("expected a matching template")
	}
	want := "New **Factorio** update - [Dev Team](https://store.example/dev):\n\n[Patch 1.2](https://t.me/iv?url=x&rhash=abc)"
	if got != want {
		t.Fatalf("instantView = %q, want %q", got, want)
	}

	n.Author = notification.Link{Text: "Dev Team"}
	if got, _ := instantView(n); !strings.HasPrefix(got, "New **Factorio** update - Dev Team:\n\n") {
		t.Fatalf("unlinked author = %q", got)
	}
	n.Author = notification.Link{}
	if got, _ := instantView(n); !strings.HasPrefix(got, "New **Factorio** update:\n\n") {
		t.Fatalf("no author = %q", got)
	}

	n.Game.TelegramIV = nil
	if _, ok := instantView(n); ok {
		t.Fatal("unexpected match without templates")
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{}
	c := newTestClient(a, nil)
	ctx := context.Background()
	ch := bot.Channel{ID: "-100"}

	n := testNotification()
	if !c.SendMessage(ctx, ch, bot.Notify(n)) {
		t.Fatal("notification not attempted")
	}
	n.Game.TelegramIV = nil
	c.SendMessage(ctx, ch, bot.Notify(n))
	c.SendMessage(ctx, ch, bot.Text("**pong**"))

	if len(a.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(a.sent))
	}
	iv := a.sent[0]
	if iv.chatID != -100 || !iv.preview {
		t.Fatalf("instant view send = %+v", iv)
	}
	if want := "New **Factorio** update - [Dev Team](https://store.example/dev):\n\n[Patch 1.2](https://t.me/iv?url=x&rhash=abc)"; iv.text != want {
		t.Fatalf("instant view text = %q, want %q", iv.text, want)
	}
	if fb := a.sent[1]; fb.preview || fb.text != markdown.Telegram.Translate(n.Markdown()) {
		t.Fatalf("fallback send = %+v", fb)
	}
	if a.sent[2].text != "*pong*" {
		t.Fatalf("text send = %q", a.sent[2].text)
	}
}

func TestSendMessageTruncates(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{}
	c := newTestClient(a, nil)
	n := testNotification()
	n.Game.TelegramIV = nil
	n.Content = strings.Repeat("lorem ipsum ", 400)
	c.SendMessage(context.Background(), bot.Channel{ID: "-100"}, bot.Notify(n))
	if got := utf8.RuneCountInString(a.sent[0].text); got > bot.MaxNotificationLength {
		t.Fatalf("sent %d runes, limit %d", got, bot.MaxNotificationLength)
	}
}

func TestSendMessageSwallowsDeliveryErrors(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		&tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"},
		&tele.Error{Code: 400, Description: "Bad Request: chat not found"},
		errors.New("connection reset"),
	} {
		c := newTestClient(&fakeAPI{sendErr: err}, nil)
		if !c.SendMessage(context.Background(), bot.Channel{ID: "-100"}, bot.Text("hi")) {
			t.Fatalf("SendMessage with %v reported not attempted", err)
		}
	}
	c := newTestClient(&fakeAPI{}, nil)
	if c.SendMessage(context.Background(), bot.Channel{ID: "general"}, bot.Text("hi")) {
		t.Fatal("malformed channel reported attempted")
	}
}

func TestOnMessageDispatch(t *testing.T) {
	t.Parallel()
	c := newTestClient(&fakeAPI{}, nil)
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }
	cmd := &recordCommand{}
	c.RegisterCommand(cmd)

	c.onMessage(&tele.Message{
		Chat:     &tele.Chat{ID: -100, Title: "News"},
		Text:     "!ping",
		Unixtime: now.Unix() + 60,
	})
	c.onMessage(&tele.Message{
		Chat:     &tele.Chat{ID: -200, Title: "Group"},
		Sender:   &tele.User{ID: 7},
		Text:     "!ping",
		Unixtime: now.Unix() - 60,
	})
	c.onMessage(&tele.Message{Chat: &tele.Chat{ID: -200}, Sender: &tele.User{ID: 7}, Text: "hello"})

	if len(cmd.msgs) != 2 {
		t.Fatalf("dispatched %d messages, want 2", len(cmd.msgs))
	}
	post := cmd.msgs[0]
	if !post.User.IsChannelAuthor() || post.Channel.Name != "News" || !post.Timestamp.Equal(now) {
		t.Fatalf("channel post = %+v", post)
	}
	msg := cmd.msgs[1]
	if msg.User.ID != "7" || !msg.Timestamp.Equal(now.Add(-60*time.Second+500*time.Millisecond)) {
		t.Fatalf("group message = %+v", msg)
	}
	if got := c.Channel("-200").Name; got != "Group" {
		t.Fatalf("cached channel name = %q", got)
	}
}

func TestOnUserLeftRemovesChannel(t *testing.T) {
	t.Parallel()
	dir := &fakeDirectory{channels: []bot.Channel{
		{Platform: Platform, ID: "-100"},
		{Platform: Platform, ID: "-200"},
	}}
	c := newTestClient(&fakeAPI{}, dir)
	c.me = identity{ID: 42, Username: "feedbot"}

	c.onUserLeft(&tele.Message{Chat: &tele.Chat{ID: -100}, UserLeft: &tele.User{ID: 9}})
	if len(dir.removed) != 0 {
		t.Fatalf("removed on foreign departure: %+v", dir.removed)
	}
	c.onUserLeft(&tele.Message{Chat: &tele.Chat{ID: -100}, UserLeft: &tele.User{ID: 42}})
	if len(dir.removed) != 1 || dir.removed[0].ID != "-100" {
		t.Fatalf("removed = %+v", dir.removed)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	a := &fakeAPI{me: identity{ID: 42, Username: "feedbot"}}
	c := newTestClient(a, nil)
	if c.UserName() != "?" {
		t.Fatalf("UserName before start = %q", c.UserName())
	}
	if !c.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	if c.UserTag() != "@feedbot" {
		t.Fatalf("UserTag = %q", c.UserTag())
	}
	for _, ep := range []string{tele.OnText, tele.OnChannelPost, tele.OnUserLeft} {
		if a.handlers[ep] == nil {
			t.Fatalf("no handler for %s", ep)
		}
	}
	me, err := c.Me(context.Background())
	if err != nil || me.ID != "42" {
		t.Fatalf("Me = %+v, %v", me, err)
	}
	c.Stop()
	c.Stop()
	if c.Running() || c.UserName() != "?" {
		t.Fatalf("after Stop running=%v name=%q", c.Running(), c.UserName())
	}
	if a.stops != 1 {
		t.Fatalf("stops = %d, want 1", a.stops)
	}
}

func TestStartIdentityFailureStillStarts(t *testing.T) {
	t.Parallel()
	c := newTestClient(&fakeAPI{meErr: errors.New("timeout")}, nil)
	if !c.Start(context.Background()) {
		t.Fatal("Start failed")
	}
	defer c.Stop()
	if c.UserName() != "?" {
		t.Fatalf("UserName = %q, want ?", c.UserName())
	}
}

func TestStartWithoutToken(t *testing.T) {
	t.Parallel()
	c, err := New(Config{}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Start(context.Background()) || c.Running() {
		t.Fatal("started without a token")
	}
	c.Stop()
}

func TestErrorCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{&tele.Error{Code: 400, Description: "Bad Request"}, 400},
		{errors.New("telegram: Forbidden (403)"), 403},
		{errors.New("dial tcp: timeout"), 0},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Fatalf("errorCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// stopPoller blocks until told to stop and reports each poll start.
type stopPoller struct{ started chan struct{} }

func (p *stopPoller) Poll(_ *tele.Bot, _ chan tele.Update, stop chan struct{}) {
	p.started <- struct{}{}
	<-stop
}

func TestTeleAPIStopBeforeStart(t *testing.T) {
	t.Parallel()
	p := &stopPoller{started: make(chan struct{}, 4)}
	a, err := newTeleAPI("123:test", p, nil)
	if err != nil {
		t.Fatalf("newTeleAPI: %v", err)
	}

	// Nothing is polling yet, so this must not leave a pending stop behind.
	a.Stop()

	for round := 0; round < 2; round++ {
		done := make(chan struct{})
		go func() {
			a.Start()
			close(done)
		}()
		select {
		case <-p.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: poller never started", round)
		}
		select {
		case <-done:
			t.Fatalf("round %d: polling ended without Stop", round)
		case <-time.After(100 * time.Millisecond):
		}

		a.Stop()
		a.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: Start did not return after Stop", round)
		}
	}
}

package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	tele "gopkg.in/telebot.v4"
)

// Telegram chat types as reported by getChat.
const (
	chatPrivate    = "private"
	chatGroup      = "group"
	chatSupergroup = "supergroup"
	chatChannel    = "channel"
)

// Member statuses as reported by getChatMember.
const (
	statusCreator       = "creator"
	statusAdministrator = "administrator"
	statusMember        = "member"
	statusRestricted    = "restricted"
	statusLeft          = "left"
	statusKicked        = "kicked"
)

type identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type chatInfo struct {
	ID                          int64  `json:"id"`
	Type                        string `json:"type"`
	Title                       string `json:"title"`
	Username                    string `json:"username"`
	FirstName                   string `json:"first_name"`
	AllMembersAreAdministrators bool   `json:"all_members_are_administrators"`
}

type member struct {
	Status          string `json:"status"`
	CanPostMessages bool   `json:"can_post_messages"`
	CanEditMessages bool   `json:"can_edit_messages"`
	CanSendMessages bool   `json:"can_send_messages"`
	CanPinMessages  bool   `json:"can_pin_messages"`
}

// api is the slice of the Bot API the client depends on.
type api interface {
	Me() (identity, error)
	Chat(chatID int64) (chatInfo, error)
	Member(chatID, userID int64) (member, error)
	Admins(chatID int64) ([]int64, error)
	MemberCount(chatID int64) (int, error)
	Send(chatID int64, text string, preview bool) error

	Handle(endpoint string, fn func(*tele.Message))
	Start()
	Stop()
}

// teleAPI adapts *tele.Bot. Lookups go through Raw so the decoded shape
// stays under our control.
type teleAPI struct {
	b *tele.Bot

	mu   sync.Mutex
	poll *pollSession // nil while not polling
}

// pollSession is one run of b.Start. done is closed when it returns.
type pollSession struct {
	done    chan struct{}
	stopped bool
}

func newTeleAPI(token string, poller tele.Poller, onError func(error)) (*teleAPI, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Poller:  poller,
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			if onError != nil {
				onError(err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	// Offline skips getMe; command routing dereferences Me.
	b.Me = &tele.User{}
	return &teleAPI{b: b}, nil
}

func (a *teleAPI) call(method string, params map[string]string, out any) error {
	data, err := a.b.Raw(method, params)
	if err != nil {
		return err
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

func (a *teleAPI) Me() (identity, error) {
	var me identity
	if err := a.call("getMe", map[string]string{}, &me); err != nil {
		return identity{}, err
	}
	a.b.Me = &tele.User{ID: me.ID, Username: me.Username, IsBot: true}
	return me, nil
}

func (a *teleAPI) Chat(chatID int64) (chatInfo, error) {
	var c chatInfo
	err := a.call("getChat", map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}, &c)
	return c, err
}

func (a *teleAPI) Member(chatID, userID int64) (member, error) {
	var m member
	err := a.call("getChatMember", map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"user_id": strconv.FormatInt(userID, 10),
	}, &m)
	return m, err
}

func (a *teleAPI) Admins(chatID int64) ([]int64, error) {
	var admins []struct {
		User identity `json:"user"`
	}
	if err := a.call("getChatAdministrators", map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}, &admins); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(admins))
	for _, adm := range admins {
		ids = append(ids, adm.User.ID)
	}
	return ids, nil
}

func (a *teleAPI) MemberCount(chatID int64) (int, error) {
	var n int
	err := a.call("getChatMemberCount", map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}, &n)
	return n, err
}

func (a *teleAPI) Send(chatID int64, text string, preview bool) error {
	_, err := a.b.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: !preview,
	})
	return err
}

func (a *teleAPI) Handle(endpoint string, fn func(*tele.Message)) {
	a.b.Handle(endpoint, func(c tele.Context) error {
		if m := c.Message(); m != nil {
			fn(m)
		}
		return nil
	})
}

// Start polls until Stop. It first waits for a previous session that is
// still shutting down.
func (a *teleAPI) Start() {
	for {
		a.mu.Lock()
		prev := a.poll
		if prev == nil {
			cur := &pollSession{done: make(chan struct{})}
			a.poll = cur
			a.mu.Unlock()
			defer func() {
				a.mu.Lock()
				if a.poll == cur {
					a.poll = nil
				}
				a.mu.Unlock()
				close(cur.done)
			}()
			a.b.Start()
			return
		}
		a.mu.Unlock()
		<-prev.done
	}
}

// Stop ends the current session. It is a no-op when polling never began.
// b.Stop waits for the in-flight long poll, so it runs detached.
func (a *teleAPI) Stop() {
	a.mu.Lock()
	cur := a.poll
	if cur == nil || cur.stopped {
		a.mu.Unlock()
		return
	}
	cur.stopped = true
	a.mu.Unlock()
	go a.b.Stop()
}

var reErrorCode = regexp.MustCompile(`\((\d{3})\)\s*$`)

// errorCode extracts the Bot API error code from err, or 0.
func errorCode(err error) int {
	if err == nil {
		return 0
	}
	var te *tele.Error
	if errors.As(err, &te) {
		return te.Code
	}
	if m := reErrorCode.FindStringSubmatch(err.Error()); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// Package bot defines the platform-neutral contract every chat client
// implements, together with the value types exchanged through it.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"gamefeeds/internal/notification"
)

// ChannelAuthorID is the synthetic user id assigned to posts that carry no
// human author (Telegram channel posts, Discord webhook messages).
const ChannelAuthorID = "-322"

// MaxNotificationLength bounds the rendered text of a single notification.
const MaxNotificationLength = 2048

// ErrBadChannel marks a channel reference the platform cannot address
// (e.g. a non-numeric Telegram chat id). It indicates a collaborator bug.
var ErrBadChannel = errors.New("malformed channel reference")

type User struct {
	Platform string
	ID       string
}

func (u User) IsChannelAuthor() bool { return u.ID == ChannelAuthorID }

type Channel struct {
	Platform string
	ID       string
	Name     string
}

// Label renders the channel for diagnostics.
func (c Channel) Label() string {
	if c.Name == "" {
		return c.Platform + ":" + c.ID
	}
	return fmt.Sprintf("%s:%s (%s)", c.Platform, c.ID, c.Name)
}

// Permissions is the capability tuple of a user on a channel.
type Permissions struct {
	HasAccess bool
	CanWrite  bool
	CanEdit   bool
	CanPin    bool
}

// NoAccess is returned whenever access cannot be established.
var NoAccess = Permissions{}

type Role int

const (
	RoleUser Role = iota
	RoleAdmin
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	default:
		return "user"
	}
}

// AtLeast reports whether r grants the privileges of min.
func (r Role) AtLeast(min Role) bool { return r >= min }

// Result carries a resolved value or a degraded default.
// When Degraded is set, Value is the conservative fallback and Cause
// explains why the real value could not be determined.
type Result[T any] struct {
	Value    T
	Degraded bool
	Cause    error
}

func Resolved[T any](v T) Result[T] { return Result[T]{Value: v} }

func Degraded[T any](v T, cause error) Result[T] {
	return Result[T]{Value: v, Degraded: true, Cause: cause}
}

// Message is an incoming chat message.
type Message struct {
	Client    Client
	User      User
	Channel   Channel
	Content   string
	Timestamp time.Time
}

// Reply sends text back to the channel the message came from.
func (m Message) Reply(ctx context.Context, text string) bool {
	if m.Client == nil {
		return false
	}
	return m.Client.SendMessage(ctx, m.Channel, Text(text))
}

// Content is either plain shared-dialect text or a notification.
type Content struct {
	Text         string
	Notification *notification.Notification
}

func Text(s string) Content { return Content{Text: s} }

func Notify(n notification.Notification) Content { return Content{Notification: &n} }

// Command is matched against every incoming message.
type Command interface {
	Name() string
	// Pattern returns the expression for messages on ch. Submatches are
	// passed to Execute.
	Pattern(c Client, ch Channel) (*regexp.Regexp, error)
	Execute(ctx context.Context, msg Message, groups []string) error
}

// ChannelDirectory owns the set of channels a client serves.
type ChannelDirectory interface {
	Channels(ctx context.Context, platform string) ([]Channel, error)
	RemoveChannel(ctx context.Context, ch Channel) error
}

// Client is implemented once per chat platform.
type Client interface {
	Platform() string
	Label() string
	Prefix() string
	Autostart() bool

	Running() bool
	// Start connects to the platform. It reports whether startup succeeded
	// and never panics.
	Start(ctx context.Context) bool
	// Stop detaches from the platform. Safe to call when not running.
	Stop()

	UserName() string
	UserTag() string
	Me(ctx context.Context) (User, error)
	Owners() []User

	UserRole(ctx context.Context, u User, ch Channel) Result[Role]
	UserPermissions(ctx context.Context, u User, ch Channel) (Permissions, error)

	// SendMessage reports whether a send was attempted. Delivery errors
	// are logged by the client, not returned.
	SendMessage(ctx context.Context, ch Channel, content Content) bool

	ChannelUserCount(ctx context.Context, ch Channel) int
	UserCount(ctx context.Context) int
	ChannelCount(ctx context.Context) int
	Channels(ctx context.Context) []Channel

	RegisterCommand(cmd Command)
}

// ClampTime returns the platform time shifted by half a second, never later
// than now.
func ClampTime(platform, now time.Time) time.Time {
	t := platform.Add(500 * time.Millisecond)
	if t.After(now) {
		return now
	}
	return t
}

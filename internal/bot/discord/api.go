package discord

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

// REST error codes the client reacts to.
const (
	codeUnknownChannel     = 10003
	codeUnknownMember      = 10007
	codeMissingAccess      = 50001
	codeCannotMessageUser  = 50007
	codeMissingPermissions = 50013
)

type identity struct {
	ID       string
	Username string
}

type channelInfo struct {
	ID      string
	GuildID string
	Name    string
	DM      bool
}

type guildInfo struct {
	ID          string
	Name        string
	OwnerID     string
	MemberCount int
}

// api is the slice of the discordgo session the client depends on.
type api interface {
	Open() error
	Close() error
	Me() (identity, error)
	Channel(id string) (channelInfo, error)
	Guild(id string) (guildInfo, error)
	Permissions(userID, channelID string) (int64, error)
	Send(channelID, text string, preview bool) error

	OnMessage(fn func(*discordgo.MessageCreate)) (remove func())
	OnGuildCreate(fn func(*discordgo.GuildCreate)) (remove func())
	OnGuildDelete(fn func(*discordgo.GuildDelete)) (remove func())
}

type session struct {
	s *discordgo.Session
}

func newSession(token string) (*session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &session{s: s}, nil
}

func (a *session) Open() error  { return a.s.Open() }
func (a *session) Close() error { return a.s.Close() }

func (a *session) Me() (identity, error) {
	u, err := a.s.User("@me")
	if err != nil {
		return identity{}, err
	}
	return identity{ID: u.ID, Username: u.Username}, nil
}

func (a *session) Channel(id string) (channelInfo, error) {
	ch, err := a.s.State.Channel(id)
	if err != nil {
		if ch, err = a.s.Channel(id); err != nil {
			return channelInfo{}, err
		}
	}
	return channelInfo{
		ID:      ch.ID,
		GuildID: ch.GuildID,
		Name:    ch.Name,
		DM:      ch.Type == discordgo.ChannelTypeDM || ch.Type == discordgo.ChannelTypeGroupDM,
	}, nil
}

func (a *session) Guild(id string) (guildInfo, error) {
	g, err := a.s.State.Guild(id)
	if err != nil {
		if g, err = a.s.GuildWithCounts(id); err != nil {
			return guildInfo{}, err
		}
	}
	n := g.MemberCount
	if n == 0 {
		n = g.ApproximateMemberCount
	}
	return guildInfo{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID, MemberCount: n}, nil
}

func (a *session) Permissions(userID, channelID string) (int64, error) {
	return a.s.UserChannelPermissions(userID, channelID)
}

func (a *session) Send(channelID, text string, preview bool) error {
	msg := &discordgo.MessageSend{Content: text}
	if !preview {
		msg.Flags = discordgo.MessageFlagsSuppressEmbeds
	}
	_, err := a.s.ChannelMessageSendComplex(channelID, msg)
	return err
}

func (a *session) OnMessage(fn func(*discordgo.MessageCreate)) func() {
	return a.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { fn(m) })
}

func (a *session) OnGuildCreate(fn func(*discordgo.GuildCreate)) func() {
	return a.s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { fn(g) })
}

func (a *session) OnGuildDelete(fn func(*discordgo.GuildDelete)) func() {
	return a.s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) { fn(g) })
}

// errorCode returns the JSON error code of a REST failure, or 0.
func errorCode(err error) int {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Message != nil {
		return re.Message.Code
	}
	return 0
}

package telegram

import (
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"gamefeeds/internal/bot"
)

// onMessage handles both group messages and channel posts.
func (c *Client) onMessage(m *tele.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	ch := c.Remember(bot.Channel{
		ID:   strconv.FormatInt(m.Chat.ID, 10),
		Name: chatName(m.Chat),
	})
	// Channel posts carry no sender.
	userID := bot.ChannelAuthorID
	if m.Sender != nil {
		userID = strconv.FormatInt(m.Sender.ID, 10)
	}
	c.Dispatch(c.runContext(), bot.Message{
		Client:    c,
		User:      bot.User{Platform: Platform, ID: userID},
		Channel:   ch,
		Content:   m.Text,
		Timestamp: bot.ClampTime(time.Unix(m.Unixtime, 0), c.now()),
	})
}

func (c *Client) onUserLeft(m *tele.Message) {
	if m == nil || m.Chat == nil || m.UserLeft == nil {
		return
	}
	if id := c.myID(); id == 0 || m.UserLeft.ID != id {
		return
	}
	c.Removed(c.runContext(), strconv.FormatInt(m.Chat.ID, 10))
}

func chatName(chat *tele.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Username != "" {
		return "@" + chat.Username
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}

package telegram

import (
	"context"
	"strings"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/markdown"
	"gamefeeds/internal/notification"
	logx "gamefeeds/pkg/logx"
)

// maxTextLength is the Bot API limit for a plain message.
const maxTextLength = 4096

func (c *Client) SendMessage(ctx context.Context, ch bot.Channel, content bot.Content) bool {
	chatID, err := chatIDOf(ch)
	if err != nil {
		c.Log().Error("failed to send message", logx.String("channel", ch.Label()), logx.Err(err))
		return false
	}
	if c.api == nil {
		c.Log().Warn("no token configured, dropping message", logx.String("channel", ch.Label()))
		return false
	}

	text, preview := render(content)
	if err := c.api.Send(chatID, text, preview); err != nil {
		switch code := errorCode(err); code {
		case 400, 403:
			c.Log().Warn("message not delivered",
				logx.String("channel", ch.Label()),
				logx.Int("code", code),
				logx.Err(err))
		default:
			c.Log().Error("failed to send message",
				logx.String("channel", ch.Label()),
				logx.Err(err))
		}
	}
	return true
}

// render returns the Telegram text for content and whether link previews
// should be shown.
func render(content bot.Content) (string, bool) {
	n := content.Notification
	if n == nil {
		return markdown.NaturalLimit(markdown.Telegram.Translate(content.Text), maxTextLength), true
	}
	// Instant-view text is sent as rendered; only the fallback is translated.
	if src, ok := instantView(*n); ok {
		return markdown.NaturalLimit(src, bot.MaxNotificationLength), true
	}
	return markdown.NaturalLimit(markdown.Telegram.Translate(n.Markdown()), bot.MaxNotificationLength), false
}

// instantView renders n in the shared dialect with its title linked through
// the first instant-view matcher that accepts the title link.
func instantView(n notification.Notification) (string, bool) {
	for _, m := range n.Game.TelegramIV {
		if m == nil {
			continue
		}
		link, ok := m.Match(n.Title.URL)
		if !ok {
			continue
		}
		var b strings.Builder
		b.WriteString("New **")
		b.WriteString(n.Game.Label)
		b.WriteString("** update")
		if n.Author.Text != "" {
			b.WriteString(" - ")
			b.WriteString(n.Author.Markdown())
		}
		b.WriteString(":\n\n")
		b.WriteString(notification.Link{Text: n.Title.Text, URL: link}.Markdown())
		return b.String(), true
	}
	return "", false
}

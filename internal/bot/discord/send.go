package discord

import (
	"context"

	"gamefeeds/internal/bot"
	"gamefeeds/internal/markdown"
	logx "gamefeeds/pkg/logx"
)

// maxTextLength is the Discord limit for message content.
const maxTextLength = 2000

func (c *Client) SendMessage(ctx context.Context, ch bot.Channel, content bot.Content) bool {
	if ch.ID == "" || c.api == nil {
		c.Log().Error("failed to send message", logx.String("channel", ch.Label()))
		return false
	}
	text, preview := render(content)
	if err := c.api.Send(ch.ID, text, preview); err != nil {
		switch code := errorCode(err); code {
		case codeUnknownChannel, codeMissingAccess, codeCannotMessageUser, codeMissingPermissions:
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

// render returns the Discord text for content and whether embeds should be
// shown. Instant view is Telegram only, so notifications always use their
// full markdown.
func render(content bot.Content) (string, bool) {
	if n := content.Notification; n != nil {
		limit := min(bot.MaxNotificationLength, maxTextLength)
		return markdown.NaturalLimit(markdown.Discord.Translate(n.Markdown()), limit), false
	}
	return markdown.NaturalLimit(markdown.Discord.Translate(content.Text), maxTextLength), true
}

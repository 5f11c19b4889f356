package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

func (c *Client) UserPermissions(ctx context.Context, u bot.User, ch bot.Channel) (bot.Permissions, error) {
	chatID, err := chatIDOf(ch)
	if err != nil {
		return bot.NoAccess, err
	}
	userID, err := userIDOf(u)
	if err != nil {
		return bot.NoAccess, err
	}
	if c.api == nil {
		return bot.NoAccess, errors.New("telegram: no token configured")
	}

	chat, err := c.api.Chat(chatID)
	if err != nil {
		// 403: the bot was removed from the chat or never joined it.
		if errorCode(err) == 403 {
			return bot.NoAccess, nil
		}
		c.Log().Error("failed to get chat for permissions", logx.String("channel", ch.Label()), logx.Err(err))
		return bot.NoAccess, fmt.Errorf("telegram: get chat %s: %w", ch.ID, err)
	}
	m, err := c.api.Member(chatID, userID)
	if err != nil {
		c.Log().Error("failed to get chat member", logx.String("channel", ch.Label()), logx.String("user", u.ID), logx.Err(err))
		return bot.NoAccess, fmt.Errorf("telegram: get member %s in %s: %w", u.ID, ch.ID, err)
	}
	return permissionsOf(chat.Type, m), nil
}

func permissionsOf(chatType string, m member) bot.Permissions {
	if m.Status == statusLeft || m.Status == statusKicked {
		return bot.NoAccess
	}
	p := bot.Permissions{HasAccess: true}

	switch {
	case chatType == chatChannel:
		p.CanWrite = m.Status == statusAdministrator && m.CanPostMessages
	case m.Status == statusRestricted:
		p.CanWrite = m.CanSendMessages
	default:
		p.CanWrite = true
	}

	p.CanEdit = m.Status == statusAdministrator && m.CanEditMessages

	if chatType == chatGroup || chatType == chatSupergroup {
		if m.Status == statusRestricted || m.Status == statusAdministrator {
			p.CanPin = m.CanPinMessages
		} else {
			p.CanPin = true
		}
	}
	return p
}

// UserRole never fails. Lookup errors degrade the result to bot.RoleUser.
func (c *Client) UserRole(ctx context.Context, u bot.User, ch bot.Channel) bot.Result[bot.Role] {
	if u.IsChannelAuthor() {
		return bot.Resolved(bot.RoleAdmin)
	}
	if c.IsOwner(u.ID) {
		return bot.Resolved(bot.RoleOwner)
	}
	chatID, err := chatIDOf(ch)
	if err != nil {
		c.Log().Error("failed to resolve role", logx.String("channel", ch.Label()), logx.Err(err))
		return bot.Degraded(bot.RoleUser, err)
	}
	if c.api == nil {
		return bot.Degraded(bot.RoleUser, errors.New("telegram: no token configured"))
	}

	var cause error
	chat, err := c.api.Chat(chatID)
	switch {
	case err != nil:
		c.Log().Error("failed to get chat for role", logx.String("channel", ch.Label()), logx.Err(err))
		cause = fmt.Errorf("get chat: %w", err)
	case chat.AllMembersAreAdministrators, chat.Type == chatPrivate:
		return bot.Resolved(bot.RoleAdmin)
	}

	admins, err := c.api.Admins(chatID)
	if err != nil {
		c.Log().Error("failed to get chat administrators", logx.String("channel", ch.Label()), logx.Err(err))
		cause = errors.Join(cause, fmt.Errorf("get administrators: %w", err))
	} else if id, perr := userIDOf(u); perr == nil && slices.Contains(admins, id) {
		return bot.Resolved(bot.RoleAdmin)
	}

	if cause != nil {
		return bot.Degraded(bot.RoleUser, cause)
	}
	return bot.Resolved(bot.RoleUser)
}

package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"gamefeeds/internal/bot"
	logx "gamefeeds/pkg/logx"
)

// noAccess reports whether err means the bot cannot see the channel.
func noAccess(err error) bool {
	switch errorCode(err) {
	case codeMissingAccess, codeUnknownChannel, codeUnknownMember:
		return true
	}
	return false
}

func (c *Client) UserPermissions(ctx context.Context, u bot.User, ch bot.Channel) (bot.Permissions, error) {
	info, err := c.channel(ch)
	if err != nil {
		if noAccess(err) {
			return bot.NoAccess, nil
		}
		if !errors.Is(err, bot.ErrBadChannel) {
			c.Log().Error("failed to get channel for permissions", logx.String("channel", ch.Label()), logx.Err(err))
		}
		return bot.NoAccess, fmt.Errorf("discord: get channel %s: %w", ch.ID, err)
	}
	// Pinning is a group-channel feature.
	if info.DM {
		return bot.Permissions{HasAccess: true, CanWrite: true}, nil
	}
	perms, err := c.api.Permissions(u.ID, info.ID)
	if err != nil {
		if noAccess(err) {
			return bot.NoAccess, nil
		}
		c.Log().Error("failed to compute permissions", logx.String("channel", ch.Label()), logx.String("user", u.ID), logx.Err(err))
		return bot.NoAccess, fmt.Errorf("discord: permissions of %s in %s: %w", u.ID, ch.ID, err)
	}
	return permissionsOf(perms), nil
}

func permissionsOf(bits int64) bot.Permissions {
	has := func(flag int64) bool {
		return bits&discordgo.PermissionAdministrator != 0 || bits&flag != 0
	}
	if !has(discordgo.PermissionViewChannel) {
		return bot.NoAccess
	}
	return bot.Permissions{
		HasAccess: true,
		CanWrite:  has(discordgo.PermissionSendMessages),
		CanEdit:   has(discordgo.PermissionManageMessages),
		CanPin:    has(discordgo.PermissionManageMessages),
	}
}

// UserRole never fails. Lookup errors degrade the result to bot.RoleUser.
func (c *Client) UserRole(ctx context.Context, u bot.User, ch bot.Channel) bot.Result[bot.Role] {
	if u.IsChannelAuthor() {
		return bot.Resolved(bot.RoleAdmin)
	}
	if c.IsOwner(u.ID) {
		return bot.Resolved(bot.RoleOwner)
	}

	info, err := c.channel(ch)
	if err != nil {
		c.Log().Error("failed to get channel for role", logx.String("channel", ch.Label()), logx.Err(err))
		return bot.Degraded(bot.RoleUser, err)
	}
	if info.DM {
		return bot.Resolved(bot.RoleAdmin)
	}

	var cause error
	if g, err := c.api.Guild(info.GuildID); err != nil {
		c.Log().Error("failed to get guild for role", logx.String("channel", ch.Label()), logx.Err(err))
		cause = fmt.Errorf("get guild: %w", err)
	} else if g.OwnerID == u.ID {
		return bot.Resolved(bot.RoleAdmin)
	}

	if perms, err := c.api.Permissions(u.ID, info.ID); err != nil {
		c.Log().Error("failed to compute permissions for role", logx.String("channel", ch.Label()), logx.Err(err))
		cause = errors.Join(cause, fmt.Errorf("permissions: %w", err))
	} else if perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0 {
		return bot.Resolved(bot.RoleAdmin)
	}

	if cause != nil {
		return bot.Degraded(bot.RoleUser, cause)
	}
	return bot.Resolved(bot.RoleUser)
}

package discord

import (
	"github.com/bwmarrin/discordgo"

	"gamefeeds/internal/bot"
)

func (c *Client) onMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	if m.Author != nil && m.Author.ID != "" && m.Author.ID == c.myID() {
		return
	}
	if m.GuildID != "" {
		c.mu.Lock()
		c.guildOf[m.ChannelID] = m.GuildID
		c.mu.Unlock()
	}

	// Webhook posts have no member behind them.
	userID := bot.ChannelAuthorID
	if m.WebhookID == "" && m.Author != nil {
		userID = m.Author.ID
	}
	c.Dispatch(c.runContext(), bot.Message{
		Client:    c,
		User:      bot.User{Platform: Platform, ID: userID},
		Channel:   c.Remember(bot.Channel{ID: m.ChannelID}),
		Content:   m.Content,
		Timestamp: bot.ClampTime(m.Timestamp, c.now()),
	})
}

// onGuildCreate records the channels of every guild the gateway reports.
func (c *Client) onGuildCreate(g *discordgo.GuildCreate) {
	if g == nil || g.Guild == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range g.Channels {
		if ch != nil {
			c.guildOf[ch.ID] = g.ID
		}
	}
}

// onGuildDelete fires when the bot leaves or is removed from a guild, and
// also during outages, which are ignored.
func (c *Client) onGuildDelete(g *discordgo.GuildDelete) {
	if g == nil || g.Guild == nil || g.Unavailable {
		return
	}
	var ids []string
	c.mu.Lock()
	for chID, guildID := range c.guildOf {
		if guildID == g.ID {
			ids = append(ids, chID)
			delete(c.guildOf, chID)
		}
	}
	c.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	c.Removed(c.runContext(), ids...)
}

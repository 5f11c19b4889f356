// Package notification holds the content model relayed to chat channels.
package notification

import (
	"fmt"
	"strings"
	"time"
)

// Link is a piece of text with an optional target URL.
type Link struct {
	Text string
	URL  string
}

// Markdown renders the link in the shared dialect.
func (l Link) Markdown() string {
	if l.URL == "" {
		return l.Text
	}
	return fmt.Sprintf("[%s](%s)", l.Text, l.URL)
}

// Matcher rewrites a link into a platform instant-view link.
// ok is false when the matcher does not apply to link.
type Matcher interface {
	Match(link string) (rewritten string, ok bool)
}

// Game describes the source a notification belongs to.
type Game struct {
	Name  string
	Label string

	// TelegramIV are tried in order against the notification title link.
	TelegramIV []Matcher
}

// Notification is an update announcement for a game.
type Notification struct {
	Title     Link
	Author    Link
	Game      Game
	Content   string // shared-dialect markdown body, may be empty
	Image     string // optional header image URL
	Published time.Time
}

// Key identifies the notification for dedup purposes.
func (n Notification) Key() string {
	if n.Title.URL != "" {
		return n.Game.Name + "|" + n.Title.URL
	}
	return n.Game.Name + "|" + n.Title.Text
}

// Markdown renders the full notification in the shared dialect.
func (n Notification) Markdown() string {
	var b strings.Builder
	b.WriteString("New **")
	b.WriteString(n.Game.Label)
	b.WriteString("** update")
	if n.Author.Text != "" {
		b.WriteString(" - ")
		b.WriteString(n.Author.Markdown())
	}
	b.WriteString(":\n\n## ")
	b.WriteString(n.Title.Markdown())
	if n.Image != "" {
		b.WriteString("\n\n![")
		b.WriteString(n.Title.Text)
		b.WriteString("](")
		b.WriteString(n.Image)
		b.WriteString(")")
	}
	if body := strings.TrimSpace(n.Content); body != "" {
		b.WriteString("\n\n")
		b.WriteString(body)
	}
	return b.String()
}

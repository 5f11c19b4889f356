package feed

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"gamefeeds/internal/markdown"
	"gamefeeds/internal/notification"
)

// maxContentLength bounds the excerpt taken from an item body.
const maxContentLength = 600

var (
	reBreak = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6])\s*/?>`)
	reTag   = regexp.MustCompile(`<[^>]*>`)
	reSpace = regexp.MustCompile(`[ \t]+`)
	reLines = regexp.MustCompile(`\n\s*\n\s*`)
)

// Convert turns a feed item into a notification for game.
func Convert(game notification.Game, f *gofeed.Feed, item *gofeed.Item, now time.Time) notification.Notification {
	n := notification.Notification{
		Game:      game,
		Published: now,
	}
	if item == nil {
		return n
	}

	n.Title = notification.Link{Text: strings.TrimSpace(item.Title), URL: strings.TrimSpace(item.Link)}
	if n.Title.Text == "" {
		n.Title.Text = "Untitled"
	}

	switch {
	case item.Author != nil && item.Author.Name != "":
		n.Author = notification.Link{Text: item.Author.Name}
	case len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "":
		n.Author = notification.Link{Text: item.Authors[0].Name}
	case f != nil && f.Title != "":
		n.Author = notification.Link{Text: strings.TrimSpace(f.Title), URL: strings.TrimSpace(f.Link)}
	}

	n.Image = imageOf(item)

	body := item.Description
	if body == "" {
		body = item.Content
	}
	if text := plainText(body); text != "" {
		n.Content = markdown.NaturalLimit(text, maxContentLength)
	}

	switch {
	case item.PublishedParsed != nil:
		n.Published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		n.Published = *item.UpdatedParsed
	}
	return n
}

func imageOf(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}

// plainText reduces an HTML fragment to text with paragraph breaks.
func plainText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	s = reBreak.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = reSpace.ReplaceAllString(s, " ")
	s = reLines.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

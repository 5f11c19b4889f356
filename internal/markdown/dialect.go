package markdown

import "fmt"

// Dialect describes how a target platform renders each construct of the
// shared markdown dialect.
type Dialect struct {
	Name string

	Italic string // delimiter placed on both sides
	Bold   string
	Bullet string

	// Separator replaces horizontal rules. It is emitted on its own line.
	Separator string

	Link   func(label, url string) string
	Quote  func(text string) string
	Header func(text string) string
}

// Translate converts shared-dialect markdown into this dialect.
func (d Dialect) Translate(src string) string { return Translate(d, src) }

func plainLink(label, url string) string { return fmt.Sprintf("[%s](%s)", label, url) }

// Telegram targets the legacy "Markdown" parse mode.
// It has no blockquotes or headers.
var Telegram = Dialect{
	Name:      "telegram",
	Italic:    "_",
	Bold:      "*",
	Bullet:    "- ",
	Separator: "--",
	Link:      plainLink,
	Quote:     func(text string) string { return `"` + text + `"` },
	Header:    func(text string) string { return "\n\n*" + text + "*\n" },
}

// Discord renders masked links, native quotes and bold headers.
var Discord = Dialect{
	Name:      "discord",
	Italic:    "*",
	Bold:      "**",
	Bullet:    "- ",
	Separator: "───",
	Link:      plainLink,
	Quote:     func(text string) string { return "> " + text },
	Header:    func(text string) string { return "\n\n**" + text + "**\n" },
}

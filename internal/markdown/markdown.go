// Package markdown translates the shared notification markdown dialect into
// the formatting rules of a chat platform.
//
// Translation is an ordered pipeline of regex rewrite stages:
//
//  1. links with an optional trailing image  [label](url)(image)
//  2. images with an optional trailing link  ![label](image)(url)
//  3. italic     *x* _x_
//  4. bold       **x** __x__
//  5. list items
//  6. blockquotes
//  7. headers
//  8. horizontal separators
//  9. blank line compression
//
// Stages 1 and 2 strip nested emphasis from labels and stash the rendered
// link so that later stages never touch link labels or URLs. The stash is
// restored after the last stage. Stages are plain rewrites, not a parser:
// malformed markup produces best-effort output.
package markdown

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

var (
	reLinkImage = regexp2.MustCompile(`(?<!!)\[([^\]\n]*)\]\(([^)\s]+)\)(?:\(([^)\s]+)\))?`, regexp2.None)
	reImageLink = regexp2.MustCompile(`!\[([^\]\n]*)\]\(([^)\s]+)\)(?:\(([^)\s]+)\))?`, regexp2.None)

	reItalic = regexp2.MustCompile(
		`(?<!\*)\*(?![\*\s])([^\n]*?[^\*\s])\*(?!\*)|(?<![_\w])_(?![_\s])([^\n]*?[^_\s])_(?![_\w])`, regexp2.None)
	reBold = regexp2.MustCompile(
		`(?<!\*)\*\*(?![\*\s])([^\n]*?[^\*\s])\*\*(?!\*)|(?<![_\w])__(?![_\s])([^\n]*?[^_\s])__(?![_\w])`, regexp2.None)

	reList      = regexp2.MustCompile(`^[ \t]*[-*+][ \t]+([^\n]*)$`, regexp2.Multiline)
	reQuote     = regexp2.MustCompile(`^[ \t]*>[ \t]?([^\n]*)$`, regexp2.Multiline)
	reHeader    = regexp2.MustCompile(`^[ \t]*#{1,6}[ \t]+([^\n]*?)[ \t]*#*[ \t]*$`, regexp2.Multiline)
	reSeparator = regexp2.MustCompile(`^[ \t]*([-*_])(?:[ \t]*\1){2,}[ \t]*$`, regexp2.Multiline)
	reBlankRun  = regexp2.MustCompile(`\s*\n\s*\n\s*`, regexp2.None)

	reStash = regexp2.MustCompile(stashMark+`(\d+)`+stashMark, regexp2.None)
)

// stashMark delimits placeholders for text already rendered by the link
// stages.
const stashMark = "\x1a"

// maxStripDepth bounds the nested emphasis removal on labels.
const maxStripDepth = 8

// doc is the state threaded through the stages.
type doc struct {
	text  string
	stash []string
}

func (d *doc) keep(s string) string {
	d.stash = append(d.stash, s)
	return stashMark + strconv.Itoa(len(d.stash)-1) + stashMark
}

type stage struct {
	name  string
	apply func(d *doc, dl Dialect)
}

// pipeline order is significant, see the package doc.
var pipeline = []stage{
	{"link", linkStage},
	{"image", imageStage},
	{"italic", func(d *doc, dl Dialect) { d.text = wrap(reItalic, d.text, dl.Italic) }},
	{"bold", func(d *doc, dl Dialect) { d.text = wrap(reBold, d.text, dl.Bold) }},
	{"list", func(d *doc, dl Dialect) {
		d.text = replace(reList, d.text, func(m groups) string { return dl.Bullet + m.get(1) })
	}},
	{"quote", func(d *doc, dl Dialect) {
		d.text = replace(reQuote, d.text, func(m groups) string { return dl.Quote(m.get(1)) })
	}},
	{"header", func(d *doc, dl Dialect) {
		d.text = replace(reHeader, d.text, func(m groups) string { return dl.Header(m.get(1)) })
	}},
	{"separator", func(d *doc, dl Dialect) {
		d.text = replace(reSeparator, d.text, func(groups) string { return "\n" + dl.Separator + "\n" })
	}},
	{"compress", func(d *doc, _ Dialect) {
		d.text = replace(reBlankRun, d.text, func(groups) string { return "\n\n" })
	}},
}

// Stages lists the pipeline stage names in application order.
func Stages() []string {
	names := make([]string, len(pipeline))
	for i, st := range pipeline {
		names[i] = st.name
	}
	return names
}

// Translate converts shared-dialect markdown into the given dialect.
// It is total: an empty input yields an empty output.
func Translate(dl Dialect, src string) string {
	if src == "" {
		return ""
	}
	// The stash marker must not come from the input.
	d := &doc{text: strings.ReplaceAll(src, stashMark, "")}
	for _, st := range pipeline {
		st.apply(d, dl)
	}
	if len(d.stash) == 0 {
		return d.text
	}
	return replace(reStash, d.text, func(m groups) string {
		i, err := strconv.Atoi(m.get(1))
		if err != nil || i < 0 || i >= len(d.stash) {
			return m.get(0)
		}
		return d.stash[i]
	})
}

func linkStage(d *doc, dl Dialect) {
	d.text = replace(reLinkImage, d.text, func(m groups) string {
		label := StripEmphasis(m.get(1))
		if label == "" {
			label = "Link"
		}
		out := dl.Link(label, m.get(2))
		if img, ok := m.lookup(3); ok {
			out += " (" + dl.Link("image", img) + ")"
		}
		return d.keep(out)
	})
}

func imageStage(d *doc, dl Dialect) {
	d.text = replace(reImageLink, d.text, func(m groups) string {
		label := StripEmphasis(m.get(1))
		if label == "" {
			label = "Image"
		}
		out := dl.Link(label, m.get(2))
		if link, ok := m.lookup(3); ok {
			out += " (" + dl.Link("link", link) + ")"
		}
		return d.keep(out)
	})
}

// StripEmphasis removes italic and bold markers from s, repeating until no
// nested marker is left.
func StripEmphasis(s string) string {
	for i := 0; i < maxStripDepth; i++ {
		next := replace(reItalic, s, func(m groups) string { return m.first(1, 2) })
		next = replace(reBold, next, func(m groups) string { return m.first(1, 2) })
		if next == s {
			break
		}
		s = next
	}
	return s
}

func wrap(re *regexp2.Regexp, s, delim string) string {
	return replace(re, s, func(m groups) string { return delim + m.first(1, 2) + delim })
}

type groups struct{ m regexp2.Match }

func (g groups) lookup(n int) (string, bool) {
	gr := g.m.GroupByNumber(n)
	if gr == nil || len(gr.Captures) == 0 {
		return "", false
	}
	return gr.String(), true
}

func (g groups) get(n int) string {
	s, _ := g.lookup(n)
	return s
}

// first returns the first alternative group that participated in the match.
func (g groups) first(ns ...int) string {
	for _, n := range ns {
		if s, ok := g.lookup(n); ok {
			return s
		}
	}
	return ""
}

func replace(re *regexp2.Regexp, s string, fn func(groups) string) string {
	if s == "" {
		return s
	}
	out, err := re.ReplaceFunc(s, func(m regexp2.Match) string { return fn(groups{m: m}) }, -1, -1)
	if err != nil {
		return s
	}
	return out
}

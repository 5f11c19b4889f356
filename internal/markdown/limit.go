package markdown

import (
	"strings"
	"unicode"
)

const ellipsis = "…"

// NaturalLimit cuts s to at most n runes (ellipsis included).
//
// The cut prefers the last line break, then the last space, inside the final
// fifth of the window. A link left open by the cut is dropped entirely, and
// an unpaired emphasis delimiter is removed so the platform parser does not
// reject the message.
func NaturalLimit(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	if n == 1 {
		return ellipsis
	}

	cut := n - 1
	floor := cut - cut/5
	if i := lastBreak(rs, floor, cut, func(r rune) bool { return r == '\n' }); i > 0 {
		cut = i
	} else if i := lastBreak(rs, floor, cut, unicode.IsSpace); i > 0 {
		cut = i
	}

	head := dropOpenLink(rs[:cut])
	head = dropUnpaired(head, '*')
	head = dropUnpaired(head, '_')
	return strings.TrimRightFunc(string(head), unicode.IsSpace) + ellipsis
}

func lastBreak(rs []rune, floor, cut int, is func(rune) bool) int {
	for i := cut; i > floor && i > 0; i-- {
		if is(rs[i]) {
			return i
		}
	}
	return -1
}

// dropOpenLink removes a trailing "[label](url" fragment that lost its
// closing parenthesis.
func dropOpenLink(rs []rune) []rune {
	open := lastIndex(rs, '[')
	if open < 0 {
		return rs
	}
	if lastIndex(rs, ')') > open {
		return rs
	}
	// "[label]" followed by plain text is not a link.
	if cb := lastIndex(rs, ']'); cb > open && (cb+1 >= len(rs) || rs[cb+1] != '(') {
		return rs
	}
	return rs[:open]
}

// dropUnpaired removes the last delimiter d when d occurs an odd number of
// times outside link targets. An underscore between two word characters
// (snake_case) is never emphasis and is not counted.
func dropUnpaired(rs []rune, d rune) []rune {
	count, last := 0, -1
	inURL := false
	for i, r := range rs {
		switch {
		case r == '(' && i > 0 && rs[i-1] == ']':
			inURL = true
		case r == ')' && inURL:
			inURL = false
		case r == d && d == '_' && intraWord(rs, i):
		case r == d && !inURL:
			count++
			last = i
		}
	}
	if count%2 == 0 || last < 0 {
		return rs
	}
	out := make([]rune, 0, len(rs)-1)
	out = append(out, rs[:last]...)
	return append(out, rs[last+1:]...)
}

func intraWord(rs []rune, i int) bool {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }
	return i > 0 && i+1 < len(rs) && isWord(rs[i-1]) && isWord(rs[i+1])
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

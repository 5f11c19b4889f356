package notification

import (
	"fmt"
	"net/url"
	"regexp"
)

// IVTemplate matches links a Telegram instant-view template was published
// for and rewrites them to the t.me/iv form.
type IVTemplate struct {
	pattern *regexp.Regexp
	rhash   string
}

// NewIVTemplate compiles pattern. rhash is the template hash issued by the
// Telegram instant-view editor.
func NewIVTemplate(pattern, rhash string) (*IVTemplate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("instant view pattern %q: %w", pattern, err)
	}
	if rhash == "" {
		return nil, fmt.Errorf("instant view pattern %q: rhash is empty", pattern)
	}
	return &IVTemplate{pattern: re, rhash: rhash}, nil
}

func (t *IVTemplate) Match(link string) (string, bool) {
	if t == nil || link == "" || !t.pattern.MatchString(link) {
		return "", false
	}
	return "https://t.me/iv?url=" + url.QueryEscape(link) + "&rhash=" + url.QueryEscape(t.rhash), true
}

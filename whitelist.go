package graphios

import (
	"fmt"
	"regexp"
	"strings"
)

// Whitelist is an allow-list of regular expressions. A key is allowed if any pattern matches
// anywhere in it. An empty Whitelist allows everything.
type Whitelist struct {
	patterns []*regexp.Regexp
}

// NewWhitelist compiles patterns. It fails on the first pattern that is not a valid expression.
func NewWhitelist(patterns []string) (*Whitelist, error) {
	wl := &Whitelist{
		patterns: make([]*regexp.Regexp, 0, len(patterns)),
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid whitelist pattern %q: %w", p, err)
		}
		wl.patterns = append(wl.patterns, re)
	}
	return wl, nil
}

// Match indicates if key is allowed.
func (wl *Whitelist) Match(key string) bool {
	if wl == nil || len(wl.patterns) == 0 {
		return true
	}
	for _, re := range wl.patterns {
		if re.MatchString(key) {
			return true
		}
	}
	return false
}

// Len returns the number of patterns, 0 meaning match-all.
func (wl *Whitelist) Len() int {
	if wl == nil {
		return 0
	}
	return len(wl.patterns)
}

// SubstringWhitelist allows a string if it contains any of the entries. A nil SubstringWhitelist
// allows everything, an empty non-nil one allows nothing.
type SubstringWhitelist []string

// Match indicates if s contains any entry of the list.
func (sw SubstringWhitelist) Match(s string) bool {
	if sw == nil {
		return true
	}
	for _, sub := range sw {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

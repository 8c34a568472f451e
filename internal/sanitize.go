package internal

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// namePolicy drops every tag from labels such as user, room and file names.
var namePolicy = bluemonday.StrictPolicy()

// sanitizeText removes terminal control characters from message text that
// came off the wire, keeping newlines and tabs. Everything else, angle
// brackets included, is shown as typed.
func sanitizeText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// sanitizeName cleans a single-line label: markup is stripped, entities are
// unescaped and whitespace runs collapse to one space.
func sanitizeName(s string) string {
	if s != "" {
		s = html.UnescapeString(namePolicy.Sanitize(s))
	}
	s = strings.Join(strings.Fields(sanitizeText(s)), " ")
	if s == "" {
		return "anon"
	}
	return s
}

// Package sanitize cleans untrusted customer input (pet names, artist notes,
// URLs) before it reaches storage or any rendering surface.
//
// All functions fail closed: input that cannot be made safe yields an empty
// string rather than an error, so calling flows degrade instead of crashing.
package sanitize

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	// MaxNameLen is the display-name budget for a pet record.
	MaxNameLen = 50
	// MaxNoteLen is the free-text budget for an artist note.
	MaxNoteLen = 500
)

// Name sanitizes a pet display name: markup stripped, HTML-significant
// characters removed, whitespace collapsed, truncated to MaxNameLen runes.
func Name(s string) string {
	return Text(s, MaxNameLen)
}

// Note sanitizes an artist note with the larger MaxNoteLen budget.
func Note(s string) string {
	return Text(s, MaxNoteLen)
}

// Text strips markup and HTML-significant characters from s and truncates
// the result to at most maxRunes runes without splitting a multi-byte
// character. maxRunes <= 0 means no truncation.
func Text(s string, maxRunes int) string {
	s = stripMarkup(s)
	s = dropUnsafe(s)
	s = collapseSpace(s)
	if maxRunes > 0 {
		s = truncateRunes(s, maxRunes)
	}
	return s
}

// URL validates a remote artifact URL. Only absolute http/https URLs with a
// host survive; anything else (javascript:, data:, relative paths, garbage)
// comes back empty.
func URL(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.String()
}

// rawTextTags are elements whose text content must be discarded entirely,
// not rendered as text.
var rawTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"iframe":   true,
	"noscript": true,
}

// stripMarkup tokenizes s as HTML and keeps only text content, skipping the
// bodies of script-like elements.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return s
	}

	var b strings.Builder
	skipDepth := 0
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if rawTextTags[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if rawTextTags[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// dropUnsafe removes characters that are significant to HTML contexts along
// with control characters. Removal (not entity escaping) keeps stored values
// safe to re-serialize through any downstream encoder.
func dropUnsafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&', '`':
			return -1
		}
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes, backing up so a multi-byte UTF-8
// character is never split.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

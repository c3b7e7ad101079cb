package tagstream

import (
	"regexp"
	"strings"
)

// KnownTags are the tag names the sanitizer can complete from a truncated closing tag.
// Each starts with a distinct letter, so any non-empty prefix resolves to at most one tag.
var KnownTags = []string{"dialogue", "narration", "action", "json", "reject"}

var (
	// An opening tag whose last attribute value lost its closing quote: <action name="Bob>
	unterminatedAttrRe = regexp.MustCompile(`(<[A-Za-z][\w-]*(?:\s+[\w-]+="[^"<>]*")*\s+[\w-]+=")([^"<>]*)>`)

	doubledCloseRe = regexp.MustCompile(`>{2,}`)
)

// Sanitize repairs the markup damage models commonly produce:
// unterminated attribute quotes, truncated closing tags and doubled '>' characters.
// Sanitize is idempotent.
func Sanitize(raw string) string {
	s := unterminatedAttrRe.ReplaceAllString(raw, `$1$2">`)
	s = completeClosingTags(s)
	s = doubledCloseRe.ReplaceAllString(s, ">")
	return s
}

// completeClosingTags rewrites "</dial" (not followed by '>') to "</dialogue>".
func completeClosingTags(s string) string {
	if !strings.Contains(s, "</") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)

	i := 0
	for {
		idx := strings.Index(s[i:], "</")
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		start := i + idx
		nameStart := start + 2
		nameEnd := nameStart
		for nameEnd < len(s) && isNameChar(s[nameEnd]) {
			nameEnd++
		}

		b.WriteString(s[i:nameStart])
		name := s[nameStart:nameEnd]
		if name != "" && !closedAfter(s[nameEnd:]) {
			if tag := tagForPrefix(name); tag != "" {
				b.WriteString(tag + ">")
				i = nameEnd
				continue
			}
		}
		b.WriteString(name)
		i = nameEnd
	}
	return b.String()
}

// closedAfter reports whether rest begins with optional whitespace followed by '>'.
func closedAfter(rest string) bool {
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	return strings.HasPrefix(trimmed, ">")
}

func tagForPrefix(prefix string) string {
	best := ""
	for _, tag := range KnownTags {
		if strings.HasPrefix(tag, prefix) && len(tag) > len(best) {
			best = tag
		}
	}
	return best
}

func isNameChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-'
}

package tagstream

import (
	"regexp"
	"strings"
)

var spanRe = regexp.MustCompile(`<([A-Za-z][\w-]*)(\s[^<>]*)?>([\s\S]*?)</([A-Za-z][\w-]*)?\s*>`)

// Span is one <tag attrs>content</close> region found in model output.
type Span struct {
	Open    string
	Attrs   string
	Content string
	Close   string
}

// Markup renders the span back to tag form.
func (s Span) Markup() string {
	return "<" + s.Open + s.Attrs + ">" + s.Content + "</" + s.Close + ">"
}

// Extract finds tag spans in sanitized text. The open and close names may differ:
// when the close name is empty or shares the open name's first character it is
// treated as a typo and rewritten to match. Otherwise the span is kept as found.
func Extract(sanitized string) []Span {
	matches := spanRe.FindAllStringSubmatch(sanitized, -1)
	spans := make([]Span, 0, len(matches))
	for _, m := range matches {
		span := Span{
			Open:    m[1],
			Attrs:   m[2],
			Content: m[3],
			Close:   m[4],
		}
		if span.Close != span.Open && (span.Close == "" || span.Close[0] == span.Open[0]) {
			span.Close = span.Open
		}
		spans = append(spans, span)
	}
	return spans
}

var entityRe = regexp.MustCompile(`^&(?:#[0-9]+|#x[0-9A-Fa-f]+|[A-Za-z][A-Za-z0-9]*);`)

// escapeStrayMarkup escapes '&' that does not start an entity and '<' that
// cannot start markup, so prose like "a < b & c" survives strict parsing.
// A '<' that opens a nested tag is left alone and may still fail the parse.
func escapeStrayMarkup(text string) string {
	if !strings.ContainsAny(text, "&<") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '&':
			if entityRe.MatchString(text[i:]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&amp;")
			}
		case '<':
			if i+1 < len(text) && startsMarkup(text[i+1]) {
				b.WriteByte(c)
			} else {
				b.WriteString("&lt;")
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func startsMarkup(c byte) bool {
	return isASCIILetterByte(c) || c == '/' || c == '!' || c == '?'
}

func isASCIILetterByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

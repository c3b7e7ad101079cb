package tagstream

import (
	"regexp"
	"strings"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

	// An opening dialogue or action tag cut off before its '>' at the very end of the output.
	truncatedOpenRe = regexp.MustCompile(`<(?:dialogue|action)(?:\s[^<>]*)?$`)
	nameAttrRe      = regexp.MustCompile(`\sname="([^"<>]*)"?`)
)

// SerializeEntry renders one entry as a tag: <type name="NAME">content</type>.
func SerializeEntry(e entry.Entry) string {
	var b strings.Builder
	b.WriteString("<" + string(e.Type))
	if e.Name != nil && *e.Name != "" {
		b.WriteString(` name="` + attrEscaper.Replace(*e.Name) + `"`)
	}
	b.WriteString(">")
	b.WriteString(textEscaper.Replace(e.Content))
	b.WriteString("</" + string(e.Type) + ">")
	return b.String()
}

// Serialize renders entries as newline-separated tags, the same format the model is asked to produce.
func Serialize(entries []entry.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, SerializeEntry(e))
	}
	return strings.Join(parts, "\n")
}

// TruncatedOpenTag reports whether raw ends in an unfinished <dialogue or <action
// opening tag, which is what a configured stop sequence leaves behind.
func TruncatedOpenTag(raw string) bool {
	return truncatedOpenRe.MatchString(strings.TrimRight(raw, " \t\r\n"))
}

// TruncatedSpeaker returns the name attribute of a truncated opening tag, if any.
func TruncatedSpeaker(raw string) string {
	tag := truncatedOpenRe.FindString(strings.TrimRight(raw, " \t\r\n"))
	if tag == "" {
		return ""
	}
	if m := nameAttrRe.FindStringSubmatch(tag); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

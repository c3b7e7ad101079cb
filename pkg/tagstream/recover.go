// Package tagstream recovers typed story entries from the tag-delimited text
// a language model returns, tolerating the malformed and truncated markup
// models tend to emit.
package tagstream

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

const rootTag = "root"

// Result holds the entries recovered from one model response.
// Reject tags are split out so callers can surface them separately.
type Result struct {
	Entries []entry.Entry
	Rejects []entry.Entry
}

// All returns entries followed by rejects.
func (r *Result) All() []entry.Entry {
	out := make([]entry.Entry, 0, len(r.Entries)+len(r.Rejects))
	out = append(out, r.Entries...)
	return append(out, r.Rejects...)
}

// Recover runs the full sanitize, extract, assemble, classify pipeline.
// It fails with *ParseError when no usable tags can be found or the
// recovered spans do not form a well-formed document.
func Recover(raw string) (*Result, error) {
	spans := Extract(Sanitize(raw))
	if len(spans) == 0 {
		return nil, newParseError("no tags found in response", nil)
	}

	nodes, err := parseSpans(spans)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Entries: make([]entry.Entry, 0, len(nodes)),
		Rejects: make([]entry.Entry, 0),
	}
	for _, n := range nodes {
		content := strings.TrimSpace(n.text)
		if content == "" {
			continue
		}
		e := entry.New(entry.Type(n.tag), n.name, content)
		if e.IsReject() {
			result.Rejects = append(result.Rejects, e)
		} else {
			result.Entries = append(result.Entries, e)
		}
	}
	return result, nil
}

type node struct {
	tag  string
	name string
	text string
}

// parseSpans wraps the spans in a synthetic root so sibling tags form one
// document, then reads each top-level element and its text content.
func parseSpans(spans []Span) ([]node, error) {
	var doc strings.Builder
	doc.WriteString("<" + rootTag + ">")
	for _, s := range spans {
		s.Content = escapeStrayMarkup(s.Content)
		doc.WriteString(s.Markup())
		doc.WriteByte('\n')
	}
	doc.WriteString("</" + rootTag + ">")

	dec := xml.NewDecoder(strings.NewReader(doc.String()))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity

	var (
		nodes   []node
		current *node
		text    strings.Builder
		depth   int
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newParseError("malformed tag structure", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				current = &node{tag: t.Name.Local}
				for _, attr := range t.Attr {
					if attr.Name.Space == "" && attr.Name.Local == "name" {
						current.name = strings.TrimSpace(attr.Value)
					}
				}
				text.Reset()
			}
		case xml.EndElement:
			if depth == 2 && current != nil {
				current.text = text.String()
				nodes = append(nodes, *current)
				current = nil
			}
			depth--
		case xml.CharData:
			if depth >= 2 {
				text.Write(t)
			}
		}
	}
	if depth != 0 {
		return nil, newParseError("malformed tag structure", fmt.Errorf("unbalanced document depth %d", depth))
	}
	return nodes, nil
}

package entry

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies what kind of story content an entry holds.
// The set below is closed for rendering purposes, but any other tag name
// the model produces is kept verbatim so it round-trips through storage.
type Type string

const (
	TypeDialogue  Type = "dialogue"
	TypeAction    Type = "action"
	TypeNarration Type = "narration"
	TypeDirection Type = "direction"
	TypeJSON      Type = "json"
	TypeReject    Type = "reject"
)

// TimestampLayout is ISO-8601 with millisecond precision, always UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// KnownTypes lists the closed set of entry types in display order.
var KnownTypes = []Type{TypeDialogue, TypeAction, TypeNarration, TypeDirection, TypeJSON, TypeReject}

// Known reports whether t is one of the closed set of entry types.
func (t Type) Known() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Instant reports whether entries of this type are displayed without a typewriter effect.
func (t Type) Instant() bool {
	return t == TypeJSON || t == TypeReject
}

// Named reports whether entries of this type normally carry a speaker or actor.
func (t Type) Named() bool {
	return t == TypeDialogue || t == TypeAction
}

// Entry is one unit of story content on the timeline.
type Entry struct {
	ID        string  `json:"id"`
	Type      Type    `json:"type"`
	Name      *string `json:"name"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt *string `json:"updatedAt,omitempty"`
}

// Now returns the current time formatted for entry timestamps.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// New creates an entry with a fresh id and creation timestamp.
// An empty name is stored as nil.
func New(t Type, name string, content string) Entry {
	e := Entry{
		ID:        uuid.NewString(),
		Type:      t,
		Content:   content,
		CreatedAt: Now(),
	}
	if name != "" {
		e.Name = &name
	}
	return e
}

// NewReject creates a reject entry carrying a human readable message.
func NewReject(message string) Entry {
	return New(TypeReject, "", message)
}

// Edit replaces the content and name and stamps UpdatedAt.
func (e *Entry) Edit(content string, name *string) {
	e.Content = content
	e.Name = name
	ts := Now()
	e.UpdatedAt = &ts
}

// NameOr returns the entry name, or fallback when no name is set.
func (e Entry) NameOr(fallback string) string {
	if e.Name == nil || *e.Name == "" {
		return fallback
	}
	return *e.Name
}

// IsReject reports whether the entry is an ephemeral reject entry.
func (e Entry) IsReject() bool {
	return e.Type == TypeReject
}

// WithoutRejects returns the entries that are not reject entries, preserving order.
func WithoutRejects(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsReject() {
			out = append(out, e)
		}
	}
	return out
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string {
	return &s
}

// Package reconcile compares the in-memory story against the persisted copy
// so a client can detect that someone else changed it before overwriting.
package reconcile

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// Resolution is the user's answer to a detected conflict.
type Resolution int

const (
	// ReloadRemote discards local state, adopts the remote snapshot and aborts the pending action.
	ReloadRemote Resolution = iota
	// OverwriteRemote proceeds with the pending action; the next save replaces the remote copy.
	OverwriteRemote
)

func (r Resolution) String() string {
	switch r {
	case ReloadRemote:
		return "reload remote"
	case OverwriteRemote:
		return "overwrite"
	default:
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
}

// StoryDiff lists timeline entries that differ between local and remote, keyed by id.
// Added and Modified hold the remote version; Deleted holds the local one.
type StoryDiff struct {
	Added    []entry.Entry
	Deleted  []entry.Entry
	Modified []entry.Entry
}

// Empty reports whether the diff has no changes.
func (d *StoryDiff) Empty() bool {
	return d == nil || len(d.Added)+len(d.Deleted)+len(d.Modified) == 0
}

// ChangeReport is the result of DetectChanges.
type ChangeReport struct {
	HasChanges        bool
	StoryChanges      *StoryDiff
	WorldViewChanged  bool
	CharactersChanged bool
	SettingsChanged   bool
	Summary           string
}

// DetectChanges compares two snapshots. It never merges; callers choose a Resolution.
func DetectChanges(local, remote entry.StorySnapshot) ChangeReport {
	var report ChangeReport

	if diff := diffEntries(local.Entries, remote.Entries); !diff.Empty() {
		report.StoryChanges = diff
	}
	report.WorldViewChanged = local.WorldView != remote.WorldView
	report.CharactersChanged = !slices.Equal(local.Characters, remote.Characters)
	report.SettingsChanged = local.Settings != remote.Settings

	report.HasChanges = report.StoryChanges != nil ||
		report.WorldViewChanged ||
		report.CharactersChanged ||
		report.SettingsChanged
	report.Summary = summarize(report)
	return report
}

func diffEntries(local, remote []entry.Entry) *StoryDiff {
	localByID := make(map[string]entry.Entry, len(local))
	for _, e := range local {
		localByID[e.ID] = e
	}
	remoteIDs := make(map[string]struct{}, len(remote))

	diff := &StoryDiff{}
	for _, r := range remote {
		remoteIDs[r.ID] = struct{}{}
		l, ok := localByID[r.ID]
		if !ok {
			diff.Added = append(diff.Added, r)
			continue
		}
		if entryChanged(l, r) {
			diff.Modified = append(diff.Modified, r)
		}
	}
	for _, l := range local {
		if _, ok := remoteIDs[l.ID]; !ok {
			diff.Deleted = append(diff.Deleted, l)
		}
	}
	return diff
}

func entryChanged(a, b entry.Entry) bool {
	return a.Content != b.Content ||
		a.Type != b.Type ||
		!equalPtr(a.Name, b.Name) ||
		!equalPtr(a.UpdatedAt, b.UpdatedAt)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func summarize(r ChangeReport) string {
	var parts []string
	if d := r.StoryChanges; d != nil {
		var counts []string
		if n := len(d.Added); n > 0 {
			counts = append(counts, fmt.Sprintf("%d added", n))
		}
		if n := len(d.Deleted); n > 0 {
			counts = append(counts, fmt.Sprintf("%d deleted", n))
		}
		if n := len(d.Modified); n > 0 {
			counts = append(counts, fmt.Sprintf("%d modified", n))
		}
		parts = append(parts, "story ("+strings.Join(counts, ", ")+")")
	}
	if r.WorldViewChanged {
		parts = append(parts, "world view")
	}
	if r.CharactersChanged {
		parts = append(parts, "characters")
	}
	if r.SettingsChanged {
		parts = append(parts, "settings")
	}
	return strings.Join(parts, "; ")
}

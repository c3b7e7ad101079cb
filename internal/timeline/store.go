// Package timeline holds the ordered list of story entries and keeps the
// persisted story file in step with it.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

// DefaultDebounce is how long the store waits after a mutation before saving.
const DefaultDebounce = 500 * time.Millisecond

// ErrNotFound is returned when an entry id is not on the timeline.
var ErrNotFound = errors.New("entry not found")

// FileStore reads and writes persisted files by relative path.
type FileStore interface {
	ReadFile(ctx context.Context, path string) (content string, found bool, err error)
	WriteFile(ctx context.Context, path, content string) error
}

// ChangeKind identifies the mutation a Change describes.
type ChangeKind int

const (
	ChangeAppended ChangeKind = iota
	ChangeInserted
	ChangeUpdated
	ChangeDeleted
	ChangeMoved
	ChangeReplaced
	ChangeRejectsPurged
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAppended:
		return "appended"
	case ChangeInserted:
		return "inserted"
	case ChangeUpdated:
		return "updated"
	case ChangeDeleted:
		return "deleted"
	case ChangeMoved:
		return "moved"
	case ChangeReplaced:
		return "replaced"
	case ChangeRejectsPurged:
		return "rejects_purged"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is delivered to subscribers after each mutation.
type Change struct {
	Kind ChangeKind
	IDs  []string
}

// Store is the in-memory timeline. All methods are safe for concurrent use.
type Store struct {
	files    FileStore
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	entries []entry.Entry
	dirty   bool
	timer   *time.Timer
	subs    map[int]func(Change)
	nextSub int

	saveMu sync.Mutex // serializes writes to the file store
}

// NewStore creates an empty timeline backed by files. A debounce of zero uses DefaultDebounce.
func NewStore(files FileStore, debounce time.Duration, logger *slog.Logger) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		files:    files,
		logger:   logger,
		debounce: debounce,
		subs:     make(map[int]func(Change)),
	}
}

// Subscribe registers fn for every change and returns a function that removes it.
// fn runs on the mutating goroutine, after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// All returns a copy of the timeline.
func (s *Store) All() []entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Get(id string) (entry.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i], true
	}
	return entry.Entry{}, false
}

// IndexOf returns the position of id, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexOf(id)
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.entries, func(e entry.Entry) bool { return e.ID == id })
}

// Append adds entries to the end of the timeline.
func (s *Store) Append(es ...entry.Entry) {
	if len(es) == 0 {
		return
	}
	s.mutate(func() (Change, bool) {
		s.entries = append(s.entries, es...)
		return Change{Kind: ChangeAppended, IDs: ids(es)}, true
	})
}

// InsertAfter places e directly after the entry with the given id.
func (s *Store) InsertAfter(id string, e entry.Entry) error {
	var err error
	s.mutate(func() (Change, bool) {
		i := s.indexOf(id)
		if i < 0 {
			err = fmt.Errorf("insert after %s: %w", id, ErrNotFound)
			return Change{}, false
		}
		s.entries = slices.Insert(s.entries, i+1, e)
		return Change{Kind: ChangeInserted, IDs: []string{e.ID}}, true
	})
	return err
}

// InsertAt places e at index i, which may equal Len.
func (s *Store) InsertAt(i int, e entry.Entry) error {
	var err error
	s.mutate(func() (Change, bool) {
		if i < 0 || i > len(s.entries) {
			err = fmt.Errorf("insert index %d out of range [0,%d]", i, len(s.entries))
			return Change{}, false
		}
		s.entries = slices.Insert(s.entries, i, e)
		return Change{Kind: ChangeInserted, IDs: []string{e.ID}}, true
	})
	return err
}

// Update edits an entry's content and name and stamps UpdatedAt.
func (s *Store) Update(id, content string, name *string) error {
	var err error
	s.mutate(func() (Change, bool) {
		i := s.indexOf(id)
		if i < 0 {
			err = fmt.Errorf("update %s: %w", id, ErrNotFound)
			return Change{}, false
		}
		s.entries[i].Edit(content, name)
		return Change{Kind: ChangeUpdated, IDs: []string{id}}, true
	})
	return err
}

// Delete removes one entry.
func (s *Store) Delete(id string) error {
	var err error
	s.mutate(func() (Change, bool) {
		i := s.indexOf(id)
		if i < 0 {
			err = fmt.Errorf("delete %s: %w", id, ErrNotFound)
			return Change{}, false
		}
		s.entries = slices.Delete(s.entries, i, i+1)
		return Change{Kind: ChangeDeleted, IDs: []string{id}}, true
	})
	return err
}

// DeleteAfter removes every entry after id and returns how many were removed.
func (s *Store) DeleteAfter(id string) (int, error) {
	var (
		removed []string
		err     error
	)
	s.mutate(func() (Change, bool) {
		i := s.indexOf(id)
		if i < 0 {
			err = fmt.Errorf("delete after %s: %w", id, ErrNotFound)
			return Change{}, false
		}
		removed = ids(s.entries[i+1:])
		if len(removed) == 0 {
			return Change{}, false
		}
		s.entries = s.entries[:i+1]
		return Change{Kind: ChangeDeleted, IDs: removed}, true
	})
	return len(removed), err
}

// Move relocates an entry so that it ends up at newIndex.
func (s *Store) Move(id string, newIndex int) error {
	var err error
	s.mutate(func() (Change, bool) {
		i := s.indexOf(id)
		if i < 0 {
			err = fmt.Errorf("move %s: %w", id, ErrNotFound)
			return Change{}, false
		}
		if newIndex < 0 || newIndex >= len(s.entries) {
			err = fmt.Errorf("move index %d out of range [0,%d)", newIndex, len(s.entries))
			return Change{}, false
		}
		if i == newIndex {
			return Change{}, false
		}
		e := s.entries[i]
		s.entries = slices.Delete(s.entries, i, i+1)
		s.entries = slices.Insert(s.entries, newIndex, e)
		return Change{Kind: ChangeMoved, IDs: []string{id}}, true
	})
	return err
}

// PurgeRejects removes all reject entries and returns how many were removed.
func (s *Store) PurgeRejects() int {
	var purged []string
	s.mutate(func() (Change, bool) {
		kept := s.entries[:0:0]
		for _, e := range s.entries {
			if e.IsReject() {
				purged = append(purged, e.ID)
				continue
			}
			kept = append(kept, e)
		}
		if len(purged) == 0 {
			return Change{}, false
		}
		s.entries = kept
		return Change{Kind: ChangeRejectsPurged, IDs: purged}, true
	})
	return len(purged)
}

// Replace adopts entries wholesale. The timeline is then considered in sync
// with the persisted copy, so any pending save is dropped.
func (s *Store) Replace(es []entry.Entry) {
	s.mu.Lock()
	s.entries = slices.Clone(es)
	s.dirty = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, Change{Kind: ChangeReplaced, IDs: ids(es)})
}

// Load reads the persisted timeline. A missing file yields an empty timeline.
func (s *Store) Load(ctx context.Context) error {
	content, found, err := s.files.ReadFile(ctx, entry.StoryPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", entry.StoryPath, err)
	}
	var es []entry.Entry
	if found {
		es, err = entry.UnmarshalTimeline([]byte(content))
		if err != nil {
			return err
		}
	}
	s.Replace(es)
	s.logger.Debug("Timeline loaded", "entries", len(es))
	return nil
}

// Flush cancels any pending debounced save and saves now if there are unsaved changes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.save(ctx)
}

// MarkDirty schedules a save of the current timeline even though nothing
// changed locally, for when the persisted copy is known to differ.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	s.scheduleSave()
}

// Dirty reports whether there are changes not yet written.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// mutate applies fn under the lock. When fn reports a change, a save is
// scheduled and subscribers are notified.
func (s *Store) mutate(fn func() (Change, bool)) {
	s.mu.Lock()
	change, changed := fn()
	if !changed {
		s.mu.Unlock()
		return
	}
	s.dirty = true
	s.scheduleSave()
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, change)
}

// scheduleSave restarts the debounce timer. Caller holds s.mu.
func (s *Store) scheduleSave() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.save(context.Background()); err != nil {
			s.logger.Error("Debounced timeline save failed", "error", err)
		}
	})
}

func (s *Store) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := slices.Clone(s.entries)
	s.dirty = false
	s.mu.Unlock()

	data, err := entry.MarshalTimeline(snapshot)
	if err == nil {
		err = s.files.WriteFile(ctx, entry.StoryPath, string(data))
	}
	if err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("failed to save timeline: %w", err)
	}

	s.logger.Debug("Timeline saved", "entries", len(snapshot))
	return nil
}

// subscribers returns the current callbacks. Caller holds s.mu.
func (s *Store) subscribers() []func(Change) {
	subs := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Change), c Change) {
	for _, fn := range subs {
		fn(c)
	}
}

func ids(es []entry.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

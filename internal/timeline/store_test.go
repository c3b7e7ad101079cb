package timeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/pkg/entry"
)

type memFiles struct {
	mu       sync.Mutex
	files    map[string]string
	writes   int
	writeErr error
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string]string)}
}

func (m *memFiles) ReadFile(ctx context.Context, path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[path]
	return c, ok, nil
}

func (m *memFiles) WriteFile(ctx context.Context, path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	m.files[path] = content
	return nil
}

func (m *memFiles) stats() (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes, m.files[entry.StoryPath]
}

func newTestStore(files FileStore, debounce time.Duration) *Store {
	return NewStore(files, debounce, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func narration(content string) entry.Entry {
	return entry.New(entry.TypeNarration, "", content)
}

func contents(es []entry.Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Content
	}
	return out
}

func TestStore_Mutations(t *testing.T) {
	s := newTestStore(newMemFiles(), time.Hour)
	a, b, c := narration("a"), narration("b"), narration("c")

	s.Append(a, c)
	require.NoError(t, s.InsertAfter(a.ID, b))
	assert.Equal(t, []string{"a", "b", "c"}, contents(s.All()))
	assert.Equal(t, 1, s.IndexOf(b.ID))

	d := narration("d")
	require.NoError(t, s.InsertAt(0, d))
	assert.Equal(t, []string{"d", "a", "b", "c"}, contents(s.All()))

	require.NoError(t, s.Move(d.ID, 3))
	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(s.All()))

	require.NoError(t, s.Update(b.ID, "B", entry.StringPtr("Bee")))
	got, ok := s.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, "B", got.Content)
	assert.Equal(t, "Bee", *got.Name)
	assert.NotNil(t, got.UpdatedAt)

	require.NoError(t, s.Delete(c.ID))
	assert.Equal(t, []string{"a", "B", "d"}, contents(s.All()))

	n, err := s.DeleteAfter(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Len())
}

func TestStore_NotFound(t *testing.T) {
	s := newTestStore(newMemFiles(), time.Hour)

	assert.ErrorIs(t, s.Delete("missing"), ErrNotFound)
	assert.ErrorIs(t, s.Update("missing", "x", nil), ErrNotFound)
	assert.ErrorIs(t, s.InsertAfter("missing", narration("x")), ErrNotFound)
	assert.ErrorIs(t, s.Move("missing", 0), ErrNotFound)
	_, err := s.DeleteAfter("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.InsertAt(5, narration("x")))
	assert.Equal(t, -1, s.IndexOf("missing"))
	assert.False(t, s.Dirty())
}

func TestStore_PurgeRejects(t *testing.T) {
	s := newTestStore(newMemFiles(), time.Hour)
	s.Append(narration("a"), entry.NewReject("bad"), narration("b"), entry.NewReject("worse"))

	assert.Equal(t, 2, s.PurgeRejects())
	assert.Equal(t, []string{"a", "b"}, contents(s.All()))
	assert.Equal(t, 0, s.PurgeRejects())
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore(newMemFiles(), time.Hour)

	var got []Change
	unsubscribe := s.Subscribe(func(c Change) { got = append(got, c) })

	a := narration("a")
	s.Append(a)
	require.NoError(t, s.Update(a.ID, "A", nil))
	s.Replace(nil)

	require.Len(t, got, 3)
	assert.Equal(t, ChangeAppended, got[0].Kind)
	assert.Equal(t, []string{a.ID}, got[0].IDs)
	assert.Equal(t, ChangeUpdated, got[1].Kind)
	assert.Equal(t, ChangeReplaced, got[2].Kind)

	unsubscribe()
	s.Append(narration("b"))
	assert.Len(t, got, 3)
}

func TestStore_DebouncedSave(t *testing.T) {
	files := newMemFiles()
	s := newTestStore(files, 30*time.Millisecond)

	s.Append(narration("a"))
	s.Append(narration("b"))
	s.Append(narration("c"))

	assert.Eventually(t, func() bool {
		writes, _ := files.stats()
		return writes == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	writes, data := files.stats()
	assert.Equal(t, 1, writes, "burst of mutations saves once")

	saved, err := entry.UnmarshalTimeline([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, contents(saved))
	assert.False(t, s.Dirty())
}

func TestStore_Flush(t *testing.T) {
	files := newMemFiles()
	s := newTestStore(files, time.Hour)

	require.NoError(t, s.Flush(context.Background()))
	writes, _ := files.stats()
	assert.Equal(t, 0, writes, "nothing to flush")

	s.Append(narration("a"))
	require.NoError(t, s.Flush(context.Background()))
	writes, _ = files.stats()
	assert.Equal(t, 1, writes)
	assert.False(t, s.Dirty())
}

func TestStore_MarkDirtyForcesSave(t *testing.T) {
	files := newMemFiles()
	s := newTestStore(files, time.Hour)
	s.Append(narration("a"))
	require.NoError(t, s.Flush(context.Background()))

	files.mu.Lock()
	files.files[entry.StoryPath] = "stale"
	files.mu.Unlock()

	s.MarkDirty()
	assert.True(t, s.Dirty())
	require.NoError(t, s.Flush(context.Background()))
	writes, story := files.stats()
	assert.Equal(t, 2, writes)
	assert.Contains(t, story, `"a"`)
}

func TestStore_FlushErrorKeepsDirty(t *testing.T) {
	files := newMemFiles()
	files.writeErr = errors.New("disk full")
	s := newTestStore(files, time.Hour)

	s.Append(narration("a"))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, s.Dirty())
}

func TestStore_Load(t *testing.T) {
	files := newMemFiles()
	s := newTestStore(files, time.Hour)

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Len())

	data, err := entry.MarshalTimeline([]entry.Entry{narration("x"), narration("y")})
	require.NoError(t, err)
	files.files[entry.StoryPath] = string(data)

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, []string{"x", "y"}, contents(s.All()))
	assert.False(t, s.Dirty())

	files.files[entry.StoryPath] = "{not json\n"
	assert.Error(t, s.Load(context.Background()))
}

func TestStore_ReplaceDropsPendingSave(t *testing.T) {
	files := newMemFiles()
	s := newTestStore(files, 20*time.Millisecond)

	s.Append(narration("a"))
	s.Replace([]entry.Entry{narration("remote")})

	time.Sleep(60 * time.Millisecond)
	writes, _ := files.stats()
	assert.Equal(t, 0, writes)
	assert.Equal(t, []string{"remote"}, contents(s.All()))
}

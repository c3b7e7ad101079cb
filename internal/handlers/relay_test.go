package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/storyloom/internal/services"
	"github.com/jwebster45206/storyloom/internal/services/events"
	"github.com/jwebster45206/storyloom/internal/services/queue"
	"github.com/jwebster45206/storyloom/internal/storage"
	"github.com/jwebster45206/storyloom/pkg/entry"
)

// fakeUpstream answers completion and webhook calls from Func fields and counts them.
type fakeUpstream struct {
	ChatCompletionsFunc func(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error)
	PostJSONFunc        func(ctx context.Context, url string, payload any, headers map[string]string, timeout time.Duration) (int, error)

	mu          sync.Mutex
	completions int
	posts       []string
}

func (f *fakeUpstream) ChatCompletions(ctx context.Context, baseURL, apiKey string, payload json.RawMessage) (int, []byte, error) {
	f.mu.Lock()
	f.completions++
	fn := f.ChatCompletionsFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, baseURL, apiKey, payload)
	}
	return http.StatusOK, []byte(`{"choices":[{"message":{"role":"assistant","content":"<narration>ok</narration>"}}]}`), nil
}

func (f *fakeUpstream) PostJSON(ctx context.Context, url string, payload any, headers map[string]string, timeout time.Duration) (int, error) {
	f.mu.Lock()
	f.posts = append(f.posts, url)
	fn := f.PostJSONFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, url, payload, headers, timeout)
	}
	return http.StatusOK, nil
}

func (f *fakeUpstream) calls() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completions, append([]string(nil), f.posts...)
}

type relayFixture struct {
	mr       *miniredis.Miniredis
	files    *storage.FileManager
	cache    *services.RedisService
	buffer   *queue.IncomingBuffer
	events   *events.Broadcaster
	upstream *fakeUpstream
	logger   *slog.Logger
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	mr := miniredis.RunT(t)
	cache := services.NewRedisService("redis://"+mr.Addr(), logger)
	t.Cleanup(func() { _ = cache.Close() })

	root := t.TempDir()
	files, err := storage.NewFileManager(filepath.Join(root, "data"), filepath.Join(root, "backups"), 30, logger)
	require.NoError(t, err)

	return &relayFixture{
		mr:       mr,
		files:    files,
		cache:    cache,
		buffer:   queue.NewIncomingBuffer(queue.NewClientFromRedis(cache.GetClient(), logger)),
		events:   events.NewBroadcaster(cache.GetClient(), logger),
		upstream: &fakeUpstream{},
		logger:   logger,
	}
}

func (f *relayFixture) settings(t *testing.T, s map[string]any) {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, f.files.Write(context.Background(), entry.SettingsPath, string(data)))
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}
